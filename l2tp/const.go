package l2tp

import (
	"errors"
	"time"
)

// ControlConnID is an RFC2661 tunnel or call identifier.
type ControlConnID uint16

// FramingCapability describes the type of framing which a peer supports.
// It should be specified as a bitwise OR of FramingCap* values.
type FramingCapability uint32

const (
	// FramingCapSync indicates synchronous framing is supported
	FramingCapSync FramingCapability = 0x1
	// FramingCapAsync indicates asynchronous framing is supported
	FramingCapAsync FramingCapability = 0x2
)

// BearerCapability describes the bearer types a peer supports.
type BearerCapability uint32

const (
	// BearerCapDigital indicates digital access is supported
	BearerCapDigital BearerCapability = 0x1
	// BearerCapAnalog indicates analog access is supported
	BearerCapAnalog BearerCapability = 0x2
)

const (
	// DefaultPort is the well-known L2TP UDP port.
	DefaultPort = 1701
	// DefaultRWS is the receive window advertised by a tunnel's
	// control session.
	DefaultRWS = 4
	// DefaultPPPDPath is where pppd usually lives.
	DefaultPPPDPath = "/usr/sbin/pppd"
	// DefaultControlPipe is the operator command FIFO.
	DefaultControlPipe = "/var/run/l2tp-control"
	// DefaultResolveTimeout bounds host name resolution when dialing.
	DefaultResolveTimeout = 5 * time.Second
	// DefaultLacName is the LAC whose LNS list is used when another LAC
	// has none of its own.
	DefaultLacName = "default"

	vectorSize = 16
	mdSigSize  = 16
)

// Diagnostic messages recorded on calls.
const (
	msgGoodbye       = "Goodbye!"
	msgServerClosing = "Server closing"
	msgPPPDied       = "pppd died"
)

var (
	// ErrAllocation is returned when a tunnel or call could not be created.
	ErrAllocation = errors.New("allocation failed")
	// ErrResolve is returned when a host name cannot be resolved.
	ErrResolve = errors.New("unable to resolve host")
	// ErrNoTarget is returned when a LAC has no LNS to dial.
	ErrNoTarget = errors.New("no LNS to dial")
	// ErrAlreadyStarted is returned by StartPPPD when the call already
	// has a PPP subprocess.
	ErrAlreadyStarted = errors.New("PPP already started on call")
	// ErrInUse is returned by StartPPPD when the call already has a
	// data descriptor assigned.
	ErrInUse = errors.New("file descriptor already assigned")
	// ErrResourceExhausted is returned when a pty or process could not
	// be allocated.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrNoSuchTunnel is returned when a tunnel lookup misses.
	ErrNoSuchTunnel = errors.New("no such tunnel")
	// ErrNoSuchCall is returned when a call lookup misses.
	ErrNoSuchCall = errors.New("no such call")
)
