package l2tp

import (
	"net"
	"os"

	"github.com/go-kit/kit/log"
)

// ChallengeState tracks progress of CHAP-style tunnel authentication.
type ChallengeState uint8

// Challenge holds the tunnel authentication state for one direction.
// The MD5 digest itself is computed by the control plane.
type Challenge struct {
	State     ChallengeState
	Secret    string
	Challenge []byte
	Response  [mdSigSize]byte
	Reply     [mdSigSize]byte
	Vector    []byte
}

// Tunnel is one L2TP control connection.
//
// A Tunnel is owned by the Context which created it, and must only be
// accessed from the goroutine driving that Context.
type Tunnel struct {
	// OurTID is the locally assigned tunnel ID.
	OurTID ControlConnID
	// TID is the peer's tunnel ID, zero until negotiated.
	TID ControlConnID
	// Peer is the address of the remote end of the tunnel.
	Peer *net.UDPAddr
	// SockFD is the control socket owned by the network loop, or -1.
	// It is needed to bring up the kernel data plane.
	SockFD int

	// Control channel sequence state.
	CSs, CSr, CLr uint16

	OurFramingCaps, FramingCaps FramingCapability
	OurBearerCaps, BearerCaps   BearerCapability
	TieBreaker                  uint64

	ChalUs, ChalThem Challenge

	// Self is the control session of the tunnel.  It has call ID 0 and
	// is never part of Calls().
	Self *Call

	Lac *Lac
	Lns *Lns

	calls  []*Call
	handle TunnelHandle
	seq    uint64
	dead   bool
	parent *Context
	logger log.Logger
}

// Call is one session multiplexed within a tunnel.
type Call struct {
	// OurCID is the locally assigned call ID.
	OurCID ControlConnID
	// CID is the peer's call ID, zero until the peer responds.
	CID ControlConnID
	// Serial is the call serial number.
	Serial uint32

	// Payload sequence state.
	PSs, PSr, PLr uint16

	TxBytes, TxPkts uint64
	RxBytes, RxPkts uint64

	// PID of the pppd serving this call, or 0.
	PID int
	// FD is the data descriptor handed to pppd: the pty master or the
	// PPPoL2TP channel.  It is -1 when unassigned.
	FD int

	// NeedClose requests the control plane to tear the call down.
	NeedClose bool
	// Closing is set once teardown of the call has begun.
	Closing bool
	// ErrorMsg describes why the call is being closed.
	ErrorMsg string

	// OurRWS is the receive window size we advertise.
	OurRWS int

	Tunnel *Tunnel
	Lac    *Lac
	Lns    *Lns

	file *os.File
}

// Calls returns a snapshot of the tunnel's calls, newest first.
func (t *Tunnel) Calls() []*Call {
	out := make([]*Call, len(t.calls))
	copy(out, t.calls)
	return out
}

// CallCount returns the number of calls in the tunnel.
func (t *Tunnel) CallCount() int {
	return len(t.calls)
}

// FindCall returns the call with local ID cid, or nil.
func (t *Tunnel) FindCall(cid ControlConnID) *Call {
	for _, c := range t.calls {
		if c.OurCID == cid {
			return c
		}
	}
	return nil
}

// Dead reports whether the tunnel has been destroyed.  Scheduler
// callbacks holding a tunnel should check this before acting on it.
func (t *Tunnel) Dead() bool {
	return t.dead
}

// Closing reports whether teardown of the tunnel has begun.
func (t *Tunnel) Closing() bool {
	return t.Self.Closing
}

// Handle returns the tunnel's registry handle.
func (t *Tunnel) Handle() TunnelHandle {
	return t.handle
}

// Context returns the context which owns the tunnel.
func (t *Tunnel) Context() *Context {
	return t.parent
}

func (t *Tunnel) name() string {
	if t.Lac != nil {
		return t.Lac.Name
	}
	if t.Lns != nil {
		return t.Lns.Name
	}
	return ""
}

func (t *Tunnel) linkCall(c *Call) {
	t.calls = append([]*Call{c}, t.calls...)
}

func (t *Tunnel) unlinkCall(c *Call) bool {
	for i, cc := range t.calls {
		if cc == c {
			t.calls = append(t.calls[:i], t.calls[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Call) name() string {
	if c.Lac != nil {
		return c.Lac.Name
	}
	if c.Lns != nil {
		return c.Lns.Name
	}
	return ""
}
