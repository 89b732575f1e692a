package l2tp

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"golang.org/x/sys/unix"
)

// Handshake starts establishment of a tunnel or call.  It is implemented
// by the control plane, which sends the SCCRQ or ICRQ/OCRQ message.
type Handshake interface {
	ControlFinish(t *Tunnel, c *Call)
}

// CallCloser begins teardown of a call.  Closing a tunnel's Self call
// tears down the tunnel.  A close request serviced by the daemon has
// Closing set before CallClose is called, and is not passed on again.
type CallCloser interface {
	CallClose(c *Call)
}

// CallDestroyer releases the resources of a single call.  It must not
// destroy the call's tunnel.
type CallDestroyer interface {
	DestroyCall(c *Call)
}

// Resolver resolves host names for dialing.  *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Reaper collects one exited child process without blocking.  It
// returns pid 0 if no child has exited.
type Reaper interface {
	Reap() (pid int, status unix.WaitStatus, err error)
}

// ProcessSpec describes a process to launch.
type ProcessSpec struct {
	Path       string
	Args       []string
	Stdin      *os.File
	Stdout     *os.File
	ExtraFiles []*os.File
}

// Launcher starts and signals supervised processes.
type Launcher interface {
	Start(spec *ProcessSpec) (pid int, err error)
	Terminate(pid int) error
}

// Collaborators are the pieces of the daemon supplied by the caller.
// Any nil member is replaced by a default.
type Collaborators struct {
	Handshake     Handshake
	CallCloser    CallCloser
	CallDestroyer CallDestroyer
	Resolver      Resolver
	Reaper        Reaper
	Launcher      Launcher
	Clock         Clock
}

// Settings is the process-wide daemon configuration.
type Settings struct {
	// Port is the UDP port the daemon listens on.
	Port int
	// PPPDPath is the pppd executable.
	PPPDPath string
	// ControlPipe is the path of the operator command FIFO.
	ControlPipe string
	// ResolveTimeout bounds each host name lookup.
	ResolveTimeout time.Duration
	Lacs           []*Lac
	Lnss           []*Lns
}

// Context is a container for a collection of L2TP tunnels and calls,
// the LAC and LNS entries they are created for, and the event scheduler
// that drives them.
type Context struct {
	logger    log.Logger
	settings  Settings
	dataPlane DataPlane
	kernel    bool
	handshake Handshake
	closer    CallCloser
	destroyer CallDestroyer
	resolver  Resolver
	reaper    Reaper
	launcher  Launcher
	sched     *Scheduler
	reg       *registry
	rng       *rand.Rand
	serial    uint32
}

// NewContext creates a new L2TP context.
//
// Specify a DataPlane interface to use for offloading calls to the
// kernel.  Pass LinuxNetlinkDataPlane to use the Linux L2TP subsystem,
// or nil to run PPP over a pseudo-terminal.
//
// Specify a logger interface to receive log messages from the context.
// A nil logger disables logging.
//
// Settings may be nil to use the defaults.  Collaborators may be nil, or
// partially filled, to use the default implementations.
func NewContext(dataPlane DataPlane, logger log.Logger, settings *Settings, collab *Collaborators) (*Context, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	ctx := &Context{
		logger: logger,
		kernel: dataPlane != nil,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		reg:    newRegistry(logger),
	}

	if settings != nil {
		ctx.settings = *settings
	}
	if ctx.settings.Port == 0 {
		ctx.settings.Port = DefaultPort
	}
	if ctx.settings.PPPDPath == "" {
		ctx.settings.PPPDPath = DefaultPPPDPath
	}
	if ctx.settings.ControlPipe == "" {
		ctx.settings.ControlPipe = DefaultControlPipe
	}
	if ctx.settings.ResolveTimeout == 0 {
		ctx.settings.ResolveTimeout = DefaultResolveTimeout
	}

	if collab == nil {
		collab = &Collaborators{}
	}

	if dataPlane == LinuxNetlinkDataPlane {
		var err error
		dataPlane, err = newNetlinkDataPlane(logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise data plane: %v", err)
		}
	} else if dataPlane == nil {
		dataPlane = &nullDataPlane{}
	}
	ctx.dataPlane = dataPlane

	ncp := &nullControlPlane{parent: ctx}
	ctx.handshake = collab.Handshake
	if ctx.handshake == nil {
		ctx.handshake = ncp
	}
	ctx.closer = collab.CallCloser
	if ctx.closer == nil {
		ctx.closer = ncp
	}
	ctx.destroyer = collab.CallDestroyer
	if ctx.destroyer == nil {
		ctx.destroyer = ctx
	}
	ctx.resolver = collab.Resolver
	if ctx.resolver == nil {
		ctx.resolver = net.DefaultResolver
	}
	ctx.reaper = collab.Reaper
	if ctx.reaper == nil {
		ctx.reaper = wait4Reaper{}
	}
	ctx.launcher = collab.Launcher
	if ctx.launcher == nil {
		ctx.launcher = execLauncher{}
	}
	ctx.sched = NewScheduler(collab.Clock)

	return ctx, nil
}

// Close releases the data plane.  Live tunnels are not torn down.
func (ctx *Context) Close() {
	ctx.dataPlane.Close()
}

// Settings returns the context's settings.
func (ctx *Context) Settings() Settings {
	return ctx.settings
}

// Scheduler returns the context's event scheduler.
func (ctx *Context) Scheduler() *Scheduler {
	return ctx.sched
}

// Lacs returns the configured LAC entries.
func (ctx *Context) Lacs() []*Lac {
	return ctx.settings.Lacs
}

// Lnss returns the configured LNS entries.
func (ctx *Context) Lnss() []*Lns {
	return ctx.settings.Lnss
}

// FindLac returns the LAC named name, ignoring case, or nil.
func (ctx *Context) FindLac(name string) *Lac {
	for _, lac := range ctx.settings.Lacs {
		if strings.EqualFold(lac.Name, name) {
			return lac
		}
	}
	return nil
}

// Tunnels returns a snapshot of the live tunnels, newest first.
func (ctx *Context) Tunnels() []*Tunnel {
	return ctx.reg.tunnels()
}

// TunnelCount returns the number of live tunnels.
func (ctx *Context) TunnelCount() int {
	return ctx.reg.size()
}

// FindTunnel returns the tunnel with local ID tid, or nil.
func (ctx *Context) FindTunnel(tid ControlConnID) *Tunnel {
	return ctx.reg.findTunnel(tid)
}

// FindCall returns the call with local ID cid, or nil.
func (ctx *Context) FindCall(cid ControlConnID) *Call {
	return ctx.reg.findCall(cid)
}

// LookupTunnel resolves a tunnel handle.  It returns nil once the tunnel
// has been destroyed.
func (ctx *Context) LookupTunnel(h TunnelHandle) *Tunnel {
	return ctx.reg.lookup(h)
}

// Autodial activates and dials every LAC configured for autodial.
func (ctx *Context) Autodial() {
	for _, lac := range ctx.settings.Lacs {
		if lac.Autodial {
			level.Debug(ctx.logger).Log(
				"message", "autodialing",
				"lac", entryName(lac.Name))
			lac.Active = true
			ctx.MagicLacDial(lac)
		}
	}
}

// ServiceCloseRequests hands every call with a pending close request
// to the CallCloser.  The daemon runs it after each turn of its loop.
func (ctx *Context) ServiceCloseRequests() {
	for _, t := range ctx.reg.tunnels() {
		if t.Dead() {
			continue
		}
		if t.Self.NeedClose && !t.Self.Closing {
			t.Self.Closing = true
			ctx.closer.CallClose(t.Self)
			continue
		}
		for _, c := range t.Calls() {
			if c.NeedClose && !c.Closing && !t.Dead() {
				c.Closing = true
				ctx.closer.CallClose(c)
			}
		}
	}
}

var _ Handshake = (*nullControlPlane)(nil)
var _ CallCloser = (*nullControlPlane)(nil)

// nullControlPlane is used when no control protocol implementation is
// supplied.  It sends nothing, and closes calls by destroying them.
type nullControlPlane struct {
	parent *Context
}

func (ncp *nullControlPlane) ControlFinish(t *Tunnel, c *Call) {
	level.Debug(ncp.parent.logger).Log(
		"message", "no control plane: handshake not sent",
		"tunnel_id", t.OurTID,
		"call_id", c.OurCID)
}

func (ncp *nullControlPlane) CallClose(c *Call) {
	t := c.Tunnel
	if t == nil || t.Dead() {
		return
	}
	c.Closing = true
	if c == t.Self {
		ncp.parent.DestroyTunnel(t)
		return
	}
	ncp.parent.destroyer.DestroyCall(c)
}
