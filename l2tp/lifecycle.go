package l2tp

import (
	"context"
	"fmt"
	"net"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

const maxIDAttempts = 256

func (ctx *Context) tunnelIDInUse(id ControlConnID) bool {
	return ctx.reg.findTunnel(id) != nil
}

func (ctx *Context) allocTunnelID() (ControlConnID, error) {
	if ctx.kernel {
		return ctx.dataPlane.AllocTunnelID(ctx.tunnelIDInUse)
	}
	for i := 0; i < maxIDAttempts; i++ {
		id := ControlConnID(ctx.rng.Intn(0xffff) + 1)
		if !ctx.tunnelIDInUse(id) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("no free tunnel ID")
}

// newTunnel allocates a tunnel and its control session, and registers
// the tunnel.  Nothing is registered on failure.
func (ctx *Context) newTunnel() (*Tunnel, error) {
	id, err := ctx.allocTunnelID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}

	t := &Tunnel{
		OurTID:         id,
		SockFD:         -1,
		OurFramingCaps: FramingCapAsync | FramingCapSync,
		OurBearerCaps:  0,
		TieBreaker:     ctx.rng.Uint64(),
		ChalThem: Challenge{
			Vector: make([]byte, vectorSize),
		},
		parent: ctx,
		logger: log.With(ctx.logger, "tunnel_id", id),
	}
	t.Self = &Call{
		FD:     -1,
		OurRWS: DefaultRWS,
		Tunnel: t,
	}
	ctx.reg.register(t)

	level.Debug(t.logger).Log("message", "new tunnel")
	return t, nil
}

// NewCall allocates a call in tunnel t.  The call is not linked into the
// tunnel.
func (ctx *Context) NewCall(t *Tunnel) (*Call, error) {
	if t == nil || t.Dead() {
		return nil, fmt.Errorf("%w: no tunnel for call", ErrAllocation)
	}
	for i := 0; i < maxIDAttempts; i++ {
		id := ControlConnID(ctx.rng.Intn(0xffff) + 1)
		if t.FindCall(id) != nil {
			continue
		}
		ctx.serial++
		return &Call{
			OurCID: id,
			Serial: ctx.serial,
			FD:     -1,
			OurRWS: DefaultRWS,
			Tunnel: t,
		}, nil
	}
	return nil, fmt.Errorf("%w: no free call ID in tunnel %v", ErrAllocation, t.OurTID)
}

func (ctx *Context) resolve(host string) (net.IP, error) {
	rctx, cancel := context.WithTimeout(context.Background(), ctx.settings.ResolveTimeout)
	defer cancel()

	addrs, err := ctx.resolver.LookupIPAddr(rctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w %v: %v", ErrResolve, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w %v: no addresses", ErrResolve, host)
	}
	for _, a := range addrs {
		if ip4 := a.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return addrs[0].IP, nil
}

// L2tpCall dials a new tunnel to host:port on behalf of lac or lns,
// either of which may be nil.  The tunnel's peer ID is left at zero so
// that the handshake negotiates one.
func (ctx *Context) L2tpCall(host string, port int, lac *Lac, lns *Lns) (*Tunnel, error) {
	ip, err := ctx.resolve(host)
	if err != nil {
		level.Warn(ctx.logger).Log(
			"message", "failed to resolve host",
			"host", host,
			"error", err)
		return nil, err
	}

	t, err := ctx.newTunnel()
	if err != nil {
		level.Warn(ctx.logger).Log(
			"message", "unable to create tunnel",
			"host", host,
			"error", err)
		return nil, err
	}

	t.Peer = &net.UDPAddr{IP: ip, Port: port}
	t.TID = 0
	t.Lac = lac
	t.Lns = lns
	t.Self.Lac = lac
	t.Self.Lns = lns
	if lac != nil {
		lac.Tunnel = t
		// The control session stands in for the LAC's call until
		// the tunnel is up and a real call is placed.
		lac.Call = t.Self
	}
	if lns != nil {
		lns.Tunnel = t
	}

	level.Info(t.logger).Log(
		"message", "connecting",
		"host", host,
		"port", port)
	ctx.handshake.ControlFinish(t, t.Self)
	return t, nil
}

// LacCall places a new call on the tunnel with local ID tid.
func (ctx *Context) LacCall(tid ControlConnID, lac *Lac, lns *Lns) *Call {
	t := ctx.reg.findTunnel(tid)
	if t == nil {
		level.Debug(ctx.logger).Log(
			"message", "no such tunnel to generate call",
			"tunnel_id", tid)
		return nil
	}

	c, err := ctx.NewCall(t)
	if err != nil {
		level.Warn(t.logger).Log(
			"message", "unable to create new call",
			"error", err)
		return nil
	}
	t.linkCall(c)
	c.CID = 0
	c.Lac = lac
	c.Lns = lns
	if lac != nil {
		lac.Call = c
	}

	level.Info(t.logger).Log(
		"message", "calling on tunnel",
		"call_id", c.OurCID)
	ctx.handshake.ControlFinish(t, c)
	return c
}

// MagicLacTunnel dials a tunnel for lac to its first LNS, or to the
// first LNS of the default LAC if lac has none.
func (ctx *Context) MagicLacTunnel(lac *Lac) error {
	var target *Host
	if len(lac.LNS) > 0 {
		target = &lac.LNS[0]
	} else if deflac := ctx.FindLac(DefaultLacName); deflac != nil && len(deflac.LNS) > 0 {
		target = &deflac.LNS[0]
	}
	if target == nil {
		level.Warn(ctx.logger).Log(
			"message", "unable to find hostname to dial",
			"lac", lac.Name)
		return fmt.Errorf("%w for LAC %q", ErrNoTarget, lac.Name)
	}
	_, err := ctx.L2tpCall(target.Hostname, target.Port, lac, nil)
	return err
}

// MagicLacDial is the LAC dial driver, run at startup, by operator
// request, and by the redial timer.
func (ctx *Context) MagicLacDial(lac *Lac) {
	if lac == nil {
		level.Warn(ctx.logger).Log("message", "dial on nil LAC")
		return
	}
	if !lac.Active {
		level.Debug(ctx.logger).Log(
			"message", "LAC not active",
			"lac", lac.Name)
		return
	}

	ctx.sched.Cancel(lac.redial)
	lac.redial = 0

	if lac.MaxRedials > 0 && lac.RedialTries >= lac.MaxRedials {
		level.Info(ctx.logger).Log(
			"message", "maximum retries exceeded",
			"lac", lac.Name,
			"tries", lac.RedialTries)
		return
	}
	lac.RedialTries++

	if lac.Tunnel == nil {
		if err := ctx.MagicLacTunnel(lac); err != nil {
			if lac.MaxRedials == 0 || lac.RedialTries < lac.MaxRedials {
				ctx.armRedial(lac)
			}
		}
		return
	}
	ctx.LacCall(lac.Tunnel.OurTID, lac, nil)
}

// armRedial schedules a single redial of lac if it wants one.
func (ctx *Context) armRedial(lac *Lac) {
	if !lac.Redial || lac.RedialTimeout <= 0 || lac.redial != 0 || !lac.Active {
		return
	}
	level.Info(ctx.logger).Log(
		"message", "will redial",
		"lac", lac.Name,
		"timeout", lac.RedialTimeout)
	lac.redial = ctx.sched.Schedule(lac.RedialTimeout, EventRedial, func(data interface{}) {
		ctx.MagicLacDial(data.(*Lac))
	}, lac)
}

// LacHangup requests closure of the call with local ID cid.  Teardown
// happens when the control plane services the request.
func (ctx *Context) LacHangup(cid ControlConnID) error {
	for _, t := range ctx.reg.tunnels() {
		if c := t.FindCall(cid); c != nil {
			level.Info(t.logger).Log(
				"message", "hanging up call",
				"serial", c.Serial,
				"call_id", c.OurCID,
				"peer_call_id", c.CID)
			c.ErrorMsg = msgGoodbye
			c.NeedClose = true
			return nil
		}
	}
	level.Debug(ctx.logger).Log(
		"message", "no such call to hang up",
		"call_id", cid)
	return fmt.Errorf("%w: %v", ErrNoSuchCall, cid)
}

// LacDisconnect starts teardown of the tunnel with local ID tid.
func (ctx *Context) LacDisconnect(tid ControlConnID) error {
	t := ctx.reg.findTunnel(tid)
	if t == nil {
		level.Debug(ctx.logger).Log(
			"message", "no such tunnel to disconnect",
			"tunnel_id", tid)
		return fmt.Errorf("%w: %v", ErrNoSuchTunnel, tid)
	}
	level.Info(t.logger).Log("message", "disconnecting tunnel")
	t.Self.NeedClose = true
	t.Self.ErrorMsg = msgGoodbye
	ctx.closer.CallClose(t.Self)
	return nil
}

// DestroyTunnel destroys t and all of its calls.  It is safe to call from
// a callback owned by t, and to call more than once.
//
// Every member call is passed to the CallDestroyer, followed finally by
// the tunnel's Self call.
func (ctx *Context) DestroyTunnel(t *Tunnel) {
	if t == nil || t.dead {
		return
	}
	me := t.Self
	t.dead = true

	for _, c := range t.Calls() {
		ctx.destroyer.DestroyCall(c)
	}

	ctx.reg.unregister(t)

	if lac := t.Lac; lac != nil {
		if lac.Tunnel == t {
			lac.Tunnel = nil
		}
		if lac.Call != nil && lac.Call.Tunnel == t {
			lac.Call = nil
		}
		ctx.armRedial(lac)
	}
	if t.Lns != nil && t.Lns.Tunnel == t {
		t.Lns.Tunnel = nil
	}

	if err := ctx.dataPlane.ReleaseTunnel(t); err != nil {
		level.Error(t.logger).Log(
			"message", "failed to release data plane",
			"error", err)
	}

	ctx.destroyer.DestroyCall(me)
	t.calls = nil

	level.Debug(t.logger).Log("message", "tunnel destroyed")
}

// DestroyCall releases a call's resources: its pppd is terminated and
// its data descriptor closed.  The call is removed from its tunnel.
func (ctx *Context) DestroyCall(c *Call) {
	if c.PID > 0 {
		if err := ctx.launcher.Terminate(c.PID); err != nil {
			level.Debug(ctx.logger).Log(
				"message", "failed to signal pppd",
				"pid", c.PID,
				"error", err)
		}
		c.PID = 0
	}
	if c.file != nil {
		c.file.Close()
		c.file = nil
	}
	c.FD = -1

	if t := c.Tunnel; t != nil && c != t.Self {
		t.unlinkCall(c)
	}
	if c.Lac != nil && c.Lac.Call == c {
		c.Lac.Call = nil
	}
}
