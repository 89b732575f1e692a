package l2tp

import (
	"errors"
	"testing"
	"time"
)

func TestNewTunnel(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	tunl, err := env.ctx.newTunnel()
	if err != nil {
		t.Fatalf("newTunnel(): %v", err)
	}

	if tunl.OurTID == 0 {
		t.Errorf("OurTID: got 0, want nonzero")
	}
	if tunl.OurFramingCaps != FramingCapAsync|FramingCapSync {
		t.Errorf("OurFramingCaps: got %v", tunl.OurFramingCaps)
	}
	if tunl.OurBearerCaps != 0 {
		t.Errorf("OurBearerCaps: got %v, want 0", tunl.OurBearerCaps)
	}
	if len(tunl.ChalThem.Vector) != vectorSize {
		t.Errorf("ChalThem.Vector: got %d bytes, want %d", len(tunl.ChalThem.Vector), vectorSize)
	}
	if tunl.ChalUs.Vector != nil || tunl.ChalUs.State != 0 || tunl.ChalThem.State != 0 {
		t.Errorf("challenge state not zeroed")
	}
	if tunl.Self == nil || tunl.Self.OurCID != 0 || tunl.Self.OurRWS != DefaultRWS || tunl.Self.FD != -1 {
		t.Errorf("bad control session: %+v", tunl.Self)
	}
	if tunl.Self.Tunnel != tunl {
		t.Errorf("control session not owned by tunnel")
	}
	if tunl.CallCount() != 0 {
		t.Errorf("CallCount(): got %v, want 0", tunl.CallCount())
	}
	if env.ctx.TunnelCount() != 1 || env.ctx.FindTunnel(tunl.OurTID) != tunl {
		t.Errorf("tunnel not registered")
	}
	if env.ctx.LookupTunnel(tunl.Handle()) != tunl {
		t.Errorf("LookupTunnel() failed")
	}
}

func TestNewTunnelKernelID(t *testing.T) {
	dp := &fakeDataPlane{nextID: 4000}
	env := newTestEnv(t, dp, nil, nil)
	tunl, err := env.ctx.newTunnel()
	if err != nil {
		t.Fatalf("newTunnel(): %v", err)
	}
	if tunl.OurTID != 4001 {
		t.Errorf("OurTID: got %v, want 4001", tunl.OurTID)
	}
}

func TestNewTunnelAllocFailure(t *testing.T) {
	dp := &fakeDataPlane{allocErr: errTest}
	env := newTestEnv(t, dp, nil, nil)

	_, err := env.ctx.newTunnel()
	if !errors.Is(err, ErrAllocation) {
		t.Errorf("newTunnel(): got %v, want %v", err, ErrAllocation)
	}
	_, err = env.ctx.L2tpCall("localhost", DefaultPort, nil, nil)
	if !errors.Is(err, ErrAllocation) {
		t.Errorf("L2tpCall(): got %v, want %v", err, ErrAllocation)
	}
	if env.ctx.TunnelCount() != 0 {
		t.Errorf("TunnelCount(): got %v, want 0", env.ctx.TunnelCount())
	}
	if len(env.handshake.calls) != 0 {
		t.Errorf("handshake started for failed tunnel")
	}
}

func TestL2tpCall(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	lac := &Lac{Name: "office"}
	lns := &Lns{Name: "hq"}

	tunl, err := env.ctx.L2tpCall("vpn.example.com", 1702, lac, lns)
	if err != nil {
		t.Fatalf("L2tpCall(): %v", err)
	}
	if tunl.TID != 0 {
		t.Errorf("TID: got %v, want 0", tunl.TID)
	}
	if got := tunl.Peer.String(); got != "192.0.2.1:1702" {
		t.Errorf("Peer: got %v, want 192.0.2.1:1702", got)
	}
	if tunl.Lac != lac || tunl.Lns != lns || lac.Tunnel != tunl || lns.Tunnel != tunl {
		t.Errorf("tunnel not cross-linked with LAC and LNS")
	}
	if tunl.Self.Lac != lac || tunl.Self.Lns != lns {
		t.Errorf("control session not cross-linked with LAC and LNS")
	}
	if len(env.handshake.calls) != 1 ||
		env.handshake.calls[0].t != tunl ||
		env.handshake.calls[0].c != tunl.Self {
		t.Errorf("handshake: got %v, want one call for the control session", env.handshake.calls)
	}
}

func TestL2tpCallResolveFailure(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	lac := &Lac{Name: "office"}

	tunl, err := env.ctx.L2tpCall("nowhere.example.com", DefaultPort, lac, nil)
	if !errors.Is(err, ErrResolve) {
		t.Errorf("L2tpCall(): got %v, want %v", err, ErrResolve)
	}
	if tunl != nil || lac.Tunnel != nil || env.ctx.TunnelCount() != 0 {
		t.Errorf("state changed on resolution failure")
	}
	if len(env.handshake.calls) != 0 {
		t.Errorf("handshake started on resolution failure")
	}
}

func TestLacCall(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	lac := &Lac{Name: "office"}
	tunl := env.dialTunnel(t, lac, nil)

	c1 := env.placeCall(t, tunl, nil)
	c2 := env.placeCall(t, tunl, lac)

	if c1.OurCID == c2.OurCID || c1.OurCID == 0 {
		t.Errorf("bad call IDs %v, %v", c1.OurCID, c2.OurCID)
	}
	if c2.Serial <= c1.Serial {
		t.Errorf("serial numbers not increasing: %v, %v", c1.Serial, c2.Serial)
	}
	calls := tunl.Calls()
	if len(calls) != 2 || calls[0] != c2 || calls[1] != c1 {
		t.Errorf("Calls(): new call not at head of list")
	}
	if c2.CID != 0 || c2.Tunnel != tunl || c2.Lac != lac || lac.Call != c2 {
		t.Errorf("call not cross-linked")
	}
	if c2.FD != -1 {
		t.Errorf("FD: got %v, want -1", c2.FD)
	}
	last := env.handshake.calls[len(env.handshake.calls)-1]
	if last.t != tunl || last.c != c2 {
		t.Errorf("handshake not started for new call")
	}
	if env.ctx.FindCall(c1.OurCID) != c1 {
		t.Errorf("FindCall() failed")
	}

	if c := env.ctx.LacCall(tunl.OurTID+1, nil, nil); c != nil {
		t.Errorf("LacCall() on unknown tunnel returned %v", c)
	}
}

func TestLacHangup(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	tunl := env.dialTunnel(t, nil, nil)
	c1 := env.placeCall(t, tunl, nil)
	c2 := env.placeCall(t, tunl, nil)
	other := env.dialTunnel(t, nil, nil)
	c3 := env.placeCall(t, other, nil)

	if err := env.ctx.LacHangup(c2.OurCID); err != nil {
		t.Fatalf("LacHangup(): %v", err)
	}
	if !c2.NeedClose || c2.ErrorMsg != "Goodbye!" {
		t.Errorf("hung up call: NeedClose %v, ErrorMsg %q", c2.NeedClose, c2.ErrorMsg)
	}
	for _, c := range []*Call{c1, c3, tunl.Self, other.Self} {
		if c.NeedClose || c.ErrorMsg != "" {
			t.Errorf("call %v changed by hangup of %v", c.OurCID, c2.OurCID)
		}
	}
	if tunl.CallCount() != 2 {
		t.Errorf("hangup removed call immediately")
	}

	var unused ControlConnID = 1
	for env.ctx.FindCall(unused) != nil {
		unused++
	}
	if err := env.ctx.LacHangup(unused); !errors.Is(err, ErrNoSuchCall) {
		t.Errorf("LacHangup() of unknown call: got %v, want %v", err, ErrNoSuchCall)
	}
}

func TestLacDisconnect(t *testing.T) {
	closer := &recordingCloser{}
	env := newTestEnv(t, nil, nil, &Collaborators{CallCloser: closer})
	tunl := env.dialTunnel(t, nil, nil)

	if err := env.ctx.LacDisconnect(tunl.OurTID); err != nil {
		t.Fatalf("LacDisconnect(): %v", err)
	}
	if !tunl.Self.NeedClose || tunl.Self.ErrorMsg != "Goodbye!" {
		t.Errorf("control session: NeedClose %v, ErrorMsg %q", tunl.Self.NeedClose, tunl.Self.ErrorMsg)
	}
	if len(closer.closed) != 1 || closer.closed[0] != tunl.Self {
		t.Errorf("CallClose(): got %v, want control session", closer.closed)
	}

	if err := env.ctx.LacDisconnect(tunl.OurTID + 1); !errors.Is(err, ErrNoSuchTunnel) {
		t.Errorf("LacDisconnect() of unknown tunnel: got %v, want %v", err, ErrNoSuchTunnel)
	}
	if len(closer.closed) != 1 {
		t.Errorf("CallClose() invoked for unknown tunnel")
	}
}

func TestDestroyTunnel(t *testing.T) {
	dp := &fakeDataPlane{nextID: 100}
	destroyer := &recordingDestroyer{}
	env := newTestEnv(t, dp, nil, &Collaborators{CallDestroyer: destroyer})
	destroyer.ctx = env.ctx

	lac := &Lac{Name: "office"}
	lns := &Lns{Name: "hq"}
	tunl := env.dialTunnel(t, lac, lns)
	c1 := env.placeCall(t, tunl, nil)
	c2 := env.placeCall(t, tunl, lac)
	keep := env.dialTunnel(t, nil, nil)

	env.ctx.DestroyTunnel(tunl)

	if !tunl.Dead() {
		t.Errorf("tunnel not marked dead")
	}
	if env.ctx.TunnelCount() != 1 || env.ctx.FindTunnel(tunl.OurTID) != nil || keep.Dead() {
		t.Errorf("registry not updated correctly")
	}
	if lac.Tunnel != nil || lac.Call != nil || lns.Tunnel != nil {
		t.Errorf("LAC/LNS references not cleared")
	}
	if len(destroyer.destroyed) != 3 {
		t.Fatalf("destroyed %d calls, want 3", len(destroyer.destroyed))
	}
	if destroyer.destroyed[2] != tunl.Self {
		t.Errorf("control session not destroyed last")
	}
	got := map[*Call]bool{destroyer.destroyed[0]: true, destroyer.destroyed[1]: true}
	if !got[c1] || !got[c2] {
		t.Errorf("member calls not destroyed")
	}
	if len(dp.released) != 1 || dp.released[0] != tunl.OurTID {
		t.Errorf("data plane released %v, want [%v]", dp.released, tunl.OurTID)
	}

	// A second destroy is harmless.
	env.ctx.DestroyTunnel(tunl)
	if len(destroyer.destroyed) != 3 || env.ctx.TunnelCount() != 1 {
		t.Errorf("second DestroyTunnel() had an effect")
	}
}

func TestDestroyTunnelFromOwnCallback(t *testing.T) {
	destroyer := &recordingDestroyer{}
	env := newTestEnv(t, nil, nil, &Collaborators{CallDestroyer: destroyer})
	destroyer.ctx = env.ctx

	tunl := env.dialTunnel(t, nil, nil)
	env.placeCall(t, tunl, nil)
	env.placeCall(t, tunl, nil)

	lateRan := false
	// A keepalive owned by the tunnel destroys it...
	env.ctx.sched.Schedule(time.Second, EventHello, func(data interface{}) {
		owner := data.(*Tunnel)
		env.ctx.DestroyTunnel(owner)
		env.ctx.DestroyTunnel(owner)
	}, tunl)
	// ...and a later event for the same tunnel sees it is gone.
	env.ctx.sched.Schedule(time.Second, EventSendZLB, func(data interface{}) {
		lateRan = true
		if !data.(*Tunnel).Dead() {
			t.Errorf("tunnel not dead in later callback")
		}
	}, tunl)

	if n := env.advance(time.Second); n != 2 {
		t.Fatalf("ran %d events, want 2", n)
	}
	if !lateRan {
		t.Errorf("later event did not run")
	}

	selfCount := 0
	for i, c := range destroyer.destroyed {
		if c == tunl.Self {
			selfCount++
			if i != len(destroyer.destroyed)-1 {
				t.Errorf("control session destroyed before member calls")
			}
		}
	}
	if selfCount != 1 {
		t.Errorf("control session destroyed %d times, want 1", selfCount)
	}
	if len(destroyer.destroyed) != 3 {
		t.Errorf("destroyed %d calls, want 3", len(destroyer.destroyed))
	}
	if env.ctx.TunnelCount() != 0 {
		t.Errorf("TunnelCount(): got %v, want 0", env.ctx.TunnelCount())
	}
}

func TestDestroyTunnelRedial(t *testing.T) {
	cases := []struct {
		name      string
		lac       Lac
		wantArmed bool
	}{
		{
			name:      "redial",
			lac:       Lac{Name: "a", Active: true, Redial: true, RedialTimeout: 5 * time.Second},
			wantArmed: true,
		},
		{
			name: "redial disabled",
			lac:  Lac{Name: "b", Active: true, Redial: false, RedialTimeout: 5 * time.Second},
		},
		{
			name: "zero timeout",
			lac:  Lac{Name: "c", Active: true, Redial: true},
		},
		{
			name: "inactive",
			lac:  Lac{Name: "d", Active: false, Redial: true, RedialTimeout: 5 * time.Second},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			env := newTestEnv(t, nil, nil, nil)
			lac := c.lac
			tunl := env.dialTunnel(t, &lac, nil)
			env.ctx.DestroyTunnel(tunl)

			if lac.RedialPending() != c.wantArmed {
				t.Errorf("RedialPending(): got %v, want %v", lac.RedialPending(), c.wantArmed)
			}
			want := 0
			if c.wantArmed {
				want = 1
			}
			if env.ctx.sched.Len() != want {
				t.Errorf("scheduled %d events, want %d", env.ctx.sched.Len(), want)
			}
		})
	}
}

func TestDestroyTunnelSingleRedialTimer(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	lac := &Lac{Name: "office", Active: true, Redial: true, RedialTimeout: 5 * time.Second}

	t1 := env.dialTunnel(t, lac, nil)
	t2 := env.dialTunnel(t, lac, nil)
	env.ctx.DestroyTunnel(t1)
	env.ctx.DestroyTunnel(t2)

	if env.ctx.sched.Len() != 1 {
		t.Errorf("scheduled %d redials, want 1", env.ctx.sched.Len())
	}
}

func TestMagicLacTunnel(t *testing.T) {
	t.Run("own LNS", func(t *testing.T) {
		env := newTestEnv(t, nil, nil, nil)
		lac := &Lac{Name: "office", LNS: []Host{{"vpn.example.com", 1701}, {"lns.example.com", 1701}}}
		if err := env.ctx.MagicLacTunnel(lac); err != nil {
			t.Fatalf("MagicLacTunnel(): %v", err)
		}
		if lac.Tunnel == nil || lac.Tunnel.Peer.String() != "192.0.2.1:1701" {
			t.Errorf("tunnel not dialed to first LNS")
		}
	})
	t.Run("default LAC", func(t *testing.T) {
		deflac := &Lac{Name: "default", LNS: []Host{{"lns.example.com", 1999}}}
		lac := &Lac{Name: "office"}
		env := newTestEnv(t, nil, &Settings{Lacs: []*Lac{lac, deflac}}, nil)
		if err := env.ctx.MagicLacTunnel(lac); err != nil {
			t.Fatalf("MagicLacTunnel(): %v", err)
		}
		if lac.Tunnel == nil || lac.Tunnel.Peer.String() != "192.0.2.2:1999" {
			t.Errorf("tunnel not dialed to default LAC's LNS")
		}
		if deflac.Tunnel != nil {
			t.Errorf("default LAC linked to tunnel")
		}
	})
	t.Run("no target", func(t *testing.T) {
		lac := &Lac{Name: "office"}
		env := newTestEnv(t, nil, &Settings{Lacs: []*Lac{lac}}, nil)
		if err := env.ctx.MagicLacTunnel(lac); !errors.Is(err, ErrNoTarget) {
			t.Errorf("MagicLacTunnel(): got %v, want %v", err, ErrNoTarget)
		}
		if env.ctx.TunnelCount() != 0 || env.ctx.sched.Len() != 0 {
			t.Errorf("state changed with no target")
		}
	})
}

func TestMagicLacDialInactive(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	lac := &Lac{Name: "office", LNS: []Host{{"vpn.example.com", 1701}}}

	env.ctx.MagicLacDial(lac)
	if lac.RedialTries != 0 || env.ctx.TunnelCount() != 0 || len(env.resolver.lookups) != 0 {
		t.Errorf("inactive LAC was dialed")
	}
}

func TestMagicLacDialExistingTunnel(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	lac := &Lac{Name: "office", Active: true, LNS: []Host{{"vpn.example.com", 1701}}}

	env.ctx.MagicLacDial(lac)
	tunl := lac.Tunnel
	if tunl == nil {
		t.Fatalf("no tunnel dialed")
	}
	env.ctx.MagicLacDial(lac)
	if env.ctx.TunnelCount() != 1 || tunl.CallCount() != 1 {
		t.Errorf("second dial: got %d tunnels, %d calls; want 1, 1",
			env.ctx.TunnelCount(), tunl.CallCount())
	}
	if lac.Call != tunl.Calls()[0] {
		t.Errorf("LAC not linked to new call")
	}
}

func TestMagicLacDialCap(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	lac := &Lac{
		Name:          "office",
		LNS:           []Host{{"unresolvable.example.com", 1701}},
		Active:        true,
		Redial:        true,
		RedialTimeout: 5 * time.Second,
		MaxRedials:    3,
	}

	env.ctx.MagicLacDial(lac)
	for i := 0; i < 10; i++ {
		env.advance(5 * time.Second)
	}

	if len(env.resolver.lookups) != 3 {
		t.Errorf("made %d attempts, want 3", len(env.resolver.lookups))
	}
	if lac.RedialTries != 3 {
		t.Errorf("RedialTries: got %v, want 3", lac.RedialTries)
	}
	if env.ctx.sched.Len() != 0 || lac.RedialPending() {
		t.Errorf("redial still scheduled after reaching the cap")
	}

	// Timer fires have no effect once the cap is reached.
	env.ctx.MagicLacDial(lac)
	if len(env.resolver.lookups) != 3 || lac.RedialTries != 3 {
		t.Errorf("dial attempted after reaching the cap")
	}

	// Resetting the counter allows dialing again.
	lac.RedialTries = 0
	env.ctx.MagicLacDial(lac)
	if len(env.resolver.lookups) != 4 {
		t.Errorf("dial not attempted after reset")
	}
}

func TestMagicLacDialNoCap(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	lac := &Lac{
		Name:          "office",
		LNS:           []Host{{"unresolvable.example.com", 1701}},
		Active:        true,
		Redial:        true,
		RedialTimeout: 5 * time.Second,
	}

	env.ctx.MagicLacDial(lac)
	for i := 0; i < 20; i++ {
		// Nothing happens before the redial interval has elapsed.
		if n := env.advance(4 * time.Second); n != 0 {
			t.Fatalf("redial ran early")
		}
		if n := env.advance(time.Second); n != 1 {
			t.Fatalf("round %d: ran %d events, want 1", i, n)
		}
	}
	if len(env.resolver.lookups) != 21 {
		t.Errorf("made %d attempts, want 21", len(env.resolver.lookups))
	}
	if env.ctx.sched.Len() != 1 {
		t.Errorf("scheduled %d redials, want 1", env.ctx.sched.Len())
	}
}

func TestOfficeScenario(t *testing.T) {
	newOffice := func() *Lac {
		return &Lac{
			Name:          "office",
			LNS:           []Host{{"vpn.example.com", 1701}},
			Autodial:      true,
			Redial:        true,
			RedialTimeout: 5 * time.Second,
			MaxRedials:    3,
		}
	}

	t.Run("startup", func(t *testing.T) {
		lac := newOffice()
		env := newTestEnv(t, nil, &Settings{Lacs: []*Lac{lac}}, nil)
		env.ctx.Autodial()

		if len(env.resolver.lookups) != 1 || env.resolver.lookups[0] != "vpn.example.com" {
			t.Errorf("lookups: got %v, want [vpn.example.com]", env.resolver.lookups)
		}
		if env.ctx.TunnelCount() != 1 || lac.Tunnel == nil {
			t.Fatalf("no tunnel dialed")
		}
		if got := lac.Tunnel.Peer.Port; got != 1701 {
			t.Errorf("peer port: got %v, want 1701", got)
		}
		if len(env.handshake.calls) != 1 {
			t.Errorf("handshake started %d times, want 1", len(env.handshake.calls))
		}
	})

	t.Run("resolution failures", func(t *testing.T) {
		lac := newOffice()
		env := newTestEnv(t, nil, &Settings{Lacs: []*Lac{lac}}, nil)
		delete(env.resolver.hosts, "vpn.example.com")

		env.ctx.Autodial()
		for i := 0; i < 10; i++ {
			env.advance(5 * time.Second)
		}
		if len(env.resolver.lookups) != 3 {
			t.Errorf("made %d attempts, want 3", len(env.resolver.lookups))
		}
		if env.ctx.TunnelCount() != 0 {
			t.Errorf("TunnelCount(): got %v, want 0", env.ctx.TunnelCount())
		}
	})
}

func TestServiceCloseRequests(t *testing.T) {
	env := newTestEnv(t, nil, nil, nil)
	lac := &Lac{Name: "office"}
	tunl := env.dialTunnel(t, nil, nil)
	c1 := env.placeCall(t, tunl, lac)
	c2 := env.placeCall(t, tunl, nil)
	c1.PID = 4242

	env.ctx.LacHangup(c1.OurCID)
	env.ctx.ServiceCloseRequests()

	if tunl.CallCount() != 1 || tunl.Calls()[0] != c2 {
		t.Errorf("hung up call not destroyed")
	}
	if !c1.Closing || c1.PID != 0 || c1.FD != -1 || lac.Call != nil {
		t.Errorf("call resources not released")
	}
	if len(env.launcher.terminated) != 1 || env.launcher.terminated[0] != 4242 {
		t.Errorf("pppd not terminated: %v", env.launcher.terminated)
	}

	tunl.Self.NeedClose = true
	env.ctx.ServiceCloseRequests()
	if !tunl.Dead() || env.ctx.TunnelCount() != 0 {
		t.Errorf("tunnel not destroyed on close request")
	}
}

func TestServiceCloseRequestsOnce(t *testing.T) {
	rc := &recordingCloser{}
	env := newTestEnv(t, nil, nil, &Collaborators{CallCloser: rc})
	tunl := env.dialTunnel(t, nil, nil)
	c := env.placeCall(t, tunl, nil)
	other := env.dialTunnel(t, nil, nil)

	env.ctx.LacHangup(c.OurCID)
	other.Self.NeedClose = true
	for i := 0; i < 3; i++ {
		env.ctx.ServiceCloseRequests()
	}

	if len(rc.closed) != 2 {
		t.Fatalf("CallClose called %d times, want 2", len(rc.closed))
	}
	if !c.Closing || !other.Self.Closing {
		t.Errorf("Closing not set: call %v, control session %v", c.Closing, other.Self.Closing)
	}
}
