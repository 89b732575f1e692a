package l2tp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"golang.org/x/sys/unix"
)

func testLogger() log.Logger {
	return level.NewFilter(log.NewLogfmtLogger(os.Stderr), level.AllowDebug())
}

type manualClock struct {
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1000000, 0)}
}

func (c *manualClock) Now() time.Time {
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type handshakeRecord struct {
	t *Tunnel
	c *Call
}

type recordingHandshake struct {
	calls []handshakeRecord
}

func (h *recordingHandshake) ControlFinish(t *Tunnel, c *Call) {
	h.calls = append(h.calls, handshakeRecord{t, c})
}

type recordingCloser struct {
	closed []*Call
}

func (rc *recordingCloser) CallClose(c *Call) {
	rc.closed = append(rc.closed, c)
}

type recordingDestroyer struct {
	ctx       *Context
	destroyed []*Call
}

func (rd *recordingDestroyer) DestroyCall(c *Call) {
	rd.destroyed = append(rd.destroyed, c)
	rd.ctx.DestroyCall(c)
}

type fakeResolver struct {
	hosts   map[string]net.IP
	lookups []string
}

func (r *fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	r.lookups = append(r.lookups, host)
	if ip, ok := r.hosts[host]; ok {
		return []net.IPAddr{{IP: ip}}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

type reaped struct {
	pid int
	ws  unix.WaitStatus
}

type fakeReaper struct {
	pending []reaped
	err     error
}

func (r *fakeReaper) Reap() (int, unix.WaitStatus, error) {
	if r.err != nil {
		return 0, 0, r.err
	}
	if len(r.pending) == 0 {
		return 0, 0, nil
	}
	p := r.pending[0]
	r.pending = r.pending[1:]
	return p.pid, p.ws, nil
}

type fakeLauncher struct {
	nextPID    int
	started    []*ProcessSpec
	terminated []int
	err        error
}

func (l *fakeLauncher) Start(spec *ProcessSpec) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	l.started = append(l.started, spec)
	l.nextPID++
	return 1000 + l.nextPID, nil
}

func (l *fakeLauncher) Terminate(pid int) error {
	l.terminated = append(l.terminated, pid)
	return nil
}

type fakeDataPlane struct {
	nextID   ControlConnID
	allocErr error
	released []ControlConnID
	channels []*os.File
	closed   bool
}

func (dp *fakeDataPlane) AllocTunnelID(inUse func(ControlConnID) bool) (ControlConnID, error) {
	if dp.allocErr != nil {
		return 0, dp.allocErr
	}
	for {
		dp.nextID++
		if !inUse(dp.nextID) {
			return dp.nextID, nil
		}
	}
}

func (dp *fakeDataPlane) OpenChannel(t *Tunnel, c *Call) (*os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	w.Close()
	dp.channels = append(dp.channels, r)
	return r, nil
}

func (dp *fakeDataPlane) ReleaseTunnel(t *Tunnel) error {
	dp.released = append(dp.released, t.OurTID)
	return nil
}

func (dp *fakeDataPlane) Close() {
	dp.closed = true
}

type testEnv struct {
	ctx       *Context
	clock     *manualClock
	handshake *recordingHandshake
	resolver  *fakeResolver
	reaper    *fakeReaper
	launcher  *fakeLauncher
}

func newTestEnv(t *testing.T, dp DataPlane, settings *Settings, collab *Collaborators) *testEnv {
	env := &testEnv{
		clock:     newManualClock(),
		handshake: &recordingHandshake{},
		resolver: &fakeResolver{hosts: map[string]net.IP{
			"vpn.example.com": net.ParseIP("192.0.2.1"),
			"lns.example.com": net.ParseIP("192.0.2.2"),
			"localhost":       net.ParseIP("127.0.0.1"),
		}},
		reaper:   &fakeReaper{},
		launcher: &fakeLauncher{},
	}
	if collab == nil {
		collab = &Collaborators{}
	}
	if collab.Handshake == nil {
		collab.Handshake = env.handshake
	}
	if collab.Resolver == nil {
		collab.Resolver = env.resolver
	}
	if collab.Reaper == nil {
		collab.Reaper = env.reaper
	}
	if collab.Launcher == nil {
		collab.Launcher = env.launcher
	}
	if collab.Clock == nil {
		collab.Clock = env.clock
	}
	ctx, err := NewContext(dp, testLogger(), settings, collab)
	if err != nil {
		t.Fatalf("NewContext(): %v", err)
	}
	env.ctx = ctx
	return env
}

// dialTunnel creates a tunnel to localhost, failing the test on error.
func (env *testEnv) dialTunnel(t *testing.T, lac *Lac, lns *Lns) *Tunnel {
	tunl, err := env.ctx.L2tpCall("localhost", DefaultPort, lac, lns)
	if err != nil {
		t.Fatalf("L2tpCall(): %v", err)
	}
	return tunl
}

// placeCall places a call on tunl, failing the test on error.
func (env *testEnv) placeCall(t *testing.T, tunl *Tunnel, lac *Lac) *Call {
	c := env.ctx.LacCall(tunl.OurTID, lac, nil)
	if c == nil {
		t.Fatalf("LacCall(%v) failed", tunl.OurTID)
	}
	return c
}

// advance moves the clock forward and runs due events, returning the
// number run.
func (env *testEnv) advance(d time.Duration) int {
	env.clock.Advance(d)
	return env.ctx.sched.RunDue()
}

var errTest = errors.New("test error")

func exitStatus(code int) unix.WaitStatus {
	return unix.WaitStatus(code << 8)
}

func (r reaped) String() string {
	return fmt.Sprintf("%d/%#x", r.pid, uint32(r.ws))
}
