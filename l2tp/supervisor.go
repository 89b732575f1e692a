package l2tp

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"github.com/go-kit/kit/log/level"
	"golang.org/x/sys/unix"
)

var _ Launcher = execLauncher{}
var _ Reaper = wait4Reaper{}

type execLauncher struct{}

// Start runs the process without waiting for it.  Exited children are
// collected by the Reaper.
func (execLauncher) Start(spec *ProcessSpec) (int, error) {
	cmd := &exec.Cmd{
		Path:       spec.Path,
		Args:       append([]string{spec.Path}, spec.Args...),
		Stdin:      spec.Stdin,
		Stdout:     spec.Stdout,
		ExtraFiles: spec.ExtraFiles,
	}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	cmd.Process.Release()
	return pid, nil
}

func (execLauncher) Terminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}

type wait4Reaper struct{}

func (wait4Reaper) Reap() (int, unix.WaitStatus, error) {
	var ws unix.WaitStatus
	pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
	if err != nil {
		return 0, 0, err
	}
	return pid, ws, nil
}

// StartPPPD launches pppd for call c with the supplied options.
//
// With a kernel data plane pppd is passed the call's PPPoL2TP channel as
// file descriptor 3.  Otherwise a pseudo-terminal is allocated, the
// master is kept as the call's data descriptor and the slave becomes
// pppd's standard input and output.
func (ctx *Context) StartPPPD(c *Call, opts []string) error {
	if c.PID > 0 {
		level.Warn(ctx.logger).Log(
			"message", "PPP already started on call",
			"call_id", c.OurCID,
			"pid", c.PID)
		return ErrAlreadyStarted
	}
	if c.FD >= 0 {
		level.Warn(ctx.logger).Log(
			"message", "file descriptor already assigned",
			"call_id", c.OurCID,
			"fd", c.FD)
		return ErrInUse
	}

	spec := &ProcessSpec{
		Path: ctx.settings.PPPDPath,
		Args: append([]string{}, opts...),
	}

	var master, slave *os.File
	if ctx.kernel {
		ch, err := ctx.dataPlane.OpenChannel(c.Tunnel, c)
		if err != nil {
			level.Warn(ctx.logger).Log(
				"message", "unable to open ppp channel",
				"call_id", c.OurCID,
				"error", err)
			return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
		}
		master = ch
		spec.Args = append(spec.Args, pppdKernelArgs(c.Tunnel, c)...)
		spec.ExtraFiles = []*os.File{ch}
	} else {
		var err error
		master, slave, err = pty.Open()
		if err != nil {
			level.Warn(ctx.logger).Log(
				"message", "unable to allocate pty, abandoning",
				"call_id", c.OurCID,
				"error", err)
			return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
		}
		spec.Stdin = slave
		spec.Stdout = slave
	}

	level.Debug(ctx.logger).Log(
		"message", "starting pppd",
		"call_id", c.OurCID,
		"args", fmt.Sprintf("%q", spec.Args))

	pid, err := ctx.launcher.Start(spec)
	if slave != nil {
		slave.Close()
	}
	if err != nil {
		master.Close()
		level.Warn(ctx.logger).Log(
			"message", "unable to start pppd, abandoning",
			"call_id", c.OurCID,
			"error", err)
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}

	c.PID = pid
	c.file = master
	c.FD = int(master.Fd())
	return nil
}

// StartCallPPPD launches pppd for an established call using the options
// of the LAC or LNS entry the call belongs to.  Calls on the LNS side wait
// for the peer to start negotiation.  pppd always runs in the foreground
// so that its exit is seen by ReapChild.
func (ctx *Context) StartCallPPPD(c *Call) error {
	var opts []string
	if c.Lns != nil {
		opts = append(opts, "passive")
		opts = append(opts, c.Lns.PPPOptions...)
	} else if c.Lac != nil {
		opts = append(opts, c.Lac.PPPOptions...)
	}
	// The kernel arguments carry their own nodetach.
	if !ctx.kernel {
		opts = append(opts, "nodetach")
	}
	return ctx.StartPPPD(c, opts)
}

// ReapChild collects at most one exited child process.  If it belongs to
// a call, that call is flagged for closure.  It returns false when no
// child was waiting to be reaped.
func (ctx *Context) ReapChild() bool {
	pid, ws, err := ctx.reaper.Reap()
	if err != nil {
		if !errors.Is(err, unix.ECHILD) {
			level.Debug(ctx.logger).Log(
				"message", "wait failed",
				"error", err)
		}
		return false
	}
	if pid <= 0 {
		return false
	}

	for _, t := range ctx.reg.tunnels() {
		for _, c := range t.calls {
			if c.PID == pid {
				level.Info(t.logger).Log(
					"message", "pppd died for call",
					"call_id", c.OurCID,
					"pid", pid,
					"error_message", pppdExitCodeString(ws))
				c.PID = 0
				c.NeedClose = true
				c.ErrorMsg = msgPPPDied
				return true
			}
		}
	}
	level.Debug(ctx.logger).Log(
		"message", "reaped unknown child",
		"pid", pid,
		"error_message", pppdExitCodeString(ws))
	return true
}
