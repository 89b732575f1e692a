package l2tp

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/go-kit/kit/log/level"
	"golang.org/x/sys/unix"
)

// ErrShutdown is returned by Daemon.Run after a termination signal.
var ErrShutdown = errors.New("shutdown requested")

// Daemon runs a Context on a single goroutine.  Signals, operator
// commands and posted work are all handled on that goroutine, between
// runs of the scheduler.
type Daemon struct {
	// StatusFD receives the status report on SIGUSR1.
	StatusFD int

	ctx      *Context
	signals  <-chan os.Signal
	commands <-chan string
	work     chan func(*Context)
}

// NewDaemon creates a daemon for ctx.  Either channel may be nil.
func NewDaemon(ctx *Context, signals <-chan os.Signal, commands <-chan string) *Daemon {
	return &Daemon{
		StatusFD: 0,
		ctx:      ctx,
		signals:  signals,
		commands: commands,
		work:     make(chan func(*Context)),
	}
}

// Post runs fn on the daemon goroutine.  It is used by the network loop
// to deliver control messages.  Post blocks until the daemon accepts the
// work, and must not be called from the daemon goroutine.
func (d *Daemon) Post(ctx context.Context, fn func(*Context)) error {
	select {
	case d.work <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Daemon) handleSignal(sig os.Signal) bool {
	switch sig {
	case unix.SIGTERM, unix.SIGINT:
		level.Error(d.ctx.logger).Log(
			"message", "fatal signal received",
			"signal", sig)
		d.ctx.Shutdown()
		return true
	case unix.SIGCHLD:
		for d.ctx.ReapChild() {
		}
	case unix.SIGUSR1:
		d.ctx.WriteStatus(d.StatusFD)
	default:
		level.Debug(d.ctx.logger).Log(
			"message", "ignoring signal",
			"signal", sig)
	}
	return false
}

// Run services the context until ctx is cancelled or a termination
// signal arrives, in which case tunnels are closed and ErrShutdown is
// returned.
func (d *Daemon) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		d.ctx.sched.RunDue()
		d.ctx.ServiceCloseRequests()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		var timerC <-chan time.Time
		if when, ok := d.ctx.sched.NextDeadline(); ok {
			timer.Reset(time.Until(when))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-d.signals:
			if d.handleSignal(sig) {
				return ErrShutdown
			}
		case line := <-d.commands:
			d.ctx.HandleCommand(line)
		case fn := <-d.work:
			fn(d.ctx)
		case <-timerC:
		}
	}
}
