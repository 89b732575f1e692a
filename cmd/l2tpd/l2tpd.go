/*
The l2tpd command is an L2TPv2 LAC daemon which runs pppd for each call.

Usage:

	l2tpd [-config <path>] [-verbose] [-null]

LAC and LNS entries are read from a TOML configuration file, see the
config package for the format.  LACs marked autodial are brought up
at startup.

The daemon is controlled at runtime by writing commands to its control
FIFO (/var/run/l2tp-control by default):

	t <host>           open a tunnel to host on port 1701
	c <lac>|<tid>      dial the named LAC, or place a call on tunnel tid
	h <cid>            hang up call cid
	d <lac>|<tid>      disconnect the named LAC, or tunnel tid

SIGUSR1 writes a status report to file descriptor 0, which is normally
the controlling terminal.  SIGTERM or SIGINT closes all
tunnels and exits.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/katalix/go-l2tpd/config"
	"github.com/katalix/go-l2tpd/l2tp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

type application struct {
	config  *config.Config
	logger  log.Logger
	l2tpCtx *l2tp.Context
	conduit *l2tp.Conduit
	sigChan chan os.Signal
}

func newApplication(configPath string, verbose, nullDataplane bool) (*application, error) {

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}

	logger := log.NewLogfmtLogger(os.Stderr)
	if verbose {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return nil, fmt.Errorf("unable to get system information: %v", err)
	}
	level.Info(logger).Log(
		"message", "l2tpd starting",
		"host", unix.ByteSliceToString(uts.Nodename[:]),
		"port", cfg.Settings.Port,
		"sysname", unix.ByteSliceToString(uts.Sysname[:]),
		"release", unix.ByteSliceToString(uts.Release[:]),
		"machine", unix.ByteSliceToString(uts.Machine[:]))

	var dataplane l2tp.DataPlane
	if cfg.Kernel && !nullDataplane {
		dataplane = l2tp.LinuxNetlinkDataPlane
	}

	l2tpCtx, err := l2tp.NewContext(dataplane, logger, cfg.Settings, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create L2TP context: %v", err)
	}

	settings := l2tpCtx.Settings()
	conduit, err := l2tp.NewConduit(settings.ControlPipe, logger)
	if err != nil {
		l2tpCtx.Close()
		return nil, fmt.Errorf("failed to open control pipe: %v", err)
	}

	// Signals are delivered to the daemon loop, which is the only place
	// l2tp state is touched.
	sigChan := make(chan os.Signal, 16)
	signal.Notify(sigChan, unix.SIGINT, unix.SIGTERM, unix.SIGCHLD, unix.SIGUSR1)

	return &application{
		config:  cfg,
		logger:  logger,
		l2tpCtx: l2tpCtx,
		conduit: conduit,
		sigChan: sigChan,
	}, nil
}

func (app *application) run() int {
	defer app.l2tpCtx.Close()
	defer app.conduit.Close()

	commands := make(chan string)
	daemon := l2tp.NewDaemon(app.l2tpCtx, app.sigChan, commands)

	// Autodial before the loop starts: nothing else touches the context
	// yet.
	app.l2tpCtx.Autodial()

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		return daemon.Run(ctx)
	})
	g.Go(func() error {
		return app.conduit.Run(ctx, commands)
	})

	err := g.Wait()
	if errors.Is(err, l2tp.ErrShutdown) {
		level.Info(app.logger).Log("message", "shutdown complete")
		return 1
	}
	level.Error(app.logger).Log(
		"message", "daemon loop failed",
		"error", err)
	return 1
}

func main() {
	cfgPathPtr := flag.String("config", "/etc/l2tpd/l2tpd.toml", "specify configuration file path")
	verbosePtr := flag.Bool("verbose", false, "toggle verbose log output")
	nullDataPlanePtr := flag.Bool("null", false, "toggle null data plane")
	flag.Parse()

	app, err := newApplication(*cfgPathPtr, *verbosePtr, *nullDataPlanePtr)
	if err != nil {
		stdlog.Fatalf("failed to instantiate application: %v", err)
	}

	os.Exit(app.run())
}
