/*
Package l2tp implements the control core of an L2TPv2 LAC/LNS daemon
running on Linux systems.

L2TP is specified by RFC2661.  A tunnel is a control connection between
two peers, and it multiplexes any number of calls, each of which usually
carries a single PPP session.

The core owns the set of live tunnels and their calls, a one-shot event
scheduler, the redial policy for configured LAC entries, supervision of
the pppd process started for each call, and an operator command channel.
Message encoding, the reliable control transport and the UDP socket loop
are provided by the caller through the Handshake and CallCloser
interfaces.

On Linux the PPP data path may be offloaded to the kernel's L2TP
subsystem.  In that mode each call hands pppd a PPPoL2TP socket using the
pppol2tp plugin.  Otherwise PPP frames are exchanged with pppd over a
pseudo-terminal.

Usage

	import (
		"github.com/katalix/go-l2tpd/config"
		"github.com/katalix/go-l2tpd/l2tp"
	)

	# Note we're ignoring errors for brevity.

	# Read configuration using the config package.
	cfg, _ := config.LoadFile("./l2tpd.toml")

	# Creation of L2TP instances requires an L2TP context.
	# We're disabling logging and using the default Linux data plane.
	l2tpctx, _ := l2tp.NewContext(l2tp.LinuxNetlinkDataPlane, nil, cfg.Settings, nil)

	# Bring up the LACs configured for autodial.
	l2tpctx.Autodial()

Concurrency

A Context is not safe for concurrent use.  Every operation on it,
including scheduler callbacks, should run on a single goroutine.  The
Daemon type provides such a goroutine and funnels signals, operator
commands and work from other goroutines into it.

Logging

Package l2tp uses structured logging via github.com/go-kit/kit/log.  Pass
a nil logger to NewContext to disable logging.
*/
package l2tp
