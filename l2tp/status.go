package l2tp

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/go-kit/kit/log/level"
	"golang.org/x/sys/unix"
)

func describeEvent(e *Event) string {
	switch e.Kind {
	case EventHello:
		if t, ok := e.Data.(*Tunnel); ok {
			return fmt.Sprintf("HELLO to %d", t.TID)
		}
	case EventRedial:
		if lac, ok := e.Data.(*Lac); ok {
			return fmt.Sprintf("Magic dial on %s", lac.Name)
		}
	case EventSendZLB:
		if c, ok := e.Data.(*Call); ok && c.Tunnel != nil {
			return fmt.Sprintf("Send payload ZLB on call %d:%d", c.Tunnel.TID, c.CID)
		}
	case EventDethrottle:
		if c, ok := e.Data.(*Call); ok && c.Tunnel != nil {
			return fmt.Sprintf("Dethrottle call %d:%d", c.Tunnel.TID, c.CID)
		}
	}
	return "Unknown event"
}

func peerString(t *Tunnel) string {
	if t.Peer == nil {
		return "0.0.0.0:0"
	}
	return t.Peer.String()
}

// ShowStatus writes a report of the scheduler queue, the live tunnels and
// calls, and the LAC and LNS configuration.
func (ctx *Context) ShowStatus(w io.Writer) error {
	return ctx.showStatus(w, -1)
}

func (ctx *Context) showStatus(w io.Writer, fd int) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "====== l2tpd statistics ========\n")
	fmt.Fprintf(bw, " Scheduler entries:\n")
	events := ctx.sched.Events()
	for i := range events {
		fmt.Fprintf(bw, "%d: %s\n", i+1, describeEvent(&events[i]))
	}
	fmt.Fprintf(bw, "Total Events scheduled: %d\n", len(events))
	fmt.Fprintf(bw, "Number of tunnels open: %d\n", ctx.reg.size())
	if fd >= 0 {
		fmt.Fprintf(bw, "Highest file descriptor: %d\n", fd)
	}

	for _, t := range ctx.reg.tunnels() {
		fmt.Fprintf(bw, "Tunnel %s, ID = %d (local), %d (remote) to %s\n"+
			"   cSs = %d, cSr = %d, cLr = %d\n",
			t.name(), t.OurTID, t.TID, peerString(t),
			t.CSs, t.CSr, t.CLr)
		for _, c := range t.calls {
			fmt.Fprintf(bw, "    Call %s, ID = %d (local), %d (remote), serno = %d\n"+
				"          pSs = %d, pSr = %d, pLr = %d, tx = %d bytes (%d), rx= %d bytes (%d)\n",
				c.name(), c.OurCID, c.CID, c.Serial,
				c.PSs, c.PSr, c.PLr,
				c.TxBytes, c.TxPkts, c.RxBytes, c.RxPkts)
		}
	}

	fmt.Fprintf(bw, "==========Config File===========\n")
	for _, lns := range ctx.settings.Lnss {
		fmt.Fprintf(bw, "LNS entry %s\n", entryName(lns.Name))
	}
	for _, lac := range ctx.settings.Lacs {
		fmt.Fprintf(bw, "LAC entry %s, LNS is/are:", entryName(lac.Name))
		if len(lac.LNS) == 0 {
			fmt.Fprintf(bw, " [none]")
		}
		for _, h := range lac.LNS {
			fmt.Fprintf(bw, " %s", h.Hostname)
		}
		fmt.Fprintf(bw, "\n")
	}
	fmt.Fprintf(bw, "================================\n")
	return bw.Flush()
}

// WriteStatus writes the status report to a duplicate of fd opened for
// appending.  Failures are logged.
func (ctx *Context) WriteStatus(fd int) {
	fd2, err := unix.Dup(fd)
	if err != nil {
		level.Warn(ctx.logger).Log(
			"message", "unable to duplicate status descriptor",
			"fd", fd,
			"error", err)
		return
	}
	f := os.NewFile(uintptr(fd2), "status")
	defer f.Close()

	flags, err := unix.FcntlInt(uintptr(fd2), unix.F_GETFL, 0)
	if err == nil {
		_, err = unix.FcntlInt(uintptr(fd2), unix.F_SETFL, flags|unix.O_APPEND)
	}
	if err != nil {
		level.Warn(ctx.logger).Log(
			"message", "unable to open status descriptor for appending",
			"fd", fd,
			"error", err)
		return
	}

	if err := ctx.showStatus(f, fd2); err != nil {
		level.Warn(ctx.logger).Log(
			"message", "failed to write status",
			"fd", fd,
			"error", err)
	}
}
