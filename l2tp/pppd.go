package l2tp

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ref: pppd(8) section EXIT STATUS
var pppdExitCodes = map[int]string{
	0:  "pppd established successfully and terminated at peer's request",
	1:  "immediately fatal error (e.g. essential system call failed, or out of memory)",
	2:  "error detected during options parsing/processing",
	3:  "pppd is not setuid-root and the invoking user is not root",
	4:  "the kernel does not support PPP (possibly the module is not loaded or unavailable)",
	5:  "pppd terminated due to SIGINT, SIGTERM, or SIGHUP signal",
	6:  "the serial port could not be locked",
	7:  "the serial port could not be opened",
	8:  "the connect script returned a non-zero exit status",
	9:  "the command specified as an argument to the pty option could not be run",
	10: "PPP negotiation failed (that is, didn't reach the point where at least one network protocol was running)",
	11: "the peer system failed or refused to authenticate itself",
	12: "the link was established successfully and terminated because it was idle",
	13: "the link was established successfully and terminated because the connect time limit was reached",
	14: "callback was negotiated and an incoming call should arrive shortly",
	15: "the link was terminated because the peer is not responding to echo requests",
	16: "the link was terminated by the modem hanging up",
	17: "the ppp negotiation failed because serial loopback was detected",
	18: "the init script returned a non-zero exit status",
	19: "we failed to authenticate ourselves to the peer",
}

func pppdExitCodeString(ws unix.WaitStatus) string {
	switch {
	case ws.Exited():
		if s, ok := pppdExitCodes[ws.ExitStatus()]; ok {
			return s
		}
		return fmt.Sprintf("exit status %d", ws.ExitStatus())
	case ws.Signaled():
		return fmt.Sprintf("killed by signal %v", ws.Signal())
	}
	return fmt.Sprintf("wait status %#x", uint32(ws))
}

func pppdKernelArgs(t *Tunnel, c *Call) []string {
	return []string{
		"plugin", "pppol2tp.so",
		"pppol2tp", "3",
		"pppol2tp_tunnel_id", fmt.Sprintf("%v", t.OurTID),
		"pppol2tp_session_id", fmt.Sprintf("%v", c.OurCID),
		"nodetach",
	}
}
