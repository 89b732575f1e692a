package l2tp

import (
	"strings"

	"github.com/go-kit/kit/log/level"
)

// atoi parses a leading decimal number, returning 0 if there is none.
func atoi(s string) int {
	s = strings.TrimLeft(s, " \t")
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
		if n > 1<<20 {
			break
		}
	}
	if neg {
		return -n
	}
	return n
}

func connID(s string) (ControlConnID, bool) {
	n := atoi(s)
	if n <= 0 || n > 0xffff {
		return 0, false
	}
	return ControlConnID(n), true
}

// HandleCommand runs one operator command.  A command is a single
// character, a space, and an argument:
//
//	t <host>          dial a tunnel to host on the default port
//	c <lac|tunnel>    activate and dial a LAC, or place a call on a tunnel
//	h <call>          hang up a call
//	d <lac|tunnel>    deactivate a LAC and disconnect it, or disconnect a tunnel
func (ctx *Context) HandleCommand(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}

	cmd := line[0]
	arg := ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		arg = line[i+1:]
	}

	level.Debug(ctx.logger).Log(
		"message", "control command",
		"command", string(cmd),
		"argument", arg)

	switch cmd {
	case 't':
		if _, err := ctx.L2tpCall(arg, DefaultPort, nil, nil); err != nil {
			level.Debug(ctx.logger).Log(
				"message", "tunnel request failed",
				"host", arg,
				"error", err)
		}

	case 'c':
		if lac := ctx.FindLac(arg); lac != nil {
			lac.Active = true
			lac.RedialTries = 0
			if lac.Call != nil {
				level.Info(ctx.logger).Log(
					"message", "session already active",
					"lac", lac.Name)
				return
			}
			ctx.MagicLacDial(lac)
			return
		}
		tid, ok := connID(arg)
		if !ok {
			level.Debug(ctx.logger).Log(
				"message", "no such tunnel",
				"tunnel", arg)
			return
		}
		ctx.LacCall(tid, nil, nil)

	case 'h':
		cid, ok := connID(arg)
		if !ok {
			level.Debug(ctx.logger).Log(
				"message", "no such call",
				"call", arg)
			return
		}
		ctx.LacHangup(cid)

	case 'd':
		if lac := ctx.FindLac(arg); lac != nil {
			lac.Active = false
			lac.RedialTries = 0
			if lac.Tunnel == nil {
				level.Debug(ctx.logger).Log(
					"message", "session not up",
					"lac", lac.Name)
				return
			}
			ctx.LacDisconnect(lac.Tunnel.OurTID)
			return
		}
		tid, ok := connID(arg)
		if !ok {
			level.Debug(ctx.logger).Log(
				"message", "no such tunnel",
				"tunnel", arg)
			return
		}
		ctx.LacDisconnect(tid)

	default:
		level.Debug(ctx.logger).Log(
			"message", "unknown command",
			"command", string(cmd))
	}
}
