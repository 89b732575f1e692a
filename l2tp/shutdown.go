package l2tp

import (
	"github.com/go-kit/kit/log/level"
)

// Shutdown asks every tunnel to close.  Redial is disabled on the
// tunnels' LACs first so that teardown does not schedule a redial.
//
// A tunnel which was not already closing is asked twice, to give the
// StopCCN the best chance of reaching the peer.  Shutdown does not wait
// for anything: the caller is expected to exit.
func (ctx *Context) Shutdown() {
	for _, t := range ctx.reg.tunnels() {
		if t.Dead() {
			continue
		}
		level.Info(t.logger).Log("message", "closing tunnel for shutdown")

		t.Self.ErrorMsg = msgServerClosing
		wasClosing := t.Self.Closing
		if t.Lac != nil {
			t.Lac.Redial = false
		}
		ctx.closer.CallClose(t.Self)
		if !wasClosing {
			t.Self.Closing = true
			ctx.closer.CallClose(t.Self)
		}
	}
}
