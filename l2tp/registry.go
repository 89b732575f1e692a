package l2tp

import (
	"sort"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// TunnelHandle is a stable reference to a registered tunnel.  A handle
// to a tunnel which has since been destroyed never resolves again, even
// if its slot is reused.
type TunnelHandle struct {
	index      uint32
	generation uint32
}

type tunnelSlot struct {
	t          *Tunnel
	generation uint32
}

// registry owns the live tunnels of a context.  Tunnels are held in a
// slot map so that a tunnel may be removed while a snapshot of the
// registry is being walked.
type registry struct {
	slots  []tunnelSlot
	free   []uint32
	count  int
	seq    uint64
	logger log.Logger
}

func newRegistry(logger log.Logger) *registry {
	return &registry{logger: logger}
}

func (r *registry) register(t *Tunnel) TunnelHandle {
	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		r.slots = append(r.slots, tunnelSlot{})
		idx = uint32(len(r.slots) - 1)
	}
	r.seq++
	r.slots[idx].t = t
	t.handle = TunnelHandle{index: idx, generation: r.slots[idx].generation}
	t.seq = r.seq
	r.count++
	return t.handle
}

func (r *registry) unregister(t *Tunnel) bool {
	if r.count == 0 {
		level.Warn(r.logger).Log(
			"message", "tunnel list is empty",
			"tunnel_id", t.OurTID)
		return false
	}
	idx := t.handle.index
	if int(idx) >= len(r.slots) ||
		r.slots[idx].t != t ||
		r.slots[idx].generation != t.handle.generation {
		level.Warn(r.logger).Log(
			"message", "unable to locate tunnel in tunnel list",
			"tunnel_id", t.OurTID)
		return false
	}
	r.slots[idx].t = nil
	r.slots[idx].generation++
	r.free = append(r.free, idx)
	r.count--
	return true
}

func (r *registry) lookup(h TunnelHandle) *Tunnel {
	if int(h.index) >= len(r.slots) {
		return nil
	}
	s := r.slots[h.index]
	if s.generation != h.generation {
		return nil
	}
	return s.t
}

// tunnels returns the live tunnels, most recently registered first.
func (r *registry) tunnels() []*Tunnel {
	out := make([]*Tunnel, 0, r.count)
	for _, s := range r.slots {
		if s.t != nil {
			out = append(out, s.t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].seq > out[j].seq
	})
	return out
}

func (r *registry) findTunnel(tid ControlConnID) *Tunnel {
	for _, s := range r.slots {
		if s.t != nil && s.t.OurTID == tid {
			return s.t
		}
	}
	return nil
}

func (r *registry) findCall(cid ControlConnID) *Call {
	for _, t := range r.tunnels() {
		if c := t.FindCall(cid); c != nil {
			return c
		}
	}
	return nil
}

func (r *registry) size() int {
	return r.count
}
