package l2tp

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/katalix/go-l2tpd/internal/nll2tp"
)

var _ DataPlane = (*nlDataPlane)(nil)

const maxTunnelIDProbes = 64

type nlDataPlane struct {
	nlconn  *nll2tp.Conn
	logger  log.Logger
	rng     *rand.Rand
	tunnels map[ControlConnID]*nll2tp.TunnelConfig
}

func tunnelCfgToNl(t *Tunnel) *nll2tp.TunnelConfig {
	return &nll2tp.TunnelConfig{
		Tid:        nll2tp.L2tpTunnelID(t.OurTID),
		Ptid:       nll2tp.L2tpTunnelID(t.TID),
		Version:    nll2tp.ProtocolVersion2,
		Encap:      nll2tp.EncaptypeUDP,
		DebugFlags: nll2tp.L2tpDebugFlags(0),
	}
}

func (dpf *nlDataPlane) AllocTunnelID(inUse func(ControlConnID) bool) (ControlConnID, error) {
	for i := 0; i < maxTunnelIDProbes; i++ {
		id := ControlConnID(dpf.rng.Intn(0xffff) + 1)
		if inUse(id) {
			continue
		}
		exists, err := dpf.nlconn.TunnelExists(nll2tp.L2tpTunnelID(id))
		if err != nil {
			return 0, fmt.Errorf("failed to query kernel tunnel %v: %v", id, err)
		}
		if !exists {
			return id, nil
		}
	}
	return 0, fmt.Errorf("no free kernel tunnel ID after %d attempts", maxTunnelIDProbes)
}

// OpenChannel brings up the kernel tunnel on first use, and then connects
// a PPPoL2TP socket to the call's kernel session.
func (dpf *nlDataPlane) OpenChannel(t *Tunnel, c *Call) (*os.File, error) {
	if t.TID == 0 || c.CID == 0 {
		return nil, fmt.Errorf("call %v/%v is not established", t.OurTID, c.OurCID)
	}

	if _, ok := dpf.tunnels[t.OurTID]; !ok {
		cfg := tunnelCfgToNl(t)
		err := dpf.nlconn.CreateManagedTunnel(t.SockFD, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to instantiate tunnel via. netlink: %v", err)
		}
		dpf.tunnels[t.OurTID] = cfg
	}

	f, err := nll2tp.DialPPPoL2TP(
		uint16(t.OurTID), uint16(c.OurCID),
		uint16(t.TID), uint16(c.CID))
	if err != nil {
		return nil, err
	}

	if idx, err := nll2tp.ChannelIndex(f); err == nil {
		level.Debug(dpf.logger).Log(
			"message", "opened ppp channel",
			"tunnel_id", t.OurTID,
			"call_id", c.OurCID,
			"channel", idx)
	}
	return f, nil
}

func (dpf *nlDataPlane) ReleaseTunnel(t *Tunnel) error {
	cfg, ok := dpf.tunnels[t.OurTID]
	if !ok {
		return nil
	}
	delete(dpf.tunnels, t.OurTID)
	return dpf.nlconn.DeleteTunnel(cfg.Tid)
}

func (dpf *nlDataPlane) Close() {
	if dpf.nlconn != nil {
		dpf.nlconn.Close()
	}
}

func newNetlinkDataPlane(logger log.Logger) (DataPlane, error) {

	nlconn, err := nll2tp.Dial()
	if err != nil {
		return nil, fmt.Errorf("failed to establish a netlink/L2TP connection: %v", err)
	}

	return &nlDataPlane{
		nlconn:  nlconn,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		tunnels: make(map[ControlConnID]*nll2tp.TunnelConfig),
	}, nil
}
