package l2tp

import (
	"errors"
	"os"
)

// DataPlane provides the kernel data path for tunnels and calls.
//
// Without a data plane, calls exchange PPP frames with pppd over a
// pseudo-terminal.  With one, pppd is handed a kernel PPP channel.
type DataPlane interface {
	// AllocTunnelID returns a tunnel ID which is free in the data plane.
	// inUse reports IDs already taken by live tunnels.
	AllocTunnelID(inUse func(ControlConnID) bool) (ControlConnID, error)
	// OpenChannel returns the PPP channel for an established call.
	OpenChannel(t *Tunnel, c *Call) (*os.File, error)
	// ReleaseTunnel removes any data plane state held for the tunnel.
	ReleaseTunnel(t *Tunnel) error
	// Close releases resources held by the data plane.
	Close()
}

var _ DataPlane = (*nullDataPlane)(nil)

var errNoDataPlane = errors.New("no kernel data plane")

type nullDataPlane struct {
}

// LinuxNetlinkDataPlane is a special sentinel value which should be passed to
// NewContext in order to use the Linux L2TP subsystem for the data plane.
var LinuxNetlinkDataPlane DataPlane = &nullDataPlane{}

func (ndp *nullDataPlane) AllocTunnelID(inUse func(ControlConnID) bool) (ControlConnID, error) {
	return 0, errNoDataPlane
}

func (ndp *nullDataPlane) OpenChannel(t *Tunnel, c *Call) (*os.File, error) {
	return nil, errNoDataPlane
}

func (ndp *nullDataPlane) ReleaseTunnel(t *Tunnel) error {
	return nil
}

func (ndp *nullDataPlane) Close() {
}
