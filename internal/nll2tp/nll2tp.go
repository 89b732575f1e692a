// Package nll2tp is a minimal client for the Linux kernel's L2TP generic
// netlink family, covering the tunnel operations the daemon needs to offload
// the data path to the kernel.
package nll2tp

import (
	"errors"
	"fmt"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// L2tpProtocolVersion is the L2TP protocol version of a kernel tunnel.
type L2tpProtocolVersion uint32

// L2tpTunnelID is a kernel tunnel identifier.
type L2tpTunnelID uint32

const (
	ProtocolVersion2 = 2
	ProtocolVersion3 = 3
)

// TunnelConfig describes a kernel tunnel instance.
type TunnelConfig struct {
	Tid        L2tpTunnelID
	Ptid       L2tpTunnelID
	Version    L2tpProtocolVersion
	Encap      L2tpEncapType
	DebugFlags L2tpDebugFlags
}

// Conn is a genetlink connection to the kernel L2TP subsystem.
type Conn struct {
	genlFamily genetlink.Family
	c          *genetlink.Conn
}

// Dial creates a new genetlink L2TP connection to the kernel.
func Dial() (*Conn, error) {
	c, err := genetlink.Dial(nil)
	if err != nil {
		return nil, err
	}

	id, err := c.GetFamily(GenlName)
	if err != nil {
		c.Close()
		return nil, err
	}

	return &Conn{
		genlFamily: id,
		c:          c,
	}, nil
}

// Close closes the connection, releasing associated resources.
func (c *Conn) Close() {
	c.c.Close()
}

// CreateManagedTunnel creates a kernel tunnel instance bound to the
// userspace control socket fd.
func (c *Conn) CreateManagedTunnel(fd int, config *TunnelConfig) error {
	if fd < 0 {
		return errors.New("managed tunnel needs a valid socket file descriptor")
	}

	ae, err := tunnelCreateAttr(config)
	if err != nil {
		return err
	}
	ae.Uint32(AttrFd, uint32(fd))

	return c.execute(CmdTunnelCreate, ae)
}

// DeleteTunnel deletes a kernel tunnel instance.
func (c *Conn) DeleteTunnel(tid L2tpTunnelID) error {
	if tid == 0 {
		return errors.New("tunnel ID must be nonzero")
	}
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(AttrConnID, uint32(tid))
	return c.execute(CmdTunnelDelete, ae)
}

// TunnelExists reports whether the kernel has a tunnel instance with ID tid.
func (c *Conn) TunnelExists(tid L2tpTunnelID) (bool, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(AttrConnID, uint32(tid))
	err := c.execute(CmdTunnelGet, ae)
	if err == nil {
		return true, nil
	}
	// The kernel reports an unknown tunnel ID as ENODEV.
	if errors.Is(err, unix.ENODEV) || errors.Is(err, unix.ENOENT) {
		return false, nil
	}
	return false, err
}

func (c *Conn) execute(cmd uint8, ae *netlink.AttributeEncoder) error {
	b, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %v", err)
	}

	req := genetlink.Message{
		Header: genetlink.Header{
			Command: cmd,
			Version: c.genlFamily.Version,
		},
		Data: b,
	}

	_, err = c.c.Execute(req, c.genlFamily.ID, netlink.Request|netlink.Acknowledge)
	return err
}

func tunnelCreateAttr(config *TunnelConfig) (*netlink.AttributeEncoder, error) {

	if config == nil {
		return nil, errors.New("invalid nil tunnel config")
	}
	if config.Tid == 0 {
		return nil, errors.New("tunnel config must have a non-zero tunnel ID")
	}
	if config.Ptid == 0 {
		return nil, errors.New("tunnel config must have a non-zero peer tunnel ID")
	}
	if config.Version < ProtocolVersion2 || config.Version > ProtocolVersion3 {
		return nil, fmt.Errorf("invalid tunnel protocol version %d", config.Version)
	}
	if config.Encap != EncaptypeUDP && config.Encap != EncaptypeIP {
		return nil, errors.New("invalid tunnel encap (expect IP or UDP)")
	}

	if config.Version == ProtocolVersion2 {
		if config.Tid > 65535 {
			return nil, errors.New("L2TPv2 tunnel ID can't exceed 16-bit limit")
		}
		if config.Ptid > 65535 {
			return nil, errors.New("L2TPv2 peer tunnel ID can't exceed 16-bit limit")
		}
		if config.Encap != EncaptypeUDP {
			return nil, errors.New("L2TPv2 only supports UDP encapsulation")
		}
	}

	ae := netlink.NewAttributeEncoder()
	ae.Uint32(AttrConnID, uint32(config.Tid))
	ae.Uint32(AttrPeerConnID, uint32(config.Ptid))
	ae.Uint8(AttrProtoVersion, uint8(config.Version))
	ae.Uint16(AttrEncapType, uint16(config.Encap))
	ae.Uint32(AttrDebug, uint32(config.DebugFlags))
	return ae, nil
}
