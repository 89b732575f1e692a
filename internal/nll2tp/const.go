package nll2tp

// Values from the Linux kernel's include/uapi/linux/l2tp.h.

const (
	GenlName    = "l2tp"
	GenlVersion = 0x1
)

const (
	CmdNoop = iota
	CmdTunnelCreate
	CmdTunnelDelete
	CmdTunnelModify
	CmdTunnelGet
	CmdSessionCreate
	CmdSessionDelete
	CmdSessionModify
	CmdSessionGet
)

const (
	AttrNone = iota
	AttrPwType
	AttrEncapType
	AttrOffset
	AttrDataSeq
	AttrL2specType
	AttrL2specLen
	AttrProtoVersion
	AttrIfname
	AttrConnID
	AttrPeerConnID
	AttrSessionID
	AttrPeerSessionID
	AttrUDPCsum
	AttrVlanID
	AttrCookie
	AttrPeerCookie
	AttrDebug
	AttrRecvSeq
	AttrSendSeq
	AttrLnsMode
	AttrUsingIpsec
	AttrRecvTimeout
	AttrFd
	AttrIPSaddr
	AttrIPDaddr
	AttrUDPSport
	AttrUDPDport
	AttrMtu
	AttrMru
	AttrStats
	AttrIP6Saddr
	AttrIP6Daddr
	AttrUDPZeroCsum6Tx
	AttrUDPZeroCsum6Rx
	AttrPad
)

// L2tpEncapType is the tunnel encapsulation.
type L2tpEncapType uint16

const (
	EncaptypeUDP L2tpEncapType = 0
	EncaptypeIP  L2tpEncapType = 1
)

// L2tpDebugFlags enables kernel printk logging for a tunnel.
type L2tpDebugFlags uint32

const (
	MsgControl L2tpDebugFlags = 1 << 0
	MsgSeq     L2tpDebugFlags = 1 << 1
	MsgData    L2tpDebugFlags = 1 << 2
)

// Values from include/uapi/linux/if_pppox.h and ppp-ioctl.h.
const (
	afPPPoX      = 24
	pxProtoOL2TP = 1
)
