package nll2tp

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Size of the packed struct sockaddr_pppol2tp:
//
//	struct sockaddr_pppol2tp {
//		__kernel_sa_family_t sa_family;
//		unsigned int    sa_protocol;
//		struct pppol2tp_addr {
//			__kernel_pid_t	pid;
//			int	fd;
//			struct sockaddr_in addr;
//			__u16 s_tunnel, s_session;
//			__u16 d_tunnel, d_session;
//		} pppol2tp;
//	} __attribute__((packed));
const sizeofSockaddrPPPoL2TP = 2 + 4 + 4 + 4 + unix.SizeofSockaddrInet4 + 8

func packSockaddrPPPoL2TP(tunnelID, sessionID, peerTunnelID, peerSessionID uint16) ([]byte, error) {
	if tunnelID == 0 {
		return nil, fmt.Errorf("tunnel ID %v out of range", tunnelID)
	}
	if sessionID == 0 {
		return nil, fmt.Errorf("session ID %v out of range", sessionID)
	}
	if peerTunnelID == 0 {
		return nil, fmt.Errorf("peer tunnel ID %v out of range", peerTunnelID)
	}
	if peerSessionID == 0 {
		return nil, fmt.Errorf("peer session ID %v out of range", peerSessionID)
	}

	buf := make([]byte, sizeofSockaddrPPPoL2TP)
	var ne binary.ByteOrder = binary.LittleEndian
	if isBigEndian() {
		ne = binary.BigEndian
	}
	idx := 0
	ne.PutUint16(buf[idx:], afPPPoX)
	idx += 2
	ne.PutUint32(buf[idx:], pxProtoOL2TP)
	idx += 4
	// pid: zero means the current process
	idx += 4
	// fd: -1 means the kernel tunnel already exists
	ne.PutUint32(buf[idx:], ^uint32(0))
	idx += 4
	// addr: unused for managed tunnels
	idx += unix.SizeofSockaddrInet4
	ne.PutUint16(buf[idx:], tunnelID)
	idx += 2
	ne.PutUint16(buf[idx:], sessionID)
	idx += 2
	ne.PutUint16(buf[idx:], peerTunnelID)
	idx += 2
	ne.PutUint16(buf[idx:], peerSessionID)
	return buf, nil
}

func isBigEndian() bool {
	var x uint16 = 1
	return *(*byte)(unsafe.Pointer(&x)) == 0
}

// DialPPPoL2TP creates a PPPoL2TP socket connected to the given kernel
// session.  The returned file is suitable for handing to pppd's pppol2tp
// plugin.
func DialPPPoL2TP(tunnelID, sessionID, peerTunnelID, peerSessionID uint16) (*os.File, error) {

	sa, err := packSockaddrPPPoL2TP(tunnelID, sessionID, peerTunnelID, peerSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to build struct sockaddr_pppol2tp: %v", err)
	}

	fd, err := unix.Socket(afPPPoX, unix.SOCK_DGRAM, pxProtoOL2TP)
	if err != nil {
		return nil, fmt.Errorf("failed to open pppox socket: %v", err)
	}

	_, _, errno := unix.Syscall(unix.SYS_CONNECT,
		uintptr(fd),
		uintptr(unsafe.Pointer(&sa[0])),
		uintptr(len(sa)))
	if errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to connect pppox socket: %v", errno)
	}

	return os.NewFile(uintptr(fd), "pppol2tp"), nil
}

// ChannelIndex returns the PPP channel index of a pppox socket.
func ChannelIndex(f *os.File) (int, error) {
	idx, err := unix.IoctlGetUint32(int(f.Fd()), unix.PPPIOCGCHAN)
	if err != nil {
		return -1, fmt.Errorf("failed to get pppox channel index: %v", err)
	}
	return int(idx), nil
}
