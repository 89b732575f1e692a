package l2tp

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Host is a dial target: a host name or address and a UDP port.
type Host struct {
	Hostname string
	Port     int
}

// ParseHost parses "host" or "host:port".  The port defaults to DefaultPort.
func ParseHost(s string) (Host, error) {
	if s == "" {
		return Host{}, fmt.Errorf("empty host")
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		// No port present
		return Host{Hostname: s, Port: DefaultPort}, nil
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return Host{}, fmt.Errorf("invalid port in %q", s)
	}
	return Host{Hostname: host, Port: int(p)}, nil
}

func (h Host) String() string {
	return net.JoinHostPort(h.Hostname, strconv.Itoa(h.Port))
}

// Lac is an L2TP Access Concentrator entry.  A LAC dials out to one of
// its LNS hosts, and can be configured to redial when its tunnel is lost.
type Lac struct {
	Name string
	// Candidate LNS targets, in order of preference.
	LNS []Host
	// Active LACs are dialed, and redialed when their tunnel goes away.
	Active bool
	// Redial enables automatic tunnel re-establishment.
	Redial bool
	// RedialTimeout is the fixed delay before each redial.
	RedialTimeout time.Duration
	// RedialTries counts dial attempts since the LAC was last activated.
	RedialTries int
	// MaxRedials caps RedialTries.  Zero means no cap.
	MaxRedials int
	// Autodial LACs are activated and dialed when the daemon starts.
	Autodial bool
	// PPPOptions are passed to pppd for calls placed by this LAC.
	PPPOptions []string

	// Tunnel and Call are the LAC's current tunnel and call, if any.
	Tunnel *Tunnel
	Call   *Call

	redial EventHandle
}

// RedialPending reports whether a redial timer is outstanding.
func (lac *Lac) RedialPending() bool {
	return lac.redial != 0
}

// Lns is an L2TP Network Server entry.
type Lns struct {
	Name       string
	Hostname   string
	Port       int
	PPPOptions []string

	// Tunnel is the LNS's current tunnel, if any.
	Tunnel *Tunnel
}

func entryName(name string) string {
	if name == "" {
		return "(unnamed)"
	}
	return name
}
