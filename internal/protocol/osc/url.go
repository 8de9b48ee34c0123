package osc

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const (
	ProtoUDP = "udp"
	ProtoTCP = "tcp"
)

// Address is a parsed peer address such as osc.udp://host:7777/.
type Address struct {
	Proto string
	Host  string
	Port  int
}

// ParseURL parses a liblo-style OSC URL. "osc://" implies udp.
// Only udp peers are supported.
func ParseURL(raw string) (Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Address{}, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	var proto string
	switch strings.ToLower(u.Scheme) {
	case "osc", "osc.udp":
		proto = ProtoUDP
	case "osc.tcp":
		proto = ProtoTCP
	case "":
		return Address{}, fmt.Errorf("%w: missing scheme in %q", ErrInvalidURL, raw)
	default:
		return Address{}, fmt.Errorf("%w: scheme %q", ErrUnsupportedProtocol, u.Scheme)
	}
	if proto != ProtoUDP {
		return Address{}, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, proto)
	}

	host := u.Hostname()
	if host == "" {
		return Address{}, fmt.Errorf("%w: missing host in %q", ErrInvalidURL, raw)
	}
	portRaw := u.Port()
	if portRaw == "" {
		return Address{}, fmt.Errorf("%w: missing port in %q", ErrInvalidURL, raw)
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil || port <= 0 || port > 65535 {
		return Address{}, fmt.Errorf("%w: bad port %q", ErrInvalidURL, portRaw)
	}
	return Address{Proto: proto, Host: host, Port: port}, nil
}

// HostPort returns the address in net.Dial form.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// URL renders the canonical osc.<proto>://host:port/ form.
func (a Address) URL() string {
	return fmt.Sprintf("osc.%s://%s/", a.Proto, a.HostPort())
}
