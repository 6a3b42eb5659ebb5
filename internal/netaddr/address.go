// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package netaddr provides the typed client address used by the
// authentication core.
//
// An Address is built once at the proxy boundary from whatever the
// connection layer reports and then passed around by value. Trust is bound
// to the host part only; the source port changes on every reconnect and is
// carried for logging.
package netaddr

import (
	"net"
	"net/netip"
	"strings"

	"github.com/samber/oops"
)

// Unknown is rendered for addresses that carry no IP.
const Unknown = "unknown"

// Address is a resolved client IP with an optional source port.
// The zero value is an invalid address that never matches another address.
type Address struct {
	IP   netip.Addr
	Port uint16
}

// New creates an Address, unmapping IPv4-in-IPv6 addresses so that
// "::ffff:10.0.0.1" and "10.0.0.1" compare equal.
func New(ip netip.Addr, port uint16) Address {
	return Address{IP: ip.Unmap(), Port: port}
}

// Parse accepts "ip", "ip:port", or "[ipv6]:port".
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, oops.Code("ADDRESS_INVALID").Errorf("address cannot be empty")
	}

	if ap, err := netip.ParseAddrPort(s); err == nil {
		return New(ap.Addr(), ap.Port()), nil
	}

	ip, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return Address{}, oops.Code("ADDRESS_INVALID").
			With("address", s).
			Wrap(err)
	}
	return New(ip, 0), nil
}

// MustParse is Parse for constants and tests. It panics on error.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromNetAddr converts the remote address reported by a connection.
func FromNetAddr(addr net.Addr) (Address, error) {
	switch a := addr.(type) {
	case nil:
		return Address{}, oops.Code("ADDRESS_INVALID").Errorf("remote address is nil")
	case *net.TCPAddr:
		return fromIP(a.IP, a.Port)
	case *net.UDPAddr:
		return fromIP(a.IP, a.Port)
	default:
		return Parse(addr.String())
	}
}

func fromIP(ip net.IP, port int) (Address, error) {
	parsed, ok := netip.AddrFromSlice(ip)
	if !ok {
		return Address{}, oops.Code("ADDRESS_INVALID").
			With("ip", ip.String()).
			Errorf("remote address has no usable IP")
	}
	if port < 0 || port > 65535 {
		port = 0
	}
	return New(parsed, uint16(port)), nil
}

// IsValid reports whether the address carries an IP.
func (a Address) IsValid() bool {
	return a.IP.IsValid()
}

// SameHost reports whether both addresses are valid and share an IP.
func (a Address) SameHost(b Address) bool {
	return a.IP.IsValid() && a.IP == b.IP
}

// Host returns the IP in textual form, or Unknown.
func (a Address) Host() string {
	if !a.IP.IsValid() {
		return Unknown
	}
	return a.IP.String()
}

// String returns "ip:port" when a port is known, otherwise the bare IP.
func (a Address) String() string {
	if !a.IP.IsValid() {
		return Unknown
	}
	if a.Port == 0 {
		return a.IP.String()
	}
	return netip.AddrPortFrom(a.IP, a.Port).String()
}
