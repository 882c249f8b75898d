package transport

import (
	"fmt"
	"net"
)

// Rejection reasons reported through Hooks.OnReject.
const (
	ReasonOverLength = "over_length"
	ReasonBinary     = "binary_message"
	ReasonNotAllowed = "not_allowed"
)

// Hooks receive transport-level events. Nil fields are ignored.
type Hooks struct {
	OnLine      func(transport string)
	OnReject    func(transport, source, reason string)
	OnSupersede func(transport, source string)
}

func (h Hooks) line(transport string) {
	if h.OnLine != nil {
		h.OnLine(transport)
	}
}

func (h Hooks) reject(transport, source, reason string) {
	if h.OnReject != nil {
		h.OnReject(transport, source, reason)
	}
}

func (h Hooks) supersede(transport, source string) {
	if h.OnSupersede != nil {
		h.OnSupersede(transport, source)
	}
}

// AllowList restricts peers to a set of networks. An empty list allows all.
type AllowList struct {
	nets []*net.IPNet
}

// NewAllowList parses CIDR strings.
func NewAllowList(cidrs []string) (*AllowList, error) {
	a := &AllowList{}
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("invalid cidr %q: %w", c, err)
		}
		a.nets = append(a.nets, n)
	}
	return a, nil
}

// Allows reports whether addr belongs to an allowed network.
func (a *AllowList) Allows(addr net.Addr) bool {
	if a == nil || len(a.nets) == 0 {
		return true
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, n := range a.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
