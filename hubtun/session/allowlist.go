package session

import (
	"fmt"
	"net/netip"
)

// AllowEntry says which public key may claim which internal address.
type AllowEntry struct {
	PublicKey [32]byte
	IP        netip.Addr
}

// AllowList is the server's immutable set of (public key, IP) pairs.
// It is built once at startup and only read afterwards, so it needs no lock.
type AllowList struct {
	entries map[AllowEntry]struct{}
}

func NewAllowList(entries []AllowEntry) (*AllowList, error) {
	a := &AllowList{entries: make(map[AllowEntry]struct{}, len(entries))}
	for _, e := range entries {
		if !e.IP.Is4() {
			return nil, fmt.Errorf("session: allow-list address %s is not IPv4", e.IP)
		}
		a.entries[e] = struct{}{}
	}
	return a, nil
}

// Allowed reports whether the exact (publicKey, ip) tuple is on the list.
func (a *AllowList) Allowed(publicKey [32]byte, ip netip.Addr) bool {
	if a == nil {
		return false
	}
	_, ok := a.entries[AllowEntry{PublicKey: publicKey, IP: ip.Unmap()}]
	return ok
}

func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.entries)
}

func (a *AllowList) Entries() []AllowEntry {
	out := make([]AllowEntry, 0, a.Len())
	if a == nil {
		return out
	}
	for e := range a.entries {
		out = append(out, e)
	}
	return out
}
