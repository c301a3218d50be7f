package session

import (
	"net/netip"
	"sync"
	"time"
)

// Table maps internal tunnel addresses to live peer sessions on the server.
// A single RWMutex guards both indexes; Peers are stored by value.
type Table struct {
	mu     sync.RWMutex
	byIP   map[netip.Addr]Peer
	byAddr map[netip.AddrPort]netip.Addr
}

func NewTable() *Table {
	return &Table{
		byIP:   make(map[netip.Addr]Peer),
		byAddr: make(map[netip.AddrPort]netip.Addr),
	}
}

// Upsert installs p under p.IP, replacing any previous session for that IP.
// When the IP roams to a new socket address the old address stops matching.
// It reports whether an existing session was replaced.
func (t *Table) Upsert(p Peer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	old, replaced := t.byIP[p.IP]
	if replaced && old.Addr != p.Addr && t.byAddr[old.Addr] == p.IP {
		delete(t.byAddr, old.Addr)
	}
	t.byIP[p.IP] = p
	t.byAddr[p.Addr] = p.IP
	return replaced
}

func (t *Table) LookupByIP(ip netip.Addr) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byIP[ip.Unmap()]
	return p, ok
}

// LookupByAddr finds the session whose remote address is addr. Inbound data
// is matched this way, never by an address carried inside the payload.
func (t *Table) LookupByAddr(addr netip.AddrPort) (Peer, bool) {
	addr = unmap(addr)
	t.mu.RLock()
	defer t.mu.RUnlock()
	ip, ok := t.byAddr[addr]
	if !ok {
		return Peer{}, false
	}
	p, ok := t.byIP[ip]
	if !ok || p.Addr != addr {
		return Peer{}, false
	}
	return p, true
}

// Touch records activity from addr. It reports whether addr belongs to a session.
func (t *Table) Touch(addr netip.AddrPort, now time.Time) bool {
	addr = unmap(addr)
	t.mu.Lock()
	defer t.mu.Unlock()
	ip, ok := t.byAddr[addr]
	if !ok {
		return false
	}
	p, ok := t.byIP[ip]
	if !ok || p.Addr != addr {
		return false
	}
	p.LastSeen = now
	t.byIP[ip] = p
	return true
}

// All returns a snapshot of every session.
func (t *Table) All() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.byIP))
	for _, p := range t.byIP {
		out = append(out, p)
	}
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byIP)
}
