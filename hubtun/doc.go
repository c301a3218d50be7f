// Package hubtun wires the building blocks of a hub-and-spoke UDP tunnel
// into ready-to-run servers and clients.
//
// A hub owns one UDP socket and many sessions, one per allow-listed peer,
// each keyed by the peer's internal IPv4 address. Peers authenticate with a
// static X25519 handshake; the raw shared secret keys AES-256-GCM for every
// data packet. An optional obfuscation layer disguises datagrams on the wire.
//
// The subpackages can be used on their own: protocol is the wire codec,
// session the handshake and session table, tunnel the bridging engine, and
// config the YAML files the hubtun command reads and writes.
package hubtun
