package obfs

import (
	"fmt"
	"math/rand"
	"sync/atomic"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// protocolICMP is the IANA protocol number for ICMPv4.
const protocolICMP = 1

// ICMP carries a datagram as the data of an ICMPv4 echo request. The
// message is still sent over UDP; only the payload looks like a ping.
type ICMP struct {
	id  int
	seq atomic.Uint32
}

func NewICMP() *ICMP {
	return &ICMP{id: int(rand.Uint32() & 0xffff)}
}

func (*ICMP) Protocol() Protocol { return ProtocolICMP }

func (o *ICMP) Obfuscate(b []byte) ([]byte, error) {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{
			ID:   o.id,
			Seq:  int(o.seq.Add(1) & 0xffff),
			Data: b,
		},
	}
	out, err := msg.Marshal(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrObfuscate, err)
	}
	return out, nil
}

func (*ICMP) Deobfuscate(b []byte) ([]byte, error) {
	msg, err := icmp.ParseMessage(protocolICMP, b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	echo, ok := msg.Body.(*icmp.Echo)
	if !ok {
		return nil, fmt.Errorf("%w: icmp type %v is not an echo", ErrMalformed, msg.Type)
	}
	return echo.Data, nil
}
