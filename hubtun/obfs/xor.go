package obfs

import (
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20"

	"github.com/TheusHen/hubtun/hubtun/crypto"
)

// XOR masks every byte with a value that rotates each minute.
//
// Without a key the mask is the UTC minute-of-hour itself. With a key the
// mask is a ChaCha20 keystream under HKDF(key, minute), so it differs per
// byte and cannot be guessed from the clock alone.
//
// Both ends must agree on the minute; datagrams crossing a minute boundary
// decode to garbage and are rejected by the layers above.
type XOR struct {
	key []byte
	now func() time.Time
}

func NewXOR(key []byte) *XOR {
	return &XOR{key: append([]byte(nil), key...), now: time.Now}
}

// WithClock replaces the time source.
func (x *XOR) WithClock(now func() time.Time) *XOR {
	x.now = now
	return x
}

func (x *XOR) Protocol() Protocol { return ProtocolXOR }

func (x *XOR) Obfuscate(b []byte) ([]byte, error) {
	minute := byte(x.now().UTC().Minute())
	out := make([]byte, len(b))
	if len(x.key) == 0 {
		for i, c := range b {
			out[i] = c ^ minute
		}
		return out, nil
	}
	stream, err := x.stream(minute)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrObfuscate, err)
	}
	stream.XORKeyStream(out, b)
	return out, nil
}

func (x *XOR) Deobfuscate(b []byte) ([]byte, error) {
	out, err := x.Obfuscate(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, nil
}

func (x *XOR) stream(minute byte) (*chacha20.Cipher, error) {
	k, err := crypto.DeriveKey(x.key, nil, []byte{'x', 'o', 'r', minute}, chacha20.KeySize)
	if err != nil {
		return nil, err
	}
	return chacha20.NewUnauthenticatedCipher(k, make([]byte, chacha20.NonceSize))
}
