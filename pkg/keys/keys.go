// Package keys implements the ed25519 public keys that identify linkdrop
// deposits. The text form is "ed25519:<base58>".
package keys

import (
	"crypto/ed25519"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const prefix = "ed25519:"

var ErrInvalidKey = errors.New("keys: invalid public key")

type PublicKey [ed25519.PublicKeySize]byte

// Parse accepts the prefixed form and the bare base58 form.
func Parse(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(strings.TrimPrefix(s, prefix))
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return pk, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, ed25519.PublicKeySize, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

func FromEd25519(pub ed25519.PublicKey) (PublicKey, error) {
	var pk PublicKey
	if len(pub) != ed25519.PublicKeySize {
		return pk, ErrInvalidKey
	}
	copy(pk[:], pub)
	return pk, nil
}

func (pk PublicKey) String() string {
	return prefix + base58.Encode(pk[:])
}

func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// Verify reports whether sig is a valid signature of msg by pk.
func (pk PublicKey) Verify(msg, sig []byte) bool {
	if pk.IsZero() || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pk[:]), msg, sig)
}

func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

func (pk *PublicKey) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*pk = v
	return nil
}

func (pk PublicKey) Value() (driver.Value, error) {
	return pk.String(), nil
}

func (pk *PublicKey) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return pk.UnmarshalText([]byte(v))
	case []byte:
		return pk.UnmarshalText(v)
	default:
		return fmt.Errorf("keys: cannot scan %T into PublicKey", src)
	}
}

// EncodeSignature renders a signature the way request headers carry it.
func EncodeSignature(sig []byte) string {
	return base58.Encode(sig)
}

func DecodeSignature(s string) ([]byte, error) {
	return base58.Decode(s)
}
