package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pk, err := FromEd25519(pub)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(pk.String(), "ed25519:"))

	parsed, err := Parse(pk.String())
	require.NoError(t, err)
	require.Equal(t, pk, parsed)

	bare, err := Parse(strings.TrimPrefix(pk.String(), "ed25519:"))
	require.NoError(t, err)
	require.Equal(t, pk, bare)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("ed25519:0OIl")
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = Parse("ed25519:3mJr7AoUXx2Wqd")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pk, err := FromEd25519(pub)
	require.NoError(t, err)

	msg := []byte("1700000000.POST /v1/linkdrop/claim.{}")
	sig := ed25519.Sign(priv, msg)

	decoded, err := DecodeSignature(EncodeSignature(sig))
	require.NoError(t, err)
	require.True(t, pk.Verify(msg, decoded))
	require.False(t, pk.Verify([]byte("tampered"), decoded))
	require.False(t, PublicKey{}.Verify(msg, decoded))
}
