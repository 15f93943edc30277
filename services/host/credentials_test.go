package host

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"

	"linkdrop/pkg/keys"
	"linkdrop/pkg/units"
	"linkdrop/services/linkdrop"
	"linkdrop/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newKey(t *testing.T) keys.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	key, err := keys.FromEd25519(pub)
	require.NoError(t, err)
	return key
}

func TestCredentialRegistry_IssueAuthorizeRevoke(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	reg := NewCredentialRegistry(db)
	ctx := context.Background()
	key := newKey(t)

	allowed, err := reg.Authorize(ctx, key, "linkdrop.testnet", linkdrop.MethodClaim)
	require.NoError(t, err)
	require.False(t, allowed)

	allowance := units.MustParseBalance("20000000000000000000000")
	require.NoError(t, reg.Issue(ctx, key, allowance, "linkdrop.testnet", linkdrop.CredentialMethods))

	for _, m := range linkdrop.CredentialMethods {
		allowed, err := reg.Authorize(ctx, key, "linkdrop.testnet", m)
		require.NoError(t, err)
		require.True(t, allowed, m)
	}

	allowed, err = reg.Authorize(ctx, key, "linkdrop.testnet", "send")
	require.NoError(t, err)
	require.False(t, allowed)

	row, err := reg.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "linkdrop.testnet", row.ReceiverID)
	require.True(t, row.Allowance.Equal(allowance))

	require.NoError(t, reg.Revoke(ctx, key))

	allowed, err = reg.Authorize(ctx, key, "linkdrop.testnet", linkdrop.MethodClaim)
	require.NoError(t, err)
	require.False(t, allowed)

	err = reg.Revoke(ctx, key)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCredentialNotFound))
}

func TestCredentialRegistry_IssueReplaces(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	reg := NewCredentialRegistry(db)
	ctx := context.Background()
	key := newKey(t)

	require.NoError(t, reg.Issue(ctx, key, units.NewBalance(1), "a", []string{"claim"}))
	require.NoError(t, reg.Issue(ctx, key, units.NewBalance(2), "b", linkdrop.CredentialMethods))

	row, err := reg.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "b", row.ReceiverID)
	require.Equal(t, linkdrop.CredentialMethods, row.Methods())
	require.True(t, row.Allowance.Equal(units.NewBalance(2)))
}

func TestCredentialRegistry_AuthorizeRejectsOtherReceiver(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	reg := NewCredentialRegistry(db)
	ctx := context.Background()
	key := newKey(t)

	require.NoError(t, reg.Issue(ctx, key, units.NewBalance(1), "other.testnet", linkdrop.CredentialMethods))

	allowed, err := reg.Authorize(ctx, key, "linkdrop.testnet", linkdrop.MethodClaim)
	require.NoError(t, err)
	require.False(t, allowed)

	allowed, err = reg.Authorize(ctx, key, "other.testnet", linkdrop.MethodClaim)
	require.NoError(t, err)
	require.True(t, allowed)
}
