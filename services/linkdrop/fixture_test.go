package linkdrop

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"linkdrop/pkg/config"
	"linkdrop/pkg/invocation"
	"linkdrop/pkg/keys"
	"linkdrop/pkg/repository"
	"linkdrop/pkg/units"
	"linkdrop/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

const (
	contractID = "linkdrop.testnet"
	funderID   = "funder.testnet"
)

// A new key needs at least 35 attached; attaching 1030 leaves 1000 claimable.
var (
	storageCost  = units.NewBalance(10)
	allowance    = units.NewBalance(20)
	newAccount   = units.NewBalance(5)
	newKeyAttach = units.NewBalance(1030)
)

// testCredential is a table-backed credential store so credential changes
// roll back with the surrounding transaction.
type testCredential struct {
	PublicKey string        `gorm:"column:public_key;primaryKey"`
	Allowance units.Balance `gorm:"column:allowance"`
	Receiver  string        `gorm:"column:receiver"`
	Methods   string        `gorm:"column:methods"`
}

func (testCredential) TableName() string { return "test_credentials" }

type fakeCredentials struct {
	repo repository.Repository[testCredential]
	err  error
}

func (f *fakeCredentials) WithTrx(tx *gorm.DB) CredentialIssuer {
	return &fakeCredentials{repo: f.repo.WithTrx(tx), err: f.err}
}

func (f *fakeCredentials) Issue(ctx context.Context, key keys.PublicKey, a units.Balance, receiver string, methods []string) error {
	if f.err != nil {
		return f.err
	}
	return f.repo.Upsert(ctx, &testCredential{
		PublicKey: key.String(),
		Allowance: a,
		Receiver:  receiver,
		Methods:   strings.Join(methods, ","),
	})
}

func (f *fakeCredentials) Revoke(ctx context.Context, key keys.PublicKey) error {
	n, err := f.repo.Delete(ctx, &testCredential{PublicKey: key.String()})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no credential for %s", key)
	}
	return nil
}

func (f *fakeCredentials) Authorize(ctx context.Context, key keys.PublicKey, receiver, method string) (bool, error) {
	row, err := f.get(ctx, key)
	if err != nil || row == nil || row.Receiver != receiver {
		return false, err
	}
	for _, m := range strings.Split(row.Methods, ",") {
		if m == method {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCredentials) get(ctx context.Context, key keys.PublicKey) (*testCredential, error) {
	return f.repo.FindOne(ctx, &testCredential{PublicKey: key.String()})
}

type transfer struct {
	AccountID string
	Amount    units.Balance
	Reference string
}

type fakeTransfers struct {
	mu        sync.Mutex
	transfers []transfer
	err       error
}

func (f *fakeTransfers) WithTrx(tx *gorm.DB) Transferor { return f }

func (f *fakeTransfers) Transfer(ctx context.Context, accountID string, amount units.Balance, reference string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.transfers = append(f.transfers, transfer{AccountID: accountID, Amount: amount, Reference: reference})
	return fmt.Sprintf("payout-%d", len(f.transfers)), nil
}

type fakeMinter struct {
	mu     sync.Mutex
	owners []string
	err    error
}

func (f *fakeMinter) Mint(ctx context.Context, owner string, metadata TokenMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.owners = append(f.owners, owner)
	return nil
}

func (f *fakeMinter) minted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.owners...)
}

type fakeRunner struct {
	startFn func(ctx context.Context, pending PendingRedemption) (RedemptionHandle, error)
	awaitFn func(ctx context.Context, handle RedemptionHandle) (bool, error)
	started []PendingRedemption
}

func (f *fakeRunner) Start(ctx context.Context, pending PendingRedemption) (RedemptionHandle, error) {
	f.started = append(f.started, pending)
	if f.startFn != nil {
		return f.startFn(ctx, pending)
	}
	return RedemptionHandle{
		RedemptionID: pending.RedemptionID,
		WorkflowID:   WorkflowID(pending.RedemptionID),
		RunID:        "run-" + pending.RedemptionID,
	}, nil
}

func (f *fakeRunner) Await(ctx context.Context, handle RedemptionHandle) (bool, error) {
	if f.awaitFn != nil {
		return f.awaitFn(ctx, handle)
	}
	return false, nil
}

func (f *fakeRunner) last(t *testing.T) PendingRedemption {
	t.Helper()
	require.NotEmpty(t, f.started)
	return f.started[len(f.started)-1]
}

type fixture struct {
	svc         *Service
	db          *gorm.DB
	credentials *fakeCredentials
	transfers   *fakeTransfers
	minter      *fakeMinter
	runner      *fakeRunner
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Linkdrop.ContractID = contractID
	cfg.Linkdrop.FactoryAccount = "testnet"
	cfg.Linkdrop.MinStorageCost = storageCost.String()
	cfg.Linkdrop.MinAccessKeyAllowance = allowance.String()
	cfg.Linkdrop.NewAccountMinimum = newAccount.String()
	cfg.Linkdrop.AccountCreationTimeout = time.Minute
	cfg.Linkdrop.SignatureMaxSkew = time.Minute
	cfg.Linkdrop.AdminSecret = "s3cret"
	cfg.Collectible.Title = "Linkdrop GoTeam Token!"
	return cfg
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	models := append(Models(), &testCredential{})
	db := testutil.NewTestDB(t, models...)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		db:          db,
		credentials: &fakeCredentials{repo: repository.ProvideStore[testCredential](db)},
		transfers:   &fakeTransfers{},
		minter:      &fakeMinter{},
		runner:      &fakeRunner{},
	}

	f.svc, err = NewService(ServiceParams{
		DB:          db,
		Node:        node,
		Config:      testConfig(),
		Credentials: f.credentials,
		Transfers:   f.transfers,
		Minter:      f.minter,
		Runner:      f.runner,
	})
	require.NoError(t, err)

	return f
}

type keyPair struct {
	pub  keys.PublicKey
	priv ed25519.PrivateKey
}

func newKeyPair(t *testing.T) keyPair {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pk, err := keys.FromEd25519(pub)
	require.NoError(t, err)
	return keyPair{pub: pk, priv: priv}
}

func funderCtx(attached units.Balance) context.Context {
	return invocation.WithContext(context.Background(), invocation.Invocation{
		Predecessor: funderID,
		Attached:    attached,
	})
}

func keyCtx(key keys.PublicKey) context.Context {
	return invocation.WithContext(context.Background(), invocation.Invocation{
		Predecessor: contractID,
		Signer:      key,
	})
}

func contractCtx() context.Context {
	return invocation.WithContext(context.Background(), invocation.Invocation{Predecessor: contractID})
}

// fund makes a first deposit that leaves 1000 claimable on key.
func (f *fixture) fund(t *testing.T, key keys.PublicKey) {
	t.Helper()
	receipt, err := f.svc.Send(funderCtx(newKeyAttach), key)
	require.NoError(t, err)
	require.True(t, receipt.NewKey)
	require.True(t, receipt.Balance.Equal(units.NewBalance(1000)))
}

func (f *fixture) requireBalance(t *testing.T, key keys.PublicKey, want uint64) {
	t.Helper()
	got, err := f.svc.BalanceOf(context.Background(), key)
	require.NoError(t, err)
	require.True(t, got.Equal(units.NewBalance(want)), "balance %s, want %d", got, want)
}

func (f *fixture) requireNoEntry(t *testing.T, key keys.PublicKey) {
	t.Helper()
	_, err := f.svc.BalanceOf(context.Background(), key)
	require.ErrorIs(t, err, ErrMissingEntry)
}

func (f *fixture) requireCredential(t *testing.T, key keys.PublicKey) {
	t.Helper()
	row, err := f.credentials.get(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, row, "credential missing")
	require.Equal(t, contractID, row.Receiver)
	require.Equal(t, strings.Join(CredentialMethods, ","), row.Methods)
	require.True(t, row.Allowance.Equal(allowance))
}

func (f *fixture) requireNoCredential(t *testing.T, key keys.PublicKey) {
	t.Helper()
	row, err := f.credentials.get(context.Background(), key)
	require.NoError(t, err)
	require.Nil(t, row, "credential still present")
}
