package linkdrop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"linkdrop/pkg/db/pagination"
	"linkdrop/pkg/errutil"
	"linkdrop/pkg/invocation"
	"linkdrop/pkg/units"

	"github.com/stretchr/testify/require"
)

func requireStatus(t *testing.T, err error, want errutil.CoreStatus) {
	t.Helper()
	var be errutil.BaseError
	require.True(t, errors.As(err, &be), "not a BaseError: %v", err)
	require.Equal(t, want, be.Code)
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy(testConfig())
	require.NoError(t, err)
	require.Equal(t, contractID, p.ContractID)
	require.Equal(t, "Linkdrop GoTeam Token!", p.Collectible.Title)
	require.Zero(t, p.Collectible.Copies)

	min, err := p.NewKeyMinimum()
	require.NoError(t, err)
	require.True(t, min.Equal(units.NewBalance(35)))

	cfg := testConfig()
	cfg.Linkdrop.MinStorageCost = "ten"
	_, err = NewPolicy(cfg)
	require.Error(t, err)

	cfg = testConfig()
	cfg.Linkdrop.ContractID = ""
	_, err = NewPolicy(cfg)
	require.Error(t, err)
}

func TestSend_NewKeyIssuesCredential(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)

	receipt, err := f.svc.Send(funderCtx(newKeyAttach), kp.pub)
	require.NoError(t, err)
	require.True(t, receipt.NewKey)
	require.True(t, receipt.Credited.Equal(units.NewBalance(1000)))
	require.Equal(t, kp.pub.String(), receipt.PublicKey)

	f.requireBalance(t, kp.pub, 1000)
	f.requireCredential(t, kp.pub)
}

func TestSend_ExactMinimum(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)

	receipt, err := f.svc.Send(funderCtx(units.NewBalance(35)), kp.pub)
	require.NoError(t, err)
	require.True(t, receipt.Balance.Equal(newAccount))
	f.requireCredential(t, kp.pub)
}

func TestSend_UnderfundedNewKeyRejected(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)

	_, err := f.svc.Send(funderCtx(units.NewBalance(34)), kp.pub)
	require.ErrorIs(t, err, ErrInsufficientDeposit)
	requireStatus(t, err, errutil.StatusUnprocessableEntity)

	f.requireNoEntry(t, kp.pub)
	f.requireNoCredential(t, kp.pub)
}

func TestSend_AccumulatesOnExistingKey(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)
	f.fund(t, kp.pub)

	receipt, err := f.svc.Send(funderCtx(units.NewBalance(500)), kp.pub)
	require.NoError(t, err)
	require.False(t, receipt.NewKey)
	require.True(t, receipt.Credited.Equal(units.NewBalance(500)))
	require.True(t, receipt.Balance.Equal(units.NewBalance(1500)))

	// Top-ups below the new-key minimum are accepted once the key exists.
	_, err = f.svc.Send(funderCtx(units.NewBalance(1)), kp.pub)
	require.NoError(t, err)
	f.requireBalance(t, kp.pub, 1501)

	_, err = f.svc.Send(funderCtx(units.Balance{}), kp.pub)
	require.ErrorIs(t, err, ErrInsufficientDeposit)
	f.requireBalance(t, kp.pub, 1501)
}

func TestSend_CredentialFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)
	f.credentials.err = errors.New("registry down")

	_, err := f.svc.Send(funderCtx(newKeyAttach), kp.pub)
	require.Error(t, err)
	f.requireNoEntry(t, kp.pub)
}

func TestSend_RejectsZeroKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Send(funderCtx(newKeyAttach), [32]byte{})
	requireStatus(t, err, errutil.StatusBadRequest)
}

func TestClaim_ExistingAccount(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)
	f.fund(t, kp.pub)

	receipt, err := f.svc.Claim(keyCtx(kp.pub), "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", receipt.AccountID)
	require.True(t, receipt.Amount.Equal(units.NewBalance(1000)))
	require.Equal(t, "payout-1", receipt.PayoutID)

	f.requireNoEntry(t, kp.pub)
	f.requireNoCredential(t, kp.pub)

	require.Len(t, f.transfers.transfers, 1)
	require.Equal(t, "alice", f.transfers.transfers[0].AccountID)
	require.True(t, f.transfers.transfers[0].Amount.Equal(units.NewBalance(1000)))
	require.Equal(t, receipt.RedemptionID, f.transfers.transfers[0].Reference)

	require.Equal(t, []string{"alice"}, f.minter.minted())

	rec, err := f.svc.GetRedemption(context.Background(), receipt.RedemptionID)
	require.NoError(t, err)
	require.Equal(t, StatusPaidOut, rec.Status)
	require.Equal(t, KindExistingAccount, rec.Kind)
	require.NotNil(t, rec.ResolvedAt)
}

func TestClaim_NoDoubleRedemption(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)
	f.fund(t, kp.pub)

	_, err := f.svc.Claim(keyCtx(kp.pub), "alice")
	require.NoError(t, err)

	_, err = f.svc.Claim(keyCtx(kp.pub), "alice")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.CreateAccountAndClaim(keyCtx(kp.pub), "bob", newKeyPair(t).pub)
	require.ErrorIs(t, err, ErrUnauthorized)

	require.Len(t, f.transfers.transfers, 1)
}

func TestClaim_MissingEntry(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)

	// A live credential without a deposit must not pay out.
	require.NoError(t, f.credentials.Issue(context.Background(), kp.pub, allowance, contractID, CredentialMethods))

	_, err := f.svc.Claim(keyCtx(kp.pub), "alice")
	require.ErrorIs(t, err, ErrMissingEntry)
	require.Empty(t, f.transfers.transfers)
	f.requireCredential(t, kp.pub)
}

func TestClaim_Unauthorized(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)
	f.fund(t, kp.pub)

	tests := []struct {
		name string
		ctx  context.Context
	}{
		{name: "no invocation", ctx: context.Background()},
		{name: "foreign predecessor", ctx: invocation.WithContext(context.Background(), invocation.Invocation{
			Predecessor: "mallory.testnet",
			Signer:      kp.pub,
		})},
		{name: "no signer", ctx: contractCtx()},
		{name: "key without credential", ctx: keyCtx(newKeyPair(t).pub)},
	}

	for _, tt := range tests {
		_, err := f.svc.Claim(tt.ctx, "alice")
		require.ErrorIs(t, err, ErrUnauthorized, tt.name)
		requireStatus(t, err, errutil.StatusUnauthorized)
	}

	f.requireBalance(t, kp.pub, 1000)
	f.requireCredential(t, kp.pub)
}

func TestClaim_CredentialForOtherReceiver(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)
	f.fund(t, kp.pub)

	require.NoError(t, f.credentials.Issue(context.Background(), kp.pub, allowance, "elsewhere.testnet", CredentialMethods))

	_, err := f.svc.Claim(keyCtx(kp.pub), "alice.testnet")
	requireStatus(t, err, errutil.StatusUnauthorized)
	f.requireBalance(t, kp.pub, 1000)
}

func TestClaim_TransferFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)
	f.fund(t, kp.pub)
	f.transfers.err = errors.New("transfer failed")

	_, err := f.svc.Claim(keyCtx(kp.pub), "alice")
	require.Error(t, err)

	f.requireBalance(t, kp.pub, 1000)
	f.requireCredential(t, kp.pub)
	require.Empty(t, f.minter.minted())
}

func TestClaim_MintFailureDoesNotFailClaim(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)
	f.fund(t, kp.pub)
	f.minter.err = errors.New("queue down")

	receipt, err := f.svc.Claim(keyCtx(kp.pub), "alice")
	require.NoError(t, err)
	require.True(t, receipt.Amount.Equal(units.NewBalance(1000)))
	f.requireNoEntry(t, kp.pub)
}

func TestCreateAccountAndClaim_FailureThenRetry(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)
	newKey := newKeyPair(t).pub
	f.fund(t, kp.pub)

	handle, err := f.svc.CreateAccountAndClaim(keyCtx(kp.pub), "bob", newKey)
	require.NoError(t, err)
	require.Equal(t, WorkflowID(handle.RedemptionID), handle.WorkflowID)

	// Taken and revoked while in flight.
	f.requireNoEntry(t, kp.pub)
	f.requireNoCredential(t, kp.pub)

	pending := f.runner.last(t)
	require.Equal(t, "bob", pending.NewAccountID)
	require.Equal(t, newKey, pending.NewPublicKey)
	require.Equal(t, "testnet", pending.FactoryAccount)
	require.True(t, pending.Amount.Equal(units.NewBalance(1000)))

	rec, err := f.svc.GetRedemption(context.Background(), handle.RedemptionID)
	require.NoError(t, err)
	require.Equal(t, StatusInFlight, rec.Status)
	require.Equal(t, handle.WorkflowID, rec.WorkflowID)

	ok, err := f.svc.OnAccountCreated(contractCtx(), pending, []FactoryResult{{Succeeded: false, Reason: "account exists"}})
	require.NoError(t, err)
	require.False(t, ok)

	f.requireBalance(t, kp.pub, 1000)
	f.requireCredential(t, kp.pub)
	require.Empty(t, f.minter.minted())

	rec, err = f.svc.GetRedemption(context.Background(), handle.RedemptionID)
	require.NoError(t, err)
	require.Equal(t, StatusCompensated, rec.Status)
	require.Equal(t, "account exists", rec.Reason)

	// The restored credential allows a second attempt.
	_, err = f.svc.CreateAccountAndClaim(keyCtx(kp.pub), "bob2", newKey)
	require.NoError(t, err)
	retry := f.runner.last(t)

	ok, err = f.svc.OnAccountCreated(contractCtx(), retry, []FactoryResult{{Succeeded: true}})
	require.NoError(t, err)
	require.True(t, ok)

	f.requireNoEntry(t, kp.pub)
	f.requireNoCredential(t, kp.pub)
	require.Equal(t, []string{"bob2"}, f.minter.minted())

	rec, err = f.svc.GetRedemption(context.Background(), retry.RedemptionID)
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, rec.Status)
	require.NotNil(t, rec.ResolvedAt)
}

func TestCreateAccountAndClaim_UsesConfiguredFactory(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)
	f.fund(t, kp.pub)

	err := f.svc.SetFactory(funderCtx(units.Balance{}), "evil")
	require.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, f.svc.SetFactory(contractCtx(), "near"))

	factory, err := f.svc.FactoryAccount(context.Background())
	require.NoError(t, err)
	require.Equal(t, "near", factory)

	_, err = f.svc.CreateAccountAndClaim(keyCtx(kp.pub), "bob.near", newKeyPair(t).pub)
	require.NoError(t, err)
	require.Equal(t, "near", f.runner.last(t).FactoryAccount)
}

func TestCreateAccountAndClaim_StartFailureCompensates(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)
	f.fund(t, kp.pub)
	f.runner.startFn = func(ctx context.Context, pending PendingRedemption) (RedemptionHandle, error) {
		return RedemptionHandle{}, errors.New("temporal unavailable")
	}

	_, err := f.svc.CreateAccountAndClaim(keyCtx(kp.pub), "bob", newKeyPair(t).pub)
	requireStatus(t, err, errutil.StatusInternal)

	f.requireBalance(t, kp.pub, 1000)
	f.requireCredential(t, kp.pub)

	rec, err := f.svc.GetRedemption(context.Background(), f.runner.last(t).RedemptionID)
	require.NoError(t, err)
	require.Equal(t, StatusCompensated, rec.Status)
}

func TestCreateAccountAndClaim_Validation(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)
	f.fund(t, kp.pub)

	_, err := f.svc.CreateAccountAndClaim(keyCtx(kp.pub), " ", newKeyPair(t).pub)
	requireStatus(t, err, errutil.StatusBadRequest)

	_, err = f.svc.CreateAccountAndClaim(keyCtx(kp.pub), "bob", [32]byte{})
	requireStatus(t, err, errutil.StatusBadRequest)

	f.requireBalance(t, kp.pub, 1000)
	require.Empty(t, f.runner.started)
}

func TestOnAccountCreated_MalformedContinuation(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)
	f.fund(t, kp.pub)

	_, err := f.svc.CreateAccountAndClaim(keyCtx(kp.pub), "bob", newKeyPair(t).pub)
	require.NoError(t, err)
	pending := f.runner.last(t)

	for _, results := range [][]FactoryResult{nil, {{Succeeded: true}, {Succeeded: false}}} {
		_, err := f.svc.OnAccountCreated(contractCtx(), pending, results)
		require.ErrorIs(t, err, ErrMalformedContinuation)
	}

	rec, err := f.svc.GetRedemption(context.Background(), pending.RedemptionID)
	require.NoError(t, err)
	require.Equal(t, StatusInFlight, rec.Status)
	f.requireNoEntry(t, kp.pub)
}

func TestOnAccountCreated_RequiresContract(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)
	f.fund(t, kp.pub)

	_, err := f.svc.CreateAccountAndClaim(keyCtx(kp.pub), "bob", newKeyPair(t).pub)
	require.NoError(t, err)
	pending := f.runner.last(t)

	_, err = f.svc.OnAccountCreated(funderCtx(units.Balance{}), pending, []FactoryResult{{Succeeded: false}})
	require.ErrorIs(t, err, ErrUnauthorized)
	f.requireNoEntry(t, kp.pub)
}

func TestOnAccountCreated_ResolvesOnce(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)
	f.fund(t, kp.pub)

	_, err := f.svc.CreateAccountAndClaim(keyCtx(kp.pub), "bob", newKeyPair(t).pub)
	require.NoError(t, err)
	pending := f.runner.last(t)

	ok, err := f.svc.OnAccountCreated(contractCtx(), pending, []FactoryResult{{Succeeded: true}})
	require.NoError(t, err)
	require.True(t, ok)

	// A redelivered failure must not restore a deposit that was paid out.
	ok, err = f.svc.OnAccountCreated(contractCtx(), pending, []FactoryResult{{Succeeded: false}})
	require.NoError(t, err)
	require.True(t, ok)

	f.requireNoEntry(t, kp.pub)
	f.requireNoCredential(t, kp.pub)
	require.Equal(t, []string{"bob"}, f.minter.minted())
}

func TestConservation(t *testing.T) {
	f := newFixture(t)
	a, b := newKeyPair(t), newKeyPair(t)
	f.fund(t, a.pub)
	f.fund(t, b.pub)

	_, err := f.svc.Claim(keyCtx(a.pub), "alice")
	require.NoError(t, err)

	_, err = f.svc.CreateAccountAndClaim(keyCtx(b.pub), "bob", newKeyPair(t).pub)
	require.NoError(t, err)
	_, err = f.svc.OnAccountCreated(contractCtx(), f.runner.last(t), []FactoryResult{{Succeeded: false}})
	require.NoError(t, err)

	// 2000 credited: 1000 paid out to alice, 1000 back on b.
	paid := f.transfers.transfers[0].Amount
	held, err := f.svc.BalanceOf(context.Background(), b.pub)
	require.NoError(t, err)
	total, err := paid.Add(held)
	require.NoError(t, err)
	require.True(t, total.Equal(units.NewBalance(2000)))
}

func TestListRedemptions(t *testing.T) {
	f := newFixture(t)
	kp := newKeyPair(t)

	var ids []string
	for i := 0; i < 3; i++ {
		f.fund(t, kp.pub)
		receipt, err := f.svc.Claim(keyCtx(kp.pub), "alice")
		require.NoError(t, err)
		ids = append(ids, receipt.RedemptionID)
	}

	page, info, err := f.svc.ListRedemptions(context.Background(), kp.pub, pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, info.HasMore)
	require.Equal(t, ids[2], page[0].ID)
	require.Equal(t, ids[1], page[1].ID)

	page, info, err = f.svc.ListRedemptions(context.Background(), kp.pub, pagination.Pagination{Limit: 2, Cursor: info.NextCursor})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.False(t, info.HasMore)
	require.Equal(t, ids[0], page[0].ID)

	_, _, err = f.svc.ListRedemptions(context.Background(), kp.pub, pagination.Pagination{Cursor: "%%%"})
	requireStatus(t, err, errutil.StatusBadRequest)
}

func TestGetRedemption_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetRedemption(context.Background(), "missing")
	requireStatus(t, err, errutil.StatusNotFound)
}

func TestAwaitRedemption(t *testing.T) {
	f := newFixture(t)
	f.runner.awaitFn = func(ctx context.Context, handle RedemptionHandle) (bool, error) {
		return handle.RedemptionID == "ok", nil
	}

	ok, err := f.svc.AwaitRedemption(context.Background(), RedemptionHandle{RedemptionID: "ok"})
	require.NoError(t, err)
	require.True(t, ok)

	f.runner.awaitFn = func(ctx context.Context, handle RedemptionHandle) (bool, error) {
		return false, context.DeadlineExceeded
	}
	_, err = f.svc.AwaitRedemption(context.Background(), RedemptionHandle{RedemptionID: "slow"})
	requireStatus(t, err, errutil.StatusTimeout)
}

func TestAwaitRedemption_CallerDeadline(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	f.runner.awaitFn = func(ctx context.Context, handle RedemptionHandle) (bool, error) {
		<-release
		return true, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.svc.AwaitRedemption(ctx, RedemptionHandle{RedemptionID: "blocked"})
	requireStatus(t, err, errutil.StatusTimeout)
}

func TestAwaitRedemption_SharedAwaitOutlivesFirstWaiter(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	f.runner.awaitFn = func(ctx context.Context, handle RedemptionHandle) (bool, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	handle := RedemptionHandle{RedemptionID: "shared"}

	short, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	first := make(chan error, 1)
	go func() {
		_, err := f.svc.AwaitRedemption(short, handle)
		first <- err
	}()
	<-started

	type result struct {
		ok  bool
		err error
	}
	second := make(chan result, 1)
	go func() {
		ok, err := f.svc.AwaitRedemption(context.Background(), handle)
		second <- result{ok: ok, err: err}
	}()

	requireStatus(t, <-first, errutil.StatusTimeout)
	close(release)

	got := <-second
	require.NoError(t, got.err)
	require.True(t, got.ok)
	require.Equal(t, int32(1), calls.Load())
}
