package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"linkdrop/pkg/units"
	"linkdrop/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newJournal(t *testing.T) (*PayoutJournal, func(p *Payout)) {
	t.Helper()
	db := testutil.NewTestDB(t, Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	save := func(p *Payout) {
		require.NoError(t, db.Save(p).Error)
	}
	return NewPayoutJournal(db, node), save
}

func TestPayoutJournal_TransferChainsHashes(t *testing.T) {
	j, _ := newJournal(t)
	ctx := context.Background()

	first, err := j.Transfer(ctx, "alice.testnet", units.NewBalance(100), "r1")
	require.NoError(t, err)
	second, err := j.Transfer(ctx, "alice.testnet", units.NewBalance(50), "r2")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	rows, err := j.List(ctx, "alice.testnet")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Empty(t, rows[0].PreviousHash)
	require.Equal(t, rows[0].Hash, rows[1].PreviousHash)
	require.Equal(t, "r2", rows[1].Reference)

	require.NoError(t, j.VerifyChain(ctx))
}

func TestPayoutJournal_VerifyChainDetectsTampering(t *testing.T) {
	j, save := newJournal(t)
	ctx := context.Background()

	_, err := j.Transfer(ctx, "bob.testnet", units.NewBalance(7), "r1")
	require.NoError(t, err)
	_, err = j.Transfer(ctx, "bob.testnet", units.NewBalance(8), "r2")
	require.NoError(t, err)

	rows, err := j.List(ctx, "bob.testnet")
	require.NoError(t, err)

	tampered := rows[0]
	tampered.Amount = units.NewBalance(700)
	save(tampered)

	err = j.VerifyChain(ctx)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrBrokenChain))
}

func TestPayoutJournal_DuplicateReference(t *testing.T) {
	j, _ := newJournal(t)
	ctx := context.Background()

	_, err := j.Transfer(ctx, "carol.testnet", units.NewBalance(1), "same")
	require.NoError(t, err)
	_, err = j.Transfer(ctx, "carol.testnet", units.NewBalance(1), "same")
	require.Error(t, err)
}

func TestPayoutJournal_ConcurrentTransfersKeepOneTip(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	j := NewPayoutJournal(db, node)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := j.Transfer(ctx, "dave.testnet", units.NewBalance(uint64(i+1)), fmt.Sprintf("r%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, j.VerifyChain(ctx))

	rows, err := j.List(ctx, "dave.testnet")
	require.NoError(t, err)
	require.Len(t, rows, 8)

	var head PayoutHead
	require.NoError(t, db.First(&head, "id = ?", payoutChain).Error)
	require.Equal(t, rows[len(rows)-1].Hash, head.Hash)
}

func TestPayoutJournal_RejectsForkedLink(t *testing.T) {
	db := testutil.NewTestDB(t, Models()...)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	j := NewPayoutJournal(db, node)
	ctx := context.Background()

	_, err = j.Transfer(ctx, "erin.testnet", units.NewBalance(1), "r1")
	require.NoError(t, err)
	_, err = j.Transfer(ctx, "erin.testnet", units.NewBalance(2), "r2")
	require.NoError(t, err)

	rows, err := j.List(ctx, "erin.testnet")
	require.NoError(t, err)

	fork := &Payout{
		ID:           node.Generate().String(),
		AccountID:    "erin.testnet",
		Amount:       units.NewBalance(3),
		Reference:    "r3",
		PreviousHash: rows[0].Hash,
		CreatedAt:    time.Now().UTC(),
	}
	fork.Hash = fork.GenerateHash()
	require.ErrorIs(t, db.Create(fork).Error, gorm.ErrDuplicatedKey)
}
