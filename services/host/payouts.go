package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linkdrop/pkg/db/option"
	"linkdrop/pkg/logger"
	"linkdrop/pkg/repository"
	"linkdrop/pkg/units"
	"linkdrop/services/linkdrop"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrBrokenChain = errors.New("payout hash chain broken")

const payoutChain = "payouts"

// PayoutJournal records transfers to existing accounts.
type PayoutJournal struct {
	db      *gorm.DB
	node    *snowflake.Node
	payouts repository.Repository[Payout]
	heads   repository.Repository[PayoutHead]
}

var _ linkdrop.Transferor = (*PayoutJournal)(nil)

func NewPayoutJournal(db *gorm.DB, node *snowflake.Node) *PayoutJournal {
	return &PayoutJournal{
		db:      db,
		node:    node,
		payouts: repository.ProvideStore[Payout](db),
		heads:   repository.ProvideStore[PayoutHead](db),
	}
}

func (j *PayoutJournal) WithTrx(tx *gorm.DB) linkdrop.Transferor {
	return &PayoutJournal{
		db:      tx,
		node:    j.node,
		payouts: j.payouts.WithTrx(tx),
		heads:   j.heads.WithTrx(tx),
	}
}

func (j *PayoutJournal) Transfer(ctx context.Context, accountID string, amount units.Balance, reference string) (string, error) {
	log := logger.FromContext(ctx).With(zap.String("account_id", accountID), zap.String("reference", reference))

	payout := &Payout{
		AccountID: accountID,
		Amount:    amount,
		Reference: reference,
	}

	if err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&PayoutHead{ID: payoutChain}).Error; err != nil {
			return err
		}

		heads := j.heads.WithTrx(tx)
		head, err := heads.FindOne(ctx, &PayoutHead{ID: payoutChain}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if head == nil {
			return fmt.Errorf("payout chain head %q missing", payoutChain)
		}

		// Ids are taken under the head lock so id order is chain order.
		payout.ID = j.node.Generate().String()
		payout.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)
		payout.PreviousHash = head.Hash
		payout.Hash = payout.GenerateHash()

		if err := j.payouts.WithTrx(tx).Create(ctx, payout); err != nil {
			return err
		}

		return heads.Update(ctx, payoutChain, map[string]any{
			"hash":       payout.Hash,
			"updated_at": time.Now(),
		})
	}); err != nil {
		log.Error("failed to record payout", zap.Error(err))
		return "", err
	}

	log.Info("payout recorded", zap.String("payout_id", payout.ID), zap.String("amount", amount.String()))
	return payout.ID, nil
}

// List returns the payouts made to accountID, oldest first.
func (j *PayoutJournal) List(ctx context.Context, accountID string) ([]*Payout, error) {
	return j.payouts.Find(ctx, &Payout{AccountID: accountID},
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc"}),
	)
}

// VerifyChain recomputes every payout hash and checks the links.
func (j *PayoutJournal) VerifyChain(ctx context.Context) error {
	rows, err := j.payouts.Find(ctx, nil, option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc"}))
	if err != nil {
		return err
	}

	prev := ""
	for _, p := range rows {
		if p.PreviousHash != prev {
			return fmt.Errorf("%w: payout %s links to %q, want %q", ErrBrokenChain, p.ID, p.PreviousHash, prev)
		}
		if p.GenerateHash() != p.Hash {
			return fmt.Errorf("%w: payout %s hash mismatch", ErrBrokenChain, p.ID)
		}
		prev = p.Hash
	}
	return nil
}
