package linkdrop

import (
	"context"
	"time"

	"linkdrop/pkg/db/option"
	"linkdrop/pkg/keys"
	"linkdrop/pkg/repository"
	"linkdrop/pkg/units"

	"gorm.io/gorm"
)

// Ledger maps public keys to claimable amounts. It is the only component
// that touches linkdrop_deposits.
type Ledger interface {
	WithTrx(tx *gorm.DB) Ledger
	// Exists reports whether key has an outstanding deposit, locking the row.
	Exists(ctx context.Context, key keys.PublicKey) (bool, error)
	// Deposit adds amount to key's entry, creating it at zero, and returns
	// the new total.
	Deposit(ctx context.Context, key keys.PublicKey, amount units.Balance) (units.Balance, error)
	// Take removes key's entry and returns its amount.
	Take(ctx context.Context, key keys.PublicKey) (units.Balance, error)
	// Restore writes amount for key, overwriting any existing entry.
	Restore(ctx context.Context, key keys.PublicKey, amount units.Balance) error
	BalanceOf(ctx context.Context, key keys.PublicKey) (units.Balance, error)
}

type ledger struct {
	deposits repository.Repository[Deposit]
}

func NewLedger(db *gorm.DB) Ledger {
	return &ledger{deposits: repository.ProvideStore[Deposit](db)}
}

func (l *ledger) WithTrx(tx *gorm.DB) Ledger {
	return &ledger{deposits: l.deposits.WithTrx(tx)}
}

func (l *ledger) Exists(ctx context.Context, key keys.PublicKey) (bool, error) {
	row, err := l.deposits.FindOne(ctx, &Deposit{PublicKey: key.String()}, option.WithLockingUpdate())
	if err != nil {
		return false, err
	}
	return row != nil, nil
}

func (l *ledger) Deposit(ctx context.Context, key keys.PublicKey, amount units.Balance) (units.Balance, error) {
	row, err := l.deposits.FindOne(ctx, &Deposit{PublicKey: key.String()}, option.WithLockingUpdate())
	if err != nil {
		return units.Balance{}, err
	}

	now := time.Now()
	if row == nil {
		if err := l.deposits.Create(ctx, &Deposit{
			PublicKey: key.String(),
			Amount:    amount,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return units.Balance{}, err
		}
		return amount, nil
	}

	total, err := row.Amount.Add(amount)
	if err != nil {
		return units.Balance{}, err
	}

	if err := l.deposits.Update(ctx, row.PublicKey, map[string]any{
		"amount":     total,
		"updated_at": now,
	}); err != nil {
		return units.Balance{}, err
	}

	return total, nil
}

func (l *ledger) Take(ctx context.Context, key keys.PublicKey) (units.Balance, error) {
	row, err := l.deposits.FindOne(ctx, &Deposit{PublicKey: key.String()}, option.WithLockingUpdate())
	if err != nil {
		return units.Balance{}, err
	}
	if row == nil {
		return units.Balance{}, missingEntry()
	}

	n, err := l.deposits.Delete(ctx, &Deposit{PublicKey: row.PublicKey})
	if err != nil {
		return units.Balance{}, err
	}
	if n == 0 {
		// Lost a race with another redemption of the same key.
		return units.Balance{}, missingEntry()
	}

	return row.Amount, nil
}

func (l *ledger) Restore(ctx context.Context, key keys.PublicKey, amount units.Balance) error {
	now := time.Now()
	return l.deposits.Upsert(ctx, &Deposit{
		PublicKey: key.String(),
		Amount:    amount,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (l *ledger) BalanceOf(ctx context.Context, key keys.PublicKey) (units.Balance, error) {
	row, err := l.deposits.FindOne(ctx, &Deposit{PublicKey: key.String()})
	if err != nil {
		return units.Balance{}, err
	}
	if row == nil {
		return units.Balance{}, missingEntry()
	}
	return row.Amount, nil
}
