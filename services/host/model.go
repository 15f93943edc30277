package host

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"linkdrop/pkg/units"
)

// AccessKey is a restricted credential: a public key allowed to call
// ReceiverID, only for MethodNames, with Allowance to spend on fees.
type AccessKey struct {
	PublicKey   string        `gorm:"column:public_key;primaryKey;size:64"`
	Allowance   units.Balance `gorm:"column:allowance"`
	ReceiverID  string        `gorm:"column:receiver_id;size:64"`
	MethodNames string        `gorm:"column:method_names"`
	CreatedAt   time.Time     `gorm:"column:created_at"`
	UpdatedAt   time.Time     `gorm:"column:updated_at"`
}

func (AccessKey) TableName() string { return "host_access_keys" }

func (k *AccessKey) Methods() []string {
	if k.MethodNames == "" {
		return nil
	}
	return strings.Split(k.MethodNames, ",")
}

func (k *AccessKey) Allows(method string) bool {
	for _, m := range k.Methods() {
		if m == method {
			return true
		}
	}
	return false
}

// Payout is one transfer to an existing account. Payouts form a hash chain
// so the journal can be audited.
type Payout struct {
	ID           string        `gorm:"column:id;primaryKey;size:32"`
	AccountID    string        `gorm:"column:account_id;index;size:64"`
	Amount       units.Balance `gorm:"column:amount"`
	Reference    string        `gorm:"column:reference;uniqueIndex;size:64"`
	PreviousHash string        `gorm:"column:previous_hash;uniqueIndex;size:64"`
	Hash         string        `gorm:"column:hash;size:64"`
	CreatedAt    time.Time     `gorm:"column:created_at;index"`
}

func (Payout) TableName() string { return "host_payouts" }

// PayoutHead holds the hash of the newest payout. Writers lock it so the
// chain has a single tip.
type PayoutHead struct {
	ID        string    `gorm:"column:id;primaryKey;size:32"`
	Hash      string    `gorm:"column:hash;size:64"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (PayoutHead) TableName() string { return "host_payout_heads" }

func (p *Payout) HashFields() map[string]string {
	return map[string]string{
		"id":            p.ID,
		"account_id":    p.AccountID,
		"amount":        p.Amount.String(),
		"reference":     p.Reference,
		"created_at":    p.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": p.PreviousHash,
	}
}

func (p *Payout) GenerateHash() string {
	fields := p.HashFields()
	var keys []string
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

func Models() []any {
	return []any{&AccessKey{}, &Payout{}, &PayoutHead{}}
}
