package linkdrop

import (
	"time"

	"linkdrop/pkg/keys"
	"linkdrop/pkg/units"
)

// Method names a restricted credential may be scoped to.
const (
	MethodClaim                 = "claim"
	MethodCreateAccountAndClaim = "create_account_and_claim"
)

// CredentialMethods is the exact scope of every credential issued for a deposit.
var CredentialMethods = []string{MethodClaim, MethodCreateAccountAndClaim}

// Deposit is a claimable amount held against a single-use public key. A row
// exists iff the key has an outstanding deposit.
type Deposit struct {
	PublicKey string        `gorm:"column:public_key;primaryKey;size:64"`
	Amount    units.Balance `gorm:"column:amount;not null"`
	CreatedAt time.Time     `gorm:"column:created_at"`
	UpdatedAt time.Time     `gorm:"column:updated_at"`
}

func (Deposit) TableName() string { return "linkdrop_deposits" }

type RedemptionKind string

const (
	KindExistingAccount RedemptionKind = "existing_account"
	KindNewAccount      RedemptionKind = "new_account"
)

type RedemptionStatus string

const (
	StatusPaidOut     RedemptionStatus = "paid_out"
	StatusInFlight    RedemptionStatus = "in_flight"
	StatusSucceeded   RedemptionStatus = "succeeded"
	StatusCompensated RedemptionStatus = "compensated"
)

// Redemption is the audit record of one redemption attempt. For new-account
// redemptions its status guards the continuation so it resolves once.
type Redemption struct {
	ID           string           `gorm:"column:id;primaryKey;size:32" json:"id"`
	PublicKey    string           `gorm:"column:public_key;index;size:64" json:"public_key"`
	Kind         RedemptionKind   `gorm:"column:kind;size:32" json:"kind"`
	AccountID    string           `gorm:"column:account_id;size:64" json:"account_id"`
	NewPublicKey string           `gorm:"column:new_public_key;size:64" json:"new_public_key,omitempty"`
	Amount       units.Balance    `gorm:"column:amount" json:"amount"`
	Status       RedemptionStatus `gorm:"column:status;size:32;index" json:"status"`
	WorkflowID   string           `gorm:"column:workflow_id" json:"workflow_id,omitempty"`
	RunID        string           `gorm:"column:run_id" json:"run_id,omitempty"`
	PayoutID     string           `gorm:"column:payout_id" json:"payout_id,omitempty"`
	Reason       string           `gorm:"column:reason" json:"reason,omitempty"`
	CreatedAt    time.Time        `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time        `gorm:"column:updated_at" json:"updated_at"`
	ResolvedAt   *time.Time       `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
}

func (Redemption) TableName() string { return "linkdrop_redemptions" }

// Settings holds mutable per-contract configuration.
type Settings struct {
	ContractID     string    `gorm:"column:contract_id;primaryKey;size:64"`
	FactoryAccount string    `gorm:"column:factory_account;size:64"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (Settings) TableName() string { return "linkdrop_settings" }

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&Deposit{}, &Redemption{}, &Settings{}}
}

// TokenMetadata describes the collectible minted for a redeemer.
type TokenMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Media       string `json:"media"`
	Copies      uint32 `json:"copies,omitempty"`
}

// FactoryResult is the outcome of one account-creation attempt.
type FactoryResult struct {
	Succeeded bool   `json:"succeeded"`
	Reason    string `json:"reason,omitempty"`
}

type CreateAccountRequest struct {
	FactoryAccount string         `json:"factory_account"`
	NewAccountID   string         `json:"new_account_id"`
	NewPublicKey   keys.PublicKey `json:"new_public_key"`
	Amount         units.Balance  `json:"amount"`
}

// PendingRedemption is carried from CreateAccountAndClaim to the
// continuation. It is never a source of truth for balances.
type PendingRedemption struct {
	RedemptionID   string         `json:"redemption_id"`
	SigningKey     keys.PublicKey `json:"signing_key"`
	NewAccountID   string         `json:"new_account_id"`
	NewPublicKey   keys.PublicKey `json:"new_public_key"`
	Amount         units.Balance  `json:"amount"`
	FactoryAccount string         `json:"factory_account"`
}

type RedemptionHandle struct {
	RedemptionID string `json:"redemption_id"`
	WorkflowID   string `json:"workflow_id"`
	RunID        string `json:"run_id"`
}

type DepositReceipt struct {
	PublicKey string        `json:"public_key"`
	Credited  units.Balance `json:"credited"`
	Balance   units.Balance `json:"balance"`
	NewKey    bool          `json:"new_key"`
}

type ClaimReceipt struct {
	RedemptionID string        `json:"redemption_id"`
	PayoutID     string        `json:"payout_id"`
	AccountID    string        `json:"account_id"`
	Amount       units.Balance `json:"amount"`
}
