package linkdrop

import (
	"context"

	"linkdrop/pkg/keys"
	"linkdrop/pkg/units"

	"gorm.io/gorm"
)

// CredentialIssuer manages the restricted credentials that let a deposit key
// call back into the contract.
type CredentialIssuer interface {
	WithTrx(tx *gorm.DB) CredentialIssuer
	// Issue grants key a credential with the given allowance, callable only
	// on receiver and only for methods. Issuing over a live credential
	// replaces it.
	Issue(ctx context.Context, key keys.PublicKey, allowance units.Balance, receiver string, methods []string) error
	Revoke(ctx context.Context, key keys.PublicKey) error
	// Authorize reports whether key holds a live credential callable on
	// receiver and scoped to method.
	Authorize(ctx context.Context, key keys.PublicKey, receiver, method string) (bool, error)
}

// Transferor moves value to an existing account and returns a payout id.
type Transferor interface {
	WithTrx(tx *gorm.DB) Transferor
	Transfer(ctx context.Context, accountID string, amount units.Balance, reference string) (string, error)
}

// Minter requests a collectible for owner. Delivery is best effort.
type Minter interface {
	Mint(ctx context.Context, owner string, metadata TokenMetadata) error
}

// AccountFactory creates an account funded with the request amount. A
// factory-side rejection is a result with Succeeded false; an error means
// the outcome could not be determined.
type AccountFactory interface {
	CreateAccount(ctx context.Context, req CreateAccountRequest) (FactoryResult, error)
}

// RedemptionRunner carries a pending redemption across account creation and
// invokes the continuation exactly once.
type RedemptionRunner interface {
	Start(ctx context.Context, pending PendingRedemption) (RedemptionHandle, error)
	Await(ctx context.Context, handle RedemptionHandle) (bool, error)
}
