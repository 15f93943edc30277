package host

import (
	"context"
	"errors"
	"strings"
	"time"

	"linkdrop/pkg/errutil"
	"linkdrop/pkg/keys"
	"linkdrop/pkg/logger"
	"linkdrop/pkg/repository"
	"linkdrop/pkg/units"
	"linkdrop/services/linkdrop"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrCredentialNotFound = errors.New("credential not found")

// CredentialRegistry stores the access keys issued by the contract.
type CredentialRegistry struct {
	keys repository.Repository[AccessKey]
}

var _ linkdrop.CredentialIssuer = (*CredentialRegistry)(nil)

func NewCredentialRegistry(db *gorm.DB) *CredentialRegistry {
	return &CredentialRegistry{keys: repository.ProvideStore[AccessKey](db)}
}

func (r *CredentialRegistry) WithTrx(tx *gorm.DB) linkdrop.CredentialIssuer {
	return &CredentialRegistry{keys: r.keys.WithTrx(tx)}
}

func (r *CredentialRegistry) Issue(ctx context.Context, key keys.PublicKey, allowance units.Balance, receiver string, methods []string) error {
	now := time.Now()
	if err := r.keys.Upsert(ctx, &AccessKey{
		PublicKey:   key.String(),
		Allowance:   allowance,
		ReceiverID:  receiver,
		MethodNames: strings.Join(methods, ","),
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		logger.FromContext(ctx).Error("failed to issue access key", zap.String("public_key", key.String()), zap.Error(err))
		return err
	}
	return nil
}

func (r *CredentialRegistry) Revoke(ctx context.Context, key keys.PublicKey) error {
	n, err := r.keys.Delete(ctx, &AccessKey{PublicKey: key.String()})
	if err != nil {
		return err
	}
	if n == 0 {
		return errutil.NotFound("credential not found", ErrCredentialNotFound)
	}
	return nil
}

func (r *CredentialRegistry) Authorize(ctx context.Context, key keys.PublicKey, receiver, method string) (bool, error) {
	row, err := r.keys.FindOne(ctx, &AccessKey{PublicKey: key.String()})
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}
	if row.ReceiverID != receiver {
		logger.FromContext(ctx).Warn("access key used against another receiver",
			zap.String("public_key", key.String()),
			zap.String("receiver_id", row.ReceiverID),
			zap.String("receiver", receiver),
		)
		return false, nil
	}
	return row.Allows(method), nil
}

// Get returns the access key for key, or nil.
func (r *CredentialRegistry) Get(ctx context.Context, key keys.PublicKey) (*AccessKey, error) {
	return r.keys.FindOne(ctx, &AccessKey{PublicKey: key.String()})
}
