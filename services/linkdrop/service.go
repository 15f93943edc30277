package linkdrop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"linkdrop/pkg/config"
	"linkdrop/pkg/db/option"
	"linkdrop/pkg/db/pagination"
	"linkdrop/pkg/errutil"
	"linkdrop/pkg/invocation"
	"linkdrop/pkg/keys"
	"linkdrop/pkg/logger"
	"linkdrop/pkg/repository"
	"linkdrop/pkg/units"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	health "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"
)

// Policy is the fixed economic and identity configuration of the contract.
type Policy struct {
	ContractID            string
	DefaultFactory        string
	MinStorageCost        units.Balance
	MinAccessKeyAllowance units.Balance
	NewAccountMinimum     units.Balance
	Collectible           TokenMetadata
}

// NewKeyMinimum is the least a first deposit for a key must attach.
func (p Policy) NewKeyMinimum() (units.Balance, error) {
	sum, err := p.MinStorageCost.Add(p.MinAccessKeyAllowance)
	if err != nil {
		return units.Balance{}, err
	}
	return sum.Add(p.NewAccountMinimum)
}

func NewPolicy(cfg *config.Config) (Policy, error) {
	c := cfg.Linkdrop
	if c.ContractID == "" {
		return Policy{}, fmt.Errorf("linkdrop.contract_id is required")
	}

	storage, err := units.ParseBalance(c.MinStorageCost)
	if err != nil {
		return Policy{}, fmt.Errorf("linkdrop.min_storage_cost: %w", err)
	}
	allowance, err := units.ParseBalance(c.MinAccessKeyAllowance)
	if err != nil {
		return Policy{}, fmt.Errorf("linkdrop.min_access_key_allowance: %w", err)
	}
	newAccount, err := units.ParseBalance(c.NewAccountMinimum)
	if err != nil {
		return Policy{}, fmt.Errorf("linkdrop.new_account_minimum: %w", err)
	}

	return Policy{
		ContractID:            c.ContractID,
		DefaultFactory:        c.FactoryAccount,
		MinStorageCost:        storage,
		MinAccessKeyAllowance: allowance,
		NewAccountMinimum:     newAccount,
		Collectible: TokenMetadata{
			Title:       cfg.Collectible.Title,
			Description: cfg.Collectible.Description,
			Media:       cfg.Collectible.Media,
		},
	}, nil
}

type Service struct {
	health.UnimplementedHealthServer

	db     *gorm.DB
	node   *snowflake.Node
	policy Policy

	ledger      Ledger
	redemptions repository.Repository[Redemption]
	settings    repository.Repository[Settings]

	credentials CredentialIssuer
	transfers   Transferor
	minter      Minter
	runner      RedemptionRunner

	waiters      singleflight.Group
	awaitTimeout time.Duration
}

type ServiceParams struct {
	fx.In
	DB          *gorm.DB
	Node        *snowflake.Node
	Config      *config.Config
	Credentials CredentialIssuer
	Transfers   Transferor
	Minter      Minter
	Runner      RedemptionRunner
}

func NewService(p ServiceParams) (*Service, error) {
	policy, err := NewPolicy(p.Config)
	if err != nil {
		return nil, err
	}

	return &Service{
		db:     p.DB,
		node:   p.Node,
		policy: policy,

		ledger:      NewLedger(p.DB),
		redemptions: repository.ProvideStore[Redemption](p.DB),
		settings:    repository.ProvideStore[Settings](p.DB),

		credentials: p.Credentials,
		transfers:   p.Transfers,
		minter:      p.Minter,
		runner:      p.Runner,

		awaitTimeout: p.Config.Linkdrop.AccountCreationTimeout + 30*time.Second,
	}, nil
}

func (s *Service) Policy() Policy { return s.policy }

// SetFactory changes the account that creates new accounts. Only the
// contract itself may call it.
func (s *Service) SetFactory(ctx context.Context, factoryAccount string) error {
	log := logger.FromContext(ctx)

	inv, _ := invocation.FromContext(ctx)
	if inv.Predecessor != s.policy.ContractID {
		log.Warn("set factory rejected", zap.String("predecessor", inv.Predecessor))
		return unauthorized()
	}

	factoryAccount = strings.TrimSpace(factoryAccount)
	if factoryAccount == "" {
		return errutil.BadRequest("factory_account is required", nil)
	}

	if err := s.settings.Upsert(ctx, &Settings{
		ContractID:     s.policy.ContractID,
		FactoryAccount: factoryAccount,
		UpdatedAt:      time.Now(),
	}); err != nil {
		log.Error("failed to save settings", zap.Error(err))
		return err
	}

	log.Info("factory account updated", zap.String("factory_account", factoryAccount))
	return nil
}

// FactoryAccount returns the current factory, defaulting to the configured one.
func (s *Service) FactoryAccount(ctx context.Context) (string, error) {
	row, err := s.settings.FindOne(ctx, &Settings{ContractID: s.policy.ContractID})
	if err != nil {
		return "", err
	}
	if row == nil || row.FactoryAccount == "" {
		return s.policy.DefaultFactory, nil
	}
	return row.FactoryAccount, nil
}

// Send funds key with the value attached to the invocation. The first
// deposit for a key pays for storage and the credential allowance and
// issues the credential; later deposits are credited in full.
func (s *Service) Send(ctx context.Context, key keys.PublicKey) (*DepositReceipt, error) {
	log := logger.FromContext(ctx).With(zap.String("public_key", key.String()))

	if key.IsZero() {
		return nil, errutil.BadRequest("public_key is required", nil)
	}

	inv, _ := invocation.FromContext(ctx)
	attached := inv.Attached

	newKeyMin, err := s.policy.NewKeyMinimum()
	if err != nil {
		return nil, err
	}

	receipt := &DepositReceipt{PublicKey: key.String()}
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		ledgerTx := s.ledger.WithTrx(tx)

		exists, err := ledgerTx.Exists(ctx, key)
		if err != nil {
			return err
		}

		credited := attached
		if exists {
			if attached.IsZero() {
				return insufficientDeposit("1")
			}
		} else {
			if attached.LessThan(newKeyMin) {
				return insufficientDeposit(newKeyMin.String())
			}
			if credited, err = attached.Sub(s.policy.MinAccessKeyAllowance); err != nil {
				return err
			}
			if credited, err = credited.Sub(s.policy.MinStorageCost); err != nil {
				return err
			}
		}

		total, err := ledgerTx.Deposit(ctx, key, credited)
		if err != nil {
			return err
		}

		if !exists {
			if err := s.credentials.WithTrx(tx).Issue(ctx, key, s.policy.MinAccessKeyAllowance, s.policy.ContractID, CredentialMethods); err != nil {
				return err
			}
		}

		receipt.Credited = credited
		receipt.Balance = total
		receipt.NewKey = !exists
		return nil
	}); err != nil {
		log.Warn("deposit rejected", zap.String("attached", attached.String()), zap.Error(err))
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("a first deposit for this key is already in progress", err)
		}
		return nil, err
	}

	depositsTotal.WithLabelValues(keyLabel(receipt.NewKey)).Inc()
	log.Info("deposit accepted",
		zap.String("funder", inv.Predecessor),
		zap.String("credited", receipt.Credited.String()),
		zap.String("balance", receipt.Balance.String()),
		zap.Bool("new_key", receipt.NewKey),
	)

	return receipt, nil
}

func keyLabel(newKey bool) string {
	if newKey {
		return "new"
	}
	return "existing"
}

// authorizeKeyCall checks the call is the contract acting through a
// credential scoped to method and returns the signing key.
func (s *Service) authorizeKeyCall(ctx context.Context, method string) (keys.PublicKey, error) {
	inv, ok := invocation.FromContext(ctx)
	if !ok || inv.Predecessor != s.policy.ContractID || inv.Signer.IsZero() {
		return keys.PublicKey{}, unauthorized()
	}

	allowed, err := s.credentials.Authorize(ctx, inv.Signer, s.policy.ContractID, method)
	if err != nil {
		return keys.PublicKey{}, err
	}
	if !allowed {
		return keys.PublicKey{}, unauthorized()
	}

	return inv.Signer, nil
}

// Claim redeems the signer's deposit into an existing account.
func (s *Service) Claim(ctx context.Context, accountID string) (*ClaimReceipt, error) {
	log := logger.FromContext(ctx).With(zap.String("account_id", accountID))

	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, errutil.BadRequest("account_id is required", nil)
	}

	signer, err := s.authorizeKeyCall(ctx, MethodClaim)
	if err != nil {
		log.Warn("claim rejected", zap.Error(err))
		incRedemption(KindExistingAccount, "rejected")
		return nil, err
	}
	log = log.With(zap.String("public_key", signer.String()))

	redemptionID := s.node.Generate().String()
	receipt := &ClaimReceipt{RedemptionID: redemptionID, AccountID: accountID}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		amount, err := s.ledger.WithTrx(tx).Take(ctx, signer)
		if err != nil {
			return err
		}

		if err := s.credentials.WithTrx(tx).Revoke(ctx, signer); err != nil {
			return err
		}

		payoutID, err := s.transfers.WithTrx(tx).Transfer(ctx, accountID, amount, redemptionID)
		if err != nil {
			return err
		}

		now := time.Now()
		if err := s.redemptions.WithTrx(tx).Create(ctx, &Redemption{
			ID:         redemptionID,
			PublicKey:  signer.String(),
			Kind:       KindExistingAccount,
			AccountID:  accountID,
			Amount:     amount,
			Status:     StatusPaidOut,
			PayoutID:   payoutID,
			CreatedAt:  now,
			UpdatedAt:  now,
			ResolvedAt: &now,
		}); err != nil {
			return err
		}

		receipt.Amount = amount
		receipt.PayoutID = payoutID
		return nil
	}); err != nil {
		log.Error("claim failed", zap.Error(err))
		incRedemption(KindExistingAccount, "failed")
		return nil, err
	}

	s.requestMint(ctx, accountID)

	incRedemption(KindExistingAccount, "paid_out")
	log.Info("claim paid out", zap.String("redemption_id", redemptionID), zap.String("amount", receipt.Amount.String()))
	return receipt, nil
}

// CreateAccountAndClaim redeems the signer's deposit into a new account. The
// deposit is taken and the credential revoked before the account factory is
// called; the continuation restores both if creation fails.
func (s *Service) CreateAccountAndClaim(ctx context.Context, newAccountID string, newPublicKey keys.PublicKey) (*RedemptionHandle, error) {
	log := logger.FromContext(ctx).With(zap.String("new_account_id", newAccountID))

	newAccountID = strings.TrimSpace(newAccountID)
	if newAccountID == "" {
		return nil, errutil.BadRequest("new_account_id is required", nil)
	}
	if newPublicKey.IsZero() {
		return nil, errutil.BadRequest("new_public_key is required", nil)
	}

	signer, err := s.authorizeKeyCall(ctx, MethodCreateAccountAndClaim)
	if err != nil {
		log.Warn("create account and claim rejected", zap.Error(err))
		incRedemption(KindNewAccount, "rejected")
		return nil, err
	}
	log = log.With(zap.String("public_key", signer.String()))

	factory, err := s.FactoryAccount(ctx)
	if err != nil {
		return nil, err
	}

	pending := PendingRedemption{
		RedemptionID:   s.node.Generate().String(),
		SigningKey:     signer,
		NewAccountID:   newAccountID,
		NewPublicKey:   newPublicKey,
		FactoryAccount: factory,
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		amount, err := s.ledger.WithTrx(tx).Take(ctx, signer)
		if err != nil {
			return err
		}

		if err := s.credentials.WithTrx(tx).Revoke(ctx, signer); err != nil {
			return err
		}

		now := time.Now()
		pending.Amount = amount
		return s.redemptions.WithTrx(tx).Create(ctx, &Redemption{
			ID:           pending.RedemptionID,
			PublicKey:    signer.String(),
			Kind:         KindNewAccount,
			AccountID:    newAccountID,
			NewPublicKey: newPublicKey.String(),
			Amount:       amount,
			Status:       StatusInFlight,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}); err != nil {
		log.Error("create account and claim failed", zap.Error(err))
		incRedemption(KindNewAccount, "failed")
		return nil, err
	}

	handle, err := s.runner.Start(ctx, pending)
	if err != nil {
		log.Error("failed to start redemption, compensating", zap.String("redemption_id", pending.RedemptionID), zap.Error(err))
		if _, cerr := s.resolve(ctx, pending, FactoryResult{Reason: "redemption could not be started: " + err.Error()}); cerr != nil {
			log.Error("inline compensation failed", zap.Error(cerr))
		}
		return nil, errutil.Internal("failed to start redemption", err)
	}

	if err := s.redemptions.Update(ctx, pending.RedemptionID, map[string]any{
		"workflow_id": handle.WorkflowID,
		"run_id":      handle.RunID,
		"updated_at":  time.Now(),
	}); err != nil {
		log.Warn("failed to record workflow handle", zap.Error(err))
	}

	incRedemption(KindNewAccount, "in_flight")
	log.Info("redemption started",
		zap.String("redemption_id", handle.RedemptionID),
		zap.String("workflow_id", handle.WorkflowID),
		zap.String("amount", pending.Amount.String()),
	)

	return &handle, nil
}

// OnAccountCreated is the continuation of CreateAccountAndClaim. On failure
// it restores the deposit and reissues the credential and returns false; on
// success it requests the collectible and returns true.
func (s *Service) OnAccountCreated(ctx context.Context, pending PendingRedemption, results []FactoryResult) (bool, error) {
	inv, _ := invocation.FromContext(ctx)
	if inv.Predecessor != s.policy.ContractID {
		return false, unauthorized()
	}

	if len(results) != 1 {
		logger.FromContext(ctx).Error("malformed continuation",
			zap.String("redemption_id", pending.RedemptionID),
			zap.Int("results", len(results)),
		)
		return false, malformedContinuation()
	}

	return s.resolve(ctx, pending, results[0])
}

func (s *Service) resolve(ctx context.Context, pending PendingRedemption, result FactoryResult) (bool, error) {
	log := logger.FromContext(ctx).With(
		zap.String("redemption_id", pending.RedemptionID),
		zap.String("public_key", pending.SigningKey.String()),
		zap.String("new_account_id", pending.NewAccountID),
	)

	var (
		outcome  bool
		resolved bool
	)

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		redemptionsTx := s.redemptions.WithTrx(tx)

		rec, err := redemptionsTx.FindOne(ctx, &Redemption{ID: pending.RedemptionID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if rec == nil {
			return errutil.NotFound("redemption not found", nil)
		}

		if rec.Status != StatusInFlight {
			resolved = true
			outcome = rec.Status == StatusSucceeded
			return nil
		}

		now := time.Now()
		if result.Succeeded {
			outcome = true
			return redemptionsTx.Update(ctx, rec.ID, map[string]any{
				"status":      StatusSucceeded,
				"resolved_at": now,
				"updated_at":  now,
			})
		}

		if err := s.ledger.WithTrx(tx).Restore(ctx, pending.SigningKey, pending.Amount); err != nil {
			return err
		}

		if err := s.credentials.WithTrx(tx).Issue(ctx, pending.SigningKey, s.policy.MinAccessKeyAllowance, s.policy.ContractID, CredentialMethods); err != nil {
			return err
		}

		return redemptionsTx.Update(ctx, rec.ID, map[string]any{
			"status":      StatusCompensated,
			"reason":      result.Reason,
			"resolved_at": now,
			"updated_at":  now,
		})
	}); err != nil {
		log.Error("failed to resolve redemption", zap.Error(err))
		return false, err
	}

	if resolved {
		log.Info("redemption already resolved", zap.Bool("succeeded", outcome))
		return outcome, nil
	}

	if !outcome {
		compensationsTotal.Inc()
		incRedemption(KindNewAccount, "compensated")
		log.Warn("account creation failed, deposit restored", zap.String("reason", result.Reason))
		return false, nil
	}

	s.requestMint(ctx, pending.NewAccountID)
	incRedemption(KindNewAccount, "succeeded")
	log.Info("account created and claimed")
	return true, nil
}

func (s *Service) requestMint(ctx context.Context, owner string) {
	if err := s.minter.Mint(ctx, owner, s.policy.Collectible); err != nil {
		mintRequestsTotal.WithLabelValues("error").Inc()
		logger.FromContext(ctx).Error("collectible mint request failed", zap.String("owner", owner), zap.Error(err))
		return
	}
	mintRequestsTotal.WithLabelValues("ok").Inc()
}

// BalanceOf returns the outstanding deposit for key.
func (s *Service) BalanceOf(ctx context.Context, key keys.PublicKey) (units.Balance, error) {
	return s.ledger.BalanceOf(ctx, key)
}

func (s *Service) GetRedemption(ctx context.Context, id string) (*Redemption, error) {
	rec, err := s.redemptions.FindOne(ctx, &Redemption{ID: id})
	if err != nil {
		logger.FromContext(ctx).Error("failed to query redemption", zap.String("redemption_id", id), zap.Error(err))
		return nil, err
	}
	if rec == nil {
		return nil, errutil.NotFound("redemption not found", nil)
	}
	return rec, nil
}

// ListRedemptions pages through key's redemptions, newest first.
func (s *Service) ListRedemptions(ctx context.Context, key keys.PublicKey, page pagination.Pagination) ([]*Redemption, *pagination.PageInfo, error) {
	limit := pagination.NormalizeLimit(page.Limit)

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "id",
			OrderBy: "desc",
			Allow:   map[string]bool{"id": true},
		}),
		option.WithLimit(limit + 1),
	}

	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "id",
			Operator: option.LT,
			Value:    cursor.ID,
		}))
	}

	rows, err := s.redemptions.Find(ctx, &Redemption{PublicKey: key.String()}, opts...)
	if err != nil {
		return nil, nil, err
	}

	return pagination.BuildCursorPageInfo(rows, limit, func(r *Redemption) pagination.Cursor {
		return pagination.Cursor{ID: r.ID}
	})
}

// AwaitRedemption blocks until the new-account redemption resolves.
func (s *Service) AwaitRedemption(ctx context.Context, handle RedemptionHandle) (bool, error) {
	// Concurrent waiters on one redemption share a single runner await. The
	// shared await outlives any one caller; each caller stops on its own ctx.
	ch := s.waiters.DoChan(handle.RedemptionID, func() (any, error) {
		awaitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.awaitTimeout)
		defer cancel()
		return s.runner.Await(awaitCtx, handle)
	})

	var (
		ok  bool
		err error
	)
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case res := <-ch:
		ok, _ = res.Val.(bool)
		err = res.Err
	}

	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return false, errutil.Timeout("redemption still in flight", err)
	}
	return ok, err
}
