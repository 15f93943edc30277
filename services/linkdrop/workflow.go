package linkdrop

import (
	"context"
	"errors"
	"time"

	"linkdrop/pkg/invocation"
	"linkdrop/pkg/logger"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
)

const (
	WorkflowCreateAccountAndClaim = "CreateAccountAndClaim"
	ActivityCreateAccount         = "CreateAccount"
	ActivityOnAccountCreated      = "OnAccountCreated"

	workflowIDPrefix = "linkdrop-redemption-"
)

// RedemptionInput is the workflow argument for a new-account redemption.
type RedemptionInput struct {
	Pending                PendingRedemption `json:"pending"`
	AccountCreationTimeout time.Duration     `json:"account_creation_timeout"`
}

// CreateAccountAndClaimWorkflow asks the factory for the account once and
// hands the single result to the continuation. A factory call that errors or
// times out is reported to the continuation as a failure.
func CreateAccountAndClaimWorkflow(ctx workflow.Context, in RedemptionInput) (bool, error) {
	log := workflow.GetLogger(ctx)

	timeout := in.AccountCreationTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	factoryCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var result FactoryResult
	if err := workflow.ExecuteActivity(factoryCtx, ActivityCreateAccount, in.Pending).Get(ctx, &result); err != nil {
		log.Warn("account creation did not complete", "redemption_id", in.Pending.RedemptionID, "error", err)
		result = FactoryResult{Succeeded: false, Reason: err.Error()}
	}

	continuationCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout:    30 * time.Second,
		ScheduleToCloseTimeout: 24 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
		},
	})

	var succeeded bool
	if err := workflow.ExecuteActivity(continuationCtx, ActivityOnAccountCreated, in.Pending, []FactoryResult{result}).Get(ctx, &succeeded); err != nil {
		log.Error("continuation failed", "redemption_id", in.Pending.RedemptionID, "error", err)
		return false, err
	}

	return succeeded, nil
}

// Activities binds the workflow steps to the factory and the service.
type Activities struct {
	Factory AccountFactory
	Service *Service
}

// CreateAccount asks the factory for the account unless the redemption was
// already resolved, which happens when a start error was compensated inline.
func (a *Activities) CreateAccount(ctx context.Context, pending PendingRedemption) (FactoryResult, error) {
	rec, err := a.Service.GetRedemption(ctx, pending.RedemptionID)
	if err != nil {
		return FactoryResult{}, err
	}
	if rec.Status != StatusInFlight {
		activity.GetLogger(ctx).Warn("redemption no longer in flight, skipping factory",
			"redemption_id", pending.RedemptionID,
			"status", string(rec.Status),
		)
		return FactoryResult{Succeeded: false, Reason: "redemption already " + string(rec.Status)}, nil
	}

	activity.GetLogger(ctx).Info("creating account",
		"redemption_id", pending.RedemptionID,
		"new_account_id", pending.NewAccountID,
		"factory_account", pending.FactoryAccount,
	)

	return a.Factory.CreateAccount(ctx, CreateAccountRequest{
		FactoryAccount: pending.FactoryAccount,
		NewAccountID:   pending.NewAccountID,
		NewPublicKey:   pending.NewPublicKey,
		Amount:         pending.Amount,
	})
}

// OnAccountCreated runs the continuation as the contract itself.
func (a *Activities) OnAccountCreated(ctx context.Context, pending PendingRedemption, results []FactoryResult) (bool, error) {
	ctx = invocation.WithContext(ctx, invocation.Invocation{Predecessor: a.Service.Policy().ContractID})

	ok, err := a.Service.OnAccountCreated(ctx, pending, results)
	if err != nil && (errors.Is(err, ErrMalformedContinuation) || errors.Is(err, ErrUnauthorized)) {
		return false, temporal.NewNonRetryableApplicationError(err.Error(), "linkdrop", err)
	}
	return ok, err
}

// RegisterWorkflows registers the redemption workflow and its activities.
func RegisterWorkflows(r worker.Registry, a *Activities) {
	r.RegisterWorkflowWithOptions(CreateAccountAndClaimWorkflow, workflow.RegisterOptions{Name: WorkflowCreateAccountAndClaim})
	r.RegisterActivityWithOptions(a.CreateAccount, activity.RegisterOptions{Name: ActivityCreateAccount})
	r.RegisterActivityWithOptions(a.OnAccountCreated, activity.RegisterOptions{Name: ActivityOnAccountCreated})
}

// TemporalRunner runs new-account redemptions as Temporal workflows.
type TemporalRunner struct {
	client    client.Client
	taskQueue string
	timeout   time.Duration
}

func NewTemporalRunner(c client.Client, taskQueue string, timeout time.Duration) *TemporalRunner {
	return &TemporalRunner{client: c, taskQueue: taskQueue, timeout: timeout}
}

func WorkflowID(redemptionID string) string {
	return workflowIDPrefix + redemptionID
}

func (r *TemporalRunner) Start(ctx context.Context, pending PendingRedemption) (RedemptionHandle, error) {
	run, err := r.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(pending.RedemptionID),
		TaskQueue: r.taskQueue,
	}, WorkflowCreateAccountAndClaim, RedemptionInput{
		Pending:                pending,
		AccountCreationTimeout: r.timeout,
	})
	if err != nil {
		return RedemptionHandle{}, err
	}

	logger.FromContext(ctx).Info("redemption workflow started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)

	return RedemptionHandle{
		RedemptionID: pending.RedemptionID,
		WorkflowID:   run.GetID(),
		RunID:        run.GetRunID(),
	}, nil
}

func (r *TemporalRunner) Await(ctx context.Context, handle RedemptionHandle) (bool, error) {
	workflowID := handle.WorkflowID
	if workflowID == "" {
		workflowID = WorkflowID(handle.RedemptionID)
	}

	var succeeded bool
	if err := r.client.GetWorkflow(ctx, workflowID, handle.RunID).Get(ctx, &succeeded); err != nil {
		return false, err
	}
	return succeeded, nil
}
