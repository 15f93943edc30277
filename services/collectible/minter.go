package collectible

import (
	"context"

	"linkdrop/pkg/featureflags"
	"linkdrop/pkg/logger"
	"linkdrop/pkg/task"
	"linkdrop/services/linkdrop"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Minter queues mint requests for the worker. Minting can be switched off
// with the collectible_minting flag.
type Minter struct {
	enqueuer task.Enqueuer
	node     *snowflake.Node
	flags    featureflags.FeatureFlag
}

var _ linkdrop.Minter = (*Minter)(nil)

type MinterParams struct {
	fx.In
	Enqueuer task.Enqueuer
	Node     *snowflake.Node
	Flags    featureflags.FeatureFlag `optional:"true"`
}

func NewMinter(p MinterParams) *Minter {
	flags := p.Flags
	if flags == nil {
		flags = featureflags.Static{}
	}
	return &Minter{enqueuer: p.Enqueuer, node: p.Node, flags: flags}
}

func (m *Minter) Mint(ctx context.Context, owner string, metadata linkdrop.TokenMetadata) error {
	if !m.flags.Enabled(ctx, featureflags.CollectibleMinting, true) {
		logger.FromContext(ctx).Info("collectible minting disabled, skipping", zap.String("owner_id", owner))
		return nil
	}

	payload := MintPayload{
		RequestID: m.node.Generate().String(),
		OwnerID:   owner,
		Metadata:  metadata,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		payload.TraceID = sc.TraceID().String()
	}

	t, err := NewMintTask(payload)
	if err != nil {
		return err
	}

	info, err := m.enqueuer.Enqueue(ctx, t)
	if err != nil {
		return err
	}

	logger.FromContext(ctx).Info("collectible mint queued",
		zap.String("owner_id", owner),
		zap.String("request_id", payload.RequestID),
		zap.String("task_id", info.ID),
	)
	return nil
}
