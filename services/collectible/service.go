package collectible

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"linkdrop/pkg/db/option"
	"linkdrop/pkg/repository"
	"linkdrop/pkg/sequence"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MetadataStore publishes token metadata documents and returns a reference
// to the stored copy.
type MetadataStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

type Service struct {
	node    *snowflake.Node
	seq     sequence.Generator
	tokens  repository.Repository[Token]
	objects MetadataStore
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Sequence sequence.Generator
	Objects  MetadataStore `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:    p.Node,
		seq:     p.Sequence,
		tokens:  repository.ProvideStore[Token](p.DB),
		objects: p.Objects,
	}
}

func metadataKey(requestID string) string {
	return "collectibles/" + requestID + ".json"
}

// HandleMintTask mints one token per request id.
func (s *Service) HandleMintTask(ctx context.Context, t *asynq.Task) error {
	var payload MintPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	zapLog := zap.L().With(
		zap.String("task_type", t.Type()),
		zap.String("request_id", payload.RequestID),
		zap.String("owner_id", payload.OwnerID),
		zap.String("trace_id", payload.TraceID),
	)

	if payload.OwnerID == "" || payload.RequestID == "" {
		zapLog.Error("mint task missing owner or request id")
		return fmt.Errorf("owner_id and request_id are required: %w", asynq.SkipRetry)
	}

	existing, err := s.tokens.FindOne(ctx, &Token{RequestID: payload.RequestID})
	if err != nil {
		zapLog.Error("failed to query token", zap.Error(err))
		return err
	}
	if existing != nil {
		zapLog.Info("token already minted", zap.String("token_id", existing.TokenID))
		return nil
	}

	tokenID, err := s.seq.NextTokenID(ctx)
	if err != nil {
		zapLog.Error("failed to allocate token id", zap.Error(err))
		return err
	}

	metadata, err := json.Marshal(payload.Metadata)
	if err != nil {
		return err
	}

	var reference string
	if s.objects != nil {
		reference, err = s.objects.Put(ctx, metadataKey(payload.RequestID), "application/json", metadata)
		if err != nil {
			zapLog.Error("failed to publish token metadata", zap.Error(err))
			return err
		}
	}

	token := &Token{
		ID:        s.node.Generate().String(),
		TokenID:   tokenID,
		OwnerID:   payload.OwnerID,
		RequestID: payload.RequestID,
		Metadata:  datatypes.JSON(metadata),
		Reference: reference,
		CreatedAt: time.Now(),
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		zapLog.Error("failed to store token", zap.Error(err))
		return err
	}

	zapLog.Info("collectible minted", zap.String("token_id", tokenID))
	return nil
}

// TokensOf lists the tokens owned by owner, oldest first.
func (s *Service) TokensOf(ctx context.Context, owner string) ([]*Token, error) {
	return s.tokens.Find(ctx, &Token{OwnerID: owner},
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc"}),
	)
}
