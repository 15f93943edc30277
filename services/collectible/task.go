package collectible

import (
	"encoding/json"

	"linkdrop/pkg/task"
	"linkdrop/pkg/taskname"
	"linkdrop/services/linkdrop"

	"github.com/hibiken/asynq"
)

type MintPayload struct {
	RequestID string                 `json:"request_id"`
	OwnerID   string                 `json:"owner_id"`
	Metadata  linkdrop.TokenMetadata `json:"metadata"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

func NewMintTask(p MintPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.CollectibleMint, payload,
		asynq.MaxRetry(3),
		asynq.Queue(task.QueueDefault),
		asynq.TaskID(p.RequestID),
	), nil
}
