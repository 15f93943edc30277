package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	enqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asynq_tasks_enqueued_total",
		Help: "Tasks handed to asynq, by type and result.",
	}, []string{"type", "result"})

	processedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asynq_tasks_processed_total",
		Help: "Tasks run by this worker, by type and result.",
	}, []string{"type", "result"})
)

type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &enqueuer{client: client}
}

// Enqueue treats a task id that is already queued as success, so callers may
// pass asynq.TaskID to make enqueueing idempotent.
func (e *enqueuer) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	switch {
	case err == nil:
		enqueuedTotal.WithLabelValues(task.Type(), "ok").Inc()
		return info, nil
	case errorsIsConflict(err):
		enqueuedTotal.WithLabelValues(task.Type(), "duplicate").Inc()
		return &asynq.TaskInfo{Type: task.Type(), Payload: task.Payload()}, nil
	default:
		enqueuedTotal.WithLabelValues(task.Type(), "error").Inc()
		return nil, fmt.Errorf("enqueue task %s: %w", task.Type(), err)
	}
}

func errorsIsConflict(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)
}

// Observe logs and counts every task the server runs.
func Observe(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		start := time.Now()
		taskID, _ := asynq.GetTaskID(ctx)
		retry, _ := asynq.GetRetryCount(ctx)

		err := next.ProcessTask(ctx, t)

		fields := []zap.Field{
			zap.String("task_type", t.Type()),
			zap.String("task_id", taskID),
			zap.Int("retry", retry),
			zap.Duration("took", time.Since(start)),
		}
		if err != nil {
			processedTotal.WithLabelValues(t.Type(), "error").Inc()
			zap.L().Warn("task failed", append(fields, zap.Error(err))...)
			return err
		}

		processedTotal.WithLabelValues(t.Type(), "ok").Inc()
		zap.L().Debug("task done", fields...)
		return nil
	})
}
