package workflow

import (
	"context"
	"time"

	"linkdrop/pkg/config"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var ProvideClient = fx.Module("temporal",
	fx.Provide(NewClient),
	fx.Invoke(Close),
)

var Worker = fx.Module("temporal.worker",
	fx.Provide(NewWorker),
)

type TaskName string

var (
	LINKDROP_TASK_QUEUE TaskName = "LINKDROP_TASK_QUEUE"
)

func (t TaskName) String() string {
	return string(t)
}

// TaskQueue returns the configured task queue, falling back to LINKDROP_TASK_QUEUE.
func TaskQueue(cfg *config.Config) string {
	if cfg != nil && cfg.Temporal.TaskQueue != "" {
		return cfg.Temporal.TaskQueue
	}
	return LINKDROP_TASK_QUEUE.String()
}

func NewClient(cfg *config.Config) client.Client {
	var c client.Client
	var err error

	clientOptions := client.Options{
		HostPort:  cfg.Temporal.Addr,
		Namespace: cfg.Temporal.Namespace,
		ConnectionOptions: client.ConnectionOptions{
			KeepAliveTime:    30 * time.Second,
			KeepAliveTimeout: 30 * time.Second,
			DialOptions: []grpc.DialOption{
				grpc.WithTransportCredentials(
					insecure.NewCredentials(),
				),
			},
		},
		Logger: NewZapLogger(zap.L()),
	}

	for i := 1; i <= 3; i++ {
		c, err = client.Dial(clientOptions)
		if err == nil {
			break
		}
		zap.L().Warn("retrying Temporal client connection", zap.Int("attempt", i), zap.Error(err))
		time.Sleep(2 * time.Second)
	}

	if err != nil {
		zap.L().Fatal("❌ failed to connect Temporal server after retries", zap.Error(err))
	}

	zap.L().Info("✅ Connected to Temporal server")
	return c
}

func Close(lc fx.Lifecycle, c client.Client) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			c.Close()
			return nil
		},
	})
}

// NewWorker creates the task queue worker. Services register their workflows
// and activities from fx.Invoke; the worker starts once the app starts.
func NewWorker(lc fx.Lifecycle, cfg *config.Config, c client.Client) worker.Worker {
	queue := TaskQueue(cfg)
	w := worker.New(c, queue, worker.Options{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			zap.L().Info("Starting Temporal worker", zap.String("task_queue", queue))
			return w.Start()
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Stopping Temporal worker", zap.String("task_queue", queue))
			w.Stop()
			return nil
		},
	})

	return w
}

// ZapLogger adapts zap to the Temporal SDK logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

var _ log.Logger = (*ZapLogger)(nil)

func NewZapLogger(z *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: z.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *ZapLogger) Debug(msg string, keyvals ...interface{}) {
	l.sugar.Debugw(msg, keyvals...)
}

func (l *ZapLogger) Info(msg string, keyvals ...interface{}) {
	l.sugar.Infow(msg, keyvals...)
}

func (l *ZapLogger) Warn(msg string, keyvals ...interface{}) {
	l.sugar.Warnw(msg, keyvals...)
}

func (l *ZapLogger) Error(msg string, keyvals ...interface{}) {
	l.sugar.Errorw(msg, keyvals...)
}

func (l *ZapLogger) With(keyvals ...interface{}) log.Logger {
	return &ZapLogger{sugar: l.sugar.With(keyvals...)}
}
