package profiling

import (
	"context"
	"runtime"
	"strconv"

	"linkdrop/pkg/config"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("profiling", fx.Invoke(Start))

var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexDuration,
}

// Tags labels every profile with the running binary and node.
func Tags(c *config.Config) map[string]string {
	return map[string]string{
		"service_name": c.AppName,
		"env":          c.AppEnv,
		"version":      c.AppVersion,
		"node_id":      strconv.FormatInt(c.NodeID, 10),
	}
}

// Start runs continuous profiling while the app is up. It is a no-op unless
// pyroscope.addr is set.
func Start(lc fx.Lifecycle, c *config.Config) error {
	if c.Pyroscope.Addr == "" {
		return nil
	}

	runtime.SetMutexProfileFraction(5)

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: c.AppName,
		ServerAddress:   c.Pyroscope.Addr,
		Logger:          zap.S(),
		ProfileTypes:    profileTypes,
		Tags:            Tags(c),
	})
	if err != nil {
		zap.L().Error("failed to start pyroscope", zap.String("addr", c.Pyroscope.Addr), zap.Error(err))
		return err
	}
	zap.L().Info("pyroscope profiling started", zap.String("addr", c.Pyroscope.Addr))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return profiler.Stop()
		},
	})
	return nil
}
