package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"linkdrop/pkg/config"
	"linkdrop/pkg/errutil"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/validator"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

var ProvideGRPCServer = fx.Module("grpc.server",
	fx.Provide(
		NewListener,
		ServerOptions,
		NewGRPCServer,
	),
	fx.Provide(fx.Private, provideCertReloader),
	fx.Invoke(StartGRPCServer),
)

func NewListener(cfg *config.Config) (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf(":%s", cfg.Grpc.Addr))
}

func recoverPanic(ctx context.Context, p any) error {
	zap.L().Error("grpc handler panic", zap.Any("panic", p), zap.Stack("stack"))
	return status.Error(codes.Internal, "internal error")
}

// ServerOptions builds the interceptor chain: panics are recovered first,
// then requests are validated, then handler errors are mapped to status codes.
type GRPCParams struct {
	fx.In
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Certs          *certReloader `optional:"true"`
}

func ServerOptions(p GRPCParams) []grpc.ServerOption {
	recoverOpt := recovery.WithRecoveryHandlerContext(recoverPanic)

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			recovery.UnaryServerInterceptor(recoverOpt),
			validator.UnaryServerInterceptor(validator.WithFailFast()),
			errutil.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			recovery.StreamServerInterceptor(recoverOpt),
			validator.StreamServerInterceptor(validator.WithFailFast()),
		),
		grpc.StatsHandler(otelgrpc.NewServerHandler(
			otelgrpc.WithTracerProvider(p.TracerProvider),
			otelgrpc.WithMeterProvider(p.MeterProvider),
		)),
	}

	if p.Certs != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(p.Certs.TLSConfig())))
	}
	return opts
}

func NewGRPCServer(opts []grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	reflection.Register(srv)
	return srv
}

func StartGRPCServer(lc fx.Lifecycle, lis net.Listener, srv *grpc.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			zap.L().Info("Starting gRPC server", zap.String("addr", lis.Addr().String()))
			go func() {
				if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
					zap.L().Fatal("gRPC server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Stopping gRPC server")
			stopped := make(chan struct{})
			go func() {
				srv.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-ctx.Done():
				srv.Stop()
			}
			return nil
		},
	})
}
