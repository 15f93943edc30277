package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"linkdrop/pkg/config"
	"linkdrop/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ProvideHTTPServer = fx.Module("http.server",
	fx.Provide(NewEngine, NewHttpServer),
	fx.Provide(fx.Private, provideCertReloader),
	fx.Invoke(Run),
)

type Server struct {
	server *http.Server
}

// NewEngine builds the gin engine every HTTP route is registered on.
func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.Error())
	return engine
}

type Params struct {
	fx.In
	Config         *config.Config
	Handler        *gin.Engine
	Certs          *certReloader        `optional:"true"`
	TracerProvider trace.TracerProvider `optional:"true"`
}

func NewHttpServer(p Params) *Server {
	cfg := p.Config

	var opts []otelhttp.Option
	if p.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(p.TracerProvider))
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Addr),
		Handler:      otelhttp.NewHandler(p.Handler, cfg.AppName, opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if p.Certs != nil {
		srv.TLSConfig = p.Certs.TLSConfig()
	}

	return &Server{server: srv}
}

func Run(lc fx.Lifecycle, srv *Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			listen := srv.server.ListenAndServe
			if srv.server.TLSConfig != nil {
				listen = func() error { return srv.server.ListenAndServeTLS("", "") }
			}

			zap.L().Info("Starting HTTP server",
				zap.String("addr", srv.server.Addr),
				zap.Bool("tls", srv.server.TLSConfig != nil),
			)
			go func() {
				if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					zap.L().Error("HTTP server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Shutting down HTTP server gracefully...")
			return srv.server.Shutdown(ctx)
		},
	})
}
