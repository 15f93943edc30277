package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("health",
	fx.Provide(ProvideHealth),
	fx.Invoke(RegisterRoutes),
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"

	checkTimeout = 2 * time.Second
)

type Dependency struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Health struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Deps    []Dependency `json:"deps,omitempty"`
}

type HealthService interface {
	Liveness(c *gin.Context)
	Readiness(c *gin.Context)
}

// Check probes one dependency.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type health struct {
	checks []Check
}

type HealthParams struct {
	fx.In
	DB       *gorm.DB      `optional:"true"`
	Redis    *redis.Client `optional:"true"`
	Temporal client.Client `optional:"true"`
}

func ProvideHealth(p HealthParams) HealthService {
	var checks []Check
	if p.DB != nil {
		checks = append(checks, Check{Name: p.DB.Name(), Probe: func(ctx context.Context) error {
			sqlDB, err := p.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}})
	}
	if p.Redis != nil {
		checks = append(checks, Check{Name: "redis", Probe: func(ctx context.Context) error {
			return p.Redis.Ping(ctx).Err()
		}})
	}
	if p.Temporal != nil {
		checks = append(checks, Check{Name: "temporal", Probe: func(ctx context.Context) error {
			_, err := p.Temporal.CheckHealth(ctx, &client.CheckHealthRequest{})
			return err
		}})
	}
	return NewHealth(checks...)
}

func NewHealth(checks ...Check) HealthService {
	return &health{checks: checks}
}

func RegisterRoutes(r *gin.Engine, h HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
}

func (h *health) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, &Health{
		Status:  statusHealthy,
		Message: "OK",
	})
}

// Readiness is 503 when any dependency fails its probe.
func (h *health) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	res := &Health{Status: statusHealthy, Message: "OK", Deps: make([]Dependency, 0, len(h.checks))}
	code := http.StatusOK

	for _, check := range h.checks {
		dep := Dependency{Name: check.Name, Status: statusHealthy, Message: "OK"}
		if err := check.Probe(ctx); err != nil {
			dep.Status = statusUnhealthy
			dep.Message = err.Error()
			res.Status = statusUnhealthy
			res.Message = "dependency unavailable"
			code = http.StatusServiceUnavailable
		}
		res.Deps = append(res.Deps, dep)
	}

	c.JSON(code, res)
}
