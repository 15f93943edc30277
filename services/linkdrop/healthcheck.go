package linkdrop

import (
	"context"
	"time"

	"github.com/gogo/status"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the service name clients may pass to Check.
const HealthServiceName = "linkdrop.v1.Linkdrop"

const healthPingTimeout = 2 * time.Second

// Check reports SERVING while the ledger database answers a ping. Both the
// empty name and HealthServiceName are known.
func (s *Service) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if name := req.GetService(); name != "" && name != HealthServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", name)
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, status.Error(codes.Internal, "ledger database unavailable")
	}

	pingCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		zap.L().Warn("ledger database ping failed", zap.Error(err))
		return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_NOT_SERVING}, nil
	}

	return &grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING}, nil
}

func (s *Service) Watch(req *grpc_health_v1.HealthCheckRequest, srv grpc_health_v1.Health_WatchServer) error {
	return status.Error(codes.Unimplemented, "watch is not supported")
}
