package grpc

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	health "google.golang.org/grpc/health/grpc_health_v1"
)

// Readiness reports whether a dependency of the process is usable.
type Readiness func(ctx context.Context) error

func (v *Server) status(ctx context.Context) health.HealthCheckResponse_ServingStatus {
	if v.ready == nil {
		return health.HealthCheckResponse_SERVING
	}
	if err := v.ready(ctx); err != nil {
		log.Warn().Err(err).Msg("Health readiness check failed.")
		return health.HealthCheckResponse_NOT_SERVING
	}
	return health.HealthCheckResponse_SERVING
}

func (v *Server) Check(ctx context.Context, _ *health.HealthCheckRequest) (*health.HealthCheckResponse, error) {
	return &health.HealthCheckResponse{
		Status: v.status(ctx),
	}, nil
}

func (v *Server) Watch(_ *health.HealthCheckRequest, stream health.Health_WatchServer) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	last := health.HealthCheckResponse_UNKNOWN
	for {
		if current := v.status(stream.Context()); current != last {
			if err := stream.Send(&health.HealthCheckResponse{Status: current}); err != nil {
				return err
			}
			last = current
		}

		select {
		case <-stream.Context().Done():
			return nil
		case <-ticker.C:
		}
	}
}
