package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Domenick1991/flightbooking/config"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the name reported on the gRPC health service.
const ServiceName = "flightbooking.BookingService"

type Servers struct {
	grpcServer      *grpc.Server
	health          *health.Server
	httpServer      *http.Server
	shutdownTimeout time.Duration
	log             *logrus.Entry
}

// Run starts the gRPC ops server and the HTTP API and blocks until ctx is
// canceled or a server fails.
func Run(ctx context.Context, cfg *config.Config, handler http.Handler, log *logrus.Entry) error {
	s := NewServers(cfg.HTTP, handler, log)

	grpcLis, err := net.Listen("tcp", cfg.GRPC.Address)
	if err != nil {
		return fmt.Errorf("listen gRPC %s: %w", cfg.GRPC.Address, err)
	}
	httpLis, err := net.Listen("tcp", cfg.HTTP.Address)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTP.Address, err)
	}

	log.WithFields(logrus.Fields{"grpc": cfg.GRPC.Address, "http": cfg.HTTP.Address}).Info("servers starting")
	return s.Serve(ctx, grpcLis, httpLis)
}

func NewServers(cfg config.HTTPConfig, handler http.Handler, log *logrus.Entry) *Servers {
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	return &Servers{
		grpcServer: grpcSrv,
		health:     healthSrv,
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		log:             log,
	}
}

// Serve runs both servers on the given listeners. Health reports SERVING
// while they run and NOT_SERVING from the start of shutdown.
func (s *Servers) Serve(ctx context.Context, grpcLis, httpLis net.Listener) error {
	errCh := make(chan error, 2)

	go func() { errCh <- s.grpcServer.Serve(grpcLis) }()
	go func() {
		if err := s.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	select {
	case err := <-errCh:
		s.health.Shutdown()
		s.grpcServer.Stop()
		_ = s.httpServer.Close()
		return err
	case <-ctx.Done():
		s.log.Info("shutting down servers")
		s.health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.grpcServer.Stop()
			return fmt.Errorf("shutdown http server: %w", err)
		}
		s.grpcServer.GracefulStop()
		return nil
	}
}
