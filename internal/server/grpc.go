package server

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"time"

	"PoolLedger/internal/ingestion"
	"PoolLedger/internal/observability"
	"PoolLedger/internal/query"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// EngineInfo is the engine state reported by the admin routes.
type EngineInfo interface {
	GetSequence() int64
	GetStateHash() [32]byte
}

// EventLog reports how far persistence has caught up.
type EventLog interface {
	GetLatestSequence(ctx context.Context) (int64, error)
}

// Deps holds everything the routes serve from. Query, Ingest and Engine are
// required; the rest disable their routes when nil.
type Deps struct {
	Query    *query.Service
	Ingest   *ingestion.IngestService
	Engine   EngineInfo
	EventLog EventLog
	// Snapshot takes a snapshot now and returns its sequence.
	Snapshot func(ctx context.Context) (int64, error)
	// DB backs projection rebuilds.
	DB      *sql.DB
	Health  *observability.HealthChecker
	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Server runs the gRPC health service and the HTTP/JSON API.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	handler    http.Handler
	logger     zerolog.Logger
}

func NewServer(grpcAddr, httpAddr string, deps *Deps) (*Server, error) {
	logger := deps.Logger.With().Str("component", "server").Logger()

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	if deps.Health != nil {
		deps.Health.OnChange(func(ready bool) {
			st := healthpb.HealthCheckResponse_NOT_SERVING
			if ready {
				st = healthpb.HealthCheckResponse_SERVING
			}
			healthServer.SetServingStatus("", st)
		})
	} else {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}

	handler, err := newHTTPHandler(deps, logger)
	if err != nil {
		return nil, err
	}

	return &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		handler:    handler,
		logger:     logger,
	}, nil
}

// Handler is the HTTP API, health endpoints included.
func (s *Server) Handler() http.Handler { return s.handler }

// StartGRPC serves until ctx is cancelled.
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP serves the JSON API until ctx is cancelled.
func (s *Server) StartHTTP(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Shutdown returns once in-flight handlers finish; StartHTTP waits for it
	// so no command reaches the engine after this returns.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("HTTP shutdown")
		}
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	<-stopped
	return nil
}
