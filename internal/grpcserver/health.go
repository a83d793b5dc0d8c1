// Package grpcserver exposes the standard gRPC health service for the
// discovery pipeline.
//
// Readiness is derived from probes over the pipeline's backing services
// (job store, Redis). The overall status ("") and ServiceName are SERVING
// only while every probe passes; each probe is also reported under its own
// name.
package grpcserver

import (
	"context"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health-check name of the pipeline as a whole.
const ServiceName = "jobmate.discovery.Pipeline"

const (
	defaultProbeInterval = 15 * time.Second
	probeTimeout         = 3 * time.Second
)

// Probe reports whether one dependency is reachable.
type Probe func(ctx context.Context) error

// Server wraps a grpc.Server carrying the health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server

	mu     sync.Mutex
	probes map[string]Probe
}

// NewServer returns a Server whose status starts as NOT_SERVING until the
// first Check.
func NewServer(probes map[string]Probe) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		probes: probes,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setAll(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Check runs every probe once and publishes the result.
func (s *Server) Check(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready := true
	for _, name := range s.names() {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := s.probes[name](pctx)
		cancel()

		st := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			ready = false
			st = healthpb.HealthCheckResponse_NOT_SERVING
			log.Printf("[grpc] probe %s failing: %v", name, err)
		}
		s.health.SetServingStatus(name, st)
	}

	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", overall)
	s.health.SetServingStatus(ServiceName, overall)
	return ready
}

// Watch re-runs Check every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	s.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Stop marks everything NOT_SERVING and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) setAll(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	for name := range s.probes {
		s.health.SetServingStatus(name, st)
	}
}

func (s *Server) names() []string {
	names := make([]string, 0, len(s.probes))
	for name := range s.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
