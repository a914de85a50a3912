// Package grpchealth serves the standard grpc.health.v1 service so load
// balancers can probe the receiver without touching the HTTP routes.
package grpchealth

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the per-service entry reported next to the overall "" entry.
const ServiceName = "postback.Receiver"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// New starts in NOT_SERVING until SetServing is called.
func New(logger zerolog.Logger) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{grpc: gs, health: hs, logger: logger}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

func (s *Server) SetServing() { s.set(healthpb.HealthCheckResponse_SERVING) }

func (s *Server) set(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Listen binds addr.  Serve must be called with the returned listener.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	return ln, nil
}

// Serve blocks until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("grpc health listening")
	return s.grpc.Serve(ln)
}

// Stop flips every entry to NOT_SERVING and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
