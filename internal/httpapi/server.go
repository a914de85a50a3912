package httpapi

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/postback-receiver/internal/metrics"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/service"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/types"
)

type Dependencies struct {
	Logger   zerolog.Logger
	Addr     string
	Guard    *service.AccessGuard
	Postback *service.PostbackService
	Status   *service.StatusService
	Metrics  *metrics.Metrics

	// TLSCertFile and TLSKeyFile switch the listener to HTTPS when both
	// are set.
	TLSCertFile string
	TLSKeyFile  string
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
	router     chi.Router
	guard      *service.AccessGuard
	postback   *service.PostbackService
	status     *service.StatusService
	metrics    *metrics.Metrics

	certFile string
	keyFile  string
	ln       net.Listener
}

func NewServer(d Dependencies) *Server {
	r := chi.NewRouter()

	s := &Server{
		logger:   d.Logger,
		router:   r,
		guard:    d.Guard,
		postback: d.Postback,
		status:   d.Status,
		metrics:  d.Metrics,
		certFile: d.TLSCertFile,
		keyFile:  d.TLSKeyFile,
	}

	r.Use(requestID)
	r.Use(accessLog(d.Logger, d.Metrics))
	r.Use(chimiddleware.Recoverer)

	r.With(s.guardMiddleware).Get("/postback", s.handlePostback)
	r.Get("/check", s.handleCheck)
	r.Get("/health", s.handleHealth)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Listen binds the configured address.  It fails immediately when the port
// is taken; there is no fallback port.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.httpServer.Addr
}

func (s *Server) TLS() bool { return s.certFile != "" && s.keyFile != "" }

// Serve blocks until Shutdown.  A clean shutdown returns nil.
func (s *Server) Serve() error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	var err error
	if s.TLS() {
		s.httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		err = s.httpServer.ServeTLS(s.ln, s.certFile, s.keyFile)
	} else {
		err = s.httpServer.Serve(s.ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Close drops every connection without waiting for handlers.
func (s *Server) Close() error {
	return s.httpServer.Close()
}

// guardMiddleware rejects postbacks from callers outside the allow-list.
func (s *Server) guardMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.guard.Decide(r.Context(), func() string { return callerIP(r) })
		if !d.Allowed {
			s.logger.Warn().
				Str("caller_ip", d.CallerIP).
				Str("reason", d.Reason).
				Str("request_id", requestIDFrom(r.Context())).
				Msg("postback blocked")
			writeText(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePostback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := types.PostbackRequest{
		AffSub: q.Get("aff_sub"),
		ID:     q.Get("id"),
		Payout: q.Get("payout"),
		IP:     q.Get("ip"),
		PeerIP: peerIP(r),
	}

	rec, err := s.postback.Record(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingOfferID):
			writeText(w, http.StatusBadRequest, "Missing offer ID")
			return
		case errors.Is(err, service.ErrShuttingDown):
			writeText(w, http.StatusServiceUnavailable, "Service Unavailable")
			return
		}
		s.logger.Error().Err(err).Msg("postback error")
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	s.logger.Info().
		Str("offer_id", rec.OfferID).
		Str("payout", rec.Payout).
		Str("ip", rec.IP).
		Msg("conversion recorded")

	writeText(w, http.StatusOK, "1")
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	resp, err := s.status.Check(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		if errors.Is(err, service.ErrMissingID) {
			s.metrics.Rejected("missing_id")
			writeText(w, http.StatusBadRequest, "Missing ID")
			return
		}
		s.logger.Error().Err(err).Msg("check error")
		writeText(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if wantsProtobuf(r) {
		msg, err := checkResponseToProto(resp)
		writeStruct(w, http.StatusOK, msg, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.status.Health(r.Context())

	if wantsProtobuf(r) {
		msg, err := healthResponseToProto(resp)
		writeStruct(w, http.StatusOK, msg, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
