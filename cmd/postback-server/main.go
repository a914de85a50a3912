package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/postback-receiver/internal/config"
	dbpkg "github.com/BrandonDHaskell/postback-receiver/internal/db"
	"github.com/BrandonDHaskell/postback-receiver/internal/grpchealth"
	"github.com/BrandonDHaskell/postback-receiver/internal/httpapi"
	"github.com/BrandonDHaskell/postback-receiver/internal/logging"
	"github.com/BrandonDHaskell/postback-receiver/internal/metrics"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/service"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/store"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/store/logfile"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/store/memory"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "postback-server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stdout,
	})

	startedAt := time.Now()

	// Audit trail: the two files always, the SQLite mirror when configured.
	// Neither is fatal; without a sink every append fails and is counted.
	var sinks store.Sinks

	auditLog, err := logfile.OpenAuditLog(logfile.Paths{
		Conversions: cfg.Audit.ConversionsLog,
		Security:    cfg.Audit.SecurityLog,
	}, startedAt)
	if err != nil {
		logger.Error().Err(err).Msg("audit log unavailable")
		sinks = append(sinks, unavailableSink{err: err})
	} else {
		defer closeLogged(logger, "audit log", auditLog.Close)
		sinks = append(sinks, auditLog)
	}

	if cfg.Audit.DBPath != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := dbpkg.Open(ctx, cfg.Audit.DBPath)
		cancel()
		if err != nil {
			logger.Error().Err(err).Str("path", cfg.Audit.DBPath).Msg("sqlite audit mirror disabled")
		} else {
			defer closeLogged(logger, "audit db", db.Close)

			writer := dbpkg.NewWriter(db, 0)
			defer writer.Close()

			sinks = append(sinks, sqlite.NewAuditStore(writer))
			logger.Info().Str("path", cfg.Audit.DBPath).Msg("sqlite audit mirror enabled")
		}
	}

	// Stores
	conversions := memory.New()

	m := metrics.New()
	m.RegisterStoredGauge(func() int {
		n, _ := conversions.Count(context.Background())
		return n
	})

	// Services
	mode, err := service.ParseMode(cfg.Guard.Mode)
	if err != nil {
		return err
	}
	guard := service.NewAccessGuard(service.NewGuardPolicy(mode, cfg.Guard.AllowedIPs), sinks, logger, m)
	postbackSvc := service.NewPostbackService(conversions, sinks, logger, m)
	statusSvc := service.NewStatusService(conversions, logger, startedAt)

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:      logger,
		Addr:        cfg.Addr(),
		Guard:       guard,
		Postback:    postbackSvc,
		Status:      statusSvc,
		Metrics:     m,
		TLSCertFile: cfg.Server.TLSCertFile,
		TLSKeyFile:  cfg.Server.TLSKeyFile,
	})
	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)

	var health *grpchealth.Server
	if cfg.GRPC.Addr != "" {
		ln, err := grpchealth.Listen(cfg.GRPC.Addr)
		if err != nil {
			logger.Error().Err(err).Msg("grpc health disabled")
		} else {
			health = grpchealth.New(logger)
			go func() {
				if err := health.Serve(ln); err != nil {
					logger.Error().Err(err).Msg("grpc health server error")
				}
			}()
		}
	}

	go func() {
		if err := srv.Serve(); err != nil {
			serveErr <- fmt.Errorf("http: %w", err)
		}
	}()
	if health != nil {
		health.SetServing()
	}

	logger.Info().
		Str("addr", srv.Addr()).
		Str("mode", string(guard.Mode())).
		Bool("tls", srv.TLS()).
		Msgf("Server running on port %d", cfg.Server.Port)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		logger.Error().Err(runErr).Msg("server error")
	}
	logger.Info().Msg("shutting down")

	if health != nil {
		health.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown timed out, closing connections")
		_ = srv.Close()
	}

	// Refuse late postbacks and let detached audit appends land before the
	// sinks close.
	postbackSvc.Drain()
	return runErr
}

func closeLogged(logger zerolog.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		logger.Error().Err(err).Str("resource", what).Msg("close failed")
	}
}

// unavailableSink stands in for an audit log that could not be opened.
type unavailableSink struct{ err error }

func (u unavailableSink) RecordConversion(context.Context, store.ConversionEntry) error {
	return u.err
}

func (u unavailableSink) RecordBlocked(context.Context, store.BlockedEntry) error {
	return u.err
}
