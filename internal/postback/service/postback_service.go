package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/postback-receiver/internal/metrics"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/store"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/types"
)

var (
	ErrMissingOfferID = errors.New("aff_sub or id is required")
	ErrShuttingDown   = errors.New("postback service is shutting down")
)

// DefaultPayout is stored when the caller omits payout.
const DefaultPayout = "0"

type PostbackService struct {
	store   store.ConversionStore
	audit   store.AuditSink
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// pending tracks detached audit appends so shutdown can drain them.
	// Adds happen under mu.RLock; Drain flips draining under mu.Lock, so no
	// Add can start once Drain is waiting.
	pending  sync.WaitGroup
	mu       sync.RWMutex
	draining bool
}

func NewPostbackService(cs store.ConversionStore, audit store.AuditSink, logger zerolog.Logger, m *metrics.Metrics) *PostbackService {
	return &PostbackService{
		store:   cs,
		audit:   audit,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Normalize maps the two parameter naming schemes onto one record.  The
// returned record has no timestamp yet.
func Normalize(req types.PostbackRequest) (types.ConversionRecord, error) {
	offerID := firstNonEmpty(req.AffSub, req.ID)
	if offerID == "" {
		return types.ConversionRecord{}, ErrMissingOfferID
	}
	return types.ConversionRecord{
		OfferID: offerID,
		Payout:  firstNonEmpty(req.Payout, DefaultPayout),
		IP:      firstNonEmpty(req.IP, req.PeerIP),
	}, nil
}

// Record validates and stores a postback, overwriting any earlier record for
// the same offer.  The conversion audit entry is appended in the background;
// its outcome never reaches the caller.
func (s *PostbackService) Record(ctx context.Context, req types.PostbackRequest) (types.ConversionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.draining {
		return types.ConversionRecord{}, ErrShuttingDown
	}

	rec, err := Normalize(req)
	if err != nil {
		s.metrics.Rejected("missing_offer_id")
		return types.ConversionRecord{}, err
	}

	now := s.now()
	rec.Timestamp = now.UnixMilli()

	if err := s.store.Put(ctx, rec); err != nil {
		return types.ConversionRecord{}, err
	}
	s.metrics.ConversionRecorded()

	entry := store.ConversionEntry{
		OfferID:    rec.OfferID,
		Payout:     rec.Payout,
		CallerIP:   rec.IP,
		RecordedAt: now,
	}
	// Detached from the request so a client disconnect cannot cancel it.
	auditCtx := context.WithoutCancel(ctx)

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.audit.RecordConversion(auditCtx, entry); err != nil {
			s.metrics.AuditWriteFailed("conversion")
			s.logger.Error().Err(err).
				Str("stream", "conversion").
				Str("offer_id", entry.OfferID).
				Msg("audit append failed")
		}
	}()

	return rec, nil
}

// Wait blocks until every background audit append started so far has
// finished.
func (s *PostbackService) Wait() {
	s.pending.Wait()
}

// Drain stops accepting postbacks and waits for outstanding audit appends.
// Record returns ErrShuttingDown afterwards.
func (s *PostbackService) Drain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.pending.Wait()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
