package store

import (
	"context"
	"errors"
	"time"
)

// isoLayout matches JavaScript's Date.prototype.toISOString, which the
// existing log consumers expect.
const isoLayout = "2006-01-02T15:04:05.000Z"

// ISOTimestamp renders t in UTC with millisecond precision.
func ISOTimestamp(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// ConversionEntry is one line of the conversions audit stream.
type ConversionEntry struct {
	OfferID    string
	Payout     string
	CallerIP   string
	RecordedAt time.Time
}

// BlockedEntry is one line of the security audit stream.
type BlockedEntry struct {
	CallerIP  string
	BlockedAt time.Time
}

// AuditSink persists audit entries as an append-only log.  There is no read
// path.
type AuditSink interface {
	RecordConversion(ctx context.Context, e ConversionEntry) error
	RecordBlocked(ctx context.Context, e BlockedEntry) error
}

// Sinks fans every entry out to each sink in order.  All sinks are attempted
// even if an earlier one fails; the failures are joined.
type Sinks []AuditSink

func (s Sinks) RecordConversion(ctx context.Context, e ConversionEntry) error {
	var errs []error
	for _, sink := range s {
		if err := sink.RecordConversion(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s Sinks) RecordBlocked(ctx context.Context, e BlockedEntry) error {
	var errs []error
	for _, sink := range s {
		if err := sink.RecordBlocked(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
