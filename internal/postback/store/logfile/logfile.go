// Package logfile writes the audit streams as line-oriented UTF-8 text files.
//
// Each file is opened once in append mode and every entry is written with a
// single Write call under a per-file mutex, so concurrent appends never
// interleave within a line.  Files are never truncated or rewritten.
package logfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/postback-receiver/internal/postback/store"
)

// StartMarker prefixes the first line of a freshly created audit file.
const StartMarker = "SERVER STARTED"

// lineBreaks keeps caller-supplied values from splitting an entry over
// several lines.
var lineBreaks = strings.NewReplacer("\r", `\r`, "\n", `\n`)

// Log is a single append-only file.
type Log struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Ensure creates path with a start marker line if it does not exist yet.
// An existing file is left untouched.
func Ensure(path string, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir log dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	_, werr := f.WriteString(StartMarker + " " + store.ISOTimestamp(now) + "\n")
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("write start marker %s: %w", path, werr)
	}
	return nil
}

// Open opens path for appending, creating it if needed.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Log{path: path, f: f}, nil
}

// AppendLine writes line plus a trailing newline as one write.
func (l *Log) AppendLine(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return fmt.Errorf("append %s: %w", l.path, os.ErrClosed)
	}
	if _, err := l.f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append %s: %w", l.path, err)
	}
	return nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Paths names the two audit files.
type Paths struct {
	Conversions string
	Security    string
}

// AuditLog implements store.AuditSink over the conversions and security files.
type AuditLog struct {
	conversions *Log
	security    *Log
}

// OpenAuditLog ensures both files exist (writing start markers into new ones)
// and opens them for appending.
func OpenAuditLog(p Paths, now time.Time) (*AuditLog, error) {
	for _, path := range []string{p.Conversions, p.Security} {
		if err := Ensure(path, now); err != nil {
			return nil, err
		}
	}

	conv, err := Open(p.Conversions)
	if err != nil {
		return nil, err
	}
	sec, err := Open(p.Security)
	if err != nil {
		_ = conv.Close()
		return nil, err
	}
	return &AuditLog{conversions: conv, security: sec}, nil
}

func (a *AuditLog) RecordConversion(_ context.Context, e store.ConversionEntry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	return a.conversions.AppendLine(ConversionLine(e))
}

func (a *AuditLog) RecordBlocked(_ context.Context, e store.BlockedEntry) error {
	if e.BlockedAt.IsZero() {
		e.BlockedAt = time.Now().UTC()
	}
	return a.security.AppendLine(BlockedLine(e))
}

func (a *AuditLog) Close() error {
	return errors.Join(a.conversions.Close(), a.security.Close())
}

// ConversionLine renders "offerId,payout,callerIp,isoTimestamp".
func ConversionLine(e store.ConversionEntry) string {
	return fmt.Sprintf("%s,%s,%s,%s",
		lineBreaks.Replace(e.OfferID),
		lineBreaks.Replace(e.Payout),
		lineBreaks.Replace(e.CallerIP),
		store.ISOTimestamp(e.RecordedAt),
	)
}

// BlockedLine renders "[BLOCKED] isoTimestamp | IP: callerIp".
func BlockedLine(e store.BlockedEntry) string {
	return fmt.Sprintf("[BLOCKED] %s | IP: %s",
		store.ISOTimestamp(e.BlockedAt),
		lineBreaks.Replace(e.CallerIP),
	)
}
