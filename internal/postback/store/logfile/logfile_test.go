package logfile_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/postback-receiver/internal/postback/store"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/store/logfile"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func testPaths(t *testing.T) logfile.Paths {
	dir := t.TempDir()
	return logfile.Paths{
		Conversions: filepath.Join(dir, "conversions.log"),
		Security:    filepath.Join(dir, "security.log"),
	}
}

// ── Ensure ───────────────────────────────────────────────────────────────────

func TestEnsure_CreatesFileWithMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "conversions.log")
	now := time.Date(2026, 2, 15, 12, 0, 0, 123_000_000, time.UTC)

	require.NoError(t, logfile.Ensure(path, now))

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "SERVER STARTED 2026-02-15T12:00:00.123Z", lines[0])
}

func TestEnsure_ExistingFileUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "security.log")
	require.NoError(t, os.WriteFile(path, []byte("previous line\n"), 0o644))

	require.NoError(t, logfile.Ensure(path, time.Now()))

	assert.Equal(t, []string{"previous line"}, readLines(t, path))
}

// ── Line formats ─────────────────────────────────────────────────────────────

func TestConversionLine_Format(t *testing.T) {
	line := logfile.ConversionLine(store.ConversionEntry{
		OfferID:    "TEST123",
		Payout:     "1.5",
		CallerIP:   "127.0.0.1",
		RecordedAt: time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, "TEST123,1.5,127.0.0.1,2026-02-15T12:00:00.000Z", line)
}

func TestBlockedLine_Format(t *testing.T) {
	line := logfile.BlockedLine(store.BlockedEntry{
		CallerIP:  "10.9.8.7",
		BlockedAt: time.Date(2026, 2, 15, 12, 0, 0, 0, time.FixedZone("X", 3600)),
	})
	assert.Equal(t, "[BLOCKED] 2026-02-15T11:00:00.000Z | IP: 10.9.8.7", line)
}

func TestConversionLine_NewlinesEscaped(t *testing.T) {
	line := logfile.ConversionLine(store.ConversionEntry{
		OfferID:    "a\nb",
		Payout:     "0",
		CallerIP:   "1.2.3.4\r\n",
		RecordedAt: time.Now(),
	})
	assert.NotContains(t, line, "\n")
	assert.NotContains(t, line, "\r")
	assert.True(t, strings.HasPrefix(line, `a\nb,0,1.2.3.4\r\n,`))
}

// ── AuditLog ─────────────────────────────────────────────────────────────────

func TestAuditLog_AppendsAfterMarker(t *testing.T) {
	p := testPaths(t)
	al, err := logfile.OpenAuditLog(p, time.Now())
	require.NoError(t, err)
	t.Cleanup(func() { _ = al.Close() })

	ctx := context.Background()
	require.NoError(t, al.RecordConversion(ctx, store.ConversionEntry{OfferID: "A", Payout: "2", CallerIP: "1.1.1.1"}))
	require.NoError(t, al.RecordBlocked(ctx, store.BlockedEntry{CallerIP: "6.6.6.6"}))

	conv := readLines(t, p.Conversions)
	require.Len(t, conv, 2)
	assert.True(t, strings.HasPrefix(conv[0], "SERVER STARTED "))
	assert.True(t, strings.HasPrefix(conv[1], "A,2,1.1.1.1,"))

	sec := readLines(t, p.Security)
	require.Len(t, sec, 2)
	assert.True(t, strings.HasPrefix(sec[1], "[BLOCKED] "))
	assert.True(t, strings.HasSuffix(sec[1], " | IP: 6.6.6.6"))
}

func TestAuditLog_ReopenKeepsHistory(t *testing.T) {
	p := testPaths(t)
	ctx := context.Background()

	first, err := logfile.OpenAuditLog(p, time.Now())
	require.NoError(t, err)
	require.NoError(t, first.RecordConversion(ctx, store.ConversionEntry{OfferID: "A", Payout: "1", CallerIP: "x"}))
	require.NoError(t, first.Close())

	second, err := logfile.OpenAuditLog(p, time.Now())
	require.NoError(t, err)
	require.NoError(t, second.RecordConversion(ctx, store.ConversionEntry{OfferID: "B", Payout: "1", CallerIP: "x"}))
	require.NoError(t, second.Close())

	lines := readLines(t, p.Conversions)
	require.Len(t, lines, 3, "one marker plus two entries; no second marker")
	assert.True(t, strings.HasPrefix(lines[1], "A,"))
	assert.True(t, strings.HasPrefix(lines[2], "B,"))
}

func TestAuditLog_ConcurrentAppendsStayWhole(t *testing.T) {
	p := testPaths(t)
	al, err := logfile.OpenAuditLog(p, time.Now())
	require.NoError(t, err)
	t.Cleanup(func() { _ = al.Close() })

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = al.RecordConversion(context.Background(), store.ConversionEntry{
				OfferID:  fmt.Sprintf("offer-%03d", i),
				Payout:   "1.25",
				CallerIP: "10.0.0.1",
			})
		}(i)
	}
	wg.Wait()

	lines := readLines(t, p.Conversions)
	require.Len(t, lines, n+1)
	for _, l := range lines[1:] {
		assert.Len(t, strings.Split(l, ","), 4, "corrupt line %q", l)
	}
}

func TestAuditLog_WriteAfterCloseFails(t *testing.T) {
	al, err := logfile.OpenAuditLog(testPaths(t), time.Now())
	require.NoError(t, err)
	require.NoError(t, al.Close())

	err = al.RecordBlocked(context.Background(), store.BlockedEntry{CallerIP: "1.2.3.4"})
	assert.ErrorIs(t, err, os.ErrClosed)
}
