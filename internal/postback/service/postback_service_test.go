package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/postback-receiver/internal/metrics"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/service"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/store/memory"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/types"
)

func newTestPostbackService() (*service.PostbackService, *memory.Store, *memory.AuditStore) {
	st := memory.New()
	audit := memory.NewAuditStore()
	svc := service.NewPostbackService(st, audit, zerolog.Nop(), metrics.New())
	return svc, st, audit
}

// ── Normalize ────────────────────────────────────────────────────────────────

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		req  types.PostbackRequest
		want types.ConversionRecord
	}{
		{
			name: "aff_sub wins over id",
			req:  types.PostbackRequest{AffSub: "A", ID: "B", Payout: "2", IP: "1.1.1.1", PeerIP: "9.9.9.9"},
			want: types.ConversionRecord{OfferID: "A", Payout: "2", IP: "1.1.1.1"},
		},
		{
			name: "id fallback",
			req:  types.PostbackRequest{ID: "B", PeerIP: "9.9.9.9"},
			want: types.ConversionRecord{OfferID: "B", Payout: "0", IP: "9.9.9.9"},
		},
		{
			name: "empty aff_sub treated as absent",
			req:  types.PostbackRequest{AffSub: "", ID: "B", Payout: "", IP: "", PeerIP: "9.9.9.9"},
			want: types.ConversionRecord{OfferID: "B", Payout: "0", IP: "9.9.9.9"},
		},
		{
			name: "payout kept verbatim",
			req:  types.PostbackRequest{ID: "C", Payout: "not-a-number"},
			want: types.ConversionRecord{OfferID: "C", Payout: "not-a-number"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := service.Normalize(tc.req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalize_MissingOfferID(t *testing.T) {
	_, err := service.Normalize(types.PostbackRequest{Payout: "1", IP: "1.1.1.1"})
	assert.ErrorIs(t, err, service.ErrMissingOfferID)
}

// ── Record ───────────────────────────────────────────────────────────────────

func TestRecord_StoresAndAudits(t *testing.T) {
	svc, st, audit := newTestPostbackService()
	ctx := context.Background()

	rec, err := svc.Record(ctx, types.PostbackRequest{ID: "TEST123", Payout: "1.5", IP: "127.0.0.1"})
	require.NoError(t, err)
	svc.Wait()

	assert.Positive(t, rec.Timestamp)

	stored, ok, err := st.Get(ctx, "TEST123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, stored)

	entries := audit.Conversions()
	require.Len(t, entries, 1)
	assert.Equal(t, "TEST123", entries[0].OfferID)
	assert.Equal(t, "1.5", entries[0].Payout)
	assert.Equal(t, "127.0.0.1", entries[0].CallerIP)
	assert.Equal(t, rec.Timestamp, entries[0].RecordedAt.UnixMilli())
}

func TestRecord_LastWriteWins(t *testing.T) {
	svc, st, audit := newTestPostbackService()
	ctx := context.Background()

	_, err := svc.Record(ctx, types.PostbackRequest{ID: "X", Payout: "1"})
	require.NoError(t, err)
	_, err = svc.Record(ctx, types.PostbackRequest{AffSub: "X", Payout: "2"})
	require.NoError(t, err)
	svc.Wait()

	rec, _, _ := st.Get(ctx, "X")
	assert.Equal(t, "2", rec.Payout)

	n, _ := st.Count(ctx)
	assert.Equal(t, 1, n)
	assert.Len(t, audit.Conversions(), 2, "audit trail keeps both postbacks")
}

func TestRecord_MissingOfferID_NoSideEffects(t *testing.T) {
	svc, st, audit := newTestPostbackService()

	_, err := svc.Record(context.Background(), types.PostbackRequest{Payout: "3"})
	require.ErrorIs(t, err, service.ErrMissingOfferID)
	svc.Wait()

	n, _ := st.Count(context.Background())
	assert.Zero(t, n)
	assert.Empty(t, audit.Conversions())
}

func TestRecord_AuditFailureDoesNotFail(t *testing.T) {
	svc, st, audit := newTestPostbackService()
	audit.Err = errors.New("disk full")

	_, err := svc.Record(context.Background(), types.PostbackRequest{ID: "Y"})
	require.NoError(t, err)
	svc.Wait()

	_, ok, _ := st.Get(context.Background(), "Y")
	assert.True(t, ok)
}

func TestRecord_CanceledContextStillAudits(t *testing.T) {
	svc, _, audit := newTestPostbackService()

	ctx, cancel := context.WithCancel(context.Background())
	_, err := svc.Record(ctx, types.PostbackRequest{ID: "Z"})
	require.NoError(t, err)
	cancel()
	svc.Wait()

	assert.Len(t, audit.Conversions(), 1)
}

// ── Drain ────────────────────────────────────────────────────────────────────

func TestDrain_RejectsNewWorkAndFlushesPending(t *testing.T) {
	svc, st, audit := newTestPostbackService()
	ctx := context.Background()

	_, err := svc.Record(ctx, types.PostbackRequest{ID: "before"})
	require.NoError(t, err)

	svc.Drain()
	assert.Len(t, audit.Conversions(), 1, "pending append landed before Drain returned")

	_, err = svc.Record(ctx, types.PostbackRequest{ID: "after"})
	assert.ErrorIs(t, err, service.ErrShuttingDown)

	_, ok, _ := st.Get(ctx, "after")
	assert.False(t, ok)
	assert.Len(t, audit.Conversions(), 1)
}

func TestDrain_ConcurrentRecords(t *testing.T) {
	svc, st, audit := newTestPostbackService()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = svc.Record(ctx, types.PostbackRequest{ID: fmt.Sprintf("offer-%d", i)})
		}(i)
	}
	svc.Drain()
	wg.Wait()

	// Every record that made it into the store before Drain has its audit
	// line; the rest were refused outright.
	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Len(t, audit.Conversions(), n)
}
