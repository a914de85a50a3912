package service

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/postback-receiver/internal/postback/store"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/types"
)

var (
	ErrMissingID = errors.New("id is required")
)

// StatusService answers the read-only /check and /health queries.
type StatusService struct {
	store     store.ConversionStore
	logger    zerolog.Logger
	startedAt time.Time

	// ReadMemory returns nil when stats are unavailable.
	ReadMemory func() *types.MemoryUsage
}

func NewStatusService(cs store.ConversionStore, logger zerolog.Logger, startedAt time.Time) *StatusService {
	return &StatusService{
		store:      cs,
		logger:     logger,
		startedAt:  startedAt,
		ReadMemory: RuntimeMemory,
	}
}

func (s *StatusService) Check(ctx context.Context, offerID string) (types.CheckResponse, error) {
	if offerID == "" {
		return types.CheckResponse{}, ErrMissingID
	}

	rec, ok, err := s.store.Get(ctx, offerID)
	if err != nil {
		return types.CheckResponse{}, err
	}
	if !ok {
		return types.CheckResponse{Completed: false, Data: nil}, nil
	}
	return types.CheckResponse{Completed: true, Data: &rec}, nil
}

// Health never fails; an unreadable count is reported as zero.
func (s *StatusService) Health(ctx context.Context) types.HealthResponse {
	n, err := s.store.Count(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("health: store count failed")
		n = 0
	}

	uptime := time.Since(s.startedAt).Seconds()
	if uptime < 0 {
		uptime = 0
	}

	return types.HealthResponse{
		Status:      "OK",
		Uptime:      uptime,
		Conversions: n,
		Memory:      s.memory(),
	}
}

func (s *StatusService) memory() (mem *types.MemoryUsage) {
	if s.ReadMemory == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn().Interface("panic", r).Msg("health: memory stats unavailable")
			mem = nil
		}
	}()
	return s.ReadMemory()
}

// RuntimeMemory reads the Go runtime's memory statistics.
func RuntimeMemory() *types.MemoryUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return &types.MemoryUsage{
		Sys:        ms.Sys,
		HeapAlloc:  ms.HeapAlloc,
		HeapSys:    ms.HeapSys,
		HeapInuse:  ms.HeapInuse,
		StackInuse: ms.StackInuse,
		NumGC:      ms.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}
