package httpapi

import (
	"net/http"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/postback-receiver/internal/postback/types"
)

// ── Check ────────────────────────────────────────────────────────────────────

func checkResponseToProto(r types.CheckResponse) (*structpb.Struct, error) {
	var data any
	if r.Data != nil {
		data = conversionToMap(*r.Data)
	}
	return structpb.NewStruct(map[string]any{
		"completed": r.Completed,
		"data":      data,
	})
}

func conversionToMap(rec types.ConversionRecord) map[string]any {
	return map[string]any{
		"timestamp": rec.Timestamp,
		"payout":    rec.Payout,
		"ip":        rec.IP,
	}
}

// ── Health ───────────────────────────────────────────────────────────────────

func healthResponseToProto(r types.HealthResponse) (*structpb.Struct, error) {
	m := map[string]any{
		"status":      r.Status,
		"uptime":      r.Uptime,
		"conversions": r.Conversions,
	}
	if mem := r.Memory; mem != nil {
		m["memory"] = map[string]any{
			"sys":         mem.Sys,
			"heap_alloc":  mem.HeapAlloc,
			"heap_sys":    mem.HeapSys,
			"heap_inuse":  mem.HeapInuse,
			"stack_inuse": mem.StackInuse,
			"num_gc":      mem.NumGC,
			"goroutines":  mem.Goroutines,
		}
	}
	return structpb.NewStruct(m)
}

func writeStruct(w http.ResponseWriter, status int, msg *structpb.Struct, err error) {
	if err != nil {
		http.Error(w, "proto conversion error", http.StatusInternalServerError)
		return
	}
	writeProto(w, status, msg)
}
