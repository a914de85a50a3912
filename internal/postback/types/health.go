package types

type HealthResponse struct {
	Status      string       `json:"status"`
	Uptime      float64      `json:"uptime"` // seconds
	Conversions int          `json:"conversions"`
	Memory      *MemoryUsage `json:"memory,omitempty"`
}

// MemoryUsage is a subset of runtime.MemStats, in bytes.
type MemoryUsage struct {
	Sys        uint64 `json:"sys"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	HeapInuse  uint64 `json:"heap_inuse"`
	StackInuse uint64 `json:"stack_inuse"`
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
}
