package http

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/sawpanic/backtester/internal/application"
	"github.com/sawpanic/backtester/internal/data"
)

// HealthHandler provides system health status endpoint
type HealthHandler struct {
	svc       *application.Service
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(svc *application.Service, version string) *HealthHandler {
	return &HealthHandler{svc: svc, startTime: time.Now(), version: version}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string           `json:"status"` // "healthy" or "unhealthy"
	Timestamp  time.Time        `json:"timestamp"`
	Uptime     string           `json:"uptime"`
	Version    string           `json:"version"`
	Source     string           `json:"source"`
	Strategies int              `json:"strategies"`
	Cache      *data.CacheStats `json:"cache,omitempty"`
	System     SystemInfo       `json:"system"`
}

// SystemInfo provides system-level information
type SystemInfo struct {
	GoVersion     string `json:"goVersion"`
	NumGoroutines int    `json:"numGoroutines"`
	MemAlloc      uint64 `json:"memAllocBytes"`
	NumGC         uint32 `json:"numGc"`
}

// ServeHTTP implements the health check endpoint
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Version:    h.version,
		Source:     h.svc.SourceName(),
		Strategies: h.svc.Registry().Len(),
		System: SystemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
			MemAlloc:      mem.Alloc,
			NumGC:         mem.NumGC,
		},
	}
	if st, ok := h.svc.CacheStats(); ok {
		resp.Cache = &st
	}
	status := http.StatusOK
	if resp.Strategies == 0 {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
