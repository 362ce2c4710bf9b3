// Package healthcheck provides liveness/readiness HTTP handlers for the
// agent's optional debug listener.
package healthcheck

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HealthChecker provides health check endpoints.
type HealthChecker struct {
	dbChecker      DatabaseChecker
	storageChecker StorageChecker
	logger         zerolog.Logger

	// Cached status for efficiency
	mu           sync.RWMutex
	cachedStatus *HealthStatus
	cacheExpiry  time.Time
	cacheTTL     time.Duration
}

// DatabaseChecker checks catalog connectivity. *catalog.Catalog satisfies
// this via Ping.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// StorageChecker checks blob store accessibility. *store.BlobStore
// satisfies this via HealthCheck.
type StorageChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckerConfig contains health checker configuration.
type HealthCheckerConfig struct {
	DatabaseChecker DatabaseChecker
	StorageChecker  StorageChecker
	Logger          zerolog.Logger
	CacheTTL        time.Duration
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker(config HealthCheckerConfig) *HealthChecker {
	cacheTTL := config.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Second
	}

	return &HealthChecker{
		dbChecker:      config.DatabaseChecker,
		storageChecker: config.StorageChecker,
		logger:         config.Logger.With().Str("handler", "health").Logger(),
		cacheTTL:       cacheTTL,
	}
}

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status     string                      `json:"status"`
	Timestamp  time.Time                   `json:"timestamp"`
	Uptime     string                      `json:"uptime,omitempty"`
	Components map[string]*ComponentStatus `json:"components"`
}

// ComponentStatus represents the health of a single component.
type ComponentStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Status constants
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

var startTime = time.Now()

// HandleLiveness handles liveness probe requests (/healthz). Returns 200
// if the process is running at all.
func (h *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": StatusHealthy,
	})
}

// HandleReadiness handles readiness probe requests (/readyz). Returns 200
// only if the catalog and blob store are both reachable.
func (h *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.checkComponents(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusHealthy || status.Status == StatusDegraded {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

// HandleHealth handles detailed health check requests, caching the result
// for cacheTTL to avoid hammering the catalog/blob store on scrape.
func (h *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	if h.cachedStatus != nil && time.Now().Before(h.cacheExpiry) {
		status := h.cachedStatus
		h.mu.RUnlock()
		h.writeHealthResponse(w, status)
		return
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := h.checkComponents(ctx)
	status.Uptime = time.Since(startTime).Round(time.Second).String()

	h.mu.Lock()
	h.cachedStatus = status
	h.cacheExpiry = time.Now().Add(h.cacheTTL)
	h.mu.Unlock()

	h.writeHealthResponse(w, status)
}

func (h *HealthChecker) writeHealthResponse(w http.ResponseWriter, status *HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	switch status.Status {
	case StatusHealthy, StatusDegraded:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

func (h *HealthChecker) checkComponents(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]*ComponentStatus),
	}

	status.Components["catalog"] = h.checkCatalog(ctx)
	status.Components["storage"] = h.checkStorage(ctx)

	for _, comp := range status.Components {
		if comp.Status == StatusUnhealthy {
			status.Status = StatusUnhealthy
			break
		}
		if comp.Status == StatusDegraded {
			status.Status = StatusDegraded
		}
	}
	return status
}

func (h *HealthChecker) checkCatalog(ctx context.Context) *ComponentStatus {
	if h.dbChecker == nil {
		return &ComponentStatus{Status: StatusUnhealthy, Error: "catalog checker not configured"}
	}

	start := time.Now()
	err := h.dbChecker.Ping(ctx)
	latency := time.Since(start)
	if err != nil {
		h.logger.Warn().Err(err).Msg("catalog health check failed")
		return &ComponentStatus{Status: StatusUnhealthy, Latency: latency.String(), Error: err.Error()}
	}

	status := StatusHealthy
	if latency > 100*time.Millisecond {
		status = StatusDegraded
	}
	return &ComponentStatus{Status: status, Latency: latency.String()}
}

func (h *HealthChecker) checkStorage(ctx context.Context) *ComponentStatus {
	if h.storageChecker == nil {
		return &ComponentStatus{Status: StatusUnhealthy, Error: "storage checker not configured"}
	}

	start := time.Now()
	err := h.storageChecker.HealthCheck(ctx)
	latency := time.Since(start)
	if err != nil {
		h.logger.Warn().Err(err).Msg("storage health check failed")
		return &ComponentStatus{Status: StatusUnhealthy, Latency: latency.String(), Error: err.Error()}
	}

	status := StatusHealthy
	if latency > 500*time.Millisecond {
		status = StatusDegraded
	}
	return &ComponentStatus{Status: status, Latency: latency.String()}
}
