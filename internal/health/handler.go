package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultCheckTimeout bounds a single check when none is configured
const DefaultCheckTimeout = 3 * time.Second

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) (Status, error)

// Check represents a registered health check. Optional checks never make the
// service unhealthy; their worst outcome is degraded.
type Check struct {
	Name     string    `json:"name"`
	Optional bool      `json:"optional"`
	Check    CheckFunc `json:"-"`
}

// Response represents a health check response
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Status   Status `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// Handler manages health checks
type Handler struct {
	checks       map[string]*Check
	mu           sync.RWMutex
	version      string
	started      time.Time
	checkTimeout time.Duration
}

// NewHandler creates a new health check handler
func NewHandler(version string) *Handler {
	return &Handler{
		checks:       make(map[string]*Check),
		version:      version,
		started:      time.Now(),
		checkTimeout: DefaultCheckTimeout,
	}
}

// SetCheckTimeout changes the per-check deadline
func (h *Handler) SetCheckTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultCheckTimeout
	}
	h.mu.Lock()
	h.checkTimeout = d
	h.mu.Unlock()
}

// Register adds a health check
func (h *Handler) Register(name string, checkFunc CheckFunc) {
	h.register(&Check{Name: name, Check: checkFunc})
}

// RegisterOptional adds a check whose failure only degrades the service
func (h *Handler) RegisterOptional(name string, checkFunc CheckFunc) {
	h.register(&Check{Name: name, Optional: true, Check: checkFunc})
}

func (h *Handler) register(c *Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[c.Name] = c
}

// RunChecks executes all registered health checks concurrently, each under its own timeout
func (h *Handler) RunChecks(ctx context.Context) Response {
	h.mu.RLock()
	checks := make([]*Check, 0, len(h.checks))
	for _, c := range h.checks {
		checks = append(checks, c)
	}
	timeout := h.checkTimeout
	h.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var (
		wg  sync.WaitGroup
		rmu sync.Mutex
	)
	for _, c := range checks {
		wg.Add(1)
		go func(c *Check) {
			defer wg.Done()
			result := runCheck(ctx, c, timeout)
			rmu.Lock()
			results[c.Name] = result
			rmu.Unlock()
		}(c)
	}
	wg.Wait()

	overallStatus := StatusHealthy
	for _, result := range results {
		// Determine overall status
		if result.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
		} else if result.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return Response{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Checks:    results,
		Version:   h.version,
	}
}

func runCheck(ctx context.Context, c *Check, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	status, err := c.Check(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
		status = StatusUnhealthy
	}
	if c.Optional && status == StatusUnhealthy {
		status = StatusDegraded
	}

	result := CheckResult{
		Status:   status,
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// LivenessHandler returns an HTTP handler for liveness checks
// Liveness checks determine if the application is running
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(Response{
			Status:    StatusHealthy,
			Timestamp: time.Now(),
			Version:   h.version,
		})
	}
}

// ReadinessHandler returns an HTTP handler for readiness checks
// Readiness checks determine if the application is ready to serve traffic
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		response := h.RunChecks(ctx)

		w.Header().Set("Content-Type", "application/json")

		// Return 503 if unhealthy, 200 otherwise
		statusCode := http.StatusOK
		if response.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(response)
	}
}

// HealthHandler returns an HTTP handler for full health checks
func (h *Handler) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		response := h.RunChecks(ctx)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}
