package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRunChecks(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *Handler)
		expected Status
	}{
		{
			name:     "no checks",
			setup:    func(h *Handler) {},
			expected: StatusHealthy,
		},
		{
			name: "all healthy",
			setup: func(h *Handler) {
				h.Register("a", func(ctx context.Context) (Status, error) { return StatusHealthy, nil })
				h.Register("b", func(ctx context.Context) (Status, error) { return StatusHealthy, nil })
			},
			expected: StatusHealthy,
		},
		{
			name: "degraded wins over healthy",
			setup: func(h *Handler) {
				h.Register("a", func(ctx context.Context) (Status, error) { return StatusHealthy, nil })
				h.Register("b", func(ctx context.Context) (Status, error) { return StatusDegraded, errors.New("slow") })
			},
			expected: StatusDegraded,
		},
		{
			name: "unhealthy wins",
			setup: func(h *Handler) {
				h.Register("a", func(ctx context.Context) (Status, error) { return StatusDegraded, nil })
				h.Register("b", func(ctx context.Context) (Status, error) { return StatusUnhealthy, errors.New("down") })
			},
			expected: StatusUnhealthy,
		},
		{
			name: "optional failure only degrades",
			setup: func(h *Handler) {
				h.RegisterOptional("tool", func(ctx context.Context) (Status, error) { return StatusUnhealthy, errors.New("not installed") })
			},
			expected: StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler("test")
			tt.setup(h)

			resp := h.RunChecks(context.Background())
			if resp.Status != tt.expected {
				t.Errorf("Expected status %s, got %s (%v)", tt.expected, resp.Status, resp.Checks)
			}
			if resp.Version != "test" {
				t.Errorf("Expected version test, got %s", resp.Version)
			}
		})
	}
}

func TestRunChecksTimeout(t *testing.T) {
	h := NewHandler("test")
	h.SetCheckTimeout(20 * time.Millisecond)
	h.Register("hang", func(ctx context.Context) (Status, error) {
		<-ctx.Done()
		return StatusHealthy, nil
	})

	resp := h.RunChecks(context.Background())
	result := resp.Checks["hang"]
	if result.Status != StatusUnhealthy {
		t.Errorf("Expected hung check to be unhealthy, got %s", result.Status)
	}
	if result.Error == "" {
		t.Error("Expected a timeout error")
	}
}

func TestReadinessHandler(t *testing.T) {
	h := NewHandler("test")
	h.Register("storage", func(ctx context.Context) (Status, error) {
		return StatusUnhealthy, errors.New("bucket missing")
	})

	w := httptest.NewRecorder()
	h.ReadinessHandler()(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Checks["storage"].Error != "bucket missing" {
		t.Errorf("Unexpected check result: %+v", resp.Checks["storage"])
	}

	// Full health always answers 200
	w = httptest.NewRecorder()
	h.HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestLivenessHandler(t *testing.T) {
	h := NewHandler("test")
	h.Register("never", func(ctx context.Context) (Status, error) {
		t.Error("Liveness must not run checks")
		return StatusUnhealthy, nil
	})

	w := httptest.NewRecorder()
	h.LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}
