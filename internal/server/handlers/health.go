package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/3leaps/gostudio/internal/errors"
)

// checkTimeout bounds one dependency probe.
const checkTimeout = 5 * time.Second

// HealthChecker probes one dependency.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the body returned by the health endpoints.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HealthManager runs registered checkers and serves the health endpoints.
type HealthManager struct {
	mu       sync.RWMutex
	version  string
	checkers map[string]HealthChecker
}

// NewHealthManager creates a manager reporting the given version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds a named dependency probe. Re-registering a name
// replaces the previous checker.
func (m *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

// Version returns the version string the manager reports.
func (m *HealthManager) Version() string {
	return m.version
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]string, len(m.checkers))
	for name, checker := range m.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checker.CheckHealth(cctx)
		cancel()

		switch {
		case err == nil:
			results[name] = "healthy"
		case errors.Is(err, context.DeadlineExceeded):
			results[name] = "timeout"
		default:
			results[name] = "unhealthy"
		}
	}
	return results
}

// determineOverallStatus folds per-check results into one status. Any
// unhealthy check makes the whole service unhealthy; timeouts alone
// degrade it.
func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	status := "healthy"
	for _, s := range checks {
		switch s {
		case "unhealthy":
			return "unhealthy"
		case "timeout":
			status = "degraded"
		}
	}
	return status
}

// HealthHandler serves GET /health: full dependency checks.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	status := m.determineOverallStatus(checks)

	if status == "unhealthy" {
		m.respondUnhealthy(w, r, checks)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  status,
		Version: m.version,
		Checks:  checks,
	})
}

// LivenessHandler serves GET /health/live: process-up only, no
// dependency probes.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "alive", Version: m.version})
}

// ReadinessHandler serves GET /health/ready: dependency checks gate
// traffic admission.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	status := m.determineOverallStatus(checks)

	if status == "unhealthy" {
		m.respondUnhealthy(w, r, checks)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  status,
		Version: m.version,
		Checks:  checks,
	})
}

// StartupHandler serves GET /health/startup. Initialization completes
// before the listener opens, so reaching this handler means startup is
// done.
func (m *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "started", Version: m.version})
}

func (m *HealthManager) respondUnhealthy(w http.ResponseWriter, r *http.Request, checks map[string]string) {
	respondWithError(w, r, &apperrors.AppError{
		Code:    apperrors.CodeServiceUnavailable,
		Message: "one or more health checks failed",
		Status:  http.StatusServiceUnavailable,
		Details: map[string]interface{}{"checks": checks},
	})
}

// globalHealthManager backs the package-level handler functions the
// server routes to.
var globalHealthManager *HealthManager

// InitHealthManager installs the process-wide health manager.
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide health manager, nil before
// InitHealthManager.
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

// HealthHandler serves GET /health through the global manager.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		respondUninitialized(w, r)
		return
	}
	globalHealthManager.HealthHandler(w, r)
}

// LivenessHandler serves GET /health/live through the global manager.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		respondUninitialized(w, r)
		return
	}
	globalHealthManager.LivenessHandler(w, r)
}

// ReadinessHandler serves GET /health/ready through the global manager.
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		respondUninitialized(w, r)
		return
	}
	globalHealthManager.ReadinessHandler(w, r)
}

// StartupHandler serves GET /health/startup through the global manager.
func StartupHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		respondUninitialized(w, r)
		return
	}
	globalHealthManager.StartupHandler(w, r)
}

func respondUninitialized(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, &apperrors.AppError{
		Code:    apperrors.CodeServiceUnavailable,
		Message: "health manager not initialized",
		Status:  http.StatusServiceUnavailable,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
