package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Readiness conditions the service clears during startup.
const (
	CondDatabase = "database" // Postgres reachable, migrations applied
	CondStreams  = "streams"  // event + confirmation streams provisioned
	CondRecovery = "recovery" // persisted round loaded, controller running
)

// HealthChecker tracks liveness and per-condition readiness. The service
// reports ready once every condition registered at construction has been
// cleared.
type HealthChecker struct {
	mu        sync.Mutex
	pending   map[string]struct{}
	startTime time.Time
}

func NewHealthChecker(conditions ...string) *HealthChecker {
	pending := make(map[string]struct{}, len(conditions))
	for _, c := range conditions {
		pending[c] = struct{}{}
	}
	return &HealthChecker{
		pending:   pending,
		startTime: time.Now(),
	}
}

// MarkReady clears one readiness condition.
func (h *HealthChecker) MarkReady(condition string) {
	h.mu.Lock()
	delete(h.pending, condition)
	h.mu.Unlock()
}

// IsReady reports whether every readiness condition has been cleared.
func (h *HealthChecker) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending) == 0
}

func (h *HealthChecker) pendingConditions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, len(h.pending))
	for c := range h.pending {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 once the database is migrated, the
// streams exist, and round recovery has finished. Until then it returns
// 503 naming the conditions still pending.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	pending := h.pendingConditions()
	if len(pending) == 0 {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "not_ready",
		"pending": pending,
	})
}
