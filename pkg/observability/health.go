package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// readinessTimeout bounds a single /readyz evaluation.
const readinessTimeout = 5 * time.Second

// HealthStatus is the body served by /readyz.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is the outcome of one check.
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// depCheck tests one dependency. A failing critical check makes the
// service unhealthy; any other failure only degrades it.
type depCheck struct {
	name     string
	critical bool
	run      func(ctx context.Context) error
}

// HealthChecker serves liveness and readiness for the API process.
type HealthChecker struct {
	checks  []depCheck
	version string
}

// NewHealthChecker builds the readiness checks. Either dependency may be nil.
// The database is critical and must carry the authorization schema; Redis
// only backs tokens and rate limits, so losing it degrades.
func NewHealthChecker(db *sql.DB, client *redis.Client) *HealthChecker {
	h := &HealthChecker{}
	if db != nil {
		h.checks = append(h.checks,
			depCheck{name: "database", critical: true, run: db.PingContext},
			depCheck{name: "schema", critical: true, run: func(ctx context.Context) error {
				var n int
				return db.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles").Scan(&n)
			}},
		)
	}
	if client != nil {
		h.checks = append(h.checks, depCheck{name: "redis", run: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	}
	return h
}

// WithVersion sets the version reported by /readyz.
func (h *HealthChecker) WithVersion(version string) *HealthChecker {
	h.version = version
	return h
}

// Check runs every check concurrently and folds the results.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	results := make([]DependencyStatus, len(h.checks))

	var wg sync.WaitGroup
	for i, p := range h.checks {
		wg.Add(1)
		go func(i int, p depCheck) {
			defer wg.Done()
			start := time.Now()
			res := DependencyStatus{Status: StatusHealthy, Timestamp: start}
			if err := p.run(ctx); err != nil {
				res.Status = StatusUnhealthy
				res.Message = err.Error()
			}
			res.Latency = time.Since(start)
			results[i] = res
		}(i, p)
	}
	wg.Wait()

	out := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.checks)),
	}
	for i, p := range h.checks {
		out.Dependencies[p.name] = results[i]
		if results[i].Status == StatusHealthy {
			continue
		}
		switch {
		case p.critical:
			out.Status = StatusUnhealthy
		case out.Status == StatusHealthy:
			out.Status = StatusDegraded
		}
	}
	return out
}

// Names lists the configured checks in sorted order.
func (h *HealthChecker) Names() []string {
	names := make([]string, 0, len(h.checks))
	for _, p := range h.checks {
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}

// Liveness answers 200 as long as the process can serve a request.
func (h *HealthChecker) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness answers 503 when a critical check fails, 200 otherwise.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// RegisterHealthRoutes mounts /healthz and /readyz.
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/healthz", checker.Liveness)
	mux.HandleFunc("/readyz", checker.Readiness)
}
