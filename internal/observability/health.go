package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// Readiness states.
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// ReadinessResponse is the readiness body.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status    string `json:"status"`
	Critical  bool   `json:"critical"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ReadinessChecks lists the dependencies checked by the readiness endpoint.
// A failing Critical check takes the instance out of rotation. A failing
// Degraded check is reported but the instance keeps serving, for
// dependencies the BFF can ride out such as a tripped portal breaker or an
// identity provider whose keys are still cached.
type ReadinessChecks struct {
	// OpenAPILoaded is always checked as "openapi_index"; nil reports not
	// ready.
	OpenAPILoaded func() bool

	Critical map[string]HealthChecker
	Degraded map[string]HealthChecker
}

var errNoOperations = errors.New("no portal operations indexed")

const checkTimeout = 2 * time.Second

// HandleHealth serves liveness.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version, Commit: Commit})
	}
}

// HandleReady serves readiness. Checks run concurrently, each bounded by
// its own timeout; the response is 503 only when a critical check fails.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	critical := map[string]HealthChecker{
		"openapi_index": HealthCheckFunc(func(context.Context) error {
			if checks.OpenAPILoaded == nil || !checks.OpenAPILoaded() {
				return errNoOperations
			}
			return nil
		}),
	}
	for name, c := range checks.Critical {
		critical[name] = c
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var (
			mu      sync.Mutex
			results = make(map[string]CheckResult, len(critical)+len(checks.Degraded))
			g       errgroup.Group
		)
		check := func(name string, c HealthChecker, isCritical bool) {
			g.Go(func() error {
				res := runCheck(r.Context(), c)
				res.Critical = isCritical
				mu.Lock()
				results[name] = res
				mu.Unlock()
				return nil
			})
		}
		for name, c := range critical {
			check(name, c, true)
		}
		for name, c := range checks.Degraded {
			check(name, c, false)
		}
		_ = g.Wait()

		resp := ReadinessResponse{Status: StatusReady, Checks: results}
		for _, res := range results {
			if res.Status == "ok" {
				continue
			}
			if res.Critical {
				resp.Status = StatusNotReady
				break
			}
			resp.Status = StatusDegraded
		}
		status := http.StatusOK
		if resp.Status == StatusNotReady {
			status = http.StatusServiceUnavailable
		}
		writeHealthJSON(w, status, resp)
	}
}

func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
