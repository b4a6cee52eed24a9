// Package handlers contains the health checks and admin authentication used
// by the HTTP server.
package handlers

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// checkTimeout bounds a single dependency check.
const checkTimeout = 3 * time.Second

// HealthChecker reports the health of the process and its dependencies.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc checks one dependency. A nil error means healthy.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the aggregated result served on /health and /ready.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Ready     bool                   `json:"ready"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// CompositeHealthChecker runs its named checks in parallel. Checks are
// registered at startup, before the checker is served.
type CompositeHealthChecker struct {
	names   []string
	checks  []HealthCheckFunc
	started time.Time
	version string
}

// NewCompositeHealthChecker creates an empty checker reporting version.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{started: time.Now(), version: version}
}

// AddCheck registers a named check.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.names = append(c.names, name)
	c.checks = append(c.checks, check)
}

// Check runs every check and aggregates the results. The service is ready
// only when every dependency is healthy.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	results := make([]CheckResult, len(c.checks))

	var wg sync.WaitGroup
	for i, check := range c.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = run(ctx, check)
		}()
	}
	wg.Wait()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(results)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
		Message:   "All checks passed",
	}

	var failed []string
	for i, res := range results {
		status.Checks[c.names[i]] = res
		if !res.Healthy {
			failed = append(failed, c.names[i])
		}
	}
	if len(failed) > 0 {
		slices.Sort(failed)
		status.Healthy = false
		status.Ready = false
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	}
	return status
}

func run(ctx context.Context, check HealthCheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	res := CheckResult{
		Healthy:  err == nil,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// Pinger is anything that can verify its connection, such as the Redis store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewStoreCheck creates a health check that pings the KV store.
func NewStoreCheck(store Pinger) HealthCheckFunc {
	return func(ctx context.Context) error {
		return store.Ping(ctx)
	}
}
