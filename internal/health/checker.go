// Package health provides liveness and readiness probes.
package health

import (
	"context"
	"sync"
	"time"
)

// ReadinessChecker verifies a dependency is ready to accept work.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Check names one readiness dependency. A failing optional check degrades
// the service instead of taking it out of rotation.
type Check struct {
	Name     string
	Checker  ReadinessChecker
	Optional bool
}

// Checker runs the readiness checks and caches the result briefly.
type Checker struct {
	checks  []Check
	timeout time.Duration
	ttl     time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a health checker over the given dependencies.
func NewChecker(checks ...Check) *Checker {
	return &Checker{
		checks:  checks,
		timeout: 5 * time.Second,
		ttl:     time.Second,
	}
}

// Liveness reports whether the process is alive. It checks no dependencies.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness runs every check. The service is unhealthy while shutting down,
// when no checks are configured, or when a required check fails.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}
	if c.cachedReady != nil && time.Since(c.lastCheck) < c.ttl {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	response := &Response{
		Status: StatusHealthy,
		Checks: make(map[string]CheckResult, len(c.checks)),
	}
	if len(c.checks) == 0 {
		response.Status = StatusUnhealthy
		response.Checks["config"] = CheckResult{Status: StatusUnhealthy, Message: "no readiness checks configured"}
	}

	results := make([]CheckResult, len(c.checks))
	var wg sync.WaitGroup
	for i, check := range c.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.run(ctx, check)
		}()
	}
	wg.Wait()

	for i, check := range c.checks {
		result := results[i]
		if result.Status != StatusHealthy {
			if check.Optional {
				result.Status = StatusDegraded
				if response.Status == StatusHealthy {
					response.Status = StatusDegraded
				}
			} else {
				response.Status = StatusUnhealthy
			}
		}
		response.Checks[check.Name] = result
	}

	c.mu.Lock()
	if !c.shuttingDown {
		c.cachedReady = response
		c.lastCheck = time.Now()
	}
	c.mu.Unlock()

	return response
}

func (c *Checker) run(ctx context.Context, check Check) CheckResult {
	if check.Checker == nil {
		return CheckResult{Status: StatusUnhealthy, Message: check.Name + " not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := check.Checker.Ready(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// IsReady returns true if the service should receive traffic.
func (r *Response) IsReady() bool {
	return r.Status == StatusHealthy || r.Status == StatusDegraded
}

// SetShuttingDown makes readiness fail from now on, so load balancers
// stop routing new traffic before the servers close.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}
