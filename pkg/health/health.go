// Package health reports whether a shardprep process is alive and whether
// the backends it writes to are reachable. Checks run concurrently and the
// stage currently running is included in every report.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the health of one backend or of the process as a whole.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// Check probes one backend. A nil error means the backend is up.
type Check func(ctx context.Context) error

// ComponentHealth is the outcome of one Check.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency"`
}

// Report aggregates every check. Status is down when any component is down.
type Report struct {
	Status     Status                     `json:"status"`
	Stage      string                     `json:"stage,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Checker holds the registered checks and the current stage.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
	stage  string
	logger *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]Check),
		logger: slog.Default().With("component", "health"),
	}
}

// Register adds or replaces the check called name.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// SetStage records the stage the pipeline is running.
func (c *Checker) SetStage(stage string) {
	c.mu.Lock()
	c.stage = stage
	c.mu.Unlock()
}

// Stage returns the last stage passed to SetStage.
func (c *Checker) Stage() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stage
}

// Names returns the registered check names in sorted order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for n := range c.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run executes every check concurrently and waits for all of them. Checks
// get ctx as is; callers bound their duration.
func (c *Checker) Run(ctx context.Context) Report {
	names := c.Names()
	c.mu.RLock()
	checks := make([]Check, len(names))
	for i, n := range names {
		checks[i] = c.checks[n]
	}
	stage := c.stage
	c.mu.RUnlock()

	results := make([]ComponentHealth, len(names))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			start := time.Now()
			results[i] = probe(ctx, check)
			results[i].Latency = time.Since(start).Round(time.Millisecond).String()
			return nil
		})
	}
	g.Wait()

	report := Report{
		Status:     StatusUp,
		Stage:      stage,
		Components: make(map[string]ComponentHealth, len(names)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	for i, n := range names {
		report.Components[n] = results[i]
		if results[i].Status == StatusDown {
			report.Status = StatusDown
			c.logger.Warn("backend check failed", "backend", n, "message", results[i].Message)
		}
	}
	return report
}

func probe(ctx context.Context, check Check) ComponentHealth {
	if err := check(ctx); err != nil {
		return ComponentHealth{Status: StatusDown, Message: err.Error()}
	}
	return ComponentHealth{Status: StatusUp}
}

// LiveHandler answers liveness probes with the current stage.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive", "stage": c.Stage()})
	}
}

// ReadyHandler runs every check per request and answers 503 when any
// backend is down.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		code := http.StatusOK
		if report.Status != StatusUp {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
