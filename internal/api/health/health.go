// Package health reports whether the gateway and its dependencies are usable.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentStatus represents the health status of a single component.
type ComponentStatus struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response represents the health check response.
type Response struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
}

// Pinger is an interface for components that can be pinged.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type component struct {
	name     string
	pinger   Pinger
	critical bool
}

// Checker aggregates component checks. A failing critical component makes
// the gateway unhealthy; a failing optional one only degrades it.
type Checker struct {
	startTime time.Time
	version   string

	mu         sync.RWMutex
	timeout    time.Duration
	components []component
}

// NewChecker creates a checker with no components.
func NewChecker(version string) *Checker {
	return &Checker{
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
}

// Critical registers a component the gateway cannot serve without.
func (c *Checker) Critical(name string, p Pinger) *Checker {
	return c.add(name, p, true)
}

// Optional registers a component whose failure degrades the gateway.
func (c *Checker) Optional(name string, p Pinger) *Checker {
	return c.add(name, p, false)
}

func (c *Checker) add(name string, p Pinger, critical bool) *Checker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, component{name: name, pinger: p, critical: critical})
	return c
}

// SetTimeout sets the timeout for health checks.
func (c *Checker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = timeout
}

// Check pings every component concurrently and aggregates the result.
func (c *Checker) Check(ctx context.Context) *Response {
	c.mu.RLock()
	timeout := c.timeout
	comps := append([]component(nil), c.components...)
	c.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make([]ComponentStatus, len(comps))
	var wg sync.WaitGroup
	for i, comp := range comps {
		wg.Add(1)
		go func(i int, comp component) {
			defer wg.Done()
			results[i] = probe(checkCtx, comp)
		}(i, comp)
	}
	wg.Wait()

	overall := StatusHealthy
	components := make(map[string]ComponentStatus, len(comps))
	for i, comp := range comps {
		components[comp.name] = results[i]
		overall = worst(overall, results[i].Status)
	}

	return &Response{
		Status:     overall,
		Components: components,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
	}
}

func probe(ctx context.Context, comp component) ComponentStatus {
	failed := StatusDegraded
	if comp.critical {
		failed = StatusUnhealthy
	}
	if comp.pinger == nil {
		return ComponentStatus{Status: failed, Message: comp.name + " not configured"}
	}
	if err := comp.pinger.Ping(ctx); err != nil {
		return ComponentStatus{Status: failed, Message: comp.name + " ping failed: " + err.Error()}
	}
	return ComponentStatus{Status: StatusHealthy, Message: "reachable"}
}

var severity = map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}

func worst(a, b Status) Status {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// Names returns the registered component names in sorted order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.components))
	for _, comp := range c.components {
		names = append(names, comp.name)
	}
	sort.Strings(names)
	return names
}

// Handler returns an HTTP handler for health checks. Degraded still answers 200.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := c.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if response.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(response)
	}
}
