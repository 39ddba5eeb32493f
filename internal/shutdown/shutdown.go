// Package shutdown coordinates a graceful stop of the gateway. On SIGTERM or
// SIGINT it stops accepting requests, ends live relays, flushes pending
// drafts and then closes the store and trace exporter.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultTimeout is the default graceful shutdown timeout.
const DefaultTimeout = 30 * time.Second

// Component is something that must be stopped before the process exits.
type Component interface {
	Name() string
	// Shutdown must return by the context deadline.
	Shutdown(ctx context.Context) error
}

// Coordinator stops registered components one at a time, most recently
// registered first, under a single shared deadline. Whatever others depend
// on, such as the store, is registered first.
type Coordinator struct {
	components []Component
	timeout    time.Duration
	logger     *slog.Logger
	mu         sync.Mutex

	signalCh chan os.Signal

	shutdownOnce sync.Once
	shutdownDone chan struct{}
	exitCode     int
	errs         []error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the shutdown timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSignalChannel replaces OS signal delivery.
func WithSignalChannel(ch chan os.Signal) Option {
	return func(c *Coordinator) {
		c.signalCh = ch
	}
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		timeout:      DefaultTimeout,
		logger:       slog.Default(),
		shutdownDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a component. Components registered after shutdown began are ignored.
func (c *Coordinator) Register(component Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, component)
	c.logger.Debug("registered shutdown component", "name", component.Name())
}

// WaitForSignal blocks until SIGTERM, SIGINT or ctx ends, then shuts down.
func (c *Coordinator) WaitForSignal(ctx context.Context) {
	sigCh := c.signalCh
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	select {
	case sig := <-sigCh:
		c.logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		c.logger.Info("context ended, shutting down")
	}
	c.Shutdown()
}

// Shutdown stops every component. Only the first call does anything; later
// calls return once the first has finished.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		defer close(c.shutdownDone)
		c.logger.Info("initiating graceful shutdown", "timeout", c.timeout)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		c.mu.Lock()
		components := make([]Component, len(c.components))
		copy(components, c.components)
		c.mu.Unlock()

		for i := len(components) - 1; i >= 0; i-- {
			comp := components[i]
			if ctx.Err() != nil {
				c.logger.Warn("shutdown timeout exceeded, skipping component", "name", comp.Name())
				c.exitCode = 1
				continue
			}
			start := time.Now()
			if err := c.stop(ctx, comp); err != nil {
				c.logger.Error("component shutdown error", "name", comp.Name(), "error", err)
				c.errs = append(c.errs, err)
				if errors.Is(err, context.DeadlineExceeded) {
					c.exitCode = 1
				}
				continue
			}
			c.logger.Info("component stopped", "name", comp.Name(), "took", time.Since(start).Round(time.Millisecond))
		}

		if c.exitCode == 0 {
			c.logger.Info("all components shut down")
		} else {
			c.logger.Warn("shutdown timeout exceeded, forcing termination")
		}
	})
	<-c.shutdownDone
}

// stop runs one component, giving up when ctx ends even if it does not.
func (c *Coordinator) stop(ctx context.Context, comp Component) error {
	done := make(chan error, 1)
	go func() { done <- comp.Shutdown(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until shutdown is complete.
func (c *Coordinator) Wait() {
	<-c.shutdownDone
}

// ExitCode is 0 after a clean shutdown and 1 when the deadline forced it.
// Component errors that are not timeouts do not change it. Call after Wait.
func (c *Coordinator) ExitCode() int {
	return c.exitCode
}

// Err joins the errors returned by components. Call after Wait.
func (c *Coordinator) Err() error {
	return errors.Join(c.errs...)
}
