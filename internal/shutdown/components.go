package shutdown

import (
	"context"
	"io"
)

// Shutdowner is anything stopped with a deadline, such as an HTTP server
// or a trace provider.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// ServerComponent stops a Shutdowner. In-flight requests finish first.
type ServerComponent struct {
	name   string
	server Shutdowner
}

// NewServerComponent wraps s.
func NewServerComponent(name string, s Shutdowner) *ServerComponent {
	return &ServerComponent{name: name, server: s}
}

func (c *ServerComponent) Name() string { return c.name }

func (c *ServerComponent) Shutdown(ctx context.Context) error {
	return c.server.Shutdown(ctx)
}

// CloserComponent closes an io.Closer, such as the store.
type CloserComponent struct {
	name   string
	closer io.Closer
}

// NewCloserComponent wraps closer.
func NewCloserComponent(name string, closer io.Closer) *CloserComponent {
	return &CloserComponent{name: name, closer: closer}
}

func (c *CloserComponent) Name() string { return c.name }

func (c *CloserComponent) Shutdown(ctx context.Context) error {
	return c.closer.Close()
}

// FuncComponent runs a function that cannot be interrupted, such as the
// relay hub's Close or flushing pending drafts.
type FuncComponent struct {
	name string
	fn   func()
}

// NewFuncComponent wraps fn.
func NewFuncComponent(name string, fn func()) *FuncComponent {
	return &FuncComponent{name: name, fn: fn}
}

func (c *FuncComponent) Name() string { return c.name }

func (c *FuncComponent) Shutdown(ctx context.Context) error {
	c.fn()
	return nil
}
