package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/AbdelilahOu/mcp-clickhouse/internal/client"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/config"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/logger"
	"github.com/AbdelilahOu/mcp-clickhouse/internal/metrics"
)

// DefaultSession keys the state of transports without session ids (stdio).
const DefaultSession = "default"

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrRegistryClosed     = errors.New("connection registry is closed")
)

// Opener opens a client for a configured connection.
type Opener func(ctx context.Context, conn config.Connection) (*client.DBClient, error)

// Registry holds the lazily opened named connections and the active
// connection of every MCP session.
type Registry struct {
	cfg     *config.Config
	open    Opener
	metrics *metrics.Metrics

	opening singleflight.Group

	mu       sync.RWMutex
	clients  map[string]*client.DBClient
	sessions map[string]string
	closed   bool
}

func NewRegistry(cfg *config.Config) *Registry {
	return NewRegistryWithOpener(cfg, client.NewDBClient)
}

func NewRegistryWithOpener(cfg *config.Config, open Opener) *Registry {
	return &Registry{
		cfg:      cfg,
		open:     open,
		clients:  make(map[string]*client.DBClient),
		sessions: make(map[string]string),
	}
}

// SetMetrics counts connection events in m.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

func (r *Registry) event(event, name, dbType string, err error) {
	logger.LogConnectionEvent(event, name, dbType, err)
	if r.metrics != nil {
		r.metrics.ObserveConnection(event, name, err)
	}
}

func sessionKey(sessionID string) string {
	if sessionID == "" {
		return DefaultSession
	}
	return sessionID
}

// Active returns the connection name the session is using.
func (r *Registry) Active(sessionID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, ok := r.sessions[sessionKey(sessionID)]; ok {
		return name
	}
	return r.cfg.DefaultConnection
}

// Client returns the client of the session's active connection, opening it
// on first use.
func (r *Registry) Client(ctx context.Context, sessionID string) (*client.DBClient, error) {
	return r.Get(ctx, r.Active(sessionID))
}

func (r *Registry) cached(name string) (*client.DBClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// Get returns the client of the named connection, opening it on first use.
// Concurrent callers share one open per name and the registry lock is not
// held while dialing. The open is bounded by the query timeout, and a caller
// whose ctx ends first stops waiting for it.
func (r *Registry) Get(ctx context.Context, name string) (*client.DBClient, error) {
	if c, ok := r.cached(name); ok {
		return c, nil
	}

	conn, exists := r.cfg.GetConnection(name)
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrConnectionNotFound, name)
	}

	ch := r.opening.DoChan(name, func() (any, error) {
		if c, ok := r.cached(name); ok {
			return c, nil
		}

		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.QueryTimeout())
		defer cancel()
		c, err := r.open(openCtx, conn)
		if err != nil {
			r.event("open", name, string(conn.Type), err)
			return nil, fmt.Errorf("failed to connect to '%s': %w", name, err)
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			c.Close()
			return nil, ErrRegistryClosed
		}
		if existing, ok := r.clients[name]; ok {
			r.mu.Unlock()
			c.Close()
			return existing, nil
		}
		r.clients[name] = c
		r.mu.Unlock()

		r.event("open", name, string(conn.Type), nil)
		return c, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*client.DBClient), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to connect to '%s': %w", name, ctx.Err())
	}
}

// Switch makes name the active connection of the session. The connection is
// opened first so a failing switch leaves the session untouched.
func (r *Registry) Switch(ctx context.Context, sessionID, name string) (*client.DBClient, error) {
	c, err := r.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[sessionKey(sessionID)] = name
	r.mu.Unlock()
	r.event("switch", name, string(c.Type()), nil)
	return c, nil
}

// Test pings the named connection and reports the round trip. A client
// that is not open yet is opened for the test and closed again.
func (r *Registry) Test(ctx context.Context, name string) (time.Duration, error) {
	conn, exists := r.cfg.GetConnection(name)
	if !exists {
		return 0, fmt.Errorf("%w: %q", ErrConnectionNotFound, name)
	}

	r.mu.RLock()
	c, ok := r.clients[name]
	r.mu.RUnlock()
	if !ok {
		var err error
		c, err = r.open(ctx, conn)
		if err != nil {
			r.event("test", name, string(conn.Type), err)
			return 0, err
		}
		defer c.Close()
	}

	latency, err := c.Ping(ctx)
	r.event("test", name, string(conn.Type), err)
	return latency, err
}

// Forget drops the state of a finished session.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionKey(sessionID))
}

// Close closes every opened client. Opens still in flight are closed as
// they finish.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true

	var errs []error
	for name, c := range r.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(r.clients, name)
	}
	return errors.Join(errs...)
}

func (r *Registry) Config() *config.Config { return r.cfg }
