// Copyright 2026 © The Kinkernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package pool shares connections to the remote MCP servers that host cells.
//
// Every remote cell imported from one server calls through the same client.
// The pool opens that client on first use, keeps a reference count, pings
// idle connections in the background and closes the ones that stop
// answering or stay unused past the idle timeout.
//
//	p := pool.New(pool.WithHealthCheckInterval(30 * time.Second))
//	defer p.Close()
//
//	_ = p.Register("math", cfg.MCP.Servers["math"])
//	client, _ := p.Get(ctx, "math")
//	defer p.Release("math", client)
package pool

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jllopis/kinkernel/pkg/config"
	"github.com/jllopis/kinkernel/pkg/mcp"
)

var (
	// ErrPoolClosed is returned when operations are attempted on a closed pool.
	ErrPoolClosed = stderrors.New("mcp pool is closed")

	// ErrServerNotFound is returned when requesting a connection to an unregistered server.
	ErrServerNotFound = stderrors.New("mcp server not found in pool")

	// ErrInvalidServerConfig is returned when server configuration is invalid.
	ErrInvalidServerConfig = stderrors.New("invalid server configuration")
)

// Dialer opens a client for a registered server.
type Dialer func(ctx context.Context, name string, cfg config.MCPServerConfig) (*mcp.Client, error)

type entry struct {
	cfg  config.MCPServerConfig
	opts []mcp.ClientOption
}

type pooledClient struct {
	client   *mcp.Client
	refCount atomic.Int32
	lastUsed atomic.Int64
}

func (pc *pooledClient) touch() {
	pc.lastUsed.Store(time.Now().UnixNano())
}

// Pool manages shared MCP connections.
type Pool struct {
	mu      sync.RWMutex
	servers map[string]entry
	clients map[string]*pooledClient
	closed  atomic.Bool

	dial                Dialer
	healthCheckInterval time.Duration
	idleTimeout         time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	totalConnections   atomic.Int64
	connectionErrors   atomic.Int64
	healthChecksPassed atomic.Int64
	healthChecksFailed atomic.Int64
}

// PoolOption configures the connection pool.
type PoolOption func(*Pool)

// WithHealthCheckInterval sets how often to check connection health.
func WithHealthCheckInterval(interval time.Duration) PoolOption {
	return func(p *Pool) {
		if interval > 0 {
			p.healthCheckInterval = interval
		}
	}
}

// WithIdleTimeout sets how long unreferenced connections are kept.
func WithIdleTimeout(timeout time.Duration) PoolOption {
	return func(p *Pool) {
		if timeout > 0 {
			p.idleTimeout = timeout
		}
	}
}

// WithDialer replaces the function that opens clients.
func WithDialer(d Dialer) PoolOption {
	return func(p *Pool) {
		if d != nil {
			p.dial = d
		}
	}
}

// New creates a new MCP connection pool.
func New(opts ...PoolOption) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		servers:             make(map[string]entry),
		clients:             make(map[string]*pooledClient),
		dial:                Dial,
		healthCheckInterval: 30 * time.Second,
		idleTimeout:         5 * time.Minute,
		ctx:                 ctx,
		cancel:              cancel,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(1)
	go p.healthChecker()

	return p
}

// Dial opens a client for cfg using its transport.
func Dial(_ context.Context, name string, cfg config.MCPServerConfig) (*mcp.Client, error) {
	var opts []mcp.ClientOption
	if cfg.TimeoutSeconds > 0 {
		opts = append(opts, mcp.WithTimeout(cfg.Timeout()))
	}
	switch cfg.Transport {
	case "stdio":
		return mcp.NewClientWithStdio(cfg.Command, cfg.Args, cfg.Env, opts...)
	case "http":
		return mcp.NewClientWithStreamableHTTP(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("%w: %s: unknown transport %q", ErrInvalidServerConfig, name, cfg.Transport)
	}
}

// Register adds a server. Registering a name again replaces its
// configuration for connections opened afterwards.
func (p *Pool) Register(name string, cfg config.MCPServerConfig) error {
	if name == "" {
		return ErrInvalidServerConfig
	}
	switch cfg.Transport {
	case "stdio":
		if cfg.Command == "" {
			return fmt.Errorf("%w: %s: stdio transport requires command", ErrInvalidServerConfig, name)
		}
	case "http":
		if cfg.URL == "" {
			return fmt.Errorf("%w: %s: http transport requires url", ErrInvalidServerConfig, name)
		}
	default:
		return fmt.Errorf("%w: %s: unknown transport %q", ErrInvalidServerConfig, name, cfg.Transport)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.servers[name] = entry{cfg: cfg}
	return nil
}

// Unregister removes a server from the pool and closes its connection.
func (p *Pool) Unregister(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}

	delete(p.servers, name)
	if pc, ok := p.clients[name]; ok {
		_ = pc.client.Close()
		delete(p.clients, name)
	}
	return nil
}

// Get returns the shared client for the named server, connecting on first
// use. Callers pair each Get with a Release.
func (p *Pool) Get(ctx context.Context, name string) (*mcp.Client, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.servers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	if pc, ok := p.clients[name]; ok {
		pc.refCount.Add(1)
		pc.touch()
		return pc.client, nil
	}

	client, err := p.dial(ctx, name, e.cfg)
	if err != nil {
		p.connectionErrors.Add(1)
		return nil, err
	}
	pc := &pooledClient{client: client}
	pc.refCount.Store(1)
	pc.touch()
	p.clients[name] = pc
	p.totalConnections.Add(1)
	return client, nil
}

// Release decrements the reference count for a connection.
// The connection stays open for reuse.
func (p *Pool) Release(name string, client *mcp.Client) {
	p.mu.RLock()
	pc := p.clients[name]
	p.mu.RUnlock()

	if pc != nil && pc.client == client {
		if pc.refCount.Add(-1) < 0 {
			pc.refCount.Store(0)
		}
		pc.touch()
	}
}

// Close shuts down the pool and all connections.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrPoolClosed
	}

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for name, pc := range p.clients {
		if err := pc.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	p.clients = nil
	p.servers = nil
	return stderrors.Join(errs...)
}

// PoolStats contains pool metrics.
type PoolStats struct {
	RegisteredServers  int
	ActiveConnections  int
	TotalConnections   int
	ConnectionErrors   int
	HealthChecksPassed int
	HealthChecksFailed int
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	servers, active := len(p.servers), len(p.clients)
	p.mu.RUnlock()

	return PoolStats{
		RegisteredServers:  servers,
		ActiveConnections:  active,
		TotalConnections:   int(p.totalConnections.Load()),
		ConnectionErrors:   int(p.connectionErrors.Load()),
		HealthChecksPassed: int(p.healthChecksPassed.Load()),
		HealthChecksFailed: int(p.healthChecksFailed.Load()),
	}
}

// ListServers returns the registered server names in order.
func (p *Pool) ListServers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.servers))
	for name := range p.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServerInfo returns the configuration of a registered server.
func (p *Pool) ServerInfo(name string) (config.MCPServerConfig, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.servers[name]
	return e.cfg, ok
}

func (p *Pool) healthChecker() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.runHealthChecks()
		}
	}
}

func (p *Pool) runHealthChecks() {
	p.mu.RLock()
	toCheck := make(map[string]*pooledClient, len(p.clients))
	for name, pc := range p.clients {
		toCheck[name] = pc
	}
	p.mu.RUnlock()

	now := time.Now()
	for name, pc := range toCheck {
		idle := pc.refCount.Load() == 0
		if idle && now.Sub(time.Unix(0, pc.lastUsed.Load())) > p.idleTimeout {
			p.remove(name, pc)
			continue
		}

		ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
		err := pc.client.Ping(ctx)
		cancel()
		if err != nil {
			p.healthChecksFailed.Add(1)
			if idle {
				p.remove(name, pc)
			}
			continue
		}
		p.healthChecksPassed.Add(1)
	}
}

func (p *Pool) remove(name string, pc *pooledClient) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.clients[name] == pc {
		_ = pc.client.Close()
		delete(p.clients, name)
	}
}
