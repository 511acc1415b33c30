// Package connectivity routes service calls either to an in-process handler
// or to a remote endpoint, as decided by a SQLite routes table that can be
// edited while the process runs.
//
// boardwatch uses it for the engine: the same "engine" service is served by a
// local UCI process, by a remote HTTP engine, or disabled ("noop"), and an
// UPDATE on the routes row switches between them without a restart.
//
//	router := connectivity.New(connectivity.WithLogger(logger))
//	router.RegisterTransport("http", connectivity.HTTPFactory(10*time.Second))
//	router.RegisterLocal("engine", engine.AsHandler(uci))
//	go router.Watch(ctx, db, time.Second)
//
//	resp, err := router.Call(ctx, "engine", payload)
package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Handler is a transport-agnostic call: bytes in, bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// TransportFactory builds a Handler for a remote endpoint. The close function
// is called when the route is replaced or removed; it may be nil.
type TransportFactory func(endpoint string, config json.RawMessage) (handler Handler, close func(), err error)

// Route is one row of the routes table.
type Route struct {
	Service  string          `json:"service"`
	Strategy string          `json:"strategy"`
	Endpoint string          `json:"endpoint,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
}

func (rt Route) key() string {
	return rt.Strategy + "|" + rt.Endpoint + "|" + string(rt.Config)
}

type remote struct {
	handler Handler
	close   func()
}

// Router dispatches calls by service name. It is safe for concurrent use.
type Router struct {
	mu        sync.RWMutex
	local     map[string]Handler
	remotes   map[string]remote
	routes    map[string]Route
	factories map[string]TransportFactory
	logger    *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets a custom logger for the router.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a Router with no routes.
func New(opts ...Option) *Router {
	r := &Router{
		local:     make(map[string]Handler),
		remotes:   make(map[string]remote),
		routes:    make(map[string]Route),
		factories: make(map[string]TransportFactory),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal registers the in-process handler for service.
func (r *Router) RegisterLocal(service string, h Handler) {
	r.mu.Lock()
	r.local[service] = h
	r.mu.Unlock()
}

// RegisterTransport registers the factory used for routes whose strategy is
// protocol.
func (r *Router) RegisterTransport(protocol string, f TransportFactory) {
	r.mu.Lock()
	r.factories[protocol] = f
	r.mu.Unlock()
}

// Call dispatches payload to service. A "noop" route succeeds with a nil
// response; a remote route wins over the local handler; with neither the
// call fails with ErrServiceNotFound.
func (r *Router) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	rt, routed := r.routes[service]
	rem, isRemote := r.remotes[service]
	local := r.local[service]
	r.mu.RUnlock()

	switch {
	case routed && rt.Strategy == "noop":
		return nil, nil
	case isRemote:
		r.logger.DebugContext(ctx, "connectivity: remote call", "service", service, "endpoint", rt.Endpoint)
		return rem.handler(ctx, payload)
	case local != nil:
		return local(ctx, payload)
	}
	return nil, &ErrServiceNotFound{Service: service}
}

// Routes returns the loaded routes, sorted by service.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route, 0, len(r.routes))
	for _, rt := range r.routes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Reload reads the routes table and rebuilds the remote handlers. Handlers
// whose route did not change are kept.
func (r *Router) Reload(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx,
		`SELECT service_name, strategy, COALESCE(endpoint, ''), COALESCE(config, '{}') FROM routes`)
	if err != nil {
		return fmt.Errorf("connectivity: query routes: %w", err)
	}
	defer rows.Close()

	loaded := make(map[string]Route)
	for rows.Next() {
		var rt Route
		var cfg string
		if err := rows.Scan(&rt.Service, &rt.Strategy, &rt.Endpoint, &cfg); err != nil {
			return fmt.Errorf("connectivity: scan route: %w", err)
		}
		rt.Config = json.RawMessage(cfg)
		loaded[rt.Service] = rt
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("connectivity: rows: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]remote, len(loaded))
	for name, rt := range loaded {
		if rt.Strategy == "local" || rt.Strategy == "noop" {
			continue
		}
		if old, ok := r.routes[name]; ok && old.key() == rt.key() {
			if rem, ok := r.remotes[name]; ok {
				next[name] = rem
				continue
			}
		}
		factory, ok := r.factories[rt.Strategy]
		if !ok {
			r.logger.Warn("connectivity: no transport factory", "service", name, "strategy", rt.Strategy)
			continue
		}
		h, closeFn, err := factory(rt.Endpoint, rt.Config)
		if err != nil {
			r.logger.Error("connectivity: factory failed", "error",
				&ErrFactoryFailed{Service: name, Strategy: rt.Strategy, Endpoint: rt.Endpoint, Cause: err})
			continue
		}
		next[name] = remote{handler: h, close: closeFn}
		r.logger.Info("connectivity: route built", "service", name, "strategy", rt.Strategy, "endpoint", rt.Endpoint)
	}

	for name, old := range r.remotes {
		if old.close == nil {
			continue
		}
		if _, ok := next[name]; !ok || r.routes[name].key() != loaded[name].key() {
			old.close()
		}
	}

	r.remotes = next
	r.routes = loaded
	r.logger.Info("connectivity: routes reloaded", "total", len(loaded), "remote", len(next))
	return nil
}

// Close releases every remote handler.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rem := range r.remotes {
		if rem.close != nil {
			rem.close()
		}
	}
	r.remotes = make(map[string]remote)
	r.routes = make(map[string]Route)
	return nil
}
