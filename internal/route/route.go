// Package route binds a Pool to a method filter and a route id.
package route

import (
	"fmt"
	"net/http"

	"rpc-gateway/internal/alert"
	"rpc-gateway/internal/endpoint"
	"rpc-gateway/internal/pool"
)

// Config is the immutable, per-route configuration: an id unique within
// the Gateway, its endpoints, an optional method filter, and pool
// options.
type Config struct {
	ID               string
	Methods          []string
	Endpoints        []endpoint.Config
	FailureThreshold int
	MinHealthy       int
}

// Route binds a Pool to a method filter and route id.
type Route struct {
	ID      string
	Methods []string
	Pool    *pool.Pool

	methodSet map[string]struct{}
}

// New constructs a Route's Pool from cfg.
func New(cfg Config, dispatcher *alert.Dispatcher, client *http.Client) (*Route, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("route: id is required")
	}

	p, err := pool.New(cfg.Endpoints, pool.Options{
		FailureThreshold: cfg.FailureThreshold,
		MinHealthy:       cfg.MinHealthy,
		Dispatcher:       dispatcher,
		RouteID:          cfg.ID,
		Client:           client,
	})
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", cfg.ID, err)
	}

	r := &Route{ID: cfg.ID, Methods: cfg.Methods, Pool: p}
	if len(cfg.Methods) > 0 {
		r.methodSet = make(map[string]struct{}, len(cfg.Methods))
		for _, m := range cfg.Methods {
			r.methodSet[m] = struct{}{}
		}
	}
	return r, nil
}

// HasFilter reports whether this route restricts which methods it
// serves. A route with no filter matches any request.
func (r *Route) HasFilter() bool {
	return r.methodSet != nil
}

// Matches reports whether every method in methods is in this route's
// filter. A route with no filter matches unconditionally.
func (r *Route) Matches(methods []string) bool {
	if r.methodSet == nil {
		return true
	}
	for _, m := range methods {
		if _, ok := r.methodSet[m]; !ok {
			return false
		}
	}
	return true
}
