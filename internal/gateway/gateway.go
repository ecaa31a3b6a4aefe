// Package gateway is the HTTP front end: it parses JSON-RPC envelopes,
// resolves a Route, forwards through that Route's Pool, and shapes
// errors back into JSON-RPC form.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"rpc-gateway/internal/alert"
	"rpc-gateway/internal/endpoint"
	"rpc-gateway/internal/jsonrpc"
	"rpc-gateway/internal/metrics"
	"rpc-gateway/internal/pool"
	"rpc-gateway/internal/route"
)

const defaultMaxBodyBytes = 1_000_000

// Config is the full, immutable Gateway configuration (spec.md §6).
type Config struct {
	Port                int
	Host                string // default "0.0.0.0"
	Routes              []route.Config
	DefaultRouteID      string
	AllowedMethods      []string
	CORS                *CORSConfig
	MaxBodyBytes        int64 // default 1_000_000
	HealthCheckPath     string
	MetricsPath         string // empty disables the metrics endpoint
	OnEndpointUnhealthy alert.Sink
	Client              *http.Client
}

// RouteStatus is returned by Gateway.Status: a route's id, its method
// filter (if any), and its pool's per-endpoint status snapshots.
type RouteStatus struct {
	RouteID   string
	Methods   []string
	Endpoints []endpoint.Status
}

// Gateway is the HTTP surface described by spec.md §4.3.
type Gateway struct {
	routes          []*route.Route
	routesByID      map[string]*route.Route
	allowedMethods  map[string]struct{}
	defaultRouteID  string
	cors            *CORSConfig
	maxBodyBytes    int64
	healthCheckPath string
	metricsPath     string
	dispatcher      *alert.Dispatcher
	metrics         *metrics.Manager

	addr string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	running  bool
}

// New constructs a Gateway. Fails if cfg.Routes is empty or any route
// fails to construct (e.g. empty endpoints, missing URL).
func New(cfg Config) (*Gateway, error) {
	if len(cfg.Routes) == 0 {
		return nil, fmt.Errorf("gateway: at least one route is required")
	}

	host := cfg.Host
	if host == "" {
		host = "0.0.0.0"
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	dispatcher := alert.NewDispatcher(cfg.OnEndpointUnhealthy, alert.WithRateLimit(5))

	g := &Gateway{
		routesByID:      make(map[string]*route.Route, len(cfg.Routes)),
		defaultRouteID:  cfg.DefaultRouteID,
		cors:            cfg.CORS,
		maxBodyBytes:    maxBody,
		healthCheckPath: cfg.HealthCheckPath,
		metricsPath:     cfg.MetricsPath,
		dispatcher:      dispatcher,
		metrics:         metrics.NewManager(),
		addr:            fmt.Sprintf("%s:%d", host, cfg.Port),
	}

	for _, rc := range cfg.Routes {
		r, err := route.New(rc, dispatcher, cfg.Client)
		if err != nil {
			return nil, err
		}
		if _, exists := g.routesByID[r.ID]; exists {
			return nil, fmt.Errorf("gateway: duplicate route id %q", r.ID)
		}
		g.routes = append(g.routes, r)
		g.routesByID[r.ID] = r
	}

	if len(cfg.AllowedMethods) > 0 {
		g.allowedMethods = make(map[string]struct{}, len(cfg.AllowedMethods))
		for _, m := range cfg.AllowedMethods {
			g.allowedMethods[m] = struct{}{}
		}
	}

	return g, nil
}

// Start binds the listening socket and begins serving in the
// background. Idempotent: a second call while already bound is a no-op.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return nil
	}

	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", g.addr, err)
	}

	g.server = &http.Server{Handler: g}
	g.listener = ln
	g.running = true

	go func() {
		if err := g.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("gateway http server stopped unexpectedly")
		}
	}()

	log.Info().Str("addr", g.addr).Int("routes", len(g.routes)).Msg("gateway listening")
	return nil
}

// Stop releases the listening socket and waits (up to 5s) for in-flight
// requests to complete. Idempotent.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	srv := g.server
	g.running = false
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Status returns each route's id, method filter, and endpoint snapshots.
func (g *Gateway) Status() []RouteStatus {
	out := make([]RouteStatus, 0, len(g.routes))
	for _, r := range g.routes {
		out = append(out, RouteStatus{
			RouteID:   r.ID,
			Methods:   r.Methods,
			Endpoints: r.Pool.Status(),
		})
	}
	return out
}

// GetBalancer returns the Pool backing routeID, for test harnesses and
// manual alert/health overrides.
func (g *Gateway) GetBalancer(routeID string) (*pool.Pool, bool) {
	r, ok := g.routesByID[routeID]
	if !ok {
		return nil, false
	}
	return r.Pool, true
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// ServeHTTP implements the per-request algorithm of spec.md §4.3.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	logger := log.With().Str("request_id", requestID).Logger()

	if g.healthCheckPath != "" && r.Method == http.MethodGet && r.URL.Path == g.healthCheckPath {
		w.WriteHeader(http.StatusOK)
		return
	}

	if g.metricsPath != "" && r.Method == http.MethodGet && r.URL.Path == g.metricsPath {
		g.metrics.Handler()(w, r)
		return
	}

	if g.applyCORS(w, r) {
		return
	}

	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "Only POST is supported.")
		return
	}

	body, err := g.readBody(w, r)
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "Request body too large.")
		return
	}

	env := jsonrpc.Parse(body)
	if env.Kind == jsonrpc.KindMalformed {
		writeJSONRPCError(w, env, jsonrpc.CodeParseError, "Parse error: Invalid JSON.")
		return
	}

	methods := jsonrpc.ExtractMethods(env)
	if len(methods) == 0 {
		writeJSONRPCError(w, env, jsonrpc.CodeInvalidRequest, "Invalid Request.")
		return
	}

	if g.allowedMethods != nil {
		for _, m := range methods {
			if _, ok := g.allowedMethods[m]; !ok {
				writeJSONRPCError(w, env, jsonrpc.CodeMethodNotFound, fmt.Sprintf("Method not allowed: %s", m))
				return
			}
		}
	}

	r2 := g.resolveRoute(methods)
	if r2 == nil {
		writeJSONRPCError(w, env, jsonrpc.CodeMethodNotFound, "Method not found.")
		return
	}

	logger.Debug().
		Str("route_id", r2.ID).
		Strs("methods", methods).
		Str("priority", requestPriority(r)).
		Msg("dispatching request")

	start := time.Now()
	resp, err := r2.Pool.Forward(r.Context(), body, r.Header, methods)
	latencyMs := float64(time.Since(start).Milliseconds())

	usedEndpointID := ""
	if last, ok := r2.Pool.LastUsed(); ok {
		usedEndpointID = last.ID
	}

	if err != nil {
		logger.Error().Err(err).Str("route_id", r2.ID).Msg("upstream forward failed")
		g.metrics.RecordForward(usedEndpointID, latencyMs, err.Error())
		writeJSONError(w, http.StatusBadGateway, "Bad Gateway: Upstream request failed.")
		return
	}

	errMsg := ""
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	g.metrics.RecordForward(usedEndpointID, latencyMs, errMsg)

	for k, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limited := http.MaxBytesReader(w, r.Body, g.maxBodyBytes)
	return io.ReadAll(limited)
}

// resolveRoute walks routes in declared order: a route with no method
// filter matches unconditionally (first such route wins, even ahead of a
// later route with an explicit match); a route with a filter matches iff
// every extracted method is in it. Falls back to defaultRouteID.
func (g *Gateway) resolveRoute(methods []string) *route.Route {
	for _, r := range g.routes {
		if r.Matches(methods) {
			return r
		}
	}
	if g.defaultRouteID != "" {
		if r, ok := g.routesByID[g.defaultRouteID]; ok {
			return r
		}
	}
	return nil
}

func writeJSONRPCError(w http.ResponseWriter, env jsonrpc.Envelope, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(jsonrpc.ShapeError(env, code, message))
}
