// Package config loads the Gateway's configuration: process-level
// scalars from environment variables via envconfig, and the route/
// endpoint topology (arbitrarily nested, ill-suited to flat env vars)
// from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/vrischmann/envconfig"
)

// EnvConfig holds the scalar, process-level settings read from the
// environment, mirroring the reference corpus's envconfig structs.
type EnvConfig struct {
	LogLevel        string `envconfig:"default=info"`
	Port            int    `envconfig:"default=8080"`
	Host            string `envconfig:"default=0.0.0.0"`
	MaxBodyBytes    int64  `envconfig:"default=1000000"`
	HealthCheckPath string `envconfig:"default=/healthz"`
	ConfigFile      string `envconfig:"default=gateway.json"`
}

// EndpointFile is the JSON shape of one endpoint entry in the routes
// config file; it mirrors endpoint.Config field-for-field.
type EndpointFile struct {
	URL            string            `json:"url"`
	Weight         int               `json:"weight,omitempty"`
	Priority       int               `json:"priority,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	TimeoutMs      int               `json:"timeoutMs,omitempty"`
	Methods        []string          `json:"methods,omitempty"`
	BlockedMethods []string          `json:"blockedMethods,omitempty"`
}

// RouteFile is the JSON shape of one route entry in the routes config
// file.
type RouteFile struct {
	ID               string         `json:"id"`
	Methods          []string       `json:"methods,omitempty"`
	Endpoints        []EndpointFile `json:"endpoints"`
	FailureThreshold int            `json:"failureThreshold,omitempty"`
	MinHealthy       int            `json:"minHealthy,omitempty"`
}

// CORSFile is the JSON shape of the optional CORS block.
type CORSFile struct {
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
	AllowedMethods []string `json:"allowedMethods,omitempty"`
	AllowedHeaders []string `json:"allowedHeaders,omitempty"`
}

// RoutesFile is the top-level shape of the JSON routes config file.
type RoutesFile struct {
	Routes         []RouteFile `json:"routes"`
	DefaultRouteID string      `json:"defaultRouteId,omitempty"`
	AllowedMethods []string    `json:"allowedMethods,omitempty"`
	CORS           *CORSFile   `json:"cors,omitempty"`
}

// Load reads EnvConfig from the environment via envconfig.
func Load() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Init(&cfg); err != nil {
		return EnvConfig{}, fmt.Errorf("config: reading environment: %w", err)
	}
	return cfg, nil
}

// LoadRoutes decodes the routes/endpoints topology from the JSON file at
// path. A missing or unreadable file, or invalid JSON, is returned as an
// error.
func LoadRoutes(path string) (RoutesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RoutesFile{}, fmt.Errorf("config: reading routes file %s: %w", path, err)
	}

	var rf RoutesFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return RoutesFile{}, fmt.Errorf("config: parsing routes file %s: %w", path, err)
	}
	return rf, nil
}
