// cmd/gateway/main.go
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"rpc-gateway/internal/config"
	"rpc-gateway/internal/endpoint"
	"rpc-gateway/internal/gateway"
	"rpc-gateway/internal/logging"
	"rpc-gateway/internal/route"
)

func main() {
	envCfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load environment configuration")
	}

	logging.Init(envCfg.LogLevel)

	routesFile, err := config.LoadRoutes(envCfg.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", envCfg.ConfigFile).Msg("unable to load routes configuration")
	}

	routes := buildRoutes(routesFile)

	var cors *gateway.CORSConfig
	if routesFile.CORS != nil {
		cors = &gateway.CORSConfig{
			AllowedOrigins: routesFile.CORS.AllowedOrigins,
			AllowedMethods: routesFile.CORS.AllowedMethods,
			AllowedHeaders: routesFile.CORS.AllowedHeaders,
		}
	}

	gw, err := gateway.New(gateway.Config{
		Port:            envCfg.Port,
		Host:            envCfg.Host,
		Routes:          routes,
		DefaultRouteID:  routesFile.DefaultRouteID,
		AllowedMethods:  routesFile.AllowedMethods,
		CORS:            cors,
		MaxBodyBytes:    envCfg.MaxBodyBytes,
		HealthCheckPath: envCfg.HealthCheckPath,
		MetricsPath:     "/metrics",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("unable to construct gateway")
	}

	if err := gw.Start(); err != nil {
		log.Fatal().Err(err).Msg("unable to start gateway")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down gateway")
	if err := gw.Stop(); err != nil {
		log.Error().Err(err).Msg("gateway shutdown error")
	}
	log.Info().Msg("gateway stopped")
}

func buildRoutes(rf config.RoutesFile) []route.Config {
	routes := make([]route.Config, 0, len(rf.Routes))
	for _, rc := range rf.Routes {
		endpoints := make([]endpoint.Config, 0, len(rc.Endpoints))
		for _, ec := range rc.Endpoints {
			endpoints = append(endpoints, endpoint.Config{
				URL:            ec.URL,
				Weight:         ec.Weight,
				Priority:       ec.Priority,
				Headers:        ec.Headers,
				TimeoutMs:      ec.TimeoutMs,
				Methods:        ec.Methods,
				BlockedMethods: ec.BlockedMethods,
			})
		}
		routes = append(routes, route.Config{
			ID:               rc.ID,
			Methods:          rc.Methods,
			Endpoints:        endpoints,
			FailureThreshold: rc.FailureThreshold,
			MinHealthy:       rc.MinHealthy,
		})
	}
	return routes
}
