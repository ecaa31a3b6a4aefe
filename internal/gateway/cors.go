package gateway

import (
	"net/http"
	"strings"
)

// CORSConfig mirrors spec.md §4.3/§6: origins, methods, and headers
// exposed on preflight and actual responses. Empty slices fall back to
// the documented defaults.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

func (c *CORSConfig) allowOrigin(requestOrigin string) string {
	if len(c.AllowedOrigins) == 0 {
		return "*"
	}
	for _, o := range c.AllowedOrigins {
		if o == requestOrigin {
			return requestOrigin
		}
	}
	return c.AllowedOrigins[0]
}

func (c *CORSConfig) allowMethods() string {
	if len(c.AllowedMethods) == 0 {
		return "POST, OPTIONS"
	}
	return strings.Join(c.AllowedMethods, ", ")
}

func (c *CORSConfig) allowHeaders() string {
	if len(c.AllowedHeaders) == 0 {
		return "content-type"
	}
	return strings.Join(c.AllowedHeaders, ", ")
}

// applyCORS sets Access-Control-Allow-Origin on every response when CORS
// is configured, and handles OPTIONS preflight fully, writing 204 and
// reporting handled=true so the caller stops processing.
func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) (handled bool) {
	if g.cors == nil {
		return false
	}

	origin := r.Header.Get("Origin")
	w.Header().Set("Access-Control-Allow-Origin", g.cors.allowOrigin(origin))

	if r.Method != http.MethodOptions {
		return false
	}

	w.Header().Set("Access-Control-Allow-Methods", g.cors.allowMethods())
	w.Header().Set("Access-Control-Allow-Headers", g.cors.allowHeaders())
	w.WriteHeader(http.StatusNoContent)
	return true
}
