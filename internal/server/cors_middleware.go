package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/shibukawa/tokenlab/internal/config"
)

// Fallbacks used when cors is enabled without explicit lists. Browsers only
// need POST for the token endpoints and Content-Type for their JSON body.
var (
	defaultCORSMethods = []string{http.MethodPost, http.MethodOptions}
	defaultCORSHeaders = []string{"Content-Type"}
)

// corsPolicy is a CORSConfig compiled into the header values it produces.
// The zero value (and a nil pointer) lets every request through untouched.
type corsPolicy struct {
	enabled   bool
	anyOrigin bool
	origins   map[string]struct{}

	allowMethods string
	allowHeaders string
	maxAge       string
}

// newCORSPolicy compiles cfg, filling in defaults for empty lists.
func newCORSPolicy(cfg *config.CORSConfig) *corsPolicy {
	if cfg == nil || !cfg.Enabled {
		return &corsPolicy{}
	}

	p := &corsPolicy{
		enabled:      true,
		origins:      make(map[string]struct{}, len(cfg.AllowedOrigins)),
		allowMethods: strings.Join(orDefault(cfg.AllowedMethods, defaultCORSMethods), ", "),
		allowHeaders: strings.Join(orDefault(cfg.AllowedHeaders, defaultCORSHeaders), ", "),
	}

	// An empty origin list means any origin, same as an explicit "*".
	if len(cfg.AllowedOrigins) == 0 {
		p.anyOrigin = true
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			p.anyOrigin = true
			continue
		}
		p.origins[origin] = struct{}{}
	}

	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	return p
}

func orDefault(values, fallback []string) []string {
	if len(values) == 0 {
		return fallback
	}
	return values
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// false when the request must not receive CORS headers.
func (p *corsPolicy) allowOrigin(origin string) (string, bool) {
	if origin == "" {
		return "", false
	}
	if p.anyOrigin {
		return "*", true
	}
	if _, ok := p.origins[origin]; ok {
		return origin, true
	}
	return "", false
}

// isPreflight reports whether r is a CORS preflight rather than a plain
// OPTIONS request.
func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

// middleware wraps next with the policy. Preflights from allowed origins are
// answered here and never reach the router.
func (p *corsPolicy) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p == nil || !p.enabled {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		// Caches must not reuse an answer computed for another origin.
		if !p.anyOrigin {
			h.Add("Vary", "Origin")
		}

		allowed, ok := p.allowOrigin(r.Header.Get("Origin"))
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		h.Set("Access-Control-Allow-Origin", allowed)

		if !isPreflight(r) {
			next.ServeHTTP(w, r)
			return
		}

		h.Set("Access-Control-Allow-Methods", p.allowMethods)
		h.Set("Access-Control-Allow-Headers", p.allowHeaders)
		if p.maxAge != "" {
			h.Set("Access-Control-Max-Age", p.maxAge)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
