package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/crm-cache/pkg/cache"
	"github.com/Sternrassler/crm-cache/pkg/client"
	"github.com/Sternrassler/crm-cache/pkg/metrics"
	"github.com/Sternrassler/crm-cache/pkg/storage"
	"github.com/Sternrassler/crm-cache/pkg/tier"
)

// maxRequestBody caps request bodies forwarded to the CRM or stored as results.
const maxRequestBody = 1 << 20

// server holds the HTTP handlers of the proxy.
type server struct {
	client  *client.Client
	cache   *cache.Cache
	session tier.Backend
	durable tier.Backend

	// cookie configures the per-request cookie tier
	cookie tier.CookieConfig

	resultTTL time.Duration
	logger    zerolog.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /cache/stats", s.handleStats)
	mux.HandleFunc("POST /cache/invalidate", s.handleInvalidate)
	mux.HandleFunc("DELETE /cache", s.handleInvalidateAll)

	mux.HandleFunc("GET /results/{name}", s.handleGetResult)
	mux.HandleFunc("PUT /results/{name}", s.handlePutResult)
	mux.HandleFunc("DELETE /results/{name}", s.handleDeleteResult)

	mux.HandleFunc("/api/", s.handleAPI)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Stats())
}

// handleInvalidate drops a single key (?key=) or every key matching a
// regular expression (?pattern=).
func (s *server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	switch {
	case query.Get("key") != "":
		s.cache.Invalidate(r.Context(), query.Get("key"))
	case query.Get("pattern") != "":
		if err := s.cache.InvalidateByPattern(r.Context(), query.Get("pattern")); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "key or pattern is required")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleInvalidateAll(w http.ResponseWriter, r *http.Request) {
	s.cache.InvalidateAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleAPI proxies /api/* to the CRM. GETs are served from the cache when
// possible; other methods invalidate the affected collection.
func (s *server) handleAPI(w http.ResponseWriter, r *http.Request) {
	params := queryParams(r)

	var (
		resp *client.Response
		err  error
	)
	if r.Method == http.MethodGet {
		resp, err = s.client.Get(r.Context(), r.URL.Path, params)
	} else {
		var body any
		data, readErr := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if readErr != nil {
			writeError(w, http.StatusBadRequest, "read body")
			return
		}
		if len(data) > 0 {
			if !json.Valid(data) {
				writeError(w, http.StatusBadRequest, "body must be JSON")
				return
			}
			body = json.RawMessage(data)
		}
		resp, err = s.client.Do(r.Context(), r.Method, r.URL.Path, params, body)
	}

	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}

	if resp.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write response")
	}
}

func (s *server) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrContextCancelled):
		writeError(w, http.StatusGatewayTimeout, "CRM request cancelled")
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && len(apiErr.Body) > 0 && !errors.Is(err, client.ErrRetryExhausted):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apiErr.StatusCode)
		w.Write(apiErr.Body)
	default:
		s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("CRM request failed")
		writeError(w, http.StatusBadGateway, fmt.Sprintf("CRM request failed: %v", err))
	}
}

// requestChain builds a storage chain whose cookie tier holds the cookies
// of r. Session and durable tiers are shared across requests.
func (s *server) requestChain(r *http.Request) (*storage.Chain, *tier.Cookie, error) {
	cookie, err := tier.NewCookie(s.cookie)
	if err != nil {
		return nil, nil, err
	}
	cookie.SetCookies(r.Cookies())

	chain := storage.New(storage.Options{
		DefaultTTL: s.resultTTL,
		Logger:     &s.logger,
	}, s.session, s.durable, cookie)
	return chain, cookie, nil
}

func (s *server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	chain, _, err := s.requestChain(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data, ok := chain.GetResult(r.Context(), r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "result not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handlePutResult stores the JSON body as a named result. ?ttl= accepts a
// Go duration. The cookie copy is returned as Set-Cookie when it fits.
func (s *server) handlePutResult(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	ttl := s.resultTTL
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "ttl must be a positive duration")
			return
		}
		ttl = parsed
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil || !json.Valid(data) {
		writeError(w, http.StatusBadRequest, "body must be JSON")
		return
	}

	chain, cookie, err := s.requestChain(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := chain.SetResult(r.Context(), name, json.RawMessage(data), ttl); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeResultCookie(w, r, cookie, name, ttl)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	chain, cookie, err := s.requestChain(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chain.ClearResult(r.Context(), name)

	s.writeResultCookie(w, r, cookie, name, 0)
	w.WriteHeader(http.StatusNoContent)
}

// writeResultCookie mirrors the cookie tier state for name to the client.
func (s *server) writeResultCookie(w http.ResponseWriter, r *http.Request, cookie *tier.Cookie, name string, ttl time.Duration) {
	cookieName := tier.CookieName(storage.DefaultPrefix + name)

	for _, c := range cookie.Cookies() {
		if c.Name == cookieName && ttl > 0 {
			http.SetCookie(w, &http.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Path:     "/",
				MaxAge:   int(ttl.Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteStrictMode,
			})
			return
		}
	}

	// Expire a copy the client still holds
	if _, err := r.Cookie(cookieName); err == nil {
		http.SetCookie(w, &http.Cookie{
			Name:   cookieName,
			Path:   "/",
			MaxAge: -1,
		})
	}
}

// queryParams converts the query string into cache key parameters.
func queryParams(r *http.Request) map[string]any {
	query := r.URL.Query()
	if len(query) == 0 {
		return nil
	}
	params := make(map[string]any, len(query))
	for name, values := range query {
		if len(values) == 1 {
			params[name] = values[0]
		} else {
			params[name] = values
		}
	}
	return params
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
