// Package testutil provides testing utilities for the CRM cache.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockCRMResponse defines the behavior for a mock CRM endpoint response.
type MockCRMResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockCRM is a configurable mock CRM REST API for testing.
type MockCRM struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount      int
	RequestsByPath    map[string]int
	LastRequestHeader http.Header
	LastMethod        string
}

// NewMockCRM creates a new mock CRM server.
func NewMockCRM() *MockCRM {
	mock := &MockCRM{
		handlers:       make(map[string]func(w http.ResponseWriter, r *http.Request)),
		RequestsByPath: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.RequestsByPath[r.URL.Path]++
		mock.LastRequestHeader = r.Header.Clone()
		mock.LastMethod = r.Method
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockCRM) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCRM) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockCRM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.RequestsByPath = make(map[string]int)
	m.LastRequestHeader = nil
	m.LastMethod = ""
}

// SetHandler sets a custom handler for a specific path.
func (m *MockCRM) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockCRM) SetResponse(path string, resp MockCRMResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetSequence answers successive requests to path with resps in order. The
// last response repeats once the sequence is used up.
func (m *MockCRM) SetSequence(path string, resps ...MockCRMResponse) {
	var (
		mu   sync.Mutex
		next int
	)
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := resps[next]
		if next < len(resps)-1 {
			next++
		}
		mu.Unlock()

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetContactsPages serves totalPages pages of pageSize contacts at
// /api/contacts, announcing the page count in X-Total-Pages.
func (m *MockCRM) SetContactsPages(totalPages, pageSize int) {
	m.SetHandler("/api/contacts", func(w http.ResponseWriter, r *http.Request) {
		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil || page < 1 {
			page = 1
		}

		contacts := []map[string]any{}
		if page <= totalPages {
			for i := 0; i < pageSize; i++ {
				id := (page-1)*pageSize + i + 1
				contacts = append(contacts, map[string]any{
					"id":   id,
					"name": fmt.Sprintf("Contact %d", id),
				})
			}
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-Total-Pages", strconv.Itoa(totalPages))
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(contacts)
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockCRM) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests made to path.
func (m *MockCRM) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestsByPath[path]
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockCRM) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

// GetLastMethod returns the method of the most recent request.
func (m *MockCRM) GetLastMethod() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastMethod
}

// defaultHandler answers every path with an empty JSON object.
func (m *MockCRM) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

// NewHealthyResponse creates a standard 200 OK response.
func NewHealthyResponse(data string) MockCRMResponse {
	return MockCRMResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Cache-Control": "private, max-age=300",
			"Content-Type":  "application/json; charset=utf-8",
		},
	}
}

// NewNoStoreResponse creates a 200 OK response that must not be cached.
func NewNoStoreResponse(data string) MockCRMResponse {
	return MockCRMResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Cache-Control": "no-store",
			"Content-Type":  "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockCRMResponse {
	return MockCRMResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  "1",
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockCRMResponse {
	return MockCRMResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockCRMResponse {
	return MockCRMResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "Not found"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
