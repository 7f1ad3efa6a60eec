package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Sternrassler/crm-cache/internal/testutil"
	"github.com/Sternrassler/crm-cache/pkg/cache"
	"github.com/Sternrassler/crm-cache/pkg/logging"
	"github.com/Sternrassler/crm-cache/pkg/storage"
	"github.com/Sternrassler/crm-cache/pkg/tier"
)

// fastRetry keeps retry tests quick.
var fastRetry = RetryConfig{
	MaxAttempts:       3,
	InitialBackoff:    time.Millisecond,
	MaxBackoff:        5 * time.Millisecond,
	BackoffMultiplier: 2.0,
}

// setupTestClient creates a client against a mock CRM server.
func setupTestClient(t *testing.T) (*Client, *testutil.MockCRM) {
	t.Helper()

	mock := testutil.NewMockCRM()
	t.Cleanup(mock.Close)

	logger := logging.Nop()
	responseCache := cache.New(cache.Options{Durable: tier.NewMemory("durable", 0), Logger: &logger})
	t.Cleanup(func() { _ = responseCache.Close() })

	results := storage.New(storage.Options{Logger: &logger},
		tier.NewMemory("session", 0), tier.NewMemory("durable", 0), nil)

	cfg := DefaultConfig(mock.URL(), "CRMDashboard/1.0.0 (test@example.com)", responseCache)
	cfg.Results = results
	cfg.Retry = fastRetry
	cfg.Logger = &logger

	client, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client, mock
}

func TestNew_Validation(t *testing.T) {
	responseCache := cache.New(cache.Options{})
	defer responseCache.Close()

	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: DefaultConfig("https://crm.example.com", "TestApp/1.0.0", responseCache),
		},
		{
			name:        "nil cache",
			config:      DefaultConfig("https://crm.example.com", "TestApp/1.0.0", nil),
			expectError: true,
			errorMsg:    "response cache is required",
		},
		{
			name:        "empty user agent",
			config:      DefaultConfig("https://crm.example.com", " ", responseCache),
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name:        "relative base url",
			config:      DefaultConfig("/api", "TestApp/1.0.0", responseCache),
			expectError: true,
			errorMsg:    `base url "/api" must be absolute`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
					return
				}
				if client == nil {
					t.Error("Client is nil")
				}
			}
		})
	}
}

func TestClient_GetCachesResponse(t *testing.T) {
	client, mock := setupTestClient(t)
	ctx := context.Background()

	mock.SetResponse("/api/contacts", testutil.NewHealthyResponse(`[{"id":1,"name":"Ann"}]`))

	resp1, err := client.Get(ctx, "/api/contacts", map[string]any{"page": 1})
	if err != nil {
		t.Fatalf("Request 1 failed: %v", err)
	}
	if resp1.Cached {
		t.Error("Request 1 should not be cached")
	}
	if resp1.StatusCode != http.StatusOK {
		t.Errorf("Request 1 status = %d, want 200", resp1.StatusCode)
	}

	resp2, err := client.Get(ctx, "/api/contacts", map[string]any{"page": 1})
	if err != nil {
		t.Fatalf("Request 2 failed: %v", err)
	}
	if !resp2.Cached {
		t.Error("Request 2 should be served from cache")
	}
	if string(resp2.Body) != `[{"id":1,"name":"Ann"}]` {
		t.Errorf("Cached body = %s", resp2.Body)
	}

	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("RequestCount = %d, want 1", got)
	}

	// Different params are a different key
	if _, err := client.Get(ctx, "/api/contacts", map[string]any{"page": 2}); err != nil {
		t.Fatalf("Request 3 failed: %v", err)
	}
	if got := mock.GetRequestCount(); got != 2 {
		t.Errorf("RequestCount = %d, want 2", got)
	}

	var contacts []struct {
		ID int `json:"id"`
	}
	if err := resp2.Decode(&contacts); err != nil || len(contacts) != 1 || contacts[0].ID != 1 {
		t.Errorf("Decode() = %+v, %v", contacts, err)
	}
}

func TestClient_GetSendsHeaders(t *testing.T) {
	client, mock := setupTestClient(t)

	if _, err := client.Get(context.Background(), "/api/dashboard", nil); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	header := mock.GetLastRequestHeader()

	if got := header.Get("User-Agent"); got != "CRMDashboard/1.0.0 (test@example.com)" {
		t.Errorf("User-Agent = %q", got)
	}
	if got := header.Get("Accept"); got != "application/json" {
		t.Errorf("Accept = %q", got)
	}
}

func TestClient_GetNoStore(t *testing.T) {
	client, mock := setupTestClient(t)
	ctx := context.Background()

	mock.SetResponse("/api/chat", testutil.NewNoStoreResponse(`{"reply":"hi"}`))

	for i := 0; i < 2; i++ {
		if _, err := client.Get(ctx, "/api/chat", nil); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
	}
	if got := mock.GetRequestCount(); got != 2 {
		t.Errorf("RequestCount = %d, want 2 (no-store must not be cached)", got)
	}
}

func TestClient_GetNoStoreAfterMaxAge(t *testing.T) {
	client, mock := setupTestClient(t)
	ctx := context.Background()

	mock.SetResponse("/api/inbox", testutil.MockCRMResponse{
		StatusCode: http.StatusOK,
		Body:       `{"unread":3}`,
		Headers:    map[string]string{"Cache-Control": "max-age=60, no-store"},
	})

	for i := 0; i < 2; i++ {
		resp, err := client.Get(ctx, "/api/inbox", nil)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if resp.Cached {
			t.Errorf("request %d served from cache", i+1)
		}
	}
	if got := mock.GetPathCount("/api/inbox"); got != 2 {
		t.Errorf("CRM hit %d times, want 2", got)
	}
}

func TestClient_MutationInvalidatesCollection(t *testing.T) {
	client, mock := setupTestClient(t)
	ctx := context.Background()

	mock.SetResponse("/api/contacts", testutil.NewHealthyResponse(`[]`))
	mock.SetResponse("/api/contacts/42", testutil.NewHealthyResponse(`{"id":42}`))
	mock.SetResponse("/api/dashboard", testutil.NewHealthyResponse(`{"total":1}`))

	for _, path := range []string{"/api/contacts", "/api/contacts/42", "/api/dashboard"} {
		if _, err := client.Get(ctx, path, nil); err != nil {
			t.Fatalf("Get(%s) failed: %v", path, err)
		}
	}
	if got := client.Cache().Stats().Size; got != 3 {
		t.Fatalf("cache Size = %d, want 3", got)
	}

	if _, err := client.Do(ctx, "put", "/api/contacts/42", nil, map[string]string{"name": "Ann"}); err != nil {
		t.Fatalf("Do(PUT) failed: %v", err)
	}
	if got := mock.GetLastMethod(); got != http.MethodPut {
		t.Errorf("method = %s, want PUT", got)
	}

	if got := client.Cache().Stats().Size; got != 1 {
		t.Errorf("cache Size after PUT = %d, want 1 (dashboard only)", got)
	}
	if _, ok := client.Cache().Get(ctx, cache.GenerateKey("/api/dashboard", "GET", nil, nil)); !ok {
		t.Error("dashboard entry should survive contact mutation")
	}
}

func TestClient_DoGetUsesCache(t *testing.T) {
	client, mock := setupTestClient(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.Do(ctx, "", "/api/settings", nil, nil); err != nil {
			t.Fatalf("Do failed: %v", err)
		}
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("RequestCount = %d, want 1", got)
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	client, mock := setupTestClient(t)

	mock.SetResponse("/api/contacts/999", testutil.NewNotFoundResponse())

	_, err := client.Get(context.Background(), "/api/contacts/999", nil)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.ErrorClass != ErrorClassClient {
		t.Errorf("APIError = %+v", apiErr)
	}
	if string(apiErr.Body) != `{"error": "Not found"}` {
		t.Errorf("APIError.Body = %s", apiErr.Body)
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("RequestCount = %d, want 1 (4xx not retried)", got)
	}
	if client.Cache().Stats().Size != 0 {
		t.Error("error responses must not be cached")
	}
}

func TestClient_ServerErrorRetried(t *testing.T) {
	client, mock := setupTestClient(t)

	mock.SetSequence("/api/dashboard",
		testutil.NewServerErrorResponse(),
		testutil.NewRateLimitResponse(),
		testutil.NewHealthyResponse(`{"total":3}`),
	)

	resp, err := client.Get(context.Background(), "/api/dashboard", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(resp.Body) != `{"total":3}` {
		t.Errorf("Body = %s", resp.Body)
	}
	if got := mock.GetRequestCount(); got != 3 {
		t.Errorf("RequestCount = %d, want 3", got)
	}
}

func TestClient_RetryExhausted(t *testing.T) {
	client, mock := setupTestClient(t)

	mock.SetResponse("/api/dashboard", testutil.NewServerErrorResponse())

	_, err := client.Get(context.Background(), "/api/dashboard", nil)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}
	if StatusCodeOf(err) != http.StatusInternalServerError {
		t.Errorf("StatusCodeOf() = %d, want 500", StatusCodeOf(err))
	}
	if got := mock.GetRequestCount(); got != fastRetry.MaxAttempts {
		t.Errorf("RequestCount = %d, want %d", got, fastRetry.MaxAttempts)
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	client, mock := setupTestClient(t)

	mock.SetResponse("/api/slow", testutil.MockCRMResponse{
		StatusCode: http.StatusOK,
		Body:       `{}`,
		Delay:      500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, "/api/slow", nil)
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
}

func TestClient_Results(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	if err := client.SaveResult(ctx, "contacts_filter", map[string]string{"status": "lead"}, time.Minute); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}
	data, ok := client.LoadResult(ctx, "contacts_filter")
	if !ok {
		t.Fatal("LoadResult should find the saved result")
	}
	if string(data) != `{"status":"lead"}` {
		t.Errorf("LoadResult() = %s", data)
	}

	bare, err := New(DefaultConfig("https://crm.example.com", "TestApp/1.0.0", client.Cache()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := bare.SaveResult(ctx, "x", 1, 0); !errors.Is(err, ErrNoResultStorage) {
		t.Errorf("SaveResult without chain = %v, want ErrNoResultStorage", err)
	}
	if _, ok := bare.LoadResult(ctx, "x"); ok {
		t.Error("LoadResult without chain should miss")
	}
}

func TestResponseTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		headers   map[string]string
		wantTTL   time.Duration
		wantCache bool
	}{
		{"no headers uses default", nil, 0, true},
		{"max-age", map[string]string{"Cache-Control": "private, max-age=120"}, 2 * time.Minute, true},
		{"max-age wins over expires", map[string]string{
			"Cache-Control": "max-age=60",
			"Expires":       now.Add(time.Hour).Format(http.TimeFormat),
		}, time.Minute, true},
		{"no-store", map[string]string{"Cache-Control": "no-store"}, 0, false},
		{"no-store after max-age", map[string]string{"Cache-Control": "max-age=60, no-store"}, 0, false},
		{"no-cache after max-age", map[string]string{"Cache-Control": "public, max-age=60, No-Cache"}, 0, false},
		{"max-age zero", map[string]string{"Cache-Control": "max-age=0"}, 0, false},
		{"expires in future", map[string]string{"Expires": now.Add(10 * time.Minute).Format(http.TimeFormat)}, 10 * time.Minute, true},
		{"expires in past", map[string]string{"Expires": now.Add(-time.Minute).Format(http.TimeFormat)}, 0, false},
		{"invalid expires", map[string]string{"Expires": "0"}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			for k, v := range tt.headers {
				header.Set(k, v)
			}
			ttl, ok := responseTTL(header, now)
			if ttl != tt.wantTTL || ok != tt.wantCache {
				t.Errorf("responseTTL() = %v, %v, want %v, %v", ttl, ok, tt.wantTTL, tt.wantCache)
			}
		})
	}
}

func TestCollectionOf(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/contacts", "/api/contacts"},
		{"/api/contacts/", "/api/contacts"},
		{"/api/contacts/42", "/api/contacts"},
		{"/api/contacts/3f2a-11ee?x=1", "/api/contacts"},
		{"/api/contacts/import", "/api/contacts/import"},
		{"/", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := collectionOf(tt.path); got != tt.want {
			t.Errorf("collectionOf(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestClient_Resolve(t *testing.T) {
	responseCache := cache.New(cache.Options{Clock: clock.NewMock()})
	defer responseCache.Close()

	client, err := New(DefaultConfig("https://crm.example.com/v2/", "TestApp/1.0.0", responseCache))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	got := client.resolve("/api/contacts?q=ann", map[string]any{"page": 2})
	want := "https://crm.example.com/v2/api/contacts?page=2&q=ann"
	if got != want {
		t.Errorf("resolve() = %s, want %s", got, want)
	}
}
