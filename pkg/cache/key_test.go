package cache

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		method string
		params map[string]any
		body   any
		want   string
	}{
		{
			name: "bare path defaults to GET",
			url:  "/api/contacts",
			want: "GET|/api/contacts|{}",
		},
		{
			name:   "method is upper-cased",
			url:    "/api/orders",
			method: "get",
			want:   "GET|/api/orders|{}",
		},
		{
			name: "query string moves into params",
			url:  "/api/contacts?q=ann&page=2",
			want: `GET|/api/contacts|{"page":"2","q":"ann"}`,
		},
		{
			name:   "explicit params win on conflict",
			url:    "/api/contacts?page=2",
			params: map[string]any{"page": 3, "sort": "name"},
			want:   `GET|/api/contacts|{"page":3,"sort":"name"}`,
		},
		{
			name: "repeated query values kept as list",
			url:  "/api/contacts?tag=vip&tag=lead",
			want: `GET|/api/contacts|{"tag":["vip","lead"]}`,
		},
		{
			name: "absolute url keeps its origin",
			url:  "https://crm.example.com/api/contacts?q=x#top",
			want: `GET|https://crm.example.com/api/contacts|{"q":"x"}`,
		},
		{
			name: "undecodable query pair kept as written",
			url:  "/api/contacts?q=%zz&page=2",
			want: `GET|/api/contacts|{"page":"2","q":"%zz"}`,
		},
		{
			name:   "body is appended",
			url:    "/api/contacts/search",
			method: "POST",
			body:   map[string]any{"q": "ann"},
			want:   `POST|/api/contacts/search|{}|{"q":"ann"}`,
		},
		{
			name:   "raw json body is compacted",
			url:    "/api/contacts/search",
			method: "POST",
			body:   json.RawMessage("{ \"q\" : \"ann\" }"),
			want:   `POST|/api/contacts/search|{}|{"q":"ann"}`,
		},
		{
			name:   "unserializable param falls back to printed form",
			url:    "/api/contacts",
			params: map[string]any{"fn": func() {}},
			want:   `GET|/api/contacts|{"fn":"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateKey(tt.url, tt.method, tt.params, tt.body)
			if strings.HasSuffix(tt.want, `"`) {
				if !strings.HasPrefix(got, tt.want) {
					t.Errorf("GenerateKey() = %v, want prefix %v", got, tt.want)
				}
				return
			}
			if got != tt.want {
				t.Errorf("GenerateKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGenerateKey_Determinism ensures same input always produces same key
// regardless of parameter insertion order.
func TestGenerateKey_Determinism(t *testing.T) {
	first := GenerateKey("/api/contacts", "GET", map[string]any{
		"status": "active",
		"page":   1,
		"q":      "ann",
	}, nil)

	for i := 0; i < 10; i++ {
		params := make(map[string]any)
		// Go randomizes map iteration, rebuild in a different order each time
		order := []string{"q", "page", "status"}
		values := map[string]any{"status": "active", "page": 1, "q": "ann"}
		for j := range order {
			name := order[(i+j)%len(order)]
			params[name] = values[name]
		}
		if got := GenerateKey("/api/contacts", "GET", params, nil); got != first {
			t.Errorf("run %d: %v, want %v (not deterministic)", i, got, first)
		}
	}

	// Query string order is irrelevant as well
	a := GenerateKey("/api/contacts?a=1&b=2", "GET", nil, nil)
	b := GenerateKey("/api/contacts?b=2&a=1", "GET", nil, nil)
	if a != b {
		t.Errorf("query order changed key: %v vs %v", a, b)
	}
}

func TestGenerateKey_DistinctInputs(t *testing.T) {
	base := GenerateKey("/api/contacts", "GET", map[string]any{"page": 1}, nil)

	variants := map[string]string{
		"method": GenerateKey("/api/contacts", "POST", map[string]any{"page": 1}, nil),
		"path":   GenerateKey("/api/orders", "GET", map[string]any{"page": 1}, nil),
		"params": GenerateKey("/api/contacts", "GET", map[string]any{"page": 2}, nil),
		"body":   GenerateKey("/api/contacts", "GET", map[string]any{"page": 1}, map[string]any{"x": 1}),
		"origin": GenerateKey("https://eu.crm.example.com/api/contacts", "GET", map[string]any{"page": 1}, nil),
	}
	for name, key := range variants {
		if key == base {
			t.Errorf("changing %s did not change the key: %v", name, key)
		}
	}
}

func TestGenerateKey_MalformedQuery(t *testing.T) {
	keys := []string{
		GenerateKey("/api/contacts", "GET", nil, nil),
		GenerateKey("/api/contacts?q=%zz", "GET", nil, nil),
		GenerateKey("/api/contacts?q=%yy", "GET", nil, nil),
		GenerateKey("/api/contacts?q=a;b", "GET", nil, nil),
	}
	seen := make(map[string]int)
	for i, key := range keys {
		if j, ok := seen[key]; ok {
			t.Errorf("inputs %d and %d share key %v", j, i, key)
		}
		seen[key] = i
	}

	a := GenerateKey("https://a.example.com/api/contacts", "GET", nil, nil)
	b := GenerateKey("https://b.example.com/api/contacts", "GET", nil, nil)
	if a == b {
		t.Errorf("different origins share key %v", a)
	}
}

func TestGenerateKey_NeverPanics(t *testing.T) {
	inputs := []string{"", "?", "%zz", "://", "/a?b=%zz&c=1", "#only-fragment"}
	for _, in := range inputs {
		_ = GenerateKey(in, "", nil, nil)
	}
}

func TestKeyForRequest(t *testing.T) {
	req, _ := http.NewRequest("get", "https://crm.example.com/api/contacts?q=ann", nil)

	got := KeyForRequest(req, nil)
	want := GenerateKey("https://crm.example.com/api/contacts", "GET", map[string]any{"q": "ann"}, nil)
	if got != want {
		t.Errorf("KeyForRequest() = %v, want %v", got, want)
	}

	if KeyForRequest(nil, nil) != "GET||{}" {
		t.Errorf("KeyForRequest(nil) = %v", KeyForRequest(nil, nil))
	}
}
