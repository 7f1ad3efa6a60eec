package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// GenerateKey derives a deterministic cache key from the identity of a request.
// Format: METHOD|path|{params}[|body]
//
// The query string is stripped from the path and merged with params, where
// explicit params win on conflict. Parameter names are serialized in sorted
// order so insertion order never changes the key. A nil body is omitted.
//
// Example:
//
//	GET|/api/contacts|{"page":"2","q":"ann"}
func GenerateKey(rawURL, method string, params map[string]any, body any) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	path, query := splitURL(rawURL)

	merged := make(map[string]any, len(query)+len(params))
	for name, values := range query {
		if len(values) == 1 {
			merged[name] = values[0]
		} else {
			merged[name] = values
		}
	}
	for name, value := range params {
		merged[name] = value
	}

	parts := []string{method, path, encodeParams(merged)}
	if body != nil {
		parts = append(parts, encodeBody(body))
	}
	return strings.Join(parts, "|")
}

// KeyForRequest derives the key for an outgoing request. body is the value
// the request body was serialized from, or nil.
func KeyForRequest(req *http.Request, body any) string {
	if req == nil || req.URL == nil {
		return GenerateKey("", "", nil, body)
	}
	raw := req.URL.EscapedPath()
	if req.URL.Host != "" {
		raw = req.URL.Scheme + "://" + req.URL.Host + raw
	}
	if req.URL.RawQuery != "" {
		raw += "?" + req.URL.RawQuery
	}
	return GenerateKey(raw, req.Method, nil, body)
}

// splitURL separates the path from the query string of an absolute or
// relative URL. It never fails: unparseable input is used verbatim as path.
func splitURL(rawURL string) (string, url.Values) {
	raw := rawURL
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw = raw[:i]
	}

	path, rawQuery, _ := strings.Cut(raw, "?")
	query := parseQuery(rawQuery)

	// Same path on another origin is another resource
	if u, err := url.Parse(path); err == nil && u.Host != "" {
		path = u.Scheme + "://" + u.Host + u.EscapedPath()
	}
	return path, query
}

// parseQuery splits a query string into values. Unlike url.ParseQuery it
// never drops a pair: names and values that fail to unescape are kept as
// written.
func parseQuery(rawQuery string) url.Values {
	query := make(url.Values)
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		query.Add(unescapeOrRaw(name), unescapeOrRaw(value))
	}
	return query
}

func unescapeOrRaw(s string) string {
	if unescaped, err := url.QueryUnescape(s); err == nil {
		return unescaped
	}
	return s
}

// encodeParams serializes params as a JSON object with sorted keys.
func encodeParams(params map[string]any) string {
	if data, err := json.Marshal(params); err == nil {
		return string(data)
	}

	// Some value is not JSON serializable: fall back to its printed form so
	// key generation never fails.
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	printed := make(map[string]string, len(params))
	for _, name := range names {
		printed[name] = fmt.Sprint(params[name])
	}
	data, _ := json.Marshal(printed)
	return string(data)
}

// encodeBody serializes a request body. JSON documents passed as bytes are
// compacted so formatting differences do not change the key.
func encodeBody(body any) string {
	switch b := body.(type) {
	case json.RawMessage:
		return compactOrRaw(b)
	case []byte:
		return compactOrRaw(b)
	}
	if data, err := json.Marshal(body); err == nil {
		return string(data)
	}
	return fmt.Sprint(body)
}

func compactOrRaw(data []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return string(data)
	}
	return buf.String()
}
