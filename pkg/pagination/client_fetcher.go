package pagination

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/Sternrassler/crm-cache/pkg/cache"
	"github.com/Sternrassler/crm-cache/pkg/client"
)

// TotalPagesHeader announces the page count of a collection.
const TotalPagesHeader = "X-Total-Pages"

// ClientFetcher adapts the CRM client to PageFetcher. Pages are fetched
// through the response cache, so the page count learned from a live
// response is cached too: a cached page carries no headers.
type ClientFetcher struct {
	client *client.Client
}

// NewClientFetcher creates a PageFetcher backed by c.
func NewClientFetcher(c *client.Client) *ClientFetcher {
	return &ClientFetcher{client: c}
}

// FetchPage fetches one page of endpoint.
func (f *ClientFetcher) FetchPage(ctx context.Context, endpoint string, params map[string]any, pageNum int) ([]byte, int, error) {
	pageParams := make(map[string]any, len(params)+1)
	for k, v := range params {
		pageParams[k] = v
	}
	pageParams["page"] = pageNum

	resp, err := f.client.Get(ctx, endpoint, pageParams)
	if err != nil {
		return nil, 0, err
	}

	countKey := cache.GenerateKey(endpoint, "PAGES", params, nil)
	responseCache := f.client.Cache()

	if total, ok := totalPages(resp); ok {
		if !resp.Cached {
			_ = responseCache.Set(ctx, countKey, total, 0)
		}
		return resp.Body, total, nil
	}
	if total, ok := cache.Lookup[int](ctx, responseCache, countKey); ok {
		return resp.Body, total, nil
	}
	return resp.Body, 1, nil
}

// totalPages reads the page count from the X-Total-Pages header or a
// top-level total_pages field.
func totalPages(resp *client.Response) (int, bool) {
	if resp.Header != nil {
		if v := resp.Header.Get(TotalPagesHeader); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n, true
			}
		}
	}

	var envelope struct {
		TotalPages int `json:"total_pages"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err == nil && envelope.TotalPages > 0 {
		return envelope.TotalPages, true
	}
	return 0, false
}
