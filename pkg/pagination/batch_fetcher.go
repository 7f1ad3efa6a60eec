package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int
	// Timeout per page fetch
	Timeout time.Duration
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// PageFetcher fetches a single page and reports the total page count
type PageFetcher interface {
	FetchPage(ctx context.Context, endpoint string, params map[string]any, pageNum int) (data []byte, totalPages int, err error)
}

// BatchFetcher handles parallel fetching of multiple pages
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher PageFetcher, config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchAllPages fetches page 1 to learn the page count, then the remaining
// pages in parallel. Returns map of pageNumber -> data. On failure the pages
// fetched so far are returned together with the error.
func (bf *BatchFetcher) FetchAllPages(ctx context.Context, endpoint string, params map[string]any) (map[int][]byte, error) {
	start := time.Now()

	firstPageData, totalPages, err := bf.fetcher.FetchPage(ctx, endpoint, params, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch first page: %w", err)
	}

	results := map[int][]byte{1: firstPageData}
	if totalPages <= 1 {
		log.Debug().
			Str("endpoint", endpoint).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return results, nil
	}

	log.Info().
		Str("endpoint", endpoint).
		Int("total_pages", totalPages).
		Msg("Starting parallel page fetch")

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bf.config.MaxConcurrency)

	for page := 2; page <= totalPages; page++ {
		pageNum := page
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			pageCtx, cancel := context.WithTimeout(gctx, bf.config.Timeout)
			defer cancel()

			data, _, err := bf.fetcher.FetchPage(pageCtx, endpoint, params, pageNum)
			if err != nil {
				log.Warn().
					Err(err).
					Int("page", pageNum).
					Msg("Page fetch failed")
				return fmt.Errorf("page %d: %w", pageNum, err)
			}

			mu.Lock()
			results[pageNum] = data
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		mu.Lock()
		fetched := len(results)
		mu.Unlock()

		log.Warn().
			Err(err).
			Int("fetched_pages", fetched).
			Int("total_pages", totalPages).
			Msg("Returning partial results")
		return results, fmt.Errorf("partial data: %d/%d pages: %w", fetched, totalPages, err)
	}

	log.Info().
		Str("endpoint", endpoint).
		Int("pages", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}
