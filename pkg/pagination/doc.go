// Package pagination fetches every page of a paginated CRM collection in
// parallel.
//
// The CRM reports the page count in the X-Total-Pages header (or a
// total_pages field in the body). Page 1 is fetched first to learn it, the
// rest are fetched concurrently through the caching client, so a contacts
// table can page back and forth without hitting the API again.
//
// Example usage:
//
//	fetcher := pagination.NewBatchFetcher(pagination.NewClientFetcher(crmClient), pagination.DefaultConfig())
//	pages, err := fetcher.FetchAllPages(ctx, "/api/contacts", map[string]any{"status": "lead"})
//
// On failure the pages fetched so far are returned with the error.
package pagination
