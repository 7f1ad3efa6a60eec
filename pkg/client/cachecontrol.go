package client

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// responseTTL derives how long a response may be cached from its headers.
// Cache-Control max-age wins over Expires. ok is false when the response
// must not be cached; ttl is 0 when the headers say nothing and the cache
// default applies.
func responseTTL(header http.Header, now time.Time) (ttl time.Duration, ok bool) {
	var (
		maxAge    int
		hasMaxAge bool
	)
	for _, directive := range strings.Split(header.Get("Cache-Control"), ",") {
		name, value, _ := strings.Cut(strings.TrimSpace(directive), "=")
		switch strings.ToLower(name) {
		case "no-store", "no-cache":
			// Forbids caching wherever it appears in the header
			return 0, false
		case "max-age":
			seconds, err := strconv.Atoi(strings.Trim(value, `"`))
			if err != nil || hasMaxAge {
				continue
			}
			maxAge, hasMaxAge = seconds, true
		}
	}

	if hasMaxAge {
		if maxAge <= 0 {
			return 0, false
		}
		return time.Duration(maxAge) * time.Second, true
	}

	if expiresStr := header.Get("Expires"); expiresStr != "" {
		expires, err := http.ParseTime(expiresStr)
		if err != nil {
			// Unparseable Expires means already expired
			return 0, false
		}
		left := expires.Sub(now)
		if left <= 0 {
			return 0, false
		}
		return left, true
	}

	return 0, true
}
