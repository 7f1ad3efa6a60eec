package tier

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"
)

var _ Backend = (*Cookie)(nil)

// DefaultCookieMaxBytes is the ceiling for an encoded cookie value.
const DefaultCookieMaxBytes = 4000

// CookieConfig configures the cookie tier.
type CookieConfig struct {
	// SiteURL scopes the cookies (default: http://localhost/).
	SiteURL string

	// MaxBytes caps the URL-encoded value (default: DefaultCookieMaxBytes).
	MaxBytes int
}

// Cookie is a tier stored in a cookie jar. Expiry is enforced by the jar
// itself; enumeration is not supported.
type Cookie struct {
	jar      *cookiejar.Jar
	site     *url.URL
	maxBytes int
	now      func() time.Time
}

// NewCookie creates a cookie tier with an empty jar.
func NewCookie(cfg CookieConfig) (*Cookie, error) {
	if cfg.SiteURL == "" {
		cfg.SiteURL = "http://localhost/"
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultCookieMaxBytes
	}

	site, err := url.Parse(cfg.SiteURL)
	if err != nil {
		return nil, fmt.Errorf("parse cookie site url: %w", err)
	}
	if site.Host == "" {
		return nil, fmt.Errorf("cookie site url %q has no host", cfg.SiteURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	return &Cookie{
		jar:      jar,
		site:     site,
		maxBytes: cfg.MaxBytes,
		now:      time.Now,
	}, nil
}

// CookieName returns the cookie name used for key.
func CookieName(key string) string {
	return url.QueryEscape(key)
}

// Name returns "cookie".
func (c *Cookie) Name() string { return "cookie" }

// Get returns the decoded cookie value.
func (c *Cookie) Get(_ context.Context, key string) ([]byte, error) {
	name := CookieName(key)
	for _, ck := range c.jar.Cookies(c.site) {
		if ck.Name != name {
			continue
		}
		value, err := url.QueryUnescape(ck.Value)
		if err != nil {
			return nil, newError(c.Name(), "get", KindCorrupt, key, err)
		}
		return []byte(value), nil
	}
	return nil, newError(c.Name(), "get", KindNotFound, key, nil)
}

// Set stores value in a cookie expiring after ttl. Values whose encoded
// form exceeds the size cap fail with KindTooLarge.
func (c *Cookie) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	encoded := url.QueryEscape(string(value))
	if len(encoded) > c.maxBytes {
		return newError(c.Name(), "set", KindTooLarge, key,
			fmt.Errorf("encoded size %d exceeds %d bytes", len(encoded), c.maxBytes))
	}

	ck := &http.Cookie{
		Name:     CookieName(key),
		Value:    encoded,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
		Secure:   c.site.Scheme == "https",
	}
	if ttl > 0 {
		ck.Expires = c.now().Add(ttl)
	}
	c.jar.SetCookies(c.site, []*http.Cookie{ck})
	return nil
}

// Remove expires the cookie immediately.
func (c *Cookie) Remove(_ context.Context, key string) error {
	c.jar.SetCookies(c.site, []*http.Cookie{{
		Name:   CookieName(key),
		Path:   "/",
		MaxAge: -1,
	}})
	return nil
}

// Keys is not supported: cookie enumeration is unreliable.
func (c *Cookie) Keys(context.Context, string) ([]string, error) {
	return nil, newError(c.Name(), "keys", KindUnsupported, "", nil)
}

// Clear is not supported: cookies expire on their own.
func (c *Cookie) Clear(context.Context, string) error {
	return newError(c.Name(), "clear", KindUnsupported, "", nil)
}

// Cookies returns the live cookies for the site, for forwarding as
// Set-Cookie headers.
func (c *Cookie) Cookies() []*http.Cookie {
	return c.jar.Cookies(c.site)
}

// SetCookies imports cookies received from the site, for example from an
// incoming request.
func (c *Cookie) SetCookies(cookies []*http.Cookie) {
	c.jar.SetCookies(c.site, cookies)
}
