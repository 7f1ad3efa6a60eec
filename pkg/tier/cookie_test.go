package tier

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCookie_InvalidSite(t *testing.T) {
	_, err := NewCookie(CookieConfig{SiteURL: "not a url without host"})
	assert.Error(t, err)
}

func TestCookie_SetGetRemove(t *testing.T) {
	ctx := context.Background()
	c, err := NewCookie(CookieConfig{})
	require.NoError(t, err)

	value := []byte(`{"data":{"q":"ann lee"},"timestamp":1,"ttl":300000}`)
	require.NoError(t, c.Set(ctx, "crm_result_filter", value, time.Minute))

	got, err := c.Get(ctx, "crm_result_filter")
	require.NoError(t, err)
	assert.Equal(t, string(value), string(got))

	require.NoError(t, c.Remove(ctx, "crm_result_filter"))
	require.NoError(t, c.Remove(ctx, "crm_result_filter"))

	_, err = c.Get(ctx, "crm_result_filter")
	assert.True(t, IsKind(err, KindNotFound), "got %v", err)
}

func TestCookie_SizeCap(t *testing.T) {
	ctx := context.Background()
	c, err := NewCookie(CookieConfig{MaxBytes: 100})
	require.NoError(t, err)

	// 40 spaces encode to 40 bytes, 40 slashes encode to 120 bytes
	require.NoError(t, c.Set(ctx, "small", []byte(strings.Repeat(" ", 40)), time.Minute))

	err = c.Set(ctx, "large", []byte(strings.Repeat("/", 40)), time.Minute)
	assert.True(t, IsKind(err, KindTooLarge), "got %v", err)

	_, err = c.Get(ctx, "large")
	assert.True(t, IsKind(err, KindNotFound), "oversized value must not be written")
}

func TestCookie_ExpiryDelegatedToJar(t *testing.T) {
	ctx := context.Background()
	c, err := NewCookie(CookieConfig{})
	require.NoError(t, err)

	// Expires in the past: the jar drops the cookie immediately
	c.now = func() time.Time { return time.Now().Add(-time.Hour) }
	require.NoError(t, c.Set(ctx, "stale", []byte("v"), time.Minute))

	_, err = c.Get(ctx, "stale")
	assert.True(t, IsKind(err, KindNotFound), "got %v", err)
}

func TestCookie_EnumerationUnsupported(t *testing.T) {
	ctx := context.Background()
	c, err := NewCookie(CookieConfig{})
	require.NoError(t, err)

	_, err = c.Keys(ctx, "")
	assert.True(t, IsKind(err, KindUnsupported))
	assert.True(t, IsKind(c.Clear(ctx, ""), KindUnsupported))
}

func TestCookie_ImportExport(t *testing.T) {
	ctx := context.Background()
	c, err := NewCookie(CookieConfig{SiteURL: "https://crm.example.com/"})
	require.NoError(t, err)

	c.SetCookies([]*http.Cookie{{Name: "crm_result_view", Value: "grid", Path: "/"}})

	got, err := c.Get(ctx, "crm_result_view")
	require.NoError(t, err)
	assert.Equal(t, "grid", string(got))

	cookies := c.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "crm_result_view", cookies[0].Name)
}
