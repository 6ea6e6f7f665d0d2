package robots

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const robotsTxt = `User-agent: *
Disallow: /private/
Crawl-delay: 2
`

func TestNewAllowsAndBlocksPerGroup(t *testing.T) {
	r, err := New("test-agent", []byte(robotsTxt), 500*time.Millisecond)
	require.NoError(t, err)

	assert.True(t, r.IsAllowed("/public/page.html"))
	assert.False(t, r.IsAllowed("/private/secret.html"))
	assert.Equal(t, 2*time.Second, r.CrawlDelay())
	assert.False(t, r.DeferVisits())
}

func TestNewWithNoCrawlDelayUsesDefault(t *testing.T) {
	r, err := New("test-agent", []byte("User-agent: *\nDisallow:\n"), 750*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, r.CrawlDelay())
}

func TestFromStatusForbidden(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		r := FromStatus(code, time.Second)
		assert.False(t, r.IsAllowed("/anything"), "status %d should forbid all", code)
		assert.False(t, r.DeferVisits())
	}
}

func TestFromStatusDefers(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, 0, -1} {
		r := FromStatus(code, time.Second)
		assert.True(t, r.DeferVisits(), "status %d should defer", code)
	}
}

func TestFromStatusOtherAllowsWithDefaultDelay(t *testing.T) {
	r := FromStatus(http.StatusNotFound, 3*time.Second)
	assert.True(t, r.IsAllowed("/anything"))
	assert.False(t, r.DeferVisits())
	assert.Equal(t, 3*time.Second, r.CrawlDelay())
}
