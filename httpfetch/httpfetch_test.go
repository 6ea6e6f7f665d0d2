package httpfetch

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepr/fetchcore"
)

func testPolicy() fetchcore.FetcherPolicy {
	p := fetchcore.DefaultPolicy("fetchcore-test/1.0")
	p.MaxContentSize = 1 << 20
	p.ThreadsPerHost = 1
	return p
}

func TestFetchBasicPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := New(testPolicy(), clock.NewMock())
	defer f.Close()

	d := fetchcore.ScoredUrlDatum{GroupedUrlDatum: fetchcore.GroupedUrlDatum{
		UrlDatum: fetchcore.UrlDatum{URL: srv.URL, Metadata: fetchcore.Metadata{"depth": 0}},
	}}
	got := f.Fetch(d)

	assert.Equal(t, fetchcore.FetchStatusFetched, got.FetchStatus)
	assert.Equal(t, http.StatusOK, got.HTTPStatusCode)
	assert.Equal(t, "text/html", got.ContentType)
	assert.Contains(t, string(got.Content), "hello")
	assert.False(t, got.Truncated)
}

func TestFetchPropagatesMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(testPolicy(), clock.NewMock())
	defer f.Close()

	d := fetchcore.ScoredUrlDatum{GroupedUrlDatum: fetchcore.GroupedUrlDatum{
		UrlDatum: fetchcore.UrlDatum{URL: srv.URL, Metadata: fetchcore.Metadata{"seed": "yes"}},
	}}
	got := f.Fetch(d)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, "yes", got.Metadata["seed"])
}

func TestFetchNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	f := New(testPolicy(), clock.NewMock())
	defer f.Close()

	d := fetchcore.ScoredUrlDatum{GroupedUrlDatum: fetchcore.GroupedUrlDatum{
		UrlDatum: fetchcore.UrlDatum{URL: srv.URL},
	}}
	got := f.Fetch(d)
	assert.Equal(t, fetchcore.FetchStatusError, got.FetchStatus)
	assert.Equal(t, http.StatusInternalServerError, got.HTTPStatusCode)
}

func TestFetchTruncatesOversizeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	policy := testPolicy()
	policy.MaxContentSize = 10
	f := New(policy, clock.NewMock())
	defer f.Close()

	d := fetchcore.ScoredUrlDatum{GroupedUrlDatum: fetchcore.GroupedUrlDatum{
		UrlDatum: fetchcore.UrlDatum{URL: srv.URL},
	}}
	got := f.Fetch(d)
	assert.True(t, got.Truncated)
	assert.Equal(t, fetchcore.FetchStatusAborted, got.FetchStatus)
	assert.Len(t, got.Content, 10)
}

func TestGetBytesReturnsHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := New(testPolicy(), clock.NewMock())
	defer f.Close()

	_, err := f.GetBytes(srv.URL)
	require.Error(t, err)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Code())
}

func TestGetBytesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow:\n"))
	}))
	defer srv.Close()

	f := New(testPolicy(), clock.NewMock())
	defer f.Close()

	body, err := f.GetBytes(srv.URL)
	require.NoError(t, err)
	assert.Contains(t, string(body), "User-agent")
}

func TestHumanizeSize(t *testing.T) {
	assert.Equal(t, "1.0 kB", HumanizeSize(1000))
}

func TestFetcherCloseIsIdempotentWithNilClock(t *testing.T) {
	f := New(testPolicy(), nil)
	assert.NotPanics(t, func() {
		f.Close()
		f.Close()
	})
}

func TestSlowPeerAbortsOnMinResponseRate(t *testing.T) {
	policy := testPolicy()
	policy.MinResponseRate = 1 << 30 // effectively impossible to sustain
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 5; i++ {
			_, _ = w.Write([]byte(strings.Repeat("y", 4096)))
			if ok {
				flusher.Flush()
			}
			time.Sleep(5 * time.Millisecond)
		}
	}))
	defer srv.Close()

	f := New(policy, clock.NewMock())
	defer f.Close()

	d := fetchcore.ScoredUrlDatum{GroupedUrlDatum: fetchcore.GroupedUrlDatum{
		UrlDatum: fetchcore.UrlDatum{URL: srv.URL},
	}}
	got := f.Fetch(d)
	assert.Equal(t, fetchcore.FetchStatusAborted, got.FetchStatus)
}
