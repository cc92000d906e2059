package fetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Korner-san/bevisible/internal/fetch"
)

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_TitleAndText(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Acme Review</title></head>
			<body><script>var x=1;</script><p>Acme is  great.</p><footer>ads</footer></body></html>`))
	})

	f := fetch.NewHTTPFetcher(srv.Client())
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Acme Review", page.Title)
	assert.Equal(t, "Acme is great.", page.Text)
	assert.Equal(t, srv.URL, page.URL)
}

func TestFetch_PrefersOpenGraphTitle(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>boring</title>
			<meta property="og:title" content="Shiny Social Title"></head><body>x</body></html>`))
	})

	f := fetch.NewHTTPFetcher(srv.Client())
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Shiny Social Title", page.Title)
}

func TestFetch_SendsUserAgent(t *testing.T) {
	var ua string
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>ok</body></html>`))
	})

	f := fetch.NewHTTPFetcher(srv.Client())
	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, ua, "bevisible-fetcher")
}

func TestFetch_BadStatus(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})

	f := fetch.NewHTTPFetcher(srv.Client())
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, fetch.ErrBadStatus)
	assert.Contains(t, err.Error(), "404")
}

func TestFetch_NonHTMLContentType(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4"))
	})

	f := fetch.NewHTTPFetcher(srv.Client())
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, fetch.ErrNotHTML)
}

func TestFetch_Unreachable(t *testing.T) {
	f := fetch.NewHTTPFetcher(&http.Client{Timeout: time.Second})
	// Port 1 on loopback refuses connections.
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/")
	assert.ErrorIs(t, err, fetch.ErrUnreachable)
}

func TestFetch_Timeout(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("late"))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f := fetch.NewHTTPFetcher(srv.Client())
	_, err := f.Fetch(ctx, srv.URL)
	assert.ErrorIs(t, err, fetch.ErrTimeout)
}

func TestFetch_TruncatesLongText(t *testing.T) {
	long := strings.Repeat("word ", 3000)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><p>" + long + "</p></body></html>"))
	})

	f := fetch.NewHTTPFetcher(srv.Client())
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(page.Text), 5000)
}

func TestFetch_TruncationKeepsRunesWhole(t *testing.T) {
	// Three-byte runes guarantee the cap falls inside a character.
	long := strings.Repeat("日", 2000)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><p>" + long + "</p></body></html>"))
	})

	f := fetch.NewHTTPFetcher(srv.Client())
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(page.Text), 5000)
	assert.True(t, utf8.ValidString(page.Text))
	assert.True(t, strings.HasSuffix(page.Text, "日"))
}
