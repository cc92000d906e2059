// Package fetch retrieves cited pages and extracts the fields the content
// stage persists: page title and visible text.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Sentinel errors for fetch failures.
var (
	ErrUnreachable = errors.New("page unreachable")
	ErrBadStatus   = errors.New("page returned error status")
	ErrTimeout     = errors.New("page fetch timeout")
	ErrNotHTML     = errors.New("page is not html")
)

const (
	userAgent   = "bevisible-fetcher/1.0"
	maxBodySize = 2 << 20 // cap parsed HTML at 2 MiB
	maxTextLen  = 5000
)

// Page is what the extract stage keeps from one cited URL.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Fetcher is the interface for resolving citation URLs.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// HTTPFetcher implements Fetcher over plain HTTP GET.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher. Pass nil to use http.DefaultClient
// semantics with no timeout; callers normally bound fetches via ctx.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBadStatus, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("%w: content-type %s", ErrNotHTML, ct)
	}

	doc, err := goquery.NewDocumentFromReader(http.MaxBytesReader(nil, resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}

	return &Page{
		URL:   pageURL,
		Title: extractTitle(doc),
		Text:  extractText(doc),
	}, nil
}

// extractTitle prefers og:title over <title>, matching what link previews
// show users.
func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// extractText flattens the page body, dropping script/style noise.
func extractText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, nav, footer").Remove()
	text := strings.Join(strings.Fields(body.Text()), " ")
	if len(text) > maxTextLen {
		// Back the cut off to a rune start so the cap never splits a
		// multibyte character.
		cut := maxTextLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return text
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

var _ Fetcher = (*HTTPFetcher)(nil)
