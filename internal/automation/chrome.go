package automation

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/Korner-san/bevisible/internal/config"
)

// DOM anchors in the chat UI. The login form only renders when the session
// cookie is rejected.
const (
	selPromptInput  = `textarea[data-role="prompt-input"]`
	selSubmitButton = `button[data-role="prompt-submit"]`
	selResponse     = `div[data-role="assistant-response"]:last-of-type`
	selLoginForm    = `form[data-role="login"]`
	sessionCookie   = "session"
)

// citationsJS pulls the hrefs of the citation list attached to the latest
// response, deduplicated in document order.
const citationsJS = `(() => {
	const seen = new Set();
	const out = [];
	document.querySelectorAll('div[data-role="assistant-response"]:last-of-type a[data-role="citation"]').forEach(a => {
		if (a.href && !seen.has(a.href)) { seen.add(a.href); out.push(a.href); }
	});
	return out;
})()`

// ChromeSession implements Session on a headless Chrome via chromedp. Each
// Run gets its own browser context; queries within a run are paced by a
// rate limiter and each starts from a fresh conversation.
type ChromeSession struct {
	cfg config.AutomationConfig
	log *slog.Logger
}

func NewChromeSession(cfg config.AutomationConfig, log *slog.Logger) *ChromeSession {
	return &ChromeSession{cfg: cfg, log: log}
}

func (s *ChromeSession) Run(ctx context.Context, creds Credentials, queries []string) ([]QueryResult, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	if err := s.openSession(browserCtx, creds); err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.cfg.QueriesPerMin)), 1)
	results := make([]QueryResult, 0, len(queries))
	for _, q := range queries {
		if err := limiter.Wait(ctx); err != nil {
			return results, err
		}
		results = append(results, s.runQuery(browserCtx, q))
	}
	return results, nil
}

// openSession installs the account's session cookie, loads the chat page,
// and verifies the session was accepted. A rendered login form means the
// credentials are dead.
func (s *ChromeSession) openSession(ctx context.Context, creds Credentials) error {
	chatURL, err := url.Parse(s.cfg.ChatURL)
	if err != nil {
		return fmt.Errorf("parsing chat url: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigateTimeout)
	defer cancel()

	var loginVisible bool
	err = chromedp.Run(navCtx,
		network.Enable(),
		network.SetCookie(sessionCookie, creds.SessionToken).
			WithDomain(chatURL.Hostname()).
			WithPath("/").
			WithSecure(chatURL.Scheme == "https").
			WithHTTPOnly(true),
		chromedp.Navigate(s.cfg.ChatURL),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(fmt.Sprintf(`document.querySelector(%q) !== null`, selLoginForm), &loginVisible),
	)
	if err != nil {
		return fmt.Errorf("opening chat session: %w", err)
	}
	if loginVisible {
		return fmt.Errorf("account %s: %w", creds.AccountLabel, ErrSessionExpired)
	}
	return nil
}

// runQuery submits one query and waits for the rendered response to stop
// growing. Failures are confined to the returned result.
func (s *ChromeSession) runQuery(ctx context.Context, query string) QueryResult {
	result := QueryResult{Query: query}

	// Fresh conversation per query so earlier answers cannot leak into
	// later ones.
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigateTimeout)
	err := chromedp.Run(navCtx,
		chromedp.Navigate(s.cfg.ChatURL),
		chromedp.WaitVisible(selPromptInput),
		chromedp.SendKeys(selPromptInput, query),
		chromedp.Click(selSubmitButton),
	)
	cancel()
	if err != nil {
		result.Error = fmt.Sprintf("submitting query: %v", err)
		return result
	}

	text, err := WaitStable(ctx, s.cfg.PollInterval, s.cfg.StablePolls, s.cfg.MaxPolls, func(ctx context.Context) (string, error) {
		var rendered string
		if err := chromedp.Run(ctx, chromedp.Text(selResponse, &rendered, chromedp.AtLeast(0))); err != nil {
			return "", err
		}
		return rendered, nil
	})
	if err != nil {
		result.Error = fmt.Sprintf("waiting for response: %v", err)
		return result
	}
	result.Text = text

	var citations []string
	if err := chromedp.Run(ctx, chromedp.Evaluate(citationsJS, &citations)); err != nil {
		s.log.Warn("citation extraction failed", "error", err)
	} else {
		result.Citations = citations
	}
	return result
}

var _ Session = (*ChromeSession)(nil)
