package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/driftline/pattern-cli/internal/resilience"
	"github.com/driftline/pattern-cli/pkg/youtube"
)

// ArticleOptions tunes the plain-HTTP article scraper.
type ArticleOptions struct {
	// Timeout bounds a single fetch.
	Timeout time.Duration
	// MaxContentKB caps how much of the response body is read.
	MaxContentKB int
	// RatePerSecond throttles outbound fetches across all workers.
	RatePerSecond float64
	// MaxRetries is the total attempt count for transient fetch failures.
	MaxRetries int
}

func (o ArticleOptions) withDefaults() ArticleOptions {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.MaxContentKB <= 0 {
		o.MaxContentKB = 512
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 2
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	return o
}

// ArticleScraper fetches HTML directly via net/http, detects anti-bot
// blocks, and converts markup to plaintext. Free, no API calls; the chain
// falls through to the reader API when a page is blocked.
type ArticleScraper struct {
	client  *http.Client
	limiter *rate.Limiter
	policy  resilience.Policy
	maxRead int64
}

// NewArticleScraper creates an ArticleScraper. The rate limiter is shared
// across all concurrent scrape workers using this instance.
func NewArticleScraper(opts ArticleOptions) *ArticleScraper {
	opts = opts.withDefaults()
	policy := resilience.DefaultPolicy()
	policy.MaxAttempts = opts.MaxRetries
	return &ArticleScraper{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1),
		policy:  policy,
		maxRead: int64(opts.MaxContentKB) * 1024,
	}
}

func (a *ArticleScraper) Name() string { return "article_http" }

// Supports returns true for everything except video links, which carry
// their recipe text in platform metadata rather than page HTML.
func (a *ArticleScraper) Supports(url string) bool {
	return youtube.VideoIDFromURL(url) == ""
}

// Scrape fetches a URL, detects blocks, and strips HTML to plaintext.
// Transient network failures and 5xx responses are retried with backoff;
// a detected block fails immediately so the chain can fall through.
func (a *ArticleScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "article_http: rate limit wait")
	}
	return resilience.DoVal(ctx, a.policy, func(ctx context.Context) (*Result, error) {
		return a.fetch(ctx, targetURL)
	})
}

func (a *ArticleScraper) fetch(ctx context.Context, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "article_http: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; PatternBot/1.0)")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "article_http: fetch"), 0)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxRead))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "article_http: read body"), 0)
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("article_http: blocked (%s)", blockType)
	}

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(eris.Errorf("article_http: status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("article_http: status %d", resp.StatusCode)
	}

	if len(body) < 100 {
		return nil, eris.New("article_http: empty page")
	}

	return &Result{
		URL:        targetURL,
		Title:      extractTitle(body),
		Content:    stripHTML(string(body)),
		StatusCode: resp.StatusCode,
		Source:     a.Name(),
	}, nil
}

var titleRe = regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)

// extractTitle pulls the <title> from HTML.
func extractTitle(body []byte) string {
	m := titleRe.FindSubmatch(body)
	if len(m) > 1 {
		return strings.TrimSpace(string(m[1]))
	}
	return ""
}

// stripHTML removes scripts/styles/nav/footer, strips tags, decodes entities,
// and collapses whitespace. The result is plaintext suitable for extraction.
func stripHTML(html string) string {
	// Remove script, style, nav, footer blocks entirely.
	for _, tag := range []string{"script", "style", "nav", "footer"} {
		re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
		html = re.ReplaceAllString(html, "")
	}

	// Strip remaining HTML tags.
	tagRe := regexp.MustCompile(`<[^>]+>`)
	html = tagRe.ReplaceAllString(html, " ")

	// Decode common HTML entities.
	r := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	html = r.Replace(html)

	// Collapse whitespace.
	spaceRe := regexp.MustCompile(`[ \t]+`)
	html = spaceRe.ReplaceAllString(html, " ")

	nlRe := regexp.MustCompile(`\n{3,}`)
	html = nlRe.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
