package scrape

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/driftline/pattern-cli/pkg/serp"
)

// circuitBreaker tracks consecutive failures to skip a flaky upstream.
type circuitBreaker struct {
	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	openUntil   time.Time
	threshold   int           // consecutive failures to trip
	window      time.Duration // failures must occur within this window
	cooldown    time.Duration // how long the circuit stays open
}

func newCircuitBreaker(threshold int, window, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
	}
}

func (cb *circuitBreaker) isOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return time.Now().Before(cb.openUntil)
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := time.Now()
	if now.Sub(cb.lastFailure) > cb.window {
		cb.failures = 0
	}
	cb.failures++
	cb.lastFailure = now
	if cb.failures >= cb.threshold {
		cb.openUntil = now.Add(cb.cooldown)
		zap.L().Warn("scrape: reader circuit breaker opened",
			zap.Int("failures", cb.failures),
			zap.Duration("cooldown", cb.cooldown),
		)
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
}

// ReaderAdapter wraps the reader API client as a Scraper with a circuit
// breaker. It sits behind ArticleScraper in the chain and handles pages
// that block direct fetches.
type ReaderAdapter struct {
	client  serp.Client
	breaker *circuitBreaker
}

// NewReaderAdapter creates a ReaderAdapter. The circuit breaker opens after
// 3 consecutive failures within 30s and stays open for 60s, causing
// immediate fallback to the next scraper.
func NewReaderAdapter(client serp.Client) *ReaderAdapter {
	return &ReaderAdapter{
		client:  client,
		breaker: newCircuitBreaker(3, 30*time.Second, 60*time.Second),
	}
}

func (r *ReaderAdapter) Name() string { return "reader" }

// Supports returns true unless the circuit breaker is open.
func (r *ReaderAdapter) Supports(_ string) bool {
	return !r.breaker.isOpen()
}

// Scrape fetches a URL via the reader API and validates the response.
func (r *ReaderAdapter) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	if r.breaker.isOpen() {
		return nil, eris.New("reader: circuit breaker open")
	}

	resp, err := r.client.Read(ctx, targetURL)
	if err != nil {
		r.breaker.recordFailure()
		return nil, err
	}

	if needsFallback(resp) {
		r.breaker.recordFailure()
		return nil, eris.New("reader: response needs fallback")
	}

	r.breaker.recordSuccess()
	return &Result{
		URL:        resp.Data.URL,
		Title:      resp.Data.Title,
		Content:    resp.Data.Content,
		StatusCode: resp.Code,
		Source:     r.Name(),
	}, nil
}

// needsFallback checks whether a reader response contains usable content or
// indicates the page is blocked or empty.
func needsFallback(resp *serp.ReadResponse) bool {
	if resp == nil {
		return true
	}

	if resp.Code != 0 && resp.Code != 200 {
		return true
	}

	content := strings.TrimSpace(resp.Data.Content)

	if len(content) < 100 {
		return true
	}

	lower := strings.ToLower(content)

	challengeSignatures := []string{
		"checking your browser",
		"enable javascript",
		"please enable cookies",
		"access denied",
		"403 forbidden",
		"just a moment",
		"cloudflare",
		"attention required",
	}

	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) && len(content) < 1000 {
			return true
		}
	}

	return false
}
