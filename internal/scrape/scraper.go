package scrape

import (
	"context"
)

// Result holds the text content pulled from one source URL.
type Result struct {
	URL        string
	Title      string
	Content    string
	StatusCode int
	Source     string // e.g. "article_http", "reader", "youtube"
}

// Scraper fetches a single URL and returns its content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
	Supports(url string) bool
}
