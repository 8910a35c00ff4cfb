// Package youtube provides a minimal YouTube Data API v3 client covering
// video search and per-video lookup.
package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the YouTube operations used by the pipeline.
type Client interface {
	// Search returns up to maxResults videos matching the query, with view
	// counts populated.
	Search(ctx context.Context, query string, maxResults int) ([]Video, error)
	// GetVideo returns a single video with its full description and
	// statistics, or nil if the ID does not exist.
	GetVideo(ctx context.Context, videoID string) (*Video, error)
}

// Video is a flattened view of a YouTube video resource.
type Video struct {
	ID           string
	Title        string
	ChannelTitle string
	Description  string
	PublishedAt  time.Time
	ViewCount    uint64
}

// WatchURL returns the canonical watch URL for the video.
func (v Video) WatchURL() string {
	return "https://www.youtube.com/watch?v=" + v.ID
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new YouTube Data API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://www.googleapis.com/youtube/v3",
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Wire types for the two API resources we touch. Fields not listed are
// ignored by the decoder.

type searchListResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

type videoListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			Description  string `json:"description"`
			PublishedAt  string `json:"publishedAt"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount string `json:"viewCount"`
		} `json:"statistics"`
	} `json:"items"`
}

func (c *httpClient) Search(ctx context.Context, query string, maxResults int) ([]Video, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	params := url.Values{}
	params.Set("part", "id")
	params.Set("type", "video")
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(maxResults))
	params.Set("key", c.apiKey)

	var list searchListResponse
	if err := c.get(ctx, "/search", params, &list); err != nil {
		return nil, eris.Wrap(err, "youtube: search")
	}

	ids := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		if item.ID.VideoID != "" {
			ids = append(ids, item.ID.VideoID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// search.list snippets truncate descriptions and carry no statistics,
	// so a second videos.list call fills both in one round trip.
	return c.listVideos(ctx, ids)
}

func (c *httpClient) GetVideo(ctx context.Context, videoID string) (*Video, error) {
	videos, err := c.listVideos(ctx, []string{videoID})
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, nil
	}
	return &videos[0], nil
}

func (c *httpClient) listVideos(ctx context.Context, ids []string) ([]Video, error) {
	params := url.Values{}
	params.Set("part", "snippet,statistics")
	params.Set("id", strings.Join(ids, ","))
	params.Set("key", c.apiKey)

	var list videoListResponse
	if err := c.get(ctx, "/videos", params, &list); err != nil {
		return nil, eris.Wrap(err, "youtube: list videos")
	}

	videos := make([]Video, 0, len(list.Items))
	for _, item := range list.Items {
		v := Video{
			ID:           item.ID,
			Title:        item.Snippet.Title,
			ChannelTitle: item.Snippet.ChannelTitle,
			Description:  item.Snippet.Description,
		}
		if ts, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			v.PublishedAt = ts
		}
		if n, err := strconv.ParseUint(item.Statistics.ViewCount, 10, 64); err == nil {
			v.ViewCount = n
		}
		videos = append(videos, v)
	}
	return videos, nil
}

func (c *httpClient) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "unmarshal response")
	}
	return nil
}

// VideoIDFromURL extracts the video ID from a watch or short-form URL.
// Returns empty string if the URL is not a recognizable YouTube video link.
func VideoIDFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	switch host {
	case "youtube.com", "m.youtube.com":
		if u.Path == "/watch" {
			return u.Query().Get("v")
		}
		if rest, ok := strings.CutPrefix(u.Path, "/shorts/"); ok {
			return strings.Split(rest, "/")[0]
		}
	case "youtu.be":
		return strings.Split(strings.TrimPrefix(u.Path, "/"), "/")[0]
	}
	return ""
}
