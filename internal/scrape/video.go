package scrape

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/driftline/pattern-cli/pkg/youtube"
)

// VideoScraper pulls recipe text from YouTube video metadata. Tying channels
// conventionally list the full materials recipe in the video description, so
// the description plus title is what feeds extraction.
type VideoScraper struct {
	client youtube.Client
}

// NewVideoScraper creates a VideoScraper.
func NewVideoScraper(client youtube.Client) *VideoScraper {
	return &VideoScraper{client: client}
}

func (v *VideoScraper) Name() string { return "youtube" }

// Supports returns true for recognizable YouTube video links.
func (v *VideoScraper) Supports(url string) bool {
	return youtube.VideoIDFromURL(url) != ""
}

// Scrape looks up the video and returns its description as content.
func (v *VideoScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	id := youtube.VideoIDFromURL(targetURL)
	if id == "" {
		return nil, eris.Errorf("youtube: not a video url: %s", targetURL)
	}

	video, err := v.client.GetVideo(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "youtube: video %s", id)
	}
	if video == nil {
		return nil, eris.Errorf("youtube: video %s not found", id)
	}

	desc := strings.TrimSpace(video.Description)
	if desc == "" {
		return nil, eris.Errorf("youtube: video %s has no description", id)
	}

	content := fmt.Sprintf("%s\nChannel: %s\n\n%s", video.Title, video.ChannelTitle, desc)

	return &Result{
		URL:        video.WatchURL(),
		Title:      video.Title,
		Content:    content,
		StatusCode: 200,
		Source:     v.Name(),
	}, nil
}
