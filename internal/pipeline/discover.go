package pipeline

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/driftline/pattern-cli/internal/model"
	"github.com/driftline/pattern-cli/internal/similarity"
	"github.com/driftline/pattern-cli/pkg/serp"
	"github.com/driftline/pattern-cli/pkg/youtube"
)

// SearchBackend is one source of discovery candidates.
type SearchBackend interface {
	Search(ctx context.Context, query string) ([]model.Candidate, error)
	Name() string
}

// SerpBackend adapts the web search client to a SearchBackend.
type SerpBackend struct {
	client serp.Client
}

// NewSerpBackend creates a SerpBackend.
func NewSerpBackend(client serp.Client) *SerpBackend {
	return &SerpBackend{client: client}
}

func (b *SerpBackend) Name() string { return "serp" }

func (b *SerpBackend) Search(ctx context.Context, query string) ([]model.Candidate, error) {
	resp, err := b.client.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	candidates := make([]model.Candidate, 0, len(resp.Data))
	for _, r := range resp.Data {
		if r.URL == "" {
			continue
		}
		snippet := r.Description
		if snippet == "" {
			snippet = r.Content
		}
		candidates = append(candidates, model.Candidate{
			URL:     r.URL,
			Title:   r.Title,
			Snippet: snippet,
		})
	}
	return candidates, nil
}

// youtubeSearchMax is how many videos each YouTube query requests. Kept above
// top-K so low-engagement hits can still be outscored.
const youtubeSearchMax = 15

// YouTubeBackend adapts the YouTube Data API client to a SearchBackend.
// View count is the engagement signal.
type YouTubeBackend struct {
	client youtube.Client
}

// NewYouTubeBackend creates a YouTubeBackend.
func NewYouTubeBackend(client youtube.Client) *YouTubeBackend {
	return &YouTubeBackend{client: client}
}

func (b *YouTubeBackend) Name() string { return "youtube" }

func (b *YouTubeBackend) Search(ctx context.Context, query string) ([]model.Candidate, error) {
	videos, err := b.client.Search(ctx, query, youtubeSearchMax)
	if err != nil {
		return nil, err
	}
	candidates := make([]model.Candidate, 0, len(videos))
	for _, v := range videos {
		engagement := v.ViewCount
		if engagement > math.MaxInt32 {
			engagement = math.MaxInt32
		}
		candidates = append(candidates, model.Candidate{
			URL:              v.WatchURL(),
			Title:            v.Title,
			Snippet:          v.Description,
			EngagementSignal: int(engagement),
		})
	}
	return candidates, nil
}

// scoreCandidate ranks a search hit for a query term. Title relevance
// dominates; the engagement bonus tops out at 0.3 so a viral but off-topic
// video cannot outrank a matching article.
func scoreCandidate(term string, c model.Candidate) float64 {
	score := similarity.CombinedSimilarity(term, c.Title)
	if c.EngagementSignal > 0 {
		bonus := math.Log10(float64(1+c.EngagementSignal)) / 20
		if bonus > 0.3 {
			bonus = 0.3
		}
		score += bonus
	}
	return score
}

// Discover fans each query term out over all search backends, keeps the
// top-K candidates per backend, and persists them as discovered sources.
// Empty terms fall back to configured terms, then to the embedded seed list.
func (p *Pipeline) Discover(ctx context.Context, terms []string) (StageResult, error) {
	if len(terms) == 0 {
		terms = p.cfg.Discover.QueryTerms
	}
	if len(terms) == 0 {
		terms = SeedQueryTerms()
	}
	topK := p.cfg.Discover.TopPerBackend
	if topK <= 0 {
		topK = 5
	}

	result := StageResult{Stage: "discover"}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Scrape.Workers)

	for _, term := range terms {
		g.Go(func() error {
			for _, backend := range p.backends {
				candidates, err := backend.Search(gCtx, term)
				if err != nil {
					zap.L().Warn("discover: backend search failed",
						zap.String("backend", backend.Name()),
						zap.String("term", term),
						zap.Error(err),
					)
					mu.Lock()
					result.Failed++
					mu.Unlock()
					continue
				}

				for _, c := range topCandidates(term, candidates, topK) {
					src := stagedSource(term, backend.Name(), c)
					inserted, err := p.store.CreateSource(gCtx, &src)
					mu.Lock()
					result.Processed++
					switch {
					case err != nil:
						result.Failed++
						zap.L().Warn("discover: persist source failed",
							zap.String("url", src.URL), zap.Error(err))
					case !inserted:
						result.Skipped++
					default:
						result.Succeeded++
					}
					mu.Unlock()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	result.log()
	return result, nil
}

// topCandidates scores and returns the K best candidates for a term.
// Sorting is stable so equal scores keep backend order.
func topCandidates(term string, candidates []model.Candidate, k int) []model.Candidate {
	type scored struct {
		c     model.Candidate
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, scored{c: c, score: scoreCandidate(term, c)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]model.Candidate, 0, len(ranked))
	for _, s := range ranked {
		out = append(out, s.c)
	}
	return out
}

func stagedSource(term, backend string, c model.Candidate) model.StagedSource {
	kind := model.SourceKindArticle
	if youtube.VideoIDFromURL(c.URL) != "" {
		kind = model.SourceKindVideo
	}
	now := time.Now().UTC()
	return model.StagedSource{
		ID:        uuid.NewString(),
		URL:       c.URL,
		Title:     c.Title,
		Kind:      kind,
		QueryTerm: term,
		Backend:   backend,
		Snippet:   c.Snippet,
		Score:     scoreCandidate(term, c),
		Status:    model.SourceStatusDiscovered,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
