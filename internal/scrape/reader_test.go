package scrape

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/pattern-cli/pkg/serp"
)

// mockReaderClient implements serp.Client for testing.
type mockReaderClient struct {
	readResp *serp.ReadResponse
	readErr  error
	calls    int
}

func (m *mockReaderClient) Read(_ context.Context, _ string) (*serp.ReadResponse, error) {
	m.calls++
	if m.readErr != nil {
		return nil, m.readErr
	}
	return m.readResp, nil
}

func (m *mockReaderClient) Search(_ context.Context, _ string) (*serp.SearchResponse, error) {
	return nil, errors.New("not implemented")
}

func goodReadResponse() *serp.ReadResponse {
	return &serp.ReadResponse{
		Code: 200,
		Data: serp.ReadData{
			Title:   "Tying the Adams",
			URL:     "https://example.com/adams",
			Content: strings.Repeat("Hook: standard dry fly size 14. Hackle: grizzly and brown. ", 5),
		},
	}
}

func TestReaderScrape_Success(t *testing.T) {
	mc := &mockReaderClient{readResp: goodReadResponse()}
	adapter := NewReaderAdapter(mc)

	result, err := adapter.Scrape(context.Background(), "https://example.com/adams")
	require.NoError(t, err)
	assert.Equal(t, "Tying the Adams", result.Title)
	assert.Equal(t, "reader", result.Source)
	assert.Contains(t, result.Content, "grizzly")
}

func TestReaderScrape_ShortContentNeedsFallback(t *testing.T) {
	mc := &mockReaderClient{readResp: &serp.ReadResponse{
		Code: 200,
		Data: serp.ReadData{Content: "nothing here"},
	}}
	adapter := NewReaderAdapter(mc)

	_, err := adapter.Scrape(context.Background(), "https://example.com/empty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs fallback")
}

func TestReaderScrape_CircuitBreakerOpens(t *testing.T) {
	mc := &mockReaderClient{readErr: errors.New("upstream down")}
	adapter := NewReaderAdapter(mc)

	for i := 0; i < 3; i++ {
		_, err := adapter.Scrape(context.Background(), "https://example.com/x")
		require.Error(t, err)
	}

	// Third consecutive failure trips the breaker; the adapter now declines
	// URLs without touching the client.
	assert.False(t, adapter.Supports("https://example.com/x"))
	before := mc.calls
	_, err := adapter.Scrape(context.Background(), "https://example.com/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.Equal(t, before, mc.calls)
}

func TestCircuitBreaker_WindowResetsCount(t *testing.T) {
	cb := newCircuitBreaker(3, 10*time.Millisecond, time.Minute)

	cb.recordFailure()
	cb.recordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.recordFailure()

	assert.False(t, cb.isOpen(), "stale failures outside the window must not count")
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	cb := newCircuitBreaker(3, time.Minute, time.Minute)

	cb.recordFailure()
	cb.recordFailure()
	cb.recordSuccess()
	cb.recordFailure()
	cb.recordFailure()

	assert.False(t, cb.isOpen())
}

func TestNeedsFallback(t *testing.T) {
	longContent := strings.Repeat("real recipe text ", 20)
	tests := []struct {
		name string
		resp *serp.ReadResponse
		want bool
	}{
		{"nil response", nil, true},
		{"error code", &serp.ReadResponse{Code: 451}, true},
		{"short content", &serp.ReadResponse{Code: 200, Data: serp.ReadData{Content: "tiny"}}, true},
		{"challenge page", &serp.ReadResponse{Code: 200, Data: serp.ReadData{
			Content: strings.Repeat("x", 150) + " checking your browser",
		}}, true},
		{"good content", &serp.ReadResponse{Code: 200, Data: serp.ReadData{Content: longContent}}, false},
		{"challenge phrase in long article is fine", &serp.ReadResponse{Code: 200, Data: serp.ReadData{
			Content: strings.Repeat("real recipe text ", 100) + " cloudflare",
		}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, needsFallback(tt.resp))
		})
	}
}
