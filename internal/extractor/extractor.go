// Package extractor turns scraped source text into structured pattern records
// using Claude.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/driftline/pattern-cli/internal/model"
	"github.com/driftline/pattern-cli/pkg/anthropic"
)

// maxContentChars caps the source text sent per request. Tying articles and
// transcripts rarely carry recipe signal past this point.
const maxContentChars = 14000

// Extractor produces one structured record from one scraped source. The
// pipeline treats it as a black box and validates only output shape.
type Extractor interface {
	Extract(ctx context.Context, src model.StagedSource) (*model.ExtractedRecord, error)
}

const systemText = `You are a fly-tying archivist extracting pattern recipes from articles and video transcripts.
Return ONLY a valid JSON object matching the requested schema. Use null or omit fields not present in the source.
Material types must be one of: hook, thread, tail, body, rib, hackle, wing, thorax, head, bead, other.
Never invent materials that the source does not mention.`

const userPromptTemplate = `Extract the fly pattern recipe from this source.

Source title: %s
Source URL: %s
Search term that found it: %s

Content:
%s

Return a JSON object with this shape:
{
  "pattern_name": "<name of the fly pattern>",
  "alt_names": ["<alternate names if mentioned>"],
  "category": "<dry|nymph|streamer|wet|emerger|terrestrial or as stated>",
  "difficulty": "<beginner|intermediate|advanced if stated>",
  "water_type": "<freshwater|saltwater|stillwater if stated>",
  "description": "<what the fly imitates and how it fishes>",
  "origin": "<originator and history if mentioned>",
  "components": [
    {"name": "<material name>", "type": "<material type>", "color": "<color>", "size": "<size>", "required": true, "position": 1}
  ],
  "variations": [{"name": "", "description": "", "component_changes": ""}],
  "substitutions": [{"original": "", "substitute": "", "kind": "", "notes": ""}],
  "steps": [{"number": 1, "instruction": ""}]
}`

// ClaudeExtractor implements Extractor on the Anthropic API.
type ClaudeExtractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// Option configures a ClaudeExtractor.
type Option func(*ClaudeExtractor)

// WithMaxTokens overrides the response token cap.
func WithMaxTokens(n int64) Option {
	return func(e *ClaudeExtractor) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// NewClaude creates a ClaudeExtractor.
func NewClaude(client anthropic.Client, modelID string, opts ...Option) *ClaudeExtractor {
	e := &ClaudeExtractor{
		client:    client,
		model:     modelID,
		maxTokens: 4096,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract sends the source content to Claude and parses the structured
// record. The returned record has already passed shape validation and repair.
func (e *ClaudeExtractor) Extract(ctx context.Context, src model.StagedSource) (*model.ExtractedRecord, error) {
	content := src.Content
	if len(content) > maxContentChars {
		content = content[:maxContentChars]
	}
	if strings.TrimSpace(content) == "" {
		return nil, eris.Errorf("extractor: source %s has no content", src.ID)
	}

	prompt := fmt.Sprintf(userPromptTemplate, src.Title, src.URL, src.QueryTerm, content)
	temp := 0.0

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(systemText),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extractor: source %s", src.ID)
	}
	resp.Usage.LogCost(e.model, "extract")

	record, err := parseRecord(extractText(resp))
	if err != nil {
		return nil, eris.Wrapf(err, "extractor: source %s", src.ID)
	}
	if err := ValidateAndRepair(record); err != nil {
		return nil, eris.Wrapf(err, "extractor: source %s", src.ID)
	}

	zap.L().Debug("extracted pattern record",
		zap.String("source_id", src.ID),
		zap.String("pattern", record.PatternName),
		zap.Int("components", len(record.Components)),
	)
	return record, nil
}

func parseRecord(text string) (*model.ExtractedRecord, error) {
	cleaned := cleanJSON(text)
	var record model.ExtractedRecord
	if err := json.Unmarshal([]byte(cleaned), &record); err != nil {
		return nil, eris.Wrap(err, "parse record JSON")
	}
	return &record, nil
}

// extractText concatenates text blocks from a message response.
func extractText(resp *anthropic.MessageResponse) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// cleanJSON strips markdown fences and surrounding prose from an LLM reply.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
