package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/huangjh/streamagent/pkg/models"
)

// compressionPrompt instructs the summarizer model to perform high-fidelity
// compression of conversation history.
const compressionPrompt = `You are an efficient information architect. Compress the following conversation with high fidelity.
Goal: minimize length while preserving all core logic, key facts, and important data.
Rules:
1. Strip redundancy: remove filler adjectives, pleasantries, repeated arguments, and background noise.
2. Densify: replace long sentences with symbols (->, :, &), short phrases, and precise terminology.
3. Preserve essentials: keep every name, date, concrete value, conclusion, and unresolved point of contention intact.
4. Restructure: if the content is scattered, reorganize it as background > current state > conclusions/actions.
5. Keep the most recent exchanges (roughly the last three turns) close to verbatim.
6. Output only the compressed content. No explanations, annotations, or extra text.
7. Respond in the same language as the input.`

// SummaryCompactor compresses conversation history into a single summary by
// calling a (typically smaller, cheaper) summarizer model synchronously.
type SummaryCompactor struct {
	provider Provider
	model    string
}

// NewSummaryCompactor creates a compactor backed by the given provider.
// model may be empty to use the provider's default.
func NewSummaryCompactor(provider Provider, model string) (*SummaryCompactor, error) {
	if provider == nil {
		return nil, errors.New("compactor: provider is required")
	}
	return &SummaryCompactor{provider: provider, model: model}, nil
}

// Compress summarizes the history into a single text. The call is synchronous:
// it drains the provider stream and returns the accumulated summary, or the
// first stream error.
func (c *SummaryCompactor) Compress(ctx context.Context, history []*models.Message) (string, error) {
	chunks, err := c.provider.Complete(ctx, &CompletionRequest{
		Model:    c.model,
		System:   compressionPrompt,
		Messages: history,
	})
	if err != nil {
		return "", fmt.Errorf("compaction request: %w", err)
	}

	var summary strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", fmt.Errorf("compaction stream: %w", chunk.Error)
		}
		summary.WriteString(chunk.Text)
	}

	if summary.Len() == 0 {
		return "", errors.New("compaction produced empty summary")
	}
	return summary.String(), nil
}
