package llm

import (
	"context"

	"github.com/DeepExtrema/clawmem-sub000/pkg/types"
)

// Extractor turns conversation messages into candidate facts using a text
// generation model.
type Extractor struct {
	generator TextGenerator
}

// NewExtractor creates an extractor backed by the given generator.
func NewExtractor(generator TextGenerator) *Extractor {
	return &Extractor{generator: generator}
}

// Extract returns the candidate facts found in the messages. A backend
// failure propagates as an error; a response the parser cannot make sense of
// is treated as "nothing to extract".
func (e *Extractor) Extract(ctx context.Context, messages []types.Message, instructions string) ([]types.ExtractedFact, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	raw, err := e.generator.Complete(ctx, FactExtractionPrompt(messages, instructions))
	if err != nil {
		return nil, err
	}
	return ParseFacts(raw), nil
}
