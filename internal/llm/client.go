// Package llm provides the reasoning-service client used by the
// pipeline's analysis, suggestion, execution, review, test-generation
// and documentation steps. All calls go through a shared exponential
// backoff policy and a client-side rate limiter.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Client is the reasoning interface consumed by pipeline activities.
type Client interface {
	// Complete returns the raw text response for the prompt.
	Complete(ctx context.Context, system, prompt string) (string, error)
	// CompleteJSON requests a JSON response and decodes it into out.
	CompleteJSON(ctx context.Context, system, prompt string, out any) error
}

// decodeJSONResponse strips markdown code fences that models sometimes
// wrap around JSON payloads, then unmarshals.
func decodeJSONResponse(raw string, out any) error {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("decoding model response: %w", err)
	}
	return nil
}
