package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/agentx/guardian-backend/internal/models"
)

// ErrMalformedOutput marks a completion that carried no usable JSON object
var ErrMalformedOutput = errors.New("backend returned malformed JSON")

// ExtractJSON pulls the JSON object out of a completion. Models often wrap
// it in a ```json fence or surround it with prose.
func ExtractJSON(content string) (json.RawMessage, error) {
	s := strings.TrimSpace(content)

	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return nil, ErrMalformedOutput
	}
	raw := json.RawMessage(strings.TrimSpace(s[start : end+1]))
	if !json.Valid(raw) {
		return nil, ErrMalformedOutput
	}
	return raw, nil
}

// CompleteJSON runs a JSON-mode completion and decodes the object into out
func CompleteJSON(ctx context.Context, client Client, req *Request, out interface{}) (json.RawMessage, error) {
	req.JSON = true
	resp, err := client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	raw, err := ExtractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrBackendUnavailable, err)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("%w: %w: %v", models.ErrBackendUnavailable, ErrMalformedOutput, err)
		}
	}
	return raw, nil
}
