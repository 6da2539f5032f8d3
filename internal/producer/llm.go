package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"magpie/internal/config"
)

// --- light http helpers (decoupled for testability) ---

var httpNewRequest = func(ctx context.Context, url, method, body string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, url, io.NopCloser(strings.NewReader(body)))
}

var httpDo = func(req *http.Request) (*http.Response, error) {
	client := &http.Client{}
	return client.Do(req)
}

// callLLM asks the provider for a short text. Any failure returns an empty
// string with the error; callers fall back to templates.
func callLLM(ctx context.Context, cfg config.LLMConfig, prompt string) (string, error) {
	if strings.ToLower(cfg.Provider) != "openai" || cfg.APIKey == "" {
		return "", nil
	}
	payload, err := json.Marshal(map[string]any{
		"model": cfg.Model,
		"input": []map[string]any{{
			"role":    "user",
			"content": []map[string]string{{"type": "text", "text": prompt}},
		}},
	})
	if err != nil {
		return "", err
	}
	req, err := httpNewRequest(ctx, "https://api.openai.com/v1/responses", "POST", string(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpDo(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("llm status %d", resp.StatusCode)
	}
	return parseResponse(resp)
}

func parseResponse(resp *http.Response) (string, error) {
	// Responses API returns a complex structure; we extract text heuristically.
	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", err
	}
	if out, ok := raw["output_text"].(string); ok {
		return out, nil
	}
	if choices, ok := raw["choices"].([]any); ok && len(choices) > 0 {
		if ch, ok := choices[0].(map[string]any); ok {
			if msg, ok := ch["message"].(map[string]any); ok {
				if content, ok := msg["content"].([]any); ok && len(content) > 0 {
					if blk, ok := content[0].(map[string]any); ok {
						if t, ok := blk["text"].(string); ok {
							return t, nil
						}
					}
				}
			}
		}
	}
	return "", nil
}
