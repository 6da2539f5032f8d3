package producer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"magpie/internal/config"
	"magpie/internal/content"
	"magpie/internal/model"
)

func TestFallbackWithoutProvider(t *testing.T) {
	cfg := config.Default().LLM // provider "none"
	g := New(cfg, "magpie")
	now := time.Now().UTC()
	out := g.Post(context.Background(), config.Topic{Name: "golang"}, content.CategoryInsight, now)
	if out == "" { t.Fatal("template post should never be empty") }
	if !strings.Contains(out, "golang") { t.Fatalf("template should carry the topic: %q", out) }
}

func TestHourlyBudget(t *testing.T) {
	cfg := config.Default().LLM
	cfg.Provider = "openai"
	cfg.APIKey = "k"
	cfg.MaxCallsPerHour = 2
	calls := 0
	old := httpDo
	httpDo = func(req *http.Request) (*http.Response, error) {
		calls++
		return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
	}
	defer func() { httpDo = old }()

	g := New(cfg, "")
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_ = g.Reply(context.Background(), model.Tweet{ID: "1", Text: "why?"}, false, now)
	}
	if calls != 2 { t.Fatalf("llm calls = %d, want the budget of 2", calls) }
	used, limit := g.CallsThisHour(now)
	if used != 2 || limit != 2 { t.Fatalf("budget = %d/%d, want 2/2", used, limit) }

	// next hour the budget refills
	later := now.Add(time.Hour)
	_ = g.Reply(context.Background(), model.Tweet{ID: "2", Text: "why?"}, false, later)
	if calls != 3 { t.Fatalf("llm calls = %d after refill, want 3", calls) }
}

func TestLLMPayloadEscapesControlCharacters(t *testing.T) {
	cfg := config.Default().LLM
	cfg.Provider = "openai"
	cfg.APIKey = "k"
	var body []byte
	old := httpDo
	httpDo = func(req *http.Request) (*http.Response, error) {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil { t.Fatal(err) }
		return &http.Response{StatusCode: 200, Body: http.NoBody}, nil
	}
	defer func() { httpDo = old }()

	g := New(cfg, "")
	tweet := model.Tweet{ID: "1", Text: "line one\n\tindented \"quoted\"?"}
	_ = g.Reply(context.Background(), tweet, false, time.Now().UTC())

	var payload struct {
		Input []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"input"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("request body is not valid json: %v\n%s", err, body)
	}
	if len(payload.Input) == 0 || len(payload.Input[0].Content) == 0 {
		t.Fatalf("payload shape: %s", body)
	}
	if !strings.Contains(payload.Input[0].Content[0].Text, "\"quoted\"") {
		t.Fatalf("prompt lost the tweet text: %q", payload.Input[0].Content[0].Text)
	}
}

func TestPromotionalReplyMentionsBrand(t *testing.T) {
	g := New(config.Default().LLM, "magpie")
	now := time.Now().UTC()
	out := g.Reply(context.Background(), model.Tweet{Text: "deploys are slow"}, true, now)
	if !strings.Contains(out, "magpie") { t.Fatalf("promotional reply should mention the brand: %q", out) }
	out = g.Reply(context.Background(), model.Tweet{Text: "deploys are slow"}, false, now)
	if strings.Contains(out, "magpie") { t.Fatalf("plain reply should not mention the brand: %q", out) }
}

func TestTemplatesVary(t *testing.T) {
	g := New(config.Default().LLM, "")
	now := time.Now().UTC()
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		seen[g.Post(context.Background(), config.Topic{Name: "go"}, content.CategoryEngagement, now)] = true
	}
	if len(seen) < 2 { t.Fatalf("templates should rotate, got %d distinct", len(seen)) }
}
