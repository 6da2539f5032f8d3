package producer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"magpie/internal/config"
	"magpie/internal/content"
	"magpie/internal/logging"
	"magpie/internal/model"
	"magpie/internal/util"
)

// Generator produces post and reply texts. It prefers the configured LLM,
// rationed by an hourly call budget, and always has a template to fall back
// on, so text generation itself never fails a tick.
type Generator struct {
	mu    sync.Mutex
	cfg   config.LLMConfig
	brand string
	hour  string
	calls int
	seq   int
}

func New(cfg config.LLMConfig, brand string) *Generator {
	return &Generator{cfg: cfg, brand: brand}
}

func (g *Generator) llmEnabled() bool {
	return strings.ToLower(g.cfg.Provider) == "openai" && g.cfg.APIKey != ""
}

// allowCall reserves one unit of the hourly LLM budget.
func (g *Generator) allowCall(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	h := now.UTC().Format("2006-01-02T15")
	if h != g.hour {
		g.hour = h
		g.calls = 0
	}
	if g.calls >= g.cfg.MaxCallsPerHour {
		return false
	}
	g.calls++
	return true
}

// CallsThisHour reports budget usage for status reporting.
func (g *Generator) CallsThisHour(now time.Time) (used, limit int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if now.UTC().Format("2006-01-02T15") != g.hour {
		return 0, g.cfg.MaxCallsPerHour
	}
	return g.calls, g.cfg.MaxCallsPerHour
}

// Post generates the body of a new post for a topic and category.
func (g *Generator) Post(ctx context.Context, topic config.Topic, cat content.Category, now time.Time) string {
	if g.llmEnabled() && g.allowCall(now) {
		prompt := topic.Prompt
		if prompt == "" {
			prompt = fmt.Sprintf("Write a short, specific post about %s for developers. Max 220 chars. No hashtags.", topic.Name)
		}
		if topic.Persona != "" {
			prompt = topic.Persona + "\n" + prompt
		}
		text, err := callLLM(ctx, g.cfg, prompt)
		if err != nil {
			logging.Warn("llm post generation failed, using template", map[string]any{"topic": topic.Name, "error": err.Error()})
		}
		if t := util.NormalizeWhitespace(text); t != "" {
			return t
		}
	}
	return g.templatePost(topic, cat)
}

// Reply generates reply text for a candidate tweet. Promotional replies work
// the brand in; others stay purely conversational.
func (g *Generator) Reply(ctx context.Context, t model.Tweet, promotional bool, now time.Time) string {
	if g.llmEnabled() && g.allowCall(now) {
		prompt := fmt.Sprintf("Tweet: %s\nDraft a concise, helpful, on-topic reply (max 220 chars).", t.Text)
		if promotional && g.brand != "" {
			prompt += fmt.Sprintf(" If it fits naturally, mention %s.", g.brand)
		}
		text, err := callLLM(ctx, g.cfg, prompt)
		if err != nil {
			logging.Warn("llm reply generation failed, using template", map[string]any{"tweet": t.ID, "error": err.Error()})
		}
		if out := util.NormalizeWhitespace(text); out != "" {
			return out
		}
	}
	return g.templateReply(t, promotional)
}

func (g *Generator) templatePost(topic config.Topic, cat content.Category) string {
	g.mu.Lock()
	g.seq++
	n := g.seq
	g.mu.Unlock()
	name := topic.Name
	if name == "" {
		name = "software"
	}
	var pool []string
	switch cat {
	case content.CategoryBrand:
		pool = []string{
			"We keep shipping improvements to %s. The changelog tells the story better than any pitch.",
			"Behind the scenes: most of our %s work this week was deleting code, not adding it.",
			"A small %s milestone worth sharing: fewer moving parts, faster feedback loops.",
		}
	case content.CategoryEngagement:
		pool = []string{
			"What is the one %s lesson you learned the hard way?",
			"Hot take check: %s tooling has gotten better, but defaults still matter more. Agree?",
			"If you could remove one thing from your %s workflow forever, what would it be?",
		}
	default:
		pool = []string{
			"Most %s problems are naming problems wearing a disguise.",
			"The fastest %s fix is usually the one you can explain in a single sentence.",
			"Reliable %s systems are boring on purpose. Boring is a feature.",
		}
	}
	return fmt.Sprintf(pool[n%len(pool)], name)
}

func (g *Generator) templateReply(t model.Tweet, promotional bool) string {
	base := "Good question. What have you tried so far?"
	if !strings.Contains(t.Text, "?") {
		base = "Solid point. The trade-offs here are easy to underestimate."
	}
	if promotional && g.brand != "" {
		base += fmt.Sprintf(" We hit the same wall building %s.", g.brand)
	}
	return base
}

// Snippet renders a small illustrative code block for snippet topics.
func Snippet(topic config.Topic) string {
	name := strings.ToLower(topic.Name)
	return fmt.Sprintf("// %s in practice\nfunc main() {\n\tfmt.Println(%q)\n}", name, "hello, "+name)
}
