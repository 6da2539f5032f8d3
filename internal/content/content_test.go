package content

import (
	"math/rand"
	"strings"
	"testing"

	"magpie/internal/config"
)

func TestSelectCategoryDistribution(t *testing.T) {
	cfg := config.Default().Content
	r := rand.New(rand.NewSource(1))
	counts := map[Category]int{}
	const draws = 10000
	for i := 0; i < draws; i++ {
		counts[SelectCategory(cfg, r)]++
	}
	check := func(cat Category, share float64) {
		got := float64(counts[cat]) / draws
		if got < share-0.05 || got > share+0.05 {
			t.Fatalf("%s share = %.3f, want about %.2f", cat, got, share)
		}
	}
	check(CategoryInsight, 0.30)
	check(CategoryBrand, 0.30)
	check(CategoryEngagement, 0.40)
}

func TestSelectTopicWeighted(t *testing.T) {
	topics := []config.Topic{
		{Name: "heavy", Weight: 4},
		{Name: "light", Weight: 1},
	}
	r := rand.New(rand.NewSource(7))
	counts := map[string]int{}
	const draws = 10000
	for i := 0; i < draws; i++ {
		top, ok := SelectTopic(topics, r)
		if !ok { t.Fatal("pool should not be empty") }
		counts[top.Name]++
	}
	ratio := float64(counts["heavy"]) / float64(counts["light"])
	if ratio < 3.2 || ratio > 4.8 {
		t.Fatalf("heavy:light = %.2f, want about 4", ratio)
	}
}

func TestSelectTopicEmptyPool(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	if _, ok := SelectTopic(nil, r); ok { t.Fatal("nil slice should not select") }
	if _, ok := SelectTopic([]config.Topic{{Name: "x", Weight: 0}}, r); ok {
		t.Fatal("zero-weight topics should not select")
	}
}

func TestSelectKind(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	if k := SelectKind(CategoryInsight, config.Topic{WithSnippet: true}, 1, r); k != KindSnippet {
		t.Fatalf("kind = %s, want snippet", k)
	}
	if k := SelectKind(CategoryEngagement, config.Topic{}, 1, r); k != KindImage {
		t.Fatalf("kind = %s, want image at share 1.0", k)
	}
	if k := SelectKind(CategoryEngagement, config.Topic{}, 0, r); k != KindText {
		t.Fatalf("kind = %s, want text at share 0.0", k)
	}
}

func TestComposeKeepsHashtagsUnderLimit(t *testing.T) {
	cfg := config.Default().Content
	body := strings.Repeat("all work and no play ", 30)
	tags := []string{"#golang", "#opensource"}
	out := Compose(body, tags, cfg)
	if n := len([]rune(out)); n > cfg.CharLimit {
		t.Fatalf("len = %d, above platform ceiling %d", n, cfg.CharLimit)
	}
	if !strings.HasSuffix(out, "#golang #opensource") {
		t.Fatalf("hashtag suffix lost: %q", out)
	}
}

func TestComposeShortBodyUntouched(t *testing.T) {
	cfg := config.Default().Content
	out := Compose("short note", []string{"#go"}, cfg)
	if out != "short note #go" { t.Fatalf("out = %q", out) }
}

func TestPickHashtagsFallback(t *testing.T) {
	pools := map[string][]string{
		"golang":  {"#golang", "#gopher"},
		"default": {"#dev"},
	}
	r := rand.New(rand.NewSource(5))
	tags := PickHashtags(pools, "Golang", 2, r)
	if len(tags) != 2 { t.Fatalf("tags = %v", tags) }
	tags = PickHashtags(pools, "unknown", 1, r)
	if len(tags) != 1 || tags[0] != "#dev" { t.Fatalf("fallback tags = %v", tags) }
	for _, tag := range tags {
		if !strings.HasPrefix(tag, "#") { t.Fatalf("tag missing #: %q", tag) }
	}
}
