package content

import (
	"math/rand"
	"strings"

	"magpie/internal/config"
	"magpie/internal/util"
)

// Category is the strategic bucket a post belongs to.
type Category string

const (
	CategoryInsight    Category = "insight"
	CategoryBrand      Category = "brand"
	CategoryEngagement Category = "engagement"
)

// Kind is the rendering shape of a post.
type Kind string

const (
	KindText    Kind = "text"
	KindSnippet Kind = "snippet"
	KindImage   Kind = "image"
)

// SelectCategory draws a category from the configured percentage shares using
// a single roll against cumulative bounds.
func SelectCategory(c config.ContentConfig, r *rand.Rand) Category {
	roll := r.Intn(100)
	if roll < c.Ratios.Insight {
		return CategoryInsight
	}
	if roll < c.Ratios.Insight+c.Ratios.Brand {
		return CategoryBrand
	}
	return CategoryEngagement
}

// SelectTopic picks a topic proportionally to weight. Topics with weight zero
// or below never win. The second return is false when no topic is pickable.
func SelectTopic(topics []config.Topic, r *rand.Rand) (config.Topic, bool) {
	var pool []int
	for i, t := range topics {
		for w := 0; w < t.Weight; w++ {
			pool = append(pool, i)
		}
	}
	if len(pool) == 0 {
		return config.Topic{}, false
	}
	return topics[pool[r.Intn(len(pool))]], true
}

// SelectKind decides how the post renders. Snippet topics always render as
// snippets; engagement posts carry an image with the configured probability.
func SelectKind(cat Category, topic config.Topic, imageShare float64, r *rand.Rand) Kind {
	if topic.WithSnippet {
		return KindSnippet
	}
	if cat == CategoryEngagement && r.Float64() < imageShare {
		return KindImage
	}
	return KindText
}

// PickHashtags selects up to n distinct tags from the pool keyed by topic
// name, falling back to the "default" pool.
func PickHashtags(pools map[string][]string, topicName string, n int, r *rand.Rand) []string {
	pool := pools[strings.ToLower(topicName)]
	if len(pool) == 0 {
		pool = pools["default"]
	}
	if len(pool) == 0 || n <= 0 {
		return nil
	}
	idx := r.Perm(len(pool))
	if n > len(pool) {
		n = len(pool)
	}
	out := make([]string, 0, n)
	for _, i := range idx[:n] {
		tag := pool[i]
		if !strings.HasPrefix(tag, "#") {
			tag = "#" + tag
		}
		out = append(out, tag)
	}
	return out
}

// Compose joins the body with a hashtag suffix and enforces the length
// ceilings. The suffix survives truncation whole; the body gives way.
func Compose(body string, tags []string, c config.ContentConfig) string {
	body = util.NormalizeWhitespace(body)
	suffix := ""
	if len(tags) > 0 {
		suffix = " " + strings.Join(tags, " ")
	}
	limit := c.ComposeLimit
	if limit <= 0 || limit > c.CharLimit {
		limit = c.CharLimit
	}
	out := util.TruncateWithSuffix(body, suffix, limit)
	return util.Truncate(out, c.CharLimit)
}
