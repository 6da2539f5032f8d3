package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"magpie/internal/backoff"
	"magpie/internal/logging"
	"magpie/internal/model"
	"magpie/internal/platform"
	"magpie/internal/store"
)

const lastCollectedKey = "analytics:lastCollected"

// Collect pulls public metrics for the account's recent posts and stores one
// measurement per post. It runs at most once per 24 hours; callers may invoke
// it freely.
func Collect(ctx context.Context, api platform.API, db *store.DB, userID string, now time.Time) (string, error) {
	raw, err := db.LoadValue(ctx, lastCollectedKey)
	if err == nil && raw != "" {
		if last, perr := time.Parse(time.RFC3339, raw); perr == nil && now.Sub(last) < 24*time.Hour {
			return fmt.Sprintf("metrics already collected at %s", last.Format(time.RFC3339)), nil
		}
	}

	var tweets []model.Tweet
	err = backoff.Do(ctx, backoff.Options{Attempts: 3, Initial: 2 * time.Second}, func(ctx context.Context) error {
		var err error
		tweets, err = api.GetUserTweets(ctx, userID, 50)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("metrics fetch: %w", err)
	}

	topics := topicIndex(ctx, db)
	stored := 0
	for _, t := range tweets {
		impressions := t.LikeCount + t.RetweetCount + t.ReplyCount + t.QuoteCount
		m := store.PostMetrics{
			TweetID:        t.ID,
			Text:           t.Text,
			Likes:          t.LikeCount,
			Retweets:       t.RetweetCount,
			Replies:        t.ReplyCount,
			EngagementRate: engagementRate(t),
			Impressions:    impressions,
			TS:             now,
		}
		if topic := topics[t.ID]; topic != "" {
			m.Topic = topic
		}
		if err := db.PutPostMetrics(ctx, m); err != nil {
			logging.Warn("metrics save failed", map[string]any{"tweet": t.ID, "error": err.Error()})
			continue
		}
		stored++
	}
	if err := db.SaveValue(ctx, lastCollectedKey, now.UTC().Format(time.RFC3339)); err != nil {
		logging.Warn("metrics timestamp save failed", map[string]any{"error": err.Error()})
	}
	msg := fmt.Sprintf("collected metrics for %d posts", stored)
	logging.Info("metrics collection finished", map[string]any{"stored": stored})
	return msg, nil
}

// engagementRate weighs interactions against a reach proxy. Without an
// impressions field on the free tier, the interaction total stands in.
func engagementRate(t model.Tweet) float64 {
	total := t.LikeCount + t.RetweetCount + t.ReplyCount + t.QuoteCount
	if total == 0 {
		return 0
	}
	return float64(t.ReplyCount+t.RetweetCount) / float64(total)
}

// topicIndex maps published tweet ids to the topic recorded at post time.
// One pass over the event log covers every tweet in the collection run.
func topicIndex(ctx context.Context, db *store.DB) map[string]string {
	events, err := db.LoadEventsRange(ctx, time.Unix(0, 0), time.Now().UTC().Add(time.Minute), "post")
	if err != nil {
		return nil
	}
	idx := make(map[string]string, len(events))
	for _, e := range events {
		var payload struct {
			TweetID string `json:"tweetId"`
			Topic   string `json:"topic"`
		}
		if json.Unmarshal([]byte(e.Payload), &payload) == nil && payload.TweetID != "" {
			idx[payload.TweetID] = payload.Topic
		}
	}
	return idx
}

// RecentEvents converts the stored action log into engagement events for the
// hour-of-day reports.
func RecentEvents(ctx context.Context, db *store.DB, since, until time.Time) ([]model.EngagementEvent, error) {
	events, err := db.LoadEventsRange(ctx, since, until, "")
	if err != nil {
		return nil, err
	}
	out := make([]model.EngagementEvent, 0, len(events))
	for _, e := range events {
		ev := model.EngagementEvent{Timestamp: e.TS, Type: e.Type, TargetUser: e.AuthorID}
		var payload struct {
			TweetID string `json:"tweetId"`
		}
		if json.Unmarshal([]byte(e.Payload), &payload) == nil {
			ev.TargetTweet = payload.TweetID
		}
		out = append(out, ev)
	}
	return out, nil
}

// TopicPerformance aggregates stored measurements per topic.
type TopicPerformance struct {
	Topic    string  `json:"topic"`
	Posts    int     `json:"posts"`
	AvgLikes float64 `json:"avgLikes"`
	AvgRate  float64 `json:"avgRate"`
}

// PerformanceByTopic summarizes which topics earn engagement, best first.
func PerformanceByTopic(metrics []store.PostMetrics) []TopicPerformance {
	type acc struct {
		posts int
		likes int
		rate  float64
	}
	byTopic := map[string]*acc{}
	for _, m := range metrics {
		topic := m.Topic
		if topic == "" {
			topic = "untagged"
		}
		a := byTopic[topic]
		if a == nil {
			a = &acc{}
			byTopic[topic] = a
		}
		a.posts++
		a.likes += m.Likes
		a.rate += m.EngagementRate
	}
	out := make([]TopicPerformance, 0, len(byTopic))
	for topic, a := range byTopic {
		out = append(out, TopicPerformance{
			Topic:    topic,
			Posts:    a.posts,
			AvgLikes: float64(a.likes) / float64(a.posts),
			AvgRate:  a.rate / float64(a.posts),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AvgRate > out[j].AvgRate })
	return out
}

// BestPostingHours ranks hours of day by average engagement of events that
// landed in them. Hours without data are absent.
func BestPostingHours(events []model.EngagementEvent) []int {
	counts := map[int]int{}
	for _, e := range events {
		counts[e.Timestamp.UTC().Hour()]++
	}
	hours := make([]int, 0, len(counts))
	for h := range counts {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool {
		if counts[hours[i]] != counts[hours[j]] {
			return counts[hours[i]] > counts[hours[j]]
		}
		return hours[i] < hours[j]
	})
	return hours
}

// HourlyEngagement aggregates events into per-hour buckets.
func HourlyEngagement(events []model.EngagementEvent) map[time.Time]map[string]int {
	buckets := make(map[time.Time]map[string]int)
	for _, e := range events {
		key := time.Date(e.Timestamp.Year(), e.Timestamp.Month(), e.Timestamp.Day(), e.Timestamp.Hour(), 0, 0, 0, time.UTC)
		if _, ok := buckets[key]; !ok {
			buckets[key] = make(map[string]int)
		}
		buckets[key][e.Type]++
	}
	return buckets
}
