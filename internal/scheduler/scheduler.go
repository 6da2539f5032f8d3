package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"magpie/internal/analytics"
	"magpie/internal/config"
	"magpie/internal/content"
	"magpie/internal/engage"
	"magpie/internal/follow"
	"magpie/internal/logging"
	"magpie/internal/media"
	"magpie/internal/metrics"
	"magpie/internal/model"
	"magpie/internal/platform"
	"magpie/internal/producer"
	"magpie/internal/quota"
	"magpie/internal/store"
)

// Service owns the periodic work: posting, engaging, answering mentions,
// following, and metrics collection. Each tick is self-contained; a panic or
// error in one tick never takes the process down.
type Service struct {
	api    platform.API
	db     *store.DB
	quota  *quota.Tracker
	cfg    config.Config
	filter *engage.Filter
	gen    *producer.Generator
	lib    *media.Library

	mu   sync.Mutex
	rand *rand.Rand
}

func New(ctx context.Context, api platform.API, db *store.DB, q *quota.Tracker, cfg config.Config) *Service {
	s := &Service{
		api:    api,
		db:     db,
		quota:  q,
		cfg:    cfg,
		filter: engage.NewFilter(cfg.Reply),
		gen:    producer.New(cfg.LLM, cfg.Account.Username),
		lib:    media.New(cfg.Media),
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	now := time.Now().UTC()
	events, err := db.LoadEventsRange(ctx, dayStart(now), now.Add(time.Minute), "reply")
	if err != nil {
		logging.Warn("reply history load failed", map[string]any{"error": err.Error()})
	} else {
		s.filter.Hydrate(events, now)
	}
	return s
}

func dayStart(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Service) rng() *rand.Rand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rand.New(rand.NewSource(s.rand.Int63()))
}

// tick wraps a job with timing, error counting, and panic recovery.
func (s *Service) tick(job string, fn func() (string, error)) (msg string, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveTick(job, start)
		if r := recover(); r != nil {
			metrics.TickErrors.WithLabelValues(job).Inc()
			err = fmt.Errorf("%s tick panicked: %v", job, r)
			logging.Error("tick panic", map[string]any{"job": job, "panic": fmt.Sprint(r)})
		}
	}()
	msg, err = fn()
	if err != nil {
		metrics.TickErrors.WithLabelValues(job).Inc()
		logging.Error("tick failed", map[string]any{"job": job, "error": err.Error()})
	}
	return msg, err
}

// RunPostTick publishes one scheduled post. topicPreference, when non-empty,
// pins the topic instead of the weighted draw.
func (s *Service) RunPostTick(ctx context.Context, now time.Time, topicPreference string) (string, error) {
	return s.tick("post", func() (string, error) {
		r := s.rng()
		cat := content.SelectCategory(s.cfg.Content, r)
		topic, ok := s.pickTopic(topicPreference, r)
		if !ok {
			return "", errors.New("no postable topic configured")
		}

		body := s.gen.Post(ctx, topic, cat, now)
		kind := content.SelectKind(cat, topic, s.cfg.Content.ImageShare, r)
		if kind == content.KindSnippet {
			body = body + "\n\n" + producer.Snippet(topic)
		}
		tags := content.PickHashtags(s.cfg.Content.Hashtags, topic.Name, 2, r)
		text := content.Compose(body, tags, s.cfg.Content)

		var opts platform.PostOptions
		if kind == content.KindImage {
			asset := s.lib.ForTopic(ctx, topic.Name)
			id, err := s.api.UploadMedia(ctx, asset.MIME, asset.Data)
			if err != nil {
				logging.Warn("media upload failed, posting text only", map[string]any{"error": err.Error()})
			} else {
				opts.MediaIDs = []string{id}
			}
		}

		// no local retry on post creation, the next tick is the retry
		tweet, err := s.api.CreatePost(ctx, text, opts)
		if errors.Is(err, platform.ErrRateLimited) {
			metrics.RateLimitSkips.Inc()
			logging.Info("post skipped, quota exhausted", map[string]any{"topic": topic.Name})
			return "post skipped: rate limited", nil
		}
		if err != nil {
			return "", fmt.Errorf("create post: %w", err)
		}

		metrics.PostsCreated.WithLabelValues(string(cat)).Inc()
		if err := s.db.PutEvent(ctx, now, "post", s.cfg.Account.UserID, tweet.ID, map[string]any{
			"tweetId": tweet.ID, "topic": topic.Name, "category": string(cat), "kind": string(kind),
		}); err != nil {
			logging.Warn("post event save failed", map[string]any{"error": err.Error()})
		}
		logging.Info("posted", map[string]any{"tweet": tweet.ID, "topic": topic.Name, "category": string(cat)})
		return fmt.Sprintf("posted %s (%s/%s)", tweet.ID, cat, topic.Name), nil
	})
}

func (s *Service) pickTopic(preference string, r *rand.Rand) (config.Topic, bool) {
	if preference != "" {
		for _, t := range s.cfg.Content.Topics {
			if t.Name == preference {
				return t, true
			}
		}
		logging.Warn("unknown topic preference, drawing by weight", map[string]any{"preference": preference})
	}
	return content.SelectTopic(s.cfg.Content.Topics, r)
}

// RunEngagementTick searches the rotating term, ranks candidates, and replies
// to the strongest eligible ones.
func (s *Service) RunEngagementTick(ctx context.Context, now time.Time) (string, error) {
	return s.tick("engage", func() (string, error) {
		term := engage.RotateSearchTerm(s.cfg.Reply.SearchTerms, now)
		if term == "" {
			return "", errors.New("no search terms configured")
		}
		tweets, err := s.api.SearchRecentTweets(ctx, term, 50)
		if errors.Is(err, platform.ErrRateLimited) {
			metrics.RateLimitSkips.Inc()
			return "engagement skipped: rate limited", nil
		}
		if err != nil {
			return "", fmt.Errorf("engagement search %q: %w", term, err)
		}

		ranked := engage.RankCandidates(tweets, s.cfg.Reply.Hashtags, s.cfg.Reply.Keywords)
		sent, err := s.replyToCandidates(ctx, ranked, s.cfg.Reply.TopN, now)
		if err != nil {
			return "", err
		}
		msg := fmt.Sprintf("replied to %d of %d candidates for %q", sent, len(ranked), term)
		logging.Info("engagement tick finished", map[string]any{"term": term, "replies": sent})
		return msg, nil
	})
}

// RunMentionTick answers recent mentions within the same reply caps.
func (s *Service) RunMentionTick(ctx context.Context, now time.Time) (string, error) {
	return s.tick("mentions", func() (string, error) {
		if s.cfg.Account.UserID == "" {
			return "", errors.New("account userId not configured")
		}
		tweets, err := s.api.GetMentions(ctx, s.cfg.Account.UserID, 20)
		if errors.Is(err, platform.ErrRateLimited) {
			metrics.RateLimitSkips.Inc()
			return "mentions skipped: rate limited", nil
		}
		if err != nil {
			return "", fmt.Errorf("mentions fetch: %w", err)
		}
		ranked := engage.RankCandidates(tweets, s.cfg.Reply.Hashtags, s.cfg.Reply.Keywords)
		sent, err := s.replyToCandidates(ctx, ranked, s.cfg.Reply.MentionsPerRun, now)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("answered %d of %d mentions", sent, len(tweets)), nil
	})
}

// replyToCandidates sends up to limit replies, respecting every cap, and
// stops early when the post quota runs out.
func (s *Service) replyToCandidates(ctx context.Context, ranked []model.CandidatePost, limit int, now time.Time) (int, error) {
	sent := 0
	for _, c := range ranked {
		if sent >= limit {
			break
		}
		if c.Tweet.AuthorID == s.cfg.Account.UserID {
			continue
		}
		if !s.filter.Eligible(c.Tweet, now) {
			continue
		}
		promotional := engage.Promotional(s.cfg.Reply.PromotionalShare, s.rng())
		text := content.Compose(s.gen.Reply(ctx, c.Tweet, promotional, now), nil, s.cfg.Content)
		tweet, err := s.api.CreatePost(ctx, text, platform.PostOptions{InReplyTo: c.Tweet.ID})
		if errors.Is(err, platform.ErrRateLimited) {
			metrics.RateLimitSkips.Inc()
			logging.Info("reply quota exhausted, stopping early", map[string]any{"sent": sent})
			break
		}
		if err != nil {
			logging.Warn("reply failed", map[string]any{"target": c.Tweet.ID, "error": err.Error()})
			continue
		}
		s.filter.Record(c.Tweet, now)
		sent++
		metrics.RepliesSent.Inc()
		if err := s.db.PutEvent(ctx, now, "reply", c.Tweet.AuthorID, c.Tweet.Thread(), map[string]any{
			"tweetId": tweet.ID, "inReplyTo": c.Tweet.ID, "promotional": promotional,
		}); err != nil {
			logging.Warn("reply event save failed", map[string]any{"error": err.Error()})
		}
	}
	return sent, nil
}

// RunFollowTick delegates to the follow scheduler.
func (s *Service) RunFollowTick(ctx context.Context, now time.Time) (string, error) {
	return s.tick("follow", func() (string, error) {
		return follow.Run(ctx, s.api, s.db, s.cfg.Account.UserID, s.cfg.Follow, now, s.rng())
	})
}

// RunMetricsTick delegates to analytics collection.
func (s *Service) RunMetricsTick(ctx context.Context, now time.Time) (string, error) {
	return s.tick("metrics", func() (string, error) {
		return analytics.Collect(ctx, s.api, s.db, s.cfg.Account.UserID, now)
	})
}

// Status is the live view served to operators.
type Status struct {
	Quotas       map[string]quota.Status `json:"quotas"`
	DailyPosts   int                     `json:"dailyPosts"`
	DailyPostCap int                     `json:"dailyPostCap"`
	RepliesToday int                     `json:"repliesToday"`
	ReplyCeiling int                     `json:"replyCeiling"`
	LLMCallsHour int                     `json:"llmCallsHour"`
	LLMCallCap   int                     `json:"llmCallCap"`
}

func (s *Service) Status(ctx context.Context, now time.Time) Status {
	used, limit := s.quota.DailyPosts(ctx, now)
	replies, ceiling := s.filter.RepliesToday(now)
	llmUsed, llmCap := s.gen.CallsThisHour(now)
	return Status{
		Quotas:       s.quota.Snapshot(now),
		DailyPosts:   used,
		DailyPostCap: limit,
		RepliesToday: replies,
		ReplyCeiling: ceiling,
		LLMCallsHour: llmUsed,
		LLMCallCap:   llmCap,
	}
}
