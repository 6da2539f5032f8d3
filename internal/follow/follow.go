package follow

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"magpie/internal/config"
	"magpie/internal/logging"
	"magpie/internal/metrics"
	"magpie/internal/model"
	"magpie/internal/platform"
	"magpie/internal/store"
	"magpie/internal/util"
)

// followsPerRun caps one tick regardless of the daily allowance, so follows
// spread across the day instead of landing in one burst.
const followsPerRun = 2

// lookback for targets we already followed, to avoid refollowing.
const historyWindow = 90 * 24 * time.Hour

// Matches applies every configured criterion to a candidate account.
func Matches(cfg config.FollowConfig, u model.User, now time.Time) bool {
	if u.FollowersCount < cfg.MinFollowers {
		return false
	}
	if cfg.MaxFollowers > 0 && u.FollowersCount > cfg.MaxFollowers {
		return false
	}
	if u.FollowingCount < cfg.MinFollowing {
		return false
	}
	if cfg.MaxFollowing > 0 && u.FollowingCount > cfg.MaxFollowing {
		return false
	}
	if u.TweetCount < cfg.MinTweets {
		return false
	}
	if cfg.MustVerified && !u.Verified {
		return false
	}
	if cfg.MustPicture && u.ProfileImage == "" {
		return false
	}
	if cfg.MustBio && u.Description == "" {
		return false
	}
	if len(cfg.BioContains) > 0 && !util.ContainsAnyFold(u.Description, cfg.BioContains) {
		return false
	}
	if cfg.MinAgeDays > 0 {
		if u.CreatedAt.IsZero() || now.Sub(u.CreatedAt) < time.Duration(cfg.MinAgeDays)*24*time.Hour {
			return false
		}
	}
	return true
}

// Run performs one follow tick: search a keyword, vet the authors, follow the
// strongest candidates with pacing between calls. The returned string is a
// human-readable outcome for logs and the trigger API.
func Run(ctx context.Context, api platform.API, db *store.DB, selfID string, cfg config.FollowConfig, now time.Time, r *rand.Rand) (string, error) {
	if !cfg.Enabled {
		return "follow scheduler disabled", nil
	}
	if len(cfg.Keywords) == 0 {
		return "", errors.New("no follow keywords configured")
	}

	followedToday, err := db.CountEventsWithin(ctx, dayStart(now), dayStart(now).Add(24*time.Hour), "follow")
	if err != nil {
		logging.Warn("follow history load failed", map[string]any{"error": err.Error()})
	}
	budget := cfg.MaxPerDay - followedToday
	if budget <= 0 {
		return fmt.Sprintf("daily follow cap reached (%d)", cfg.MaxPerDay), nil
	}
	if budget > followsPerRun {
		budget = followsPerRun
	}

	keyword := cfg.Keywords[r.Intn(len(cfg.Keywords))]
	perRun := cfg.SearchPerRun
	if perRun <= 0 {
		perRun = 50
	}
	tweets, err := api.SearchRecentTweets(ctx, keyword, perRun)
	if err != nil {
		return "", fmt.Errorf("follow search %q: %w", keyword, err)
	}

	seen := map[string]bool{}
	var ids []string
	for _, t := range tweets {
		if t.AuthorID != "" && t.AuthorID != selfID && !seen[t.AuthorID] {
			seen[t.AuthorID] = true
			ids = append(ids, t.AuthorID)
		}
	}
	if len(ids) == 0 {
		return fmt.Sprintf("no authors found for %q", keyword), nil
	}

	users, err := api.GetUsersByIDs(ctx, ids)
	if err != nil {
		return "", fmt.Errorf("follow author lookup: %w", err)
	}

	already := alreadyFollowed(ctx, db, now)
	var candidates []model.User
	for _, u := range users {
		if already[u.ID] {
			continue
		}
		if Matches(cfg, u, now) {
			candidates = append(candidates, u)
		}
	}
	if len(candidates) == 0 {
		return fmt.Sprintf("no candidates matched criteria for %q", keyword), nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].FollowersCount > candidates[j].FollowersCount
	})
	if len(candidates) > budget {
		candidates = candidates[:budget]
	}

	followed := 0
	for i, u := range candidates {
		if i > 0 {
			select {
			case <-time.After(cfg.PacingDelay()):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		ok, err := api.FollowUser(ctx, selfID, u.ID)
		if err != nil {
			if errors.Is(err, platform.ErrRateLimited) {
				logging.Info("follow quota exhausted, stopping early", map[string]any{"followed": followed})
				break
			}
			logging.Warn("follow failed", map[string]any{"target": u.Username, "error": err.Error()})
			continue
		}
		if !ok {
			continue
		}
		followed++
		metrics.FollowsPerformed.Inc()
		if err := db.PutEvent(ctx, now, "follow", u.ID, "", map[string]any{"username": u.Username, "keyword": keyword}); err != nil {
			logging.Warn("follow event save failed", map[string]any{"error": err.Error()})
		}
	}
	msg := fmt.Sprintf("followed %d of %d candidates", followed, len(candidates))
	logging.Info("follow tick finished", map[string]any{"keyword": keyword, "result": msg})
	return msg, nil
}

func alreadyFollowed(ctx context.Context, db *store.DB, now time.Time) map[string]bool {
	out := map[string]bool{}
	events, err := db.LoadEventsRange(ctx, now.Add(-historyWindow), now.Add(time.Minute), "follow")
	if err != nil {
		logging.Warn("followed-set load failed", map[string]any{"error": err.Error()})
		return out
	}
	for _, e := range events {
		out[e.AuthorID] = true
	}
	return out
}

func dayStart(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
