package quota

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"magpie/internal/config"
	"magpie/internal/logging"
	"magpie/internal/metrics"
	"magpie/internal/store"
)

// Capability names. Each one has its own rolling allowance window; post
// additionally carries a calendar-day cap.
const (
	CapPost        = "post"
	CapSearch      = "search"
	CapUserLookup  = "userLookup"
	CapMentions    = "mentions"
	CapUserActions = "userActions"
)

type counter struct {
	Current int   `json:"current"`
	ResetMs int64 `json:"resetMs"`
}

// Status is a read-only view of one capability's window.
type Status struct {
	Used    int       `json:"used"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"resetAt"`
}

// Tracker enforces rolling-window request allowances and the daily post cap.
// Counters are persisted so restarts do not grant a fresh budget.
type Tracker struct {
	mu       sync.Mutex
	db       *store.DB
	cfg      config.QuotaConfig
	premium  bool
	counters map[string]*counter
}

func New(ctx context.Context, db *store.DB, cfg config.QuotaConfig, premium bool) *Tracker {
	t := &Tracker{db: db, cfg: cfg, premium: premium, counters: map[string]*counter{}}
	for _, cap := range []string{CapPost, CapSearch, CapUserLookup, CapMentions, CapUserActions} {
		c := &counter{}
		raw, err := db.LoadValue(ctx, "quota:"+cap)
		if err != nil {
			logging.Warn("quota load failed, starting fresh", map[string]any{"capability": cap, "error": err.Error()})
		} else if raw != "" {
			if err := json.Unmarshal([]byte(raw), c); err != nil {
				logging.Warn("quota state corrupt, starting fresh", map[string]any{"capability": cap})
				*c = counter{}
			}
		}
		t.counters[cap] = c
	}
	return t
}

func (t *Tracker) window(cap string) config.Window {
	switch cap {
	case CapPost:
		return t.cfg.Post
	case CapSearch:
		return t.cfg.Search
	case CapUserLookup:
		return t.cfg.UserLookup
	case CapMentions:
		return t.cfg.Mentions
	case CapUserActions:
		return t.cfg.UserActions
	}
	return config.Window{}
}

// rollover resets an expired window. Callers hold the lock.
func (c *counter) rollover(w config.Window, now time.Time) {
	if now.UnixMilli() >= c.ResetMs {
		c.Current = 0
		c.ResetMs = now.UnixMilli() + w.WindowMs
	}
}

// Allow reports whether one request of the capability may proceed and, when it
// may, consumes one rolling-window unit. The daily post cap is only checked
// here; it advances through CommitDailyPost once the platform confirms the
// post, so failed attempts do not burn daily budget.
func (t *Tracker) Allow(ctx context.Context, cap string, now time.Time) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.window(cap)
	c := t.counters[cap]
	if c == nil || w.MaxRequests <= 0 {
		return false, nil
	}
	c.rollover(w, now)
	if c.Current >= w.MaxRequests {
		metrics.QuotaDenials.WithLabelValues(cap).Inc()
		logging.Info("quota window exhausted", map[string]any{
			"capability": cap, "used": c.Current, "limit": w.MaxRequests,
			"resetAt": time.UnixMilli(c.ResetMs).UTC().Format(time.RFC3339),
		})
		return false, nil
	}

	if cap == CapPost {
		u, err := t.db.LoadDailyUsage(ctx, now.UTC().Format("2006-01-02"))
		if err != nil {
			logging.Warn("daily usage load failed, starting fresh", map[string]any{"error": err.Error()})
		}
		dayCap := t.cfg.EffectiveDailyPostCap(t.premium)
		if u.PostCount >= dayCap {
			metrics.QuotaDenials.WithLabelValues(cap).Inc()
			logging.Info("daily post cap reached", map[string]any{"used": u.PostCount, "cap": dayCap})
			return false, nil
		}
	}

	c.Current++
	t.persist(ctx, cap, c)
	return true, nil
}

// CommitDailyPost records one published post against the calendar-day cap.
// Call it only after the platform confirms the post.
func (t *Tracker) CommitDailyPost(ctx context.Context, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	date := now.UTC().Format("2006-01-02")
	u, err := t.db.LoadDailyUsage(ctx, date)
	if err != nil {
		logging.Warn("daily usage load failed, starting fresh", map[string]any{"error": err.Error()})
	}
	u.Date = date
	u.PostCount++
	if err := t.db.SaveDailyUsage(ctx, u); err != nil {
		logging.Warn("daily usage save failed", map[string]any{"error": err.Error()})
	}
}

// Remaining reports units left in the capability's current window.
func (t *Tracker) Remaining(cap string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.window(cap)
	c := t.counters[cap]
	if c == nil {
		return 0
	}
	c.rollover(w, now)
	if n := w.MaxRequests - c.Current; n > 0 {
		return n
	}
	return 0
}

// Snapshot returns the state of every capability window.
func (t *Tracker) Snapshot(now time.Time) map[string]Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Status, len(t.counters))
	for cap, c := range t.counters {
		w := t.window(cap)
		c.rollover(w, now)
		out[cap] = Status{Used: c.Current, Limit: w.MaxRequests, ResetAt: time.UnixMilli(c.ResetMs).UTC()}
	}
	return out
}

// DailyPosts reports posts used today against the effective cap.
func (t *Tracker) DailyPosts(ctx context.Context, now time.Time) (used, limit int) {
	u, err := t.db.LoadDailyUsage(ctx, now.UTC().Format("2006-01-02"))
	if err != nil {
		logging.Warn("daily usage load failed", map[string]any{"error": err.Error()})
	}
	return u.PostCount, t.cfg.EffectiveDailyPostCap(t.premium)
}

func (t *Tracker) persist(ctx context.Context, cap string, c *counter) {
	b, _ := json.Marshal(c)
	if err := t.db.SaveValue(ctx, "quota:"+cap, string(b)); err != nil {
		logging.Warn("quota save failed", map[string]any{"capability": cap, "error": err.Error()})
	}
}
