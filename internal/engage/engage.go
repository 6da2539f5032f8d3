package engage

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"magpie/internal/config"
	"magpie/internal/logging"
	"magpie/internal/model"
	"magpie/internal/store"
)

// Filter tracks per-day reply caps: one reply per account, two per thread,
// and a global ceiling. All counts roll over at midnight UTC.
type Filter struct {
	mu      sync.Mutex
	cfg     config.ReplyConfig
	day     string
	byAcct  map[string]int
	byThrd  map[string]int
	total   int
	ceiling int
}

func NewFilter(cfg config.ReplyConfig) *Filter {
	ceiling := cfg.DailyTargetMax
	if cfg.HardDailyCap < ceiling {
		ceiling = cfg.HardDailyCap
	}
	if cfg.DailyTargetMax != cfg.HardDailyCap {
		logging.Warn("reply target and hard cap differ, using the lower", map[string]any{
			"target": cfg.DailyTargetMax, "hardCap": cfg.HardDailyCap, "effective": ceiling,
		})
	}
	return &Filter{
		cfg:     cfg,
		byAcct:  map[string]int{},
		byThrd:  map[string]int{},
		ceiling: ceiling,
	}
}

// Hydrate replays today's recorded replies so restarts keep the caps honest.
func (f *Filter) Hydrate(events []store.Event, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollover(now)
	day := now.UTC().Format("2006-01-02")
	for _, e := range events {
		if e.Type != "reply" || e.TS.UTC().Format("2006-01-02") != day {
			continue
		}
		f.byAcct[e.AuthorID]++
		if e.ThreadID != "" {
			f.byThrd[e.ThreadID]++
		}
		f.total++
	}
}

// callers hold the lock
func (f *Filter) rollover(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if day != f.day {
		f.day = day
		f.byAcct = map[string]int{}
		f.byThrd = map[string]int{}
		f.total = 0
	}
}

// Eligible reports whether replying to the tweet stays within every cap.
func (f *Filter) Eligible(t model.Tweet, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollover(now)
	if f.total >= f.ceiling {
		return false
	}
	if f.byAcct[t.AuthorID] >= f.cfg.MaxPerAccountPerDay {
		return false
	}
	if f.byThrd[t.Thread()] >= f.cfg.MaxPerThreadPerDay {
		return false
	}
	return true
}

// Record counts a sent reply against every cap.
func (f *Filter) Record(t model.Tweet, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollover(now)
	f.byAcct[t.AuthorID]++
	f.byThrd[t.Thread()]++
	f.total++
}

// RepliesToday reports the current global count and its ceiling.
func (f *Filter) RepliesToday(now time.Time) (used, ceiling int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollover(now)
	return f.total, f.ceiling
}

// RankCandidates scores tweets and orders them best-first. Ties keep the
// incoming order.
func RankCandidates(tweets []model.Tweet, hashtags, keywords []string) []model.CandidatePost {
	out := make([]model.CandidatePost, 0, len(tweets))
	for _, t := range tweets {
		out = append(out, model.Annotate(t, hashtags, keywords))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total() > out[j].Total() })
	return out
}

// RotateSearchTerm cycles through the configured terms by hour of day, so
// consecutive ticks sample different corners of the conversation.
func RotateSearchTerm(terms []string, now time.Time) string {
	if len(terms) == 0 {
		return ""
	}
	return terms[now.UTC().Hour()%len(terms)]
}

// Promotional flips the configured coin deciding whether a reply plugs the
// brand or stays purely helpful.
func Promotional(share float64, r *rand.Rand) bool {
	return r.Float64() < share
}
