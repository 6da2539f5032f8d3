package timer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"magpie/internal/config"
	"magpie/internal/logging"
	"magpie/internal/store"
)

// Dispatch runs the job a schedule maps to and returns its outcome message.
type Dispatch func(ctx context.Context, sched store.Schedule, now time.Time) (string, error)

// Timer drives the stored schedules through a cron runner. Schedules live in
// the database; Reload rebuilds the cron entries after any change.
type Timer struct {
	cron     *cron.Cron
	db       *store.DB
	dispatch Dispatch
	timeout  time.Duration

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

func New(db *store.DB, dispatch Dispatch) *Timer {
	return &Timer{
		cron:     cron.New(),
		db:       db,
		dispatch: dispatch,
		timeout:  30 * time.Minute,
		jobs:     map[string]cron.EntryID{},
	}
}

// EnsureDefaults inserts the built-in schedules when they are missing, so a
// fresh database starts with a working rotation.
func EnsureDefaults(ctx context.Context, db *store.DB, cfg config.ScheduleConfig) error {
	defaults := []store.Schedule{
		{ID: "post", Cron: cfg.Post, Active: true},
		{ID: "engage", Cron: cfg.Engage, Active: true},
		{ID: "mentions", Cron: cfg.Mentions, Active: true},
		{ID: "follow", Cron: cfg.Follow, Active: true},
		{ID: "metrics", Cron: cfg.Metrics, Active: true},
	}
	existing, err := db.ListSchedules(ctx)
	if err != nil {
		return err
	}
	have := map[string]bool{}
	for _, s := range existing {
		have[s.ID] = true
	}
	for _, s := range defaults {
		if have[s.ID] || s.Cron == "" {
			continue
		}
		if err := db.PutSchedule(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Reload rebuilds cron entries from the stored schedules. Inactive schedules
// get no entry.
func (t *Timer) Reload(ctx context.Context) error {
	scheds, err := t.db.ListSchedules(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.jobs {
		t.cron.Remove(id)
	}
	t.jobs = map[string]cron.EntryID{}
	for _, s := range scheds {
		if !s.Active {
			continue
		}
		sched := s
		entryID, err := t.cron.AddFunc(s.Cron, func() { t.fire(sched) })
		if err != nil {
			logging.Error("invalid cron expression, skipping schedule", map[string]any{"schedule": s.ID, "cron": s.Cron, "error": err.Error()})
			continue
		}
		t.jobs[s.ID] = entryID
	}
	logging.Info("schedules loaded", map[string]any{"active": len(t.jobs), "total": len(scheds)})
	return nil
}

func (t *Timer) fire(sched store.Schedule) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	now := time.Now().UTC()
	start := time.Now()
	msg, err := t.dispatch(ctx, sched, now)
	if err != nil {
		logging.Error("scheduled job failed", map[string]any{"schedule": sched.ID, "error": err.Error()})
	} else {
		logging.Info("scheduled job finished", map[string]any{"schedule": sched.ID, "result": msg, "took": time.Since(start).String()})
	}
	if err := t.db.TouchSchedule(ctx, sched.ID, now); err != nil {
		logging.Warn("schedule touch failed", map[string]any{"schedule": sched.ID, "error": err.Error()})
	}
}

func (t *Timer) Start() { t.cron.Start() }

// Stop halts firing and returns a context done when running jobs finish.
func (t *Timer) Stop() context.Context { return t.cron.Stop() }

// JobInfo describes one active cron entry.
type JobInfo struct {
	ID      string    `json:"id"`
	NextRun time.Time `json:"nextRun"`
	LastRun time.Time `json:"lastRun,omitempty"`
}

// Jobs lists timing for active schedules.
func (t *Timer) Jobs() []JobInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.cron.Entries()
	out := make([]JobInfo, 0, len(t.jobs))
	for id, entryID := range t.jobs {
		for _, e := range entries {
			if e.ID == entryID {
				out = append(out, JobInfo{ID: id, NextRun: e.Next, LastRun: e.Prev})
				break
			}
		}
	}
	return out
}

// Validate reports whether expr parses as a cron expression.
func Validate(expr string) error {
	_, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}
