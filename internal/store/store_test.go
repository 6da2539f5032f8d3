package store

import (
	"context"
	"testing"
	"time"
)

func TestKVAndDailyUsage(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil { t.Fatal(err) }
	defer db.Close()
	ctx := context.Background()
	if err := db.SaveValue(ctx, "quota:post", `{"current":3}`); err != nil { t.Fatal(err) }
	v, err := db.LoadValue(ctx, "quota:post")
	if err != nil || v != `{"current":3}` { t.Fatalf("kv mismatch: %v %s", err, v) }
	v, err = db.LoadValue(ctx, "missing")
	if err != nil || v != "" { t.Fatalf("missing key should be empty: %v %q", err, v) }

	u, err := db.LoadDailyUsage(ctx, "2026-09-01")
	if err != nil || u.PostCount != 0 { t.Fatalf("fresh usage: %v %+v", err, u) }
	u.PostCount = 7
	if err := db.SaveDailyUsage(ctx, u); err != nil { t.Fatal(err) }
	u2, err := db.LoadDailyUsage(ctx, "2026-09-01")
	if err != nil || u2.PostCount != 7 { t.Fatalf("usage mismatch: %v %+v", err, u2) }
}

func TestEvents(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil { t.Fatal(err) }
	defer db.Close()
	ctx := context.Background()
	now := time.Now().UTC()
	if err := db.PutEvent(ctx, now, "reply", "acct1", "thread1", nil); err != nil { t.Fatal(err) }
	if err := db.PutEvent(ctx, now, "reply", "acct2", "thread1", nil); err != nil { t.Fatal(err) }
	if err := db.PutEvent(ctx, now, "follow", "acct3", "", nil); err != nil { t.Fatal(err) }
	n, err := db.CountEventsWithin(ctx, now.Add(-time.Hour), now.Add(time.Hour), "reply")
	if err != nil || n != 2 { t.Fatalf("reply count mismatch: %v %d", err, n) }
	evs, err := db.LoadEventsRange(ctx, now.Add(-time.Hour), now.Add(time.Hour), "")
	if err != nil || len(evs) != 3 { t.Fatalf("all events mismatch: %v %d", err, len(evs)) }
	if evs[0].AuthorID == "" || evs[0].Type == "" { t.Fatalf("event fields missing: %+v", evs[0]) }
}

func TestSchedules(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil { t.Fatal(err) }
	defer db.Close()
	ctx := context.Background()
	s := Schedule{ID: "post", Cron: "0 */3 * * *", Topic: "golang", Active: true}
	if err := db.PutSchedule(ctx, s); err != nil { t.Fatal(err) }
	got, err := db.GetSchedule(ctx, "post")
	if err != nil || got.Cron != s.Cron || !got.Active { t.Fatalf("schedule mismatch: %v %+v", err, got) }
	at := time.Now().UTC().Truncate(time.Second)
	if err := db.TouchSchedule(ctx, "post", at); err != nil { t.Fatal(err) }
	got, _ = db.GetSchedule(ctx, "post")
	if got.LastRun == nil || !got.LastRun.Equal(at) { t.Fatalf("last run not recorded: %+v", got) }
	if err := db.SetScheduleActive(ctx, "post", false); err != nil { t.Fatal(err) }
	got, _ = db.GetSchedule(ctx, "post")
	if got.Active { t.Fatal("schedule should be inactive") }
	list, err := db.ListSchedules(ctx)
	if err != nil || len(list) != 1 { t.Fatalf("list mismatch: %v %d", err, len(list)) }
	if err := db.DeleteSchedule(ctx, "post"); err != nil { t.Fatal(err) }
	list, _ = db.ListSchedules(ctx)
	if len(list) != 0 { t.Fatal("schedule should be gone") }
}

func TestPostMetrics(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil { t.Fatal(err) }
	defer db.Close()
	ctx := context.Background()
	ok, err := db.HasPostMetrics(ctx, "t1")
	if err != nil || ok { t.Fatalf("unexpected metrics presence: %v %v", err, ok) }
	m := PostMetrics{TweetID: "t1", Topic: "golang", Text: "hi", Impressions: 100, Likes: 5, Retweets: 2, Replies: 1, EngagementRate: 0.08, TS: time.Now().UTC()}
	if err := db.PutPostMetrics(ctx, m); err != nil { t.Fatal(err) }
	ok, err = db.HasPostMetrics(ctx, "t1")
	if err != nil || !ok { t.Fatalf("metrics should exist: %v %v", err, ok) }
	list, err := db.ListPostMetrics(ctx, 10)
	if err != nil || len(list) != 1 || list[0].Likes != 5 { t.Fatalf("metrics mismatch: %v %+v", err, list) }
}
