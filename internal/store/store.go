package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database used as the bot's durable state store: quota
// usage, schedules, engagement history, and collected post metrics.
type DB struct{ sql *sql.DB }

func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;`); err != nil {
		return nil, err
	}
	db := &DB{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS kv (
	  key TEXT PRIMARY KEY,
	  value TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS daily_usage (
	  date TEXT PRIMARY KEY,
	  post_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS schedules (
	  id TEXT PRIMARY KEY,
	  cron TEXT NOT NULL,
	  topic TEXT,
	  active INTEGER NOT NULL DEFAULT 1,
	  last_run INTEGER
	);
	CREATE TABLE IF NOT EXISTS events (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  ts INTEGER NOT NULL,
	  type TEXT NOT NULL,
	  author_id TEXT,
	  thread_id TEXT,
	  payload TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	CREATE INDEX IF NOT EXISTS idx_events_type_ts ON events(type, ts);
	CREATE TABLE IF NOT EXISTS post_metrics (
	  tweet_id TEXT PRIMARY KEY,
	  topic TEXT,
	  text TEXT,
	  impressions INTEGER NOT NULL DEFAULT 0,
	  likes INTEGER NOT NULL DEFAULT 0,
	  retweets INTEGER NOT NULL DEFAULT 0,
	  replies INTEGER NOT NULL DEFAULT 0,
	  engagement_rate REAL NOT NULL DEFAULT 0,
	  ts INTEGER NOT NULL
	);
	`)
	return err
}

// --- key/value ---

// LoadValue returns the stored value for key, or "" when absent.
func (d *DB) LoadValue(ctx context.Context, key string) (string, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return v, nil
}

func (d *DB) SaveValue(ctx context.Context, key, value string) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO kv(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}

// --- daily usage ---

// DailyUsage is the persisted calendar-day post counter.
type DailyUsage struct {
	Date      string `json:"date"` // YYYY-MM-DD
	PostCount int    `json:"postCount"`
}

func (d *DB) LoadDailyUsage(ctx context.Context, date string) (DailyUsage, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT date, post_count FROM daily_usage WHERE date=?`, date)
	var u DailyUsage
	if err := row.Scan(&u.Date, &u.PostCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DailyUsage{Date: date}, nil
		}
		return DailyUsage{Date: date}, err
	}
	return u, nil
}

func (d *DB) SaveDailyUsage(ctx context.Context, u DailyUsage) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO daily_usage(date, post_count) VALUES(?,?) ON CONFLICT(date) DO UPDATE SET post_count=excluded.post_count`,
		u.Date, u.PostCount)
	return err
}

// --- schedules ---

// Schedule is a named recurring job. Deactivation stops future firings without
// deleting history.
type Schedule struct {
	ID      string     `json:"id"`
	Cron    string     `json:"cron"`
	Topic   string     `json:"topic,omitempty"`
	Active  bool       `json:"active"`
	LastRun *time.Time `json:"lastRun,omitempty"`
}

func (d *DB) PutSchedule(ctx context.Context, s Schedule) error {
	var last *int64
	if s.LastRun != nil {
		v := s.LastRun.Unix()
		last = &v
	}
	_, err := d.sql.ExecContext(ctx, `
	INSERT INTO schedules(id, cron, topic, active, last_run) VALUES(?,?,?,?,?)
	ON CONFLICT(id) DO UPDATE SET cron=excluded.cron, topic=excluded.topic, active=excluded.active`,
		s.ID, s.Cron, s.Topic, boolToInt(s.Active), last)
	return err
}

func (d *DB) GetSchedule(ctx context.Context, id string) (Schedule, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT id, cron, topic, active, last_run FROM schedules WHERE id=?`, id)
	return scanSchedule(row)
}

func (d *DB) ListSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT id, cron, topic, active, last_run FROM schedules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *DB) DeleteSchedule(ctx context.Context, id string) error {
	_, err := d.sql.ExecContext(ctx, `DELETE FROM schedules WHERE id=?`, id)
	return err
}

func (d *DB) SetScheduleActive(ctx context.Context, id string, active bool) error {
	_, err := d.sql.ExecContext(ctx, `UPDATE schedules SET active=? WHERE id=?`, boolToInt(active), id)
	return err
}

// TouchSchedule records a firing time.
func (d *DB) TouchSchedule(ctx context.Context, id string, at time.Time) error {
	_, err := d.sql.ExecContext(ctx, `UPDATE schedules SET last_run=? WHERE id=?`, at.Unix(), id)
	return err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSchedule(r rowScanner) (Schedule, error) {
	var s Schedule
	var active int
	var last sql.NullInt64
	var topic sql.NullString
	if err := r.Scan(&s.ID, &s.Cron, &topic, &active, &last); err != nil {
		return s, err
	}
	s.Topic = topic.String
	s.Active = active != 0
	if last.Valid {
		t := time.Unix(last.Int64, 0).UTC()
		s.LastRun = &t
	}
	return s, nil
}

// --- events ---

// Event is one recorded action (post, reply, follow).
type Event struct {
	TS       time.Time
	Type     string
	AuthorID string
	ThreadID string
	Payload  string
}

func (d *DB) PutEvent(ctx context.Context, ts time.Time, typ, authorID, threadID string, payload any) error {
	var pstr string
	if payload != nil {
		pb, _ := json.Marshal(payload)
		pstr = string(pb)
	}
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO events(ts, type, author_id, thread_id, payload) VALUES(?,?,?,?,?)`,
		ts.Unix(), typ, authorID, threadID, pstr)
	return err
}

// CountEventsWithin counts events of a type in [start, end).
func (d *DB) CountEventsWithin(ctx context.Context, start, end time.Time, typ string) (int, error) {
	row := d.sql.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM events WHERE ts>=? AND ts<? AND type=?`,
		start.Unix(), end.Unix(), typ)
	var n int
	err := row.Scan(&n)
	return n, err
}

// LoadEventsRange returns events of a type in [start, end), oldest first. An
// empty type matches all.
func (d *DB) LoadEventsRange(ctx context.Context, start, end time.Time, typ string) ([]Event, error) {
	var rows *sql.Rows
	var err error
	if typ == "" {
		rows, err = d.sql.QueryContext(ctx,
			`SELECT ts, type, COALESCE(author_id,''), COALESCE(thread_id,''), COALESCE(payload,'') FROM events WHERE ts>=? AND ts<? ORDER BY ts`,
			start.Unix(), end.Unix())
	} else {
		rows, err = d.sql.QueryContext(ctx,
			`SELECT ts, type, COALESCE(author_id,''), COALESCE(thread_id,''), COALESCE(payload,'') FROM events WHERE ts>=? AND ts<? AND type=? ORDER BY ts`,
			start.Unix(), end.Unix(), typ)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&ts, &e.Type, &e.AuthorID, &e.ThreadID, &e.Payload); err != nil {
			return nil, err
		}
		e.TS = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- post metrics ---

// PostMetrics is one collected measurement for a published post.
type PostMetrics struct {
	TweetID        string
	Topic          string
	Text           string
	Impressions    int
	Likes          int
	Retweets       int
	Replies        int
	EngagementRate float64
	TS             time.Time
}

func (d *DB) PutPostMetrics(ctx context.Context, m PostMetrics) error {
	_, err := d.sql.ExecContext(ctx, `
	INSERT INTO post_metrics(tweet_id, topic, text, impressions, likes, retweets, replies, engagement_rate, ts)
	VALUES(?,?,?,?,?,?,?,?,?)
	ON CONFLICT(tweet_id) DO UPDATE SET
	  impressions=excluded.impressions, likes=excluded.likes, retweets=excluded.retweets,
	  replies=excluded.replies, engagement_rate=excluded.engagement_rate, ts=excluded.ts`,
		m.TweetID, m.Topic, m.Text, m.Impressions, m.Likes, m.Retweets, m.Replies, m.EngagementRate, m.TS.Unix())
	return err
}

func (d *DB) HasPostMetrics(ctx context.Context, tweetID string) (bool, error) {
	row := d.sql.QueryRowContext(ctx, `SELECT 1 FROM post_metrics WHERE tweet_id=?`, tweetID)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *DB) ListPostMetrics(ctx context.Context, limit int) ([]PostMetrics, error) {
	rows, err := d.sql.QueryContext(ctx, `
	SELECT tweet_id, COALESCE(topic,''), COALESCE(text,''), impressions, likes, retweets, replies, engagement_rate, ts
	FROM post_metrics ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PostMetrics
	for rows.Next() {
		var m PostMetrics
		var ts int64
		if err := rows.Scan(&m.TweetID, &m.Topic, &m.Text, &m.Impressions, &m.Likes, &m.Retweets, &m.Replies, &m.EngagementRate, &ts); err != nil {
			return nil, err
		}
		m.TS = time.Unix(ts, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
