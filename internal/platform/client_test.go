package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"magpie/internal/config"
	"magpie/internal/quota"
	"magpie/internal/store"
)

// helper to create client with injected http client
func newTestClient(q *quota.Tracker) *HTTPClient {
	c := NewHTTPClient(Credentials{BearerToken: "test", ConsumerKey: "ck", ConsumerSecret: "cs", AccessToken: "at", AccessSecret: "as"}, q)
	c.maxAttempts = 3
	c.baseBackoff = 10 * time.Millisecond
	return c
}

func newTestQuota(t *testing.T, cfg config.QuotaConfig) *quota.Tracker {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil { t.Fatal(err) }
	t.Cleanup(func() { db.Close() })
	return quota.New(context.Background(), db, cfg, false)
}

func TestDoWithRetryHandles429(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	c := newTestClient(nil)
	c.httpClient = ts.Client()
	c.baseURL = ts.URL

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/test", nil)
	resp, err := c.doWithRetry(context.Background(), req)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestCreatePostQuotaSentinel(t *testing.T) {
	cfg := config.Default().Quotas
	cfg.Post.MaxRequests = 0
	c := newTestClient(newTestQuota(t, cfg))
	c.httpClient = &http.Client{Transport: failTransport{}}

	tw, err := c.CreatePost(context.Background(), "hello", PostOptions{})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if tw.ID != "0" || tw.Text != "RATE_LIMITED" {
		t.Fatalf("sentinel = %+v", tw)
	}
}

// failTransport fails the test if any request leaks onto the network.
type failTransport struct{}

func (failTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	panic("unexpected network request: " + r.URL.String())
}

func TestCreatePostSignsAndDecodes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "OAuth ") {
			t.Errorf("missing oauth header: %q", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"123","text":"hello #go"}}`))
	}))
	defer ts.Close()

	c := newTestClient(newTestQuota(t, config.Default().Quotas))
	c.httpClient = ts.Client()
	c.baseURL = ts.URL

	tw, err := c.CreatePost(context.Background(), "hello #go", PostOptions{})
	if err != nil { t.Fatal(err) }
	if tw.ID != "123" { t.Fatalf("tweet = %+v", tw) }
}

func TestCreatePostUpstream429NoRetry(t *testing.T) {
	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	q := newTestQuota(t, config.Default().Quotas)
	c := newTestClient(q)
	c.httpClient = ts.Client()
	c.baseURL = ts.URL

	tw, err := c.CreatePost(context.Background(), "hello", PostOptions{})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if tw.ID != "0" || tw.Text != "RATE_LIMITED" {
		t.Fatalf("sentinel = %+v", tw)
	}
	if requests != 1 {
		t.Fatalf("post creation made %d requests, want 1", requests)
	}
	if used, _ := q.DailyPosts(context.Background(), time.Now().UTC()); used != 0 {
		t.Fatalf("daily posts = %d, want 0", used)
	}
}

func TestCreatePostChargesDailyCapOnSuccessOnly(t *testing.T) {
	fail := true
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"9","text":"hi"}}`))
	}))
	defer ts.Close()

	q := newTestQuota(t, config.Default().Quotas)
	c := newTestClient(q)
	c.httpClient = ts.Client()
	c.baseURL = ts.URL
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := c.CreatePost(ctx, "hi", PostOptions{}); err == nil {
		t.Fatal("expected failure from 503")
	}
	if used, _ := q.DailyPosts(ctx, now); used != 0 {
		t.Fatalf("failed post burned daily budget: %d", used)
	}

	fail = false
	if _, err := c.CreatePost(ctx, "hi", PostOptions{}); err != nil {
		t.Fatal(err)
	}
	if used, _ := q.DailyPosts(ctx, now); used != 1 {
		t.Fatalf("daily posts = %d, want 1", used)
	}
}

func TestSearchConsumesQuota(t *testing.T) {
	cfg := config.Default().Quotas
	cfg.Search.MaxRequests = 1
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"1","text":"a","conversation_id":"c1","public_metrics":{"like_count":2}}]}`))
	}))
	defer ts.Close()

	c := newTestClient(newTestQuota(t, cfg))
	c.httpClient = ts.Client()
	c.baseURL = ts.URL

	tweets, err := c.SearchRecentTweets(context.Background(), "#golang", 10)
	if err != nil { t.Fatal(err) }
	if len(tweets) != 1 || tweets[0].ConversationID != "c1" || tweets[0].LikeCount != 2 {
		t.Fatalf("tweets = %+v", tweets)
	}
	if _, err := c.SearchRecentTweets(context.Background(), "#golang", 10); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second search should be rate limited, got %v", err)
	}
}

func TestFollowUser(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"following":true}}`))
	}))
	defer ts.Close()

	c := newTestClient(newTestQuota(t, config.Default().Quotas))
	c.httpClient = ts.Client()
	c.baseURL = ts.URL

	ok, err := c.FollowUser(context.Background(), "me", "them")
	if err != nil || !ok { t.Fatalf("follow = %v %v", ok, err) }
}
