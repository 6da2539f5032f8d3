package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"magpie/internal/metrics"
	"magpie/internal/model"
	"magpie/internal/quota"
)

// ErrRateLimited marks a call refused locally because a quota window or the
// daily post cap is exhausted. No network request was made.
var ErrRateLimited = errors.New("rate limited")

// RateLimitedTweet is the sentinel returned by CreatePost alongside
// ErrRateLimited, so callers logging the result see an unmistakable marker.
var RateLimitedTweet = model.Tweet{ID: "0", Text: "RATE_LIMITED"}

// PostOptions carries the optional parts of a post.
type PostOptions struct {
	InReplyTo string
	MediaIDs  []string
}

// API is the surface of the platform the bot uses.
type API interface {
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]model.User, error)
	GetUserTweets(ctx context.Context, userID string, limit int) ([]model.Tweet, error)
	SearchRecentTweets(ctx context.Context, query string, limit int) ([]model.Tweet, error)
	GetMentions(ctx context.Context, userID string, limit int) ([]model.Tweet, error)
	CreatePost(ctx context.Context, text string, opts PostOptions) (model.Tweet, error)
	FollowUser(ctx context.Context, sourceID, targetID string) (bool, error)
	UploadMedia(ctx context.Context, mime string, data []byte) (string, error)
}

// Credentials holds both auth schemes: app bearer for reads, OAuth 1.0a user
// context for writes.
type Credentials struct {
	BearerToken    string
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
}

// HTTPClient talks to X API v2 (plus v1.1 media upload). Every call passes
// the local quota tracker before touching the network.
type HTTPClient struct {
	baseURL     string
	uploadURL   string
	creds       Credentials
	httpClient  *http.Client
	limiter     *rate.Limiter
	quota       *quota.Tracker
	maxAttempts int
	baseBackoff time.Duration
	nowFn       func() time.Time
	nonceFn     func() string
}

func NewHTTPClient(creds Credentials, q *quota.Tracker) *HTTPClient {
	return &HTTPClient{
		baseURL:     "https://api.twitter.com/2",
		uploadURL:   "https://upload.twitter.com/1.1/media/upload.json",
		creds:       creds,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		limiter:     newDefaultLimiter(),
		quota:       q,
		maxAttempts: getEnvInt("X_API_MAX_ATTEMPTS", 5),
		baseBackoff: time.Duration(getEnvInt("X_API_BASE_BACKOFF_MS", 500)) * time.Millisecond,
		nowFn:       time.Now,
		nonceFn:     defaultNonce,
	}
}

// newDefaultLimiter creates a rate limiter using env overrides if present.
func newDefaultLimiter() *rate.Limiter {
	rps := 2.0
	burst := 10
	if v := os.Getenv("X_API_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rps = f
		}
	}
	if v := os.Getenv("X_API_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			burst = n
		}
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (c *HTTPClient) auth(req *http.Request) {
	if c.creds.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.creds.BearerToken)
	}
	req.Header.Set("Accept", "application/json")
}

// allow consumes one quota unit, translating a denial to ErrRateLimited.
func (c *HTTPClient) allow(ctx context.Context, cap string) error {
	if c.quota == nil {
		return nil
	}
	ok, err := c.quota.Allow(ctx, cap, c.nowFn().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", cap, ErrRateLimited)
	}
	return nil
}

type rawUser struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Username        string    `json:"username"`
	CreatedAt       time.Time `json:"created_at"`
	Verified        bool      `json:"verified"`
	Description     string    `json:"description"`
	URL             string    `json:"url"`
	ProfileImageURL string    `json:"profile_image_url"`
	PublicMetrics   struct {
		FollowersCount int `json:"followers_count"`
		FollowingCount int `json:"following_count"`
		TweetCount     int `json:"tweet_count"`
		ListedCount    int `json:"listed_count"`
	} `json:"public_metrics"`
}

func (r rawUser) user() model.User {
	return model.User{
		ID:             r.ID,
		Username:       r.Username,
		Name:           r.Name,
		CreatedAt:      r.CreatedAt,
		Verified:       r.Verified,
		Description:    r.Description,
		URL:            r.URL,
		ProfileImage:   r.ProfileImageURL,
		FollowersCount: r.PublicMetrics.FollowersCount,
		FollowingCount: r.PublicMetrics.FollowingCount,
		TweetCount:     r.PublicMetrics.TweetCount,
		ListedCount:    r.PublicMetrics.ListedCount,
	}
}

type rawTweet struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	Lang           string    `json:"lang"`
	AuthorID       string    `json:"author_id"`
	ConversationID string    `json:"conversation_id"`
	PublicMetrics  struct {
		LikeCount    int `json:"like_count"`
		ReplyCount   int `json:"reply_count"`
		RetweetCount int `json:"retweet_count"`
		QuoteCount   int `json:"quote_count"`
	} `json:"public_metrics"`
}

func (r rawTweet) tweet() model.Tweet {
	return model.Tweet{
		ID:             r.ID,
		AuthorID:       r.AuthorID,
		ConversationID: r.ConversationID,
		Text:           r.Text,
		CreatedAt:      r.CreatedAt,
		Language:       r.Lang,
		LikeCount:      r.PublicMetrics.LikeCount,
		ReplyCount:     r.PublicMetrics.ReplyCount,
		RetweetCount:   r.PublicMetrics.RetweetCount,
		QuoteCount:     r.PublicMetrics.QuoteCount,
	}
}

const userFields = "user.fields=public_metrics,created_at,verified,description,url,profile_image_url"
const tweetFields = "tweet.fields=created_at,public_metrics,lang,author_id,conversation_id"

func (c *HTTPClient) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	var out model.User
	if username == "" {
		return out, errors.New("empty username")
	}
	if err := c.allow(ctx, quota.CapUserLookup); err != nil {
		return out, err
	}
	u := fmt.Sprintf("%s/users/by/username/%s?%s", c.baseURL, url.PathEscape(username), userFields)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	c.auth(req)
	if err := c.limiter.Wait(ctx); err != nil {
		return out, err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("x api status %d", resp.StatusCode)
	}
	var raw struct {
		Data rawUser `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return out, err
	}
	return raw.Data.user(), nil
}

// GetUsersByIDs fetches user objects for given ids in one request.
func (c *HTTPClient) GetUsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := c.allow(ctx, quota.CapUserLookup); err != nil {
		return nil, err
	}
	if len(ids) > 100 {
		ids = ids[:100]
	}
	joined := url.QueryEscape(strings.Join(ids, ","))
	u := fmt.Sprintf("%s/users?ids=%s&%s", c.baseURL, joined, userFields)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	c.auth(req)
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("x api status %d", resp.StatusCode)
	}
	var raw struct {
		Data []rawUser `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(raw.Data))
	for _, d := range raw.Data {
		out = append(out, d.user())
	}
	return out, nil
}

// GetUserTweets returns the user's recent original tweets.
func (c *HTTPClient) GetUserTweets(ctx context.Context, userID string, limit int) ([]model.Tweet, error) {
	if err := c.allow(ctx, quota.CapUserLookup); err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/users/%s/tweets?max_results=%d&%s&exclude=retweets,replies",
		c.baseURL, url.PathEscape(userID), clamp(limit, 5, 100), tweetFields)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	c.auth(req)
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("x api status %d", resp.StatusCode)
	}
	out, err := decodeTweets(resp)
	for i := range out {
		out[i].AuthorID = userID
	}
	return out, err
}

// SearchRecentTweets searches recent tweets by query.
func (c *HTTPClient) SearchRecentTweets(ctx context.Context, query string, limit int) ([]model.Tweet, error) {
	if err := c.allow(ctx, quota.CapSearch); err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/tweets/search/recent?max_results=%d&%s&query=%s",
		c.baseURL, clamp(limit, 10, 100), tweetFields, url.QueryEscape(query))
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	c.auth(req)
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("x api status %d", resp.StatusCode)
	}
	return decodeTweets(resp)
}

// GetMentions returns tweets that mention the user.
func (c *HTTPClient) GetMentions(ctx context.Context, userID string, limit int) ([]model.Tweet, error) {
	if err := c.allow(ctx, quota.CapMentions); err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/users/%s/mentions?max_results=%d&%s",
		c.baseURL, url.PathEscape(userID), clamp(limit, 10, 100), tweetFields)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	c.auth(req)
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("x api status %d", resp.StatusCode)
	}
	return decodeTweets(resp)
}

func decodeTweets(resp *http.Response) ([]model.Tweet, error) {
	var raw struct {
		Data []rawTweet `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	out := make([]model.Tweet, 0, len(raw.Data))
	for _, d := range raw.Data {
		out = append(out, d.tweet())
	}
	return out, nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func (c *HTTPClient) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.httpClient.Do(req.Clone(ctx))
		if err == nil {
			if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599) {
				ra := resp.Header.Get("Retry-After")
				_ = resp.Body.Close()
				metrics.IncAPIRetry(req.URL.Path)
				wait := backoff
				if ra != "" {
					if secs, err := strconv.Atoi(ra); err == nil {
						wait = time.Duration(secs) * time.Second
					} else if t, err := http.ParseTime(ra); err == nil {
						if d := time.Until(t); d > 0 {
							wait = d
						}
					}
				}
				// jitter +/-20%
				jitter := time.Duration(float64(wait) * 0.2)
				if jitter > 0 {
					wait = wait - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter))
				}
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				backoff *= 2
				continue
			}
			return resp, nil
		}
		lastErr = err
		metrics.IncAPIRetry(req.URL.Path)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("request failed after %d attempts: %v", c.maxAttempts, lastErr)
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil && i > 0 {
		return i
	}
	return def
}
