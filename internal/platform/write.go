package platform

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"magpie/internal/model"
	"magpie/internal/quota"
)

func defaultNonce() string { return strconv.FormatInt(rand.Int63(), 36) }

// oauth1Sign signs a request with OAuth 1.0a user context. extraParams must
// hold any form or query parameters that take part in the signature base;
// JSON and multipart bodies contribute nothing.
func (c *HTTPClient) oauth1Sign(req *http.Request, extraParams map[string]string) {
	oauth := map[string]string{
		"oauth_consumer_key":     c.creds.ConsumerKey,
		"oauth_nonce":            c.nonceFn(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(c.nowFn().Unix(), 10),
		"oauth_token":            c.creds.AccessToken,
		"oauth_version":          "1.0",
	}
	all := map[string]string{}
	for k, v := range oauth {
		all[k] = v
	}
	for k, v := range extraParams {
		all[k] = v
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	paramParts := make([]string, 0, len(keys))
	for _, k := range keys {
		paramParts = append(paramParts, rfc3986(k)+"="+rfc3986(all[k]))
	}
	paramStr := strings.Join(paramParts, "&")
	baseURL := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	base := req.Method + "&" + rfc3986(baseURL) + "&" + rfc3986(paramStr)
	signingKey := rfc3986(c.creds.ConsumerSecret) + "&" + rfc3986(c.creds.AccessSecret)
	mac := hmac.New(sha1.New, []byte(signingKey))
	_, _ = mac.Write([]byte(base))
	oauth["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	hdrKeys := make([]string, 0, len(oauth))
	for k := range oauth {
		hdrKeys = append(hdrKeys, k)
	}
	sort.Strings(hdrKeys)
	authParts := make([]string, 0, len(hdrKeys))
	for _, k := range hdrKeys {
		authParts = append(authParts, fmt.Sprintf("%s=\"%s\"", rfc3986(k), rfc3986(oauth[k])))
	}
	req.Header.Set("Authorization", "OAuth "+strings.Join(authParts, ", "))
	req.Header.Set("Accept", "application/json")
}

// RFC 3986 percent-encoding for OAuth
func rfc3986(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(url.QueryEscape(s), "+", "%20"), "*", "%2A")
}

// CreatePost publishes a tweet, or a reply when opts.InReplyTo is set. When
// the local quota refuses, it returns the sentinel tweet and ErrRateLimited
// without touching the network. Unlike the read calls it makes a single
// attempt: an upstream 429 also maps to the sentinel, and the next scheduled
// tick is the retry. The daily post budget is charged only on success.
func (c *HTTPClient) CreatePost(ctx context.Context, text string, opts PostOptions) (model.Tweet, error) {
	if err := c.allow(ctx, quota.CapPost); err != nil {
		if errors.Is(err, ErrRateLimited) {
			return RateLimitedTweet, err
		}
		return model.Tweet{}, err
	}
	body := map[string]any{"text": text}
	if opts.InReplyTo != "" {
		body["reply"] = map[string]string{"in_reply_to_tweet_id": opts.InReplyTo}
	}
	if len(opts.MediaIDs) > 0 {
		body["media"] = map[string][]string{"media_ids": opts.MediaIDs}
	}
	payload, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tweets", bytes.NewReader(payload))
	if err != nil {
		return model.Tweet{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.oauth1Sign(req, nil)
	if err := c.limiter.Wait(ctx); err != nil {
		return model.Tweet{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.Tweet{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return RateLimitedTweet, fmt.Errorf("%s upstream: %w", quota.CapPost, ErrRateLimited)
	}
	if resp.StatusCode >= 400 {
		return model.Tweet{}, fmt.Errorf("x api status %d", resp.StatusCode)
	}
	var raw struct {
		Data struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return model.Tweet{}, err
	}
	if c.quota != nil {
		c.quota.CommitDailyPost(ctx, c.nowFn().UTC())
	}
	return model.Tweet{ID: raw.Data.ID, Text: raw.Data.Text, CreatedAt: c.nowFn().UTC()}, nil
}

// FollowUser follows targetID on behalf of sourceID. The bool mirrors the
// API's "following" flag.
func (c *HTTPClient) FollowUser(ctx context.Context, sourceID, targetID string) (bool, error) {
	if err := c.allow(ctx, quota.CapUserActions); err != nil {
		return false, err
	}
	payload, _ := json.Marshal(map[string]string{"target_user_id": targetID})
	u := fmt.Sprintf("%s/users/%s/following", c.baseURL, url.PathEscape(sourceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.oauth1Sign(req, nil)
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("x api status %d", resp.StatusCode)
	}
	var raw struct {
		Data struct {
			Following bool `json:"following"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return false, err
	}
	return raw.Data.Following, nil
}

// UnfollowUser removes a follow edge. Not part of API because no scheduled
// job unfollows; it backs manual cleanup.
func (c *HTTPClient) UnfollowUser(ctx context.Context, sourceID, targetID string) (bool, error) {
	if err := c.allow(ctx, quota.CapUserActions); err != nil {
		return false, err
	}
	u := fmt.Sprintf("%s/users/%s/following/%s", c.baseURL, url.PathEscape(sourceID), url.PathEscape(targetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return false, err
	}
	c.oauth1Sign(req, nil)
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("x api status %d", resp.StatusCode)
	}
	var raw struct {
		Data struct {
			Following bool `json:"following"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return false, err
	}
	return !raw.Data.Following, nil
}

// UploadMedia pushes image bytes to the v1.1 upload endpoint and returns the
// media id usable in CreatePost.
func (c *HTTPClient) UploadMedia(ctx context.Context, mime string, data []byte) (string, error) {
	if err := c.allow(ctx, quota.CapUserActions); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("media", "media")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.oauth1Sign(req, nil)
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.doWithRetry(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("x upload status %d", resp.StatusCode)
	}
	var raw struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", err
	}
	return raw.MediaIDString, nil
}
