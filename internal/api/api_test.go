package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magpie/internal/config"
	"magpie/internal/model"
	"magpie/internal/platform"
	"magpie/internal/quota"
	"magpie/internal/scheduler"
	"magpie/internal/store"
	"magpie/internal/timer"
)

type stubAPI struct{}

func (stubAPI) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	return model.User{}, nil
}
func (stubAPI) GetUsersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	return nil, nil
}
func (stubAPI) GetUserTweets(ctx context.Context, userID string, limit int) ([]model.Tweet, error) {
	return nil, nil
}
func (stubAPI) SearchRecentTweets(ctx context.Context, query string, limit int) ([]model.Tweet, error) {
	return nil, nil
}
func (stubAPI) GetMentions(ctx context.Context, userID string, limit int) ([]model.Tweet, error) {
	return nil, nil
}
func (stubAPI) CreatePost(ctx context.Context, text string, opts platform.PostOptions) (model.Tweet, error) {
	return model.Tweet{ID: "42", Text: text}, nil
}
func (stubAPI) FollowUser(ctx context.Context, sourceID, targetID string) (bool, error) {
	return true, nil
}
func (stubAPI) UploadMedia(ctx context.Context, mime string, data []byte) (string, error) {
	return "m1", nil
}

func newTestServer(t *testing.T) (*Server, *store.DB) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	cfg := config.Default()
	cfg.Account.UserID = "self"
	ctx := context.Background()
	q := quota.New(ctx, db, cfg.Quotas, false)
	svc := scheduler.New(ctx, stubAPI{}, db, q, cfg)
	tm := timer.New(db, func(ctx context.Context, s store.Schedule, now time.Time) (string, error) {
		return "", nil
	})
	return New(svc, db, tm), db
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerPost(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/actions/post", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res actionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Contains(t, res.Message, "posted")
}

func TestScheduleCRUD(t *testing.T) {
	s, db := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/schedules", `{"id":"post","cron":"0 */2 * * *","active":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/schedules/post", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sched store.Schedule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sched))
	assert.Equal(t, "0 */2 * * *", sched.Cron)

	rec = do(t, s, http.MethodPost, "/api/schedules/post/deactivate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := db.GetSchedule(context.Background(), "post")
	require.NoError(t, err)
	assert.False(t, got.Active)

	rec = do(t, s, http.MethodDelete, "/api/schedules/post", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/schedules", "")
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestScheduleRejectsBadCron(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodPost, "/api/schedules", `{"id":"x","cron":"bogus","active":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, http.MethodPost, "/api/actions/post", "")
	rec := do(t, s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st struct {
		Quotas map[string]struct {
			Used int `json:"used"`
		} `json:"quotas"`
		DailyPostCap int   `json:"dailyPostCap"`
		BestHours    []int `json:"bestPostingHours"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Quotas["post"].Used)
	assert.Equal(t, 15, st.DailyPostCap)
	// the triggered post was logged as an event, so the hour report has data
	require.Len(t, st.BestHours, 1)
}
