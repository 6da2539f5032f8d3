package model

import (
	"math"
	"strings"
)

// Weights mirroring how the platform surfaces conversations: replies signal
// discussion, reposts reach, likes passive approval.
const (
	replyWeight   = 0.5
	retweetWeight = 0.3
	likeWeight    = 0.2

	hashtagMatchPoints = 5.0
	keywordMatchPoints = 3.0
	questionPoints     = 2.0
)

// EngagementScore derives a single number from a tweet's public metrics.
func EngagementScore(t Tweet) float64 {
	return replyWeight*float64(t.ReplyCount) +
		retweetWeight*float64(t.RetweetCount) +
		likeWeight*float64(t.LikeCount)
}

// PriorityScore rates how well a tweet matches the configured hashtags and
// keywords. Hashtag hits outrank plain keyword hits; a question mark gets a
// small boost since questions invite replies.
func PriorityScore(t Tweet, hashtags, keywords []string) float64 {
	text := strings.ToLower(t.Text)
	score := 0.0
	for _, h := range hashtags {
		if strings.Contains(text, strings.ToLower(h)) {
			score += hashtagMatchPoints
		}
	}
	for _, k := range keywords {
		if strings.Contains(text, strings.ToLower(k)) {
			score += keywordMatchPoints
		}
	}
	if strings.Contains(text, "?") {
		score += questionPoints
	}
	return math.Round(score*100) / 100
}

// Annotate builds a CandidatePost with both scores filled in.
func Annotate(t Tweet, hashtags, keywords []string) CandidatePost {
	return CandidatePost{
		Tweet:           t,
		EngagementScore: EngagementScore(t),
		PriorityScore:   PriorityScore(t, hashtags, keywords),
	}
}
