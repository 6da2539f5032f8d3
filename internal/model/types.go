package model

import "time"

// User represents a subset of X user fields used by the bot.
type User struct {
	ID             string
	Username       string
	Name           string
	Description    string
	CreatedAt      time.Time
	FollowersCount int
	FollowingCount int
	TweetCount     int
	ListedCount    int
	Verified       bool
	ProfileImage   string
	URL            string
}

// Tweet represents a subset of X tweet fields used by the bot.
type Tweet struct {
	ID             string
	AuthorID       string
	AuthorUsername string
	ConversationID string
	Text           string
	CreatedAt      time.Time
	LikeCount      int
	ReplyCount     int
	RetweetCount   int
	QuoteCount     int
	Language       string
}

// Thread returns the conversation the tweet belongs to, falling back to the
// tweet itself when the API omitted the conversation id.
func (t Tweet) Thread() string {
	if t.ConversationID != "" {
		return t.ConversationID
	}
	return t.ID
}

// CandidatePost is a searched tweet annotated with scores for the engagement
// pass. Recomputed from scratch on every tick.
type CandidatePost struct {
	Tweet           Tweet
	EngagementScore float64
	PriorityScore   float64
}

// Total is the rank key: topical priority plus observed engagement.
func (c CandidatePost) Total() float64 { return c.PriorityScore + c.EngagementScore }

// EngagementEvent captures an engagement the bot performed.
type EngagementEvent struct {
	Timestamp   time.Time
	Type        string // post, reply, follow
	TargetTweet string
	TargetUser  string
}
