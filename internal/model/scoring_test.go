package model

import "testing"

func TestEngagementScore(t *testing.T) {
	tw := Tweet{ReplyCount: 10, RetweetCount: 10, LikeCount: 10}
	if got := EngagementScore(tw); got != 10 {
		t.Fatalf("score = %v, want 10", got)
	}
	if got := EngagementScore(Tweet{}); got != 0 {
		t.Fatalf("empty tweet score = %v, want 0", got)
	}
}

func TestPriorityScore(t *testing.T) {
	hashtags := []string{"#golang"}
	keywords := []string{"deploy"}
	cases := []struct {
		text string
		want float64
	}{
		{"plain chatter", 0},
		{"loving #GoLang today", 5},
		{"how do I deploy this?", 5}, // keyword 3 + question 2
		{"how do I deploy #golang apps?", 10},
	}
	for _, c := range cases {
		if got := PriorityScore(Tweet{Text: c.text}, hashtags, keywords); got != c.want {
			t.Fatalf("%q score = %v, want %v", c.text, got, c.want)
		}
	}
}

func TestThreadFallback(t *testing.T) {
	if got := (Tweet{ID: "9"}).Thread(); got != "9" {
		t.Fatalf("thread = %q, want tweet id", got)
	}
	if got := (Tweet{ID: "9", ConversationID: "c"}).Thread(); got != "c" {
		t.Fatalf("thread = %q, want conversation id", got)
	}
}
