package util

import (
	"strings"
	"testing"
)

func TestNormalizeWhitespace(t *testing.T) {
	if got := NormalizeWhitespace("  a \n\t b  "); got != "a b" {
		t.Fatalf("got %q", got)
	}
}

func TestContainsAnyFold(t *testing.T) {
	if !ContainsAnyFold("Zero Knowledge Proofs rock", []string{"knowledge"}) {
		t.Fatal("case-insensitive match expected")
	}
	if ContainsAnyFold("nothing here", []string{"kyc", "identity"}) {
		t.Fatal("no match expected")
	}
}

func TestTruncateWithSuffixKeepsSuffix(t *testing.T) {
	body := strings.Repeat("x", 300)
	suffix := " #golang #dev"
	out := TruncateWithSuffix(body, suffix, 275)
	if n := len([]rune(out)); n > 275 {
		t.Fatalf("len = %d", n)
	}
	if !strings.HasSuffix(out, suffix) {
		t.Fatalf("suffix lost: %q", out)
	}
}

func TestTruncateWithSuffixShortBody(t *testing.T) {
	out := TruncateWithSuffix("hi", " #go", 275)
	if out != "hi #go" {
		t.Fatalf("got %q", out)
	}
}

func TestTruncateWithSuffixHugeSuffix(t *testing.T) {
	out := TruncateWithSuffix("body", strings.Repeat("#", 300), 275)
	if len([]rune(out)) != 275 {
		t.Fatalf("len = %d", len([]rune(out)))
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo", 3); got != "hél" {
		t.Fatalf("got %q", got)
	}
	if got := Truncate("ok", 10); got != "ok" {
		t.Fatalf("got %q", got)
	}
}
