package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"magpie/internal/config"
)

func TestLocalAssetWins(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "golang-card.png"), []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := New(config.MediaConfig{AssetDir: dir})
	a := l.ForTopic(context.Background(), "golang")
	if a.Source != "local" || a.MIME != "image/png" {
		t.Fatalf("asset = %+v, want local png", a)
	}
}

func TestGeneratorTier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("topic") != "rust" {
			t.Errorf("topic query = %q", r.URL.Query().Get("topic"))
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("generated"))
	}))
	defer srv.Close()
	l := New(config.MediaConfig{GeneratorURL: srv.URL})
	a := l.ForTopic(context.Background(), "rust")
	if a.Source != "generated" || string(a.Data) != "generated" {
		t.Fatalf("asset = %+v, want generated", a)
	}
}

func TestPlaceholderNeverFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()
	l := New(config.MediaConfig{GeneratorURL: srv.URL})
	a := l.ForTopic(context.Background(), "anything")
	if a.Source != "placeholder" || a.MIME != "image/svg+xml" {
		t.Fatalf("asset = %+v, want placeholder", a)
	}
	if !strings.Contains(string(a.Data), "anything") {
		t.Fatalf("placeholder should carry the topic: %s", a.Data)
	}
}

func TestPlaceholderEscapes(t *testing.T) {
	a := Placeholder(`<scripts> & "quotes"`)
	s := string(a.Data)
	if strings.Contains(s, "<scripts>") {
		t.Fatalf("unescaped markup in svg: %s", s)
	}
}
