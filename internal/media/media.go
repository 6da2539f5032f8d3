package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"magpie/internal/config"
	"magpie/internal/logging"
)

// Asset is one image ready for upload.
type Asset struct {
	Name string
	MIME string
	Data []byte
	// Source records which tier produced the asset: local, generated, placeholder.
	Source string
}

// Library resolves an image for a post in three tiers: a local asset matching
// the topic, then on-demand generation, then an inline SVG placeholder. The
// last tier cannot fail, so a post never loses its image slot.
type Library struct {
	cfg    config.MediaConfig
	client *http.Client
}

func New(cfg config.MediaConfig) *Library {
	return &Library{cfg: cfg, client: &http.Client{Timeout: 20 * time.Second}}
}

// ForTopic returns an image for the topic, degrading through the tiers.
func (l *Library) ForTopic(ctx context.Context, topic string) Asset {
	if a, ok := l.local(topic); ok {
		return a
	}
	if l.cfg.GeneratorURL != "" {
		a, err := l.generate(ctx, topic)
		if err == nil {
			return a
		}
		logging.Warn("image generation failed, using placeholder", map[string]any{"topic": topic, "error": err.Error()})
	}
	return Placeholder(topic)
}

var imageMIME = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// local picks the first asset whose filename carries the topic name.
func (l *Library) local(topic string) (Asset, bool) {
	if l.cfg.AssetDir == "" {
		return Asset{}, false
	}
	entries, err := os.ReadDir(l.cfg.AssetDir)
	if err != nil {
		return Asset{}, false
	}
	needle := strings.ToLower(strings.ReplaceAll(topic, " ", "-"))
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if _, ok := imageMIME[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		if strings.Contains(strings.ToLower(name), needle) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return Asset{}, false
	}
	sort.Strings(names)
	name := names[0]
	data, err := os.ReadFile(filepath.Join(l.cfg.AssetDir, name))
	if err != nil {
		return Asset{}, false
	}
	return Asset{Name: name, MIME: imageMIME[strings.ToLower(filepath.Ext(name))], Data: data, Source: "local"}, true
}

func (l *Library) generate(ctx context.Context, topic string) (Asset, error) {
	u := l.cfg.GeneratorURL + "?topic=" + url.QueryEscape(topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Asset{}, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return Asset{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Asset{}, fmt.Errorf("generator status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return Asset{}, err
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = "image/png"
	}
	return Asset{Name: topic + ".png", MIME: mime, Data: data, Source: "generated"}, nil
}

// Placeholder renders a simple branded SVG card with the topic name.
func Placeholder(topic string) Asset {
	if topic == "" {
		topic = "magpie"
	}
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="800" height="418">`+
		`<rect width="800" height="418" fill="#0f1419"/>`+
		`<text x="50%%" y="50%%" fill="#e7e9ea" font-family="monospace" font-size="42" text-anchor="middle" dominant-baseline="middle">%s</text>`+
		`</svg>`, escapeXML(topic))
	return Asset{Name: "placeholder.svg", MIME: "image/svg+xml", Data: []byte(svg), Source: "placeholder"}
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
