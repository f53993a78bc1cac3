package delivery

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/ChristophFri/X-Feed-Reader/internal/config"
	"github.com/ChristophFri/X-Feed-Reader/internal/domain"
	"github.com/ChristophFri/X-Feed-Reader/internal/ports"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderHTML converts briefing content to an HTML document body.
// Plain-format briefings are wrapped in a pre block unchanged.
func renderHTML(b domain.Briefing) (string, error) {
	if b.Format != domain.FormatMarkdown {
		return "<pre>" + htmlEscape(b.Content) + "</pre>", nil
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(b.Content), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

func htmlEscape(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		case '&':
			buf.WriteString("&amp;")
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}

// RenderChannel is the render-for-display surface: it writes the
// briefing as an HTML snapshot into a per-owner directory.
type RenderChannel struct {
	dir string
}

var _ ports.DeliveryChannel = (*RenderChannel)(nil)

// NewRenderChannel points the channel at its output directory.
func NewRenderChannel(cfg config.RenderConfig) *RenderChannel {
	return &RenderChannel{dir: cfg.Dir}
}

// Name identifies the channel in owner configs and run records.
func (c *RenderChannel) Name() string { return "render" }

// Deliver writes <dir>/<owner>/<briefing-id>.html.
func (c *RenderChannel) Deliver(_ context.Context, owner domain.Owner, b domain.Briefing) error {
	if c.dir == "" {
		return fmt.Errorf("render channel misconfigured")
	}

	body, err := renderHTML(b)
	if err != nil {
		return err
	}

	ownerDir := filepath.Join(c.dir, owner.ID)
	if err := os.MkdirAll(ownerDir, 0o755); err != nil {
		return fmt.Errorf("create render dir: %w", err)
	}

	page := fmt.Sprintf(
		"<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>Briefing %s</title></head>\n<body>\n%s</body>\n</html>\n",
		b.GeneratedAt.Format("2006-01-02"), body)

	path := filepath.Join(ownerDir, b.ID+".html")
	if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
		return fmt.Errorf("write briefing snapshot: %w", err)
	}
	return nil
}
