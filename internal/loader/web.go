package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/starford/ragsync/internal/models"
)

const (
	DefaultUserAgent = "ChrisBot/1.0"
	maxPageBytes     = 10 << 20
)

// DefaultClasses are the CSS classes whose text is kept from blog pages.
var DefaultClasses = []string{"post-content", "post-title", "post-header"}

// WebLoader fetches an HTML page and keeps the text of elements carrying one
// of the configured classes. With no classes the whole body is kept.
type WebLoader struct {
	client    *http.Client
	userAgent string
	classes   []string
	timeout   time.Duration
}

// WebOption configures a WebLoader.
type WebOption func(*WebLoader)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) WebOption {
	return func(l *WebLoader) {
		if ua != "" {
			l.userAgent = ua
		}
	}
}

// WithClasses sets the class filter. An empty list keeps the whole body.
func WithClasses(classes []string) WebOption {
	return func(l *WebLoader) { l.classes = classes }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) WebOption {
	return func(l *WebLoader) {
		if c != nil {
			l.client = c
		}
	}
}

// WithFetchTimeout bounds each fetch.
func WithFetchTimeout(d time.Duration) WebOption {
	return func(l *WebLoader) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// NewWebLoader creates a WebLoader.
func NewWebLoader(opts ...WebOption) *WebLoader {
	l := &WebLoader{
		client:    &http.Client{},
		userAgent: DefaultUserAgent,
		classes:   DefaultClasses,
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches src.Location and returns a single document.
func (l *WebLoader) Load(ctx context.Context, src models.Source) ([]models.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.Location, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", l.userAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, wrapTimeout(ctx, fmt.Errorf("fetch: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: %s", resp.Status)
	}

	root, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	content := extractText(root, l.classes)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	meta := map[string]any{models.MetaSource: src.Location}
	if title := findTitle(root); title != "" {
		meta[models.MetaTitle] = title
	}
	return []models.Document{{Content: content, Metadata: meta}}, nil
}

// extractText collects the text of matching elements in document order.
// Each matched element becomes one paragraph.
func extractText(root *html.Node, classes []string) string {
	var blocks []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style || n.DataAtom == atom.Noscript {
				return
			}
			if matches(n, classes) {
				if t := nodeText(n); t != "" {
					blocks = append(blocks, t)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(blocks, "\n\n")
}

func matches(n *html.Node, classes []string) bool {
	if len(classes) == 0 {
		return n.DataAtom == atom.Body
	}
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, have := range strings.Fields(a.Val) {
			for _, want := range classes {
				if have == want {
					return true
				}
			}
		}
	}
	return false
}

// nodeText returns the trimmed text runs under n, one per line.
func nodeText(n *html.Node) string {
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				lines = append(lines, t)
			}
		case n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style):
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(lines, "\n")
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		return strings.TrimSpace(nodeText(n))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}
