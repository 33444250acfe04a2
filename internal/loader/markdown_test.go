package loader

import (
	"testing"
)

func TestParseMarkdown_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Resume\ntags:\n  - go\n  - data\n---\n# Chris\nBody text.\n")
	r := parseMarkdown(input)
	if r.Title != "Resume" {
		t.Errorf("title = %q, want %q", r.Title, "Resume")
	}
	if len(r.Tags) < 2 || r.Tags[0] != "go" || r.Tags[1] != "data" {
		t.Errorf("tags = %v, want [go data]", r.Tags)
	}
	if r.Body != "# Chris\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParseMarkdown_NoFrontmatter(t *testing.T) {
	r := parseMarkdown([]byte("# Just a heading\nSome text.\n"))
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParseMarkdown_InvalidYAMLFallback(t *testing.T) {
	input := "---\n: invalid: yaml: {{{\n---\nBody\n"
	r := parseMarkdown([]byte(input))
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
	if r.Body != input {
		t.Errorf("body = %q, want whole input", r.Body)
	}
}

func TestExtractTags_InlineAndFrontmatter(t *testing.T) {
	fm := map[string]any{"tags": []any{"alpha"}}
	tags := extractTags("Some text #beta and #alpha again.", fm)
	if len(tags) != 2 || tags[0] != "alpha" || tags[1] != "beta" {
		t.Errorf("tags = %v, want [alpha beta]", tags)
	}
}

func TestExtractTags_CommaString(t *testing.T) {
	tags := extractTags("", map[string]any{"tags": "go, rag ,go"})
	if len(tags) != 2 || tags[0] != "go" || tags[1] != "rag" {
		t.Errorf("tags = %v, want [go rag]", tags)
	}
}

func TestDeriveTitle_FrontmatterOverH1(t *testing.T) {
	title := deriveTitle(map[string]any{"title": "FM Title"}, "# H1 Title\ntext")
	if title != "FM Title" {
		t.Errorf("title = %q, want %q", title, "FM Title")
	}
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	title := deriveTitle(nil, "some text\n# My Heading\nmore")
	if title != "My Heading" {
		t.Errorf("title = %q, want %q", title, "My Heading")
	}
}
