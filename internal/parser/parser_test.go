package parser

import (
	"testing"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\nname: Welcome\n---\nHello and welcome!\n")
	r := Parse(input)
	if r.Name != "Welcome" {
		t.Errorf("name = %q, want %q", r.Name, "Welcome")
	}
	if r.Body != "Hello and welcome!\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("Just a body.\n")
	r := Parse(input)
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Name != "" || r.Body != "Just a body.\n" {
		t.Errorf("result = %+v", r)
	}
	if got := r.NameOr("reminder"); got != "reminder" {
		t.Errorf("NameOr = %q", got)
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r := Parse(input)
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
	if r.Body != string(input) {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_UnclosedFrontmatter(t *testing.T) {
	input := []byte("---\nname: Draft\nno closing fence\n")
	r := Parse(input)
	if r.Name != "" || r.Body != string(input) {
		t.Errorf("result = %+v", r)
	}
}

func TestParse_NonStringName(t *testing.T) {
	r := Parse([]byte("---\nname: 42\n---\nx"))
	if r.Name != "" {
		t.Errorf("name = %q, want empty", r.Name)
	}
	if got := r.NameOr("file"); got != "file" {
		t.Errorf("NameOr = %q", got)
	}
}

func TestParse_LeadingBlankLines(t *testing.T) {
	r := Parse([]byte("\n\n---\nname: \" Spaced \"\n---\n\nBody"))
	if r.Name != "Spaced" {
		t.Errorf("name = %q", r.Name)
	}
	if r.Body != "Body" {
		t.Errorf("body = %q", r.Body)
	}
}
