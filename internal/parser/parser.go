// Package parser splits template files into YAML front matter and body.
package parser

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"
)

// Result holds the output of parsing a template file.
type Result struct {
	Frontmatter map[string]interface{}
	Name        string
	Body        string
}

// Parse extracts front matter and body from raw template bytes. Name is the
// front matter "name" field, empty when absent.
func Parse(data []byte) *Result {
	fm, body := splitFrontmatter(data)
	return &Result{
		Frontmatter: fm,
		Name:        stringField(fm, "name"),
		Body:        body,
	}
}

// NameOr returns the parsed name, or fallback when the file names none.
func (r *Result) NameOr(fallback string) string {
	if r.Name != "" {
		return r.Name
	}
	return fallback
}

// splitFrontmatter separates YAML front matter (between leading --- delimiters)
// from the body. Without front matter the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: the whole file is body.
		return nil, string(data)
	}
	return fm, body
}

func stringField(fm map[string]interface{}, key string) string {
	if fm == nil {
		return ""
	}
	s, _ := fm[key].(string)
	return strings.TrimSpace(s)
}
