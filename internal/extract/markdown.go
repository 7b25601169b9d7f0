package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foldermcp/foldermcp/internal/errors"
)

// MarkdownExtractor handles Markdown documents. It separates YAML front
// matter from the body so metadata keys do not pollute search text, and
// pulls a title from the front matter or the first level-one heading.
type MarkdownExtractor struct{}

// NewMarkdownExtractor returns a Markdown extractor.
func NewMarkdownExtractor() *MarkdownExtractor {
	return &MarkdownExtractor{}
}

// Supports reports whether the path has a Markdown extension.
func (e *MarkdownExtractor) Supports(path string) bool {
	return markdownExtensions[strings.ToLower(filepath.Ext(path))]
}

// Extract reads the file, strips front matter, and classifies the body.
func (e *MarkdownExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := readBounded(path)
	if err != nil {
		return nil, err
	}

	if looksBinary(data) {
		return nil, errors.New(errors.ErrCodeUnsupportedFormat,
			"binary content in markdown extension", nil).
			WithDetail("path", path)
	}

	content := normalizeText(data)
	front, body := splitFrontMatter(content)

	result := &Result{
		Text:        body,
		Class:       ClassMarkdown,
		Language:    detectLanguage(body),
		FrontMatter: front,
		ExtractedAt: time.Now().UTC(),
	}

	if title, ok := front["title"]; ok && title != "" {
		result.Title = title
	} else {
		result.Title = firstHeading(body)
	}
	if lang, ok := front["language"]; ok && lang != "" {
		result.Language = lang
	}

	return result, nil
}

// splitFrontMatter detaches a leading YAML block delimited by "---" lines.
// Malformed front matter is left in the body rather than rejected; a typo
// in metadata should not unindex a document.
func splitFrontMatter(content string) (map[string]string, string) {
	if !strings.HasPrefix(content, "---\n") && content != "---" {
		return nil, content
	}

	rest := strings.TrimPrefix(content, "---\n")
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return nil, content
	}
	block := rest[:end]
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(block), &raw); err != nil || raw == nil {
		return nil, content
	}

	front := make(map[string]string, len(raw))
	for k, v := range raw {
		front[strings.ToLower(k)] = flattenValue(v)
	}
	return front, body
}

// flattenValue renders front-matter values as display strings. Lists join
// with commas; nested maps are dropped to their length.
func flattenValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, flattenValue(item))
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		return fmt.Sprintf("(%d fields)", len(t))
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// firstHeading returns the text of the first ATX heading, any level.
func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			continue
		}
		heading := strings.TrimLeft(trimmed, "#")
		if heading == trimmed {
			continue
		}
		heading = strings.TrimSpace(heading)
		if heading != "" {
			return heading
		}
	}
	return ""
}
