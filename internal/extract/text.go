package extract

import (
	"context"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/foldermcp/foldermcp/internal/errors"
)

// TextExtractor handles plain text and source code. Content is taken as-is
// after a binary sniff and an encoding sanity pass.
type TextExtractor struct{}

// NewTextExtractor returns a plain text extractor.
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Supports reports whether the path looks like plain text or code.
func (e *TextExtractor) Supports(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return textExtensions[ext] || codeExtensions[ext]
}

// Extract reads the file and returns its content unchanged apart from
// normalized line endings.
func (e *TextExtractor) Extract(ctx context.Context, path string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := readBounded(path)
	if err != nil {
		return nil, err
	}

	if looksBinary(data) {
		return nil, errors.New(errors.ErrCodeUnsupportedFormat,
			"binary content in text extension", nil).
			WithDetail("path", path)
	}

	content := normalizeText(data)
	class := ClassText
	if codeExtensions[strings.ToLower(filepath.Ext(path))] {
		class = ClassCode
	}

	return &Result{
		Text:        content,
		Class:       class,
		Language:    detectLanguage(content),
		ExtractedAt: time.Now().UTC(),
	}, nil
}

// normalizeText converts CRLF to LF and drops invalid UTF-8 sequences so
// downstream tokenization sees clean runes.
func normalizeText(data []byte) string {
	s := strings.ReplaceAll(string(data), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}
