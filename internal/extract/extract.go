// Package extract locates absolute URLs in repository file content.
package extract

import (
	"iter"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/linkmend/linkmend/internal/check"
)

// Absolute http(s) URLs only; relative links are out of scope. Plain IPs and
// localhost are excluded because they are never fixable from outside.
var (
	urlPattern   = regexp.MustCompile(`https?://(www\.)?[-a-zA-Z0-9@:%._+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b([-a-zA-Z0-9()@:%_+.~#?&/=]*)`)
	localPattern = regexp.MustCompile(`^https?://(localhost|(?:\d{1,3}\.){3}\d{1,3})(?::\d+)?`)
)

// Kind is the content handler selected per file extension. The set is closed:
// extraction differs only in how match boundaries are trimmed.
type Kind int

// Content kinds.
const (
	KindText Kind = iota
	KindMarkdown
	KindHTML
	KindScript
)

// kindForExt maps a lowercased extension to its handler.
func kindForExt(ext string) Kind {
	switch ext {
	case ".md":
		return KindMarkdown
	case ".html", ".htm":
		return KindHTML
	case ".js", ".jsx", ".ts", ".tsx":
		return KindScript
	default:
		return KindText
	}
}

// DefaultExtensions lists the file extensions scanned when none are configured.
func DefaultExtensions() []string {
	return []string{".md", ".html", ".htm", ".js", ".jsx", ".ts", ".tsx", ".txt"}
}

// Config controls which files the Extractor scans.
type Config struct {
	Extensions []string
}

// Extractor scans repository files line by line and yields every URL
// occurrence in discovery order.
type Extractor struct {
	exts   map[string]struct{}
	logger *zap.Logger
}

// New builds an Extractor. A nil logger falls back to zap.NewNop.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions()
	}
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		set[strings.ToLower(e)] = struct{}{}
	}
	return &Extractor{exts: set, logger: logger}
}

// Links returns a lazy, single-use sequence of URL occurrences over the given
// files. File order and line order are preserved, duplicates are kept: the
// eventual patch needs every (file, line) location.
func (e *Extractor) Links(files iter.Seq[check.RepoFile]) iter.Seq[check.RawLink] {
	return func(yield func(check.RawLink) bool) {
		for file := range files {
			ext := strings.ToLower(filepath.Ext(file.Path))
			if _, ok := e.exts[ext]; !ok {
				continue
			}
			if !utf8.ValidString(file.Content) {
				e.logger.Debug("skipping non-utf8 file", zap.String("path", file.Path))
				continue
			}
			kind := kindForExt(ext)
			lineNo := 0
			for line := range strings.SplitSeq(file.Content, "\n") {
				lineNo++
				line = strings.TrimSuffix(line, "\r")
				for _, match := range urlPattern.FindAllString(line, -1) {
					url := trimMatch(match, kind)
					if url == "" || localPattern.MatchString(url) {
						continue
					}
					if !yield(check.RawLink{
						FilePath:    file.Path,
						LineNumber:  lineNo,
						LineContent: line,
						URL:         url,
					}) {
						return
					}
				}
			}
		}
	}
}

// trimMatch strips syntax that the URL regex drags along at the end of a
// match: closing markdown parens, HTML brackets, sentence punctuation, and
// for script sources the quote characters around string literals.
func trimMatch(match string, kind Kind) string {
	trimmed := strings.TrimRight(match, ")>.,;")
	switch kind {
	case KindHTML:
		trimmed = strings.TrimRight(trimmed, `"'`)
	case KindScript:
		trimmed = strings.TrimRight(trimmed, "\"'`")
	}
	return trimmed
}
