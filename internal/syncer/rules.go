package syncer

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidPattern = errors.New("syncer: invalid exclude pattern")
	ErrInvalidRoot    = errors.New("syncer: invalid local root")
	ErrPartialSync    = errors.New("syncer: partial sync")
)

// Rules holds the exclusion patterns applied while walking the local
// tree. A pattern matches the whole relative path or any single path
// segment, so "__pycache__" prunes the directory at any depth and
// "*.log" drops matching files anywhere.
type Rules struct {
	patterns []string
}

func NewRules(patterns []string) (Rules, error) {
	cleaned := make([]string, 0, len(patterns))
	for _, raw := range patterns {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}
		if _, err := path.Match(pattern, "probe"); err != nil {
			return Rules{}, fmt.Errorf("%w: %q", ErrInvalidPattern, raw)
		}
		cleaned = append(cleaned, pattern)
	}
	return Rules{patterns: cleaned}, nil
}

// Excluded reports whether the slash- or OS-separated relative path
// matches any pattern.
func (r Rules) Excluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return false
	}
	for _, pattern := range r.patterns {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		for _, segment := range strings.Split(rel, "/") {
			if ok, _ := path.Match(pattern, segment); ok {
				return true
			}
		}
	}
	return false
}

func (r Rules) Patterns() []string {
	out := make([]string, len(r.patterns))
	copy(out, r.patterns)
	return out
}
