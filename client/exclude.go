package client

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/testomatio/reporter/model"
)

// excluder decides which results are never reported.
type excluder struct {
	skipped  bool
	patterns []string
}

func newExcluder(logger zerolog.Logger, skipped bool, patterns []string) excluder {
	e := excluder{skipped: skipped}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			logger.Warn().Str("pattern", p).Msg("Ignoring invalid exclude pattern")
			continue
		}
		e.patterns = append(e.patterns, p)
	}
	return e
}

func (e excluder) excluded(status model.Status, file string) bool {
	if e.skipped && status == model.StatusSkipped {
		return true
	}
	if file == "" || len(e.patterns) == 0 {
		return false
	}
	file = strings.TrimPrefix(filepath.ToSlash(file), "./")
	for _, p := range e.patterns {
		if ok, _ := doublestar.Match(strings.TrimPrefix(p, "./"), file); ok {
			return true
		}
	}
	return false
}
