// Package timeparse turns free text like "tomorrow at 9am" or "через час"
// into an absolute timestamp.
package timeparse

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/olebedev/when/rules/ru"
)

// Extractor resolves a time expression against a base instant.
// The second return is false when the text contains no recognizable time.
type Extractor interface {
	Extract(text string, base time.Time) (time.Time, bool)
}

// WhenExtractor is the production Extractor, backed by olebedev/when with
// per-locale rule sets.
type WhenExtractor struct {
	w *when.Parser
}

// DefaultLocales matches the bot's historical behavior.
var DefaultLocales = []string{"en", "ru"}

// New builds an extractor for the given locales ("en", "ru"). An empty list
// means DefaultLocales. Unknown locales are an error, not a silent skip.
func New(locales []string) (*WhenExtractor, error) {
	if len(locales) == 0 {
		locales = DefaultLocales
	}
	w := when.New(nil)
	for _, loc := range locales {
		switch strings.ToLower(strings.TrimSpace(loc)) {
		case "en":
			w.Add(en.All...)
		case "ru":
			w.Add(ru.All...)
		default:
			return nil, fmt.Errorf("timeparse: unsupported locale %q", loc)
		}
	}
	w.Add(common.All...)
	return &WhenExtractor{w: w}, nil
}

func (e *WhenExtractor) Extract(text string, base time.Time) (time.Time, bool) {
	r, err := e.w.Parse(text, base)
	if err != nil || r == nil {
		return time.Time{}, false
	}
	return r.Time, true
}
