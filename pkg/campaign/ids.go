package campaign

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/lexlapax/saga/pkg/errors"
	"github.com/lexlapax/saga/pkg/log"
)

const (
	// DefaultChapterTag prefixes chapter ids in judgment text.
	DefaultChapterTag = "CHAPTER_ID: "

	// DefaultPlotTag prefixes plot point ids in judgment text.
	DefaultPlotTag = "PLOT_ID: "
)

var (
	patternMu sync.Mutex
	patterns  = map[string]*regexp.Regexp{}
)

// ExtractIDs returns every integer that follows tag in text, in order of
// appearance. Empty text, text without the tag and unparsable numbers all
// yield [0], which callers must read as "no signal".
func ExtractIDs(text, tag string) []int {
	if strings.TrimSpace(text) == "" || tag == "" {
		return []int{0}
	}

	matches := tagPattern(tag).FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		log.Debug("No tagged identifier in text", "tag", tag, "error", errors.ErrMalformedIdentifier)
		return []int{0}
	}

	ids := make([]int, 0, len(matches))
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			log.Debug("Unparsable tagged identifier", "tag", tag, "value", m[1], "error", err)
			return []int{0}
		}
		ids = append(ids, id)
	}
	return ids
}

// maxID returns the largest id, 0 for none.
func maxID(ids []int) int {
	best := 0
	for _, id := range ids {
		if id > best {
			best = id
		}
	}
	return best
}

// tagPattern compiles tag followed by optional spaces and a decimal integer.
func tagPattern(tag string) *regexp.Regexp {
	patternMu.Lock()
	defer patternMu.Unlock()

	if re, ok := patterns[tag]; ok {
		return re
	}
	re := regexp.MustCompile(regexp.QuoteMeta(tag) + `[ \t]*(\d+)`)
	patterns[tag] = re
	return re
}
