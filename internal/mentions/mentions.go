// Package mentions counts how often a brand surfaces in chat responses.
// Matching is case-insensitive, whole-word, and covers the brand's aliases
// alongside its canonical name.
package mentions

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/Korner-san/bevisible/pkg/models"
)

// Normalization regexes compiled once at package init.
var (
	reMarkdownLink = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	reCodeSpan     = regexp.MustCompile("`[^`]*`")
	reWhitespace   = regexp.MustCompile(`\s+`)
)

// Counter matches one brand. Build it once per brand; matching is safe for
// concurrent use.
type Counter struct {
	patterns []*regexp.Regexp
	names    []string
}

// matcherCache avoids recompiling per answer; keyed by brand id string plus
// alias fingerprint so alias edits invalidate the entry.
var matcherCache sync.Map

// ForBrand returns a Counter for the brand's name and aliases.
func ForBrand(brand *models.Brand) *Counter {
	key := brand.ID.String() + "|" + strings.Join(brand.Aliases, "|")
	if c, ok := matcherCache.Load(key); ok {
		return c.(*Counter)
	}
	c := NewCounter(append([]string{brand.Name}, brand.Aliases...))
	matcherCache.Store(key, c)
	return c
}

// NewCounter builds a Counter for the given names. Blank names are
// skipped; duplicates collapse.
func NewCounter(names []string) *Counter {
	seen := make(map[string]bool)
	c := &Counter{}
	for _, name := range names {
		name = strings.TrimSpace(name)
		lower := strings.ToLower(name)
		if name == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		// \b does not fire between a word rune and punctuation-heavy
		// names such as "Acme.io", so anchor on non-word boundaries
		// explicitly.
		p := regexp.MustCompile(`(?i)(^|[^\w])` + regexp.QuoteMeta(name) + `($|[^\w])`)
		c.patterns = append(c.patterns, p)
		c.names = append(c.names, name)
	}
	return c
}

// Count returns the total number of whole-word occurrences of any of the
// counter's names in text. Overlapping aliases ("Acme" inside "Acme Cloud")
// each count on their own: the counter measures name surface, not distinct
// entities.
func (c *Counter) Count(text string) int {
	text = Normalize(text)
	total := 0
	for _, p := range c.patterns {
		total += countAll(p, text)
	}
	return total
}

// Mentioned reports whether any name occurs at least once.
func (c *Counter) Mentioned(text string) bool {
	text = Normalize(text)
	for _, p := range c.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// PerName returns occurrence counts keyed by the original name spelling,
// sorted for deterministic iteration by callers that log them.
func (c *Counter) PerName(text string) map[string]int {
	text = Normalize(text)
	out := make(map[string]int, len(c.names))
	for i, p := range c.patterns {
		out[c.names[i]] = countAll(p, text)
	}
	return out
}

// Names returns the matched name spellings in match order.
func (c *Counter) Names() []string {
	out := append([]string(nil), c.names...)
	sort.Strings(out)
	return out
}

// countAll counts non-overlapping matches, stepping one rune past each
// match start so adjacent occurrences ("Acme Acme") are both seen despite
// the trailing boundary group consuming the separator.
func countAll(p *regexp.Regexp, text string) int {
	count := 0
	for {
		loc := p.FindStringIndex(text)
		if loc == nil {
			return count
		}
		count++
		// Resume right after the matched name, keeping the trailing
		// boundary rune available as the next match's leading boundary.
		next := loc[1] - 1
		if next <= loc[0] {
			next = loc[1]
		}
		text = text[next:]
	}
}

// Normalize strips chat-response markup that would hide matches: markdown
// links keep their anchor text, code spans drop, whitespace collapses.
func Normalize(text string) string {
	text = reMarkdownLink.ReplaceAllString(text, "$1")
	text = reCodeSpan.ReplaceAllString(text, " ")
	text = reWhitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
