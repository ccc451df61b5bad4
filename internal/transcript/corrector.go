package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// PhoneticMatcher resolves a word or short phrase to a known canonical
// phrase based on pronunciation similarity. It is the second lookup stage
// of the corrector, after exact case-insensitive matching, and must be fast
// enough for per-segment use — no network calls.
//
// When matched is false, corrected must equal phrase unchanged and
// confidence must be 0. Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	Match(phrase string, phrases []string) (corrected string, confidence float64, matched bool)
}

// defaultPhrases is the built-in canonical casing map for phrases that
// recognition engines habitually mangle in interview answers. Config can
// extend the list.
var defaultPhrases = []string{
	"Big O",
	"SQL",
	"REST API",
	"JavaScript",
	"TypeScript",
	"GraphQL",
	"Kubernetes",
	"CI/CD",
	"OAuth",
	"DNS",
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhrases appends additional canonical phrases to the built-in list.
// Later entries win on case-insensitive collision.
func WithPhrases(phrases ...string) Option {
	return func(c *Corrector) {
		c.phrases = append(c.phrases, phrases...)
	}
}

// WithPhoneticMatcher attaches a [PhoneticMatcher] used to snap near-miss
// transcriptions (e.g. "big oh") to their canonical phrase. When nil (the
// default), only exact case-insensitive matching is performed.
func WithPhoneticMatcher(m PhoneticMatcher) Option {
	return func(c *Corrector) {
		c.matcher = m
	}
}

// Corrector normalises finalised transcript text. It applies, in order:
//
//  1. Canonical phrase rewriting: each whitespace token window is matched
//     case-insensitively (then phonetically, when a matcher is configured)
//     against the known phrase list and replaced by its canonical casing.
//  2. Sentence-initial capitalisation: the first letter of the text and the
//     first letter after a sentence-ending punctuation mark are upcased.
//
// Correct is deterministic, pure, and idempotent: canonical phrases are
// fixed points of stage 1, and stage 2 is idempotent by construction.
//
// Corrector is safe for concurrent use — it is read-only after
// construction.
type Corrector struct {
	phrases []string
	matcher PhoneticMatcher

	byLower  map[string]string
	maxWords int
}

// NewCorrector constructs a [Corrector] with the supplied options.
func NewCorrector(opts ...Option) *Corrector {
	c := &Corrector{phrases: append([]string(nil), defaultPhrases...)}
	for _, o := range opts {
		o(c)
	}

	c.byLower = make(map[string]string, len(c.phrases))
	c.maxWords = 1
	for _, p := range c.phrases {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		c.byLower[strings.ToLower(p)] = p
		if n := len(strings.Fields(p)); n > c.maxWords {
			c.maxWords = n
		}
	}
	return c
}

// Correct returns the normalised form of text. Empty input is returned
// unchanged.
func (c *Corrector) Correct(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	return capitalizeSentences(c.rewritePhrases(text))
}

// rewritePhrases scans token windows from the longest known phrase length
// down to a single token, replacing matches by their canonical form. The
// longest window wins so multi-word phrases take precedence over partial
// single-word matches.
func (c *Corrector) rewritePhrases(text string) string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text
	}

	out := make([]string, 0, len(tokens))
	i := 0
	for i < len(tokens) {
		maxN := c.maxWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			core, trailing := splitTrailingPunct(window)
			canonical, ok := c.lookup(core)
			if !ok {
				continue
			}
			out = append(out, canonical+trailing)
			i += n
			matched = true
			break
		}

		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}
	return strings.Join(out, " ")
}

// lookup resolves core against the phrase list: exact case-insensitive
// match first, phonetic match second.
func (c *Corrector) lookup(core string) (string, bool) {
	if core == "" {
		return "", false
	}
	if canonical, ok := c.byLower[strings.ToLower(core)]; ok {
		return canonical, true
	}
	if c.matcher != nil {
		if corrected, _, ok := c.matcher.Match(core, c.phrases); ok {
			return corrected, true
		}
	}
	return "", false
}

// splitTrailingPunct separates sentence punctuation from the end of a token
// window so "big o." still matches the phrase "Big O".
func splitTrailingPunct(s string) (core, trailing string) {
	end := len(s)
	for end > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:end])
		if r != '.' && r != ',' && r != '?' && r != '!' && r != ';' && r != ':' {
			break
		}
		end -= size
	}
	return s[:end], s[end:]
}

// capitalizeSentences upcases the first letter of the string and the first
// letter following a sentence-ending punctuation mark.
func capitalizeSentences(text string) string {
	runes := []rune(text)
	atStart := true
	for i, r := range runes {
		switch {
		case unicode.IsSpace(r):
			// Sentence-start state carries across whitespace.
		case r == '.' || r == '?' || r == '!':
			atStart = true
		case unicode.IsLetter(r):
			if atStart {
				runes[i] = unicode.ToUpper(r)
			}
			atStart = false
		default:
			atStart = false
		}
	}
	return string(runes)
}
