// Package phonetic implements the [transcript.PhoneticMatcher] interface
// using Double Metaphone phonetic encoding combined with Jaro-Winkler
// string similarity for ranked candidate selection.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each token of the input and of each known phrase. If any code from
//     the input overlaps with any code from a phrase, the phrase becomes a
//     phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the phrase with the
//     highest Jaro-Winkler similarity (case-insensitive, on the original
//     strings) is selected — provided its score exceeds the phonetic
//     threshold. When no phonetic candidate exists, a secondary pass tests
//     pure Jaro-Winkler similarity against all phrases using a stricter
//     fuzzy threshold.
//
// Multi-word phrases ("big o notation") are supported: spoken token windows
// are compared full-string, concatenated, and pairwise per token, and the
// best score wins.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched phrase to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is a phonetic phrase matcher. All methods are safe for concurrent
// use — the Matcher is read-only after construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match attempts to find the phrase from phrases that is most phonetically
// similar to the spoken text. spoken may be a single word or a
// space-separated token window.
//
// When matched is false, corrected equals spoken unchanged and confidence
// is 0.
func (m *Matcher) Match(spoken string, phrases []string) (corrected string, confidence float64, matched bool) {
	if len(phrases) == 0 || strings.TrimSpace(spoken) == "" {
		return spoken, 0, false
	}

	spokenLower := strings.ToLower(strings.TrimSpace(spoken))
	spokenTokens := strings.Fields(spokenLower)
	spokenCodes := codesForTokens(spokenTokens)

	type candidate struct {
		phrase   string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, phrase := range phrases {
		phraseLower := strings.ToLower(strings.TrimSpace(phrase))
		if phraseLower == "" {
			continue
		}
		phraseTokens := strings.Fields(phraseLower)

		phoneticMatch := codesOverlap(spokenCodes, codesForTokens(phraseTokens))
		score := bestSimilarity(spokenTokens, phraseTokens, spokenLower, phraseLower)

		if phoneticMatch {
			if score >= m.phoneticThreshold {
				if !best.phonetic || score > best.score {
					best = candidate{phrase: phrase, score: score, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if score >= m.fuzzyThreshold && score > best.score {
				best = candidate{phrase: phrase, score: score}
			}
		}
	}

	if best.phrase != "" {
		return best.phrase, best.score, true
	}
	return spoken, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity computes the highest Jaro-Winkler similarity between the
// spoken window and the phrase: full-string, space-stripped, and best
// pairwise token comparison. The space-stripped pass handles engines that
// split or fuse words ("type script" vs "typescript").
func bestSimilarity(spokenTokens, phraseTokens []string, spokenFull, phraseFull string) float64 {
	score := matchr.JaroWinkler(spokenFull, phraseFull, false)

	if len(spokenTokens) > 1 || len(phraseTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(spokenTokens, ""), strings.Join(phraseTokens, ""), false); s > score {
			score = s
		}
	}

	for _, st := range spokenTokens {
		for _, pt := range phraseTokens {
			if s := matchr.JaroWinkler(st, pt, false); s > score {
				score = s
			}
		}
	}

	return score
}
