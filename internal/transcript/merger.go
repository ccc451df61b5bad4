// Package transcript implements the text side of the dictation pipeline:
// merging interim and final recognition segments into one stable display
// string, and normalising finalised text.
package transcript

import (
	"strings"

	"github.com/prepstage/dictation/pkg/transcribe"
)

// Merger combines a stream of interim/final [transcribe.Segment] values
// into a single, monotonically non-shrinking output string.
//
// The merger tracks utterance boundaries to prevent duplication: when the
// first segment of a fresh utterance arrives, the current committed text is
// snapshotted as the utterance base, and every candidate for that utterance
// is built on top of the base. A final segment closes the utterance, and a
// redelivery of the same final while the utterance is closed is dropped.
//
// The committed string is only ever replaced by an equal-or-longer
// candidate for the duration of one listening interval, so interim noise
// never erases words already shown to the user.
//
// Merger is not safe for concurrent use. The lifecycle controller is the
// single writer, matching the one-segment-at-a-time event model.
type Merger struct {
	corrector *Corrector

	committed     string
	utteranceBase string
	utteranceOpen bool
	lastFinal     string
}

// NewMerger creates a Merger. corrector may be nil, in which case final
// segments are committed verbatim.
func NewMerger(corrector *Corrector) *Merger {
	return &Merger{corrector: corrector}
}

// Merge processes one segment and returns the committed display text after
// applying the monotonic-growth guard. Segments with empty (or
// whitespace-only) text are a no-op.
//
// Corrections apply only to finalised text. Interim candidates are shown
// raw so words the user is still speaking are not visibly "fixed" under
// them.
func (m *Merger) Merge(seg transcribe.Segment) string {
	text := strings.TrimSpace(seg.Text)
	if text == "" {
		return m.committed
	}

	if !m.utteranceOpen {
		// A final identical to the one that just closed the utterance is
		// a duplicate delivery, not new speech. A genuine repeat opens a
		// fresh utterance with an interim first, which clears lastFinal.
		if seg.IsFinal && text == m.lastFinal {
			return m.committed
		}
		m.utteranceBase = m.committed
		m.utteranceOpen = true
		m.lastFinal = ""
	}

	if seg.IsFinal {
		m.lastFinal = text
		if m.corrector != nil {
			text = m.corrector.Correct(text)
		}
		m.publish(joinSpans(m.utteranceBase, text))
		// The utterance is closed: the next segment snapshots the updated
		// committed text as its base.
		m.utteranceOpen = false
		return m.committed
	}

	m.publish(joinSpans(m.utteranceBase, text))
	return m.committed
}

// Committed returns the current committed text.
func (m *Merger) Committed() string { return m.committed }

// Reset discards all state for a fresh listening interval. The next
// segment starts from an empty committed string.
func (m *Merger) Reset() {
	m.committed = ""
	m.utteranceBase = ""
	m.utteranceOpen = false
	m.lastFinal = ""
}

// publish applies the monotonic-growth guard: the committed text is
// replaced only by an equal-or-longer candidate.
func (m *Merger) publish(candidate string) {
	if len(candidate) >= len(m.committed) {
		m.committed = candidate
	}
}

// joinSpans appends span to base with a single separating space, avoiding
// a leading space when base is empty.
func joinSpans(base, span string) string {
	if base == "" {
		return span
	}
	return base + " " + span
}
