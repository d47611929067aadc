// Package alertbody splits one composed notification text into the
// 5-hours-before and 2-hours-before message bodies.
package alertbody

import (
	"strings"

	"github.com/yejikwon7/multi-agent/internal/domain"
)

// Default section markers emitted by the notification generator.
const (
	FiveHourMarker = "### 5시간 전 알림"
	TwoHourMarker  = "### 2시간 전 알림"
)

// Keys of the structured two-field notification record.
const (
	FiveHourKey = "five_hours_before"
	TwoHourKey  = "two_hours_before"
)

// Bodies holds the two message bodies. A nil field means the section was not found.
type Bodies struct {
	FiveHour *string
	TwoHour  *string
}

// Splitter splits on a pair of ordered markers.
type Splitter struct {
	First  string
	Second string
}

// DefaultSplitter uses FiveHourMarker and TwoHourMarker.
var DefaultSplitter = Splitter{First: FiveHourMarker, Second: TwoHourMarker}

// Split splits text with DefaultSplitter.
func Split(text string) Bodies {
	return DefaultSplitter.Split(text)
}

// Split finds the first occurrence of each marker. Without the first marker
// both bodies are nil. The second marker is only searched for after the first.
func (s Splitter) Split(text string) Bodies {
	_, rest, found := strings.Cut(text, s.First)
	if !found {
		return Bodies{}
	}

	before, after, found := strings.Cut(rest, s.Second)
	five := strings.TrimSpace(before)
	bodies := Bodies{FiveHour: &five}
	if found {
		two := strings.TrimSpace(after)
		bodies.TwoHour = &two
	}
	return bodies
}

// FromRecord reads the structured two-field form. Both fields must be
// non-empty strings for the record to be used.
func FromRecord(rec domain.Record) (Bodies, bool) {
	five := strings.TrimSpace(rec.String(FiveHourKey))
	two := strings.TrimSpace(rec.String(TwoHourKey))
	if five == "" || two == "" {
		return Bodies{}, false
	}
	return Bodies{FiveHour: &five, TwoHour: &two}, true
}

// Resolve returns usable bodies, substituting the whole raw text for any
// missing section.
func (b Bodies) Resolve(raw string) (fiveHour, twoHour string) {
	fiveHour, twoHour = raw, raw
	if b.FiveHour != nil {
		fiveHour = *b.FiveHour
	}
	if b.TwoHour != nil {
		twoHour = *b.TwoHour
	}
	return fiveHour, twoHour
}

// Degraded reports whether neither section was found.
func (b Bodies) Degraded() bool {
	return b.FiveHour == nil
}

// For returns the body for tag after Resolve.
func (b Bodies) For(tag domain.Tag, raw string) string {
	five, two := b.Resolve(raw)
	if tag == domain.TagTwoHoursBefore {
		return two
	}
	return five
}
