// Package trigger turns a local departure timestamp into the two absolute
// alert instants (5 hours and 2 hours before departure).
package trigger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/yejikwon7/multi-agent/internal/domain"
)

// ErrUnparseableDeparture is returned when the departure value cannot be read as a timestamp.
var ErrUnparseableDeparture = errors.New("unparseable departure time")

// DefaultTimezone is assumed for departures without an explicit offset.
const DefaultTimezone = "Asia/Seoul"

const (
	FiveHourLead = 5 * time.Hour
	TwoHourLead  = 2 * time.Hour
)

// kst is used when the tz database has no entry for Asia/Seoul.
// Korea has not observed DST since 1988.
var kst = time.FixedZone("KST", 9*60*60)

// offsetLayouts carry their own zone offset.
var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04Z07:00",
}

// localLayouts are interpreted in the calculator's location.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// LoadLocation resolves an IANA zone name. Asia/Seoul falls back to a fixed
// +09:00 zone so binaries without tzdata still schedule correctly.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == DefaultTimezone {
			return kst, nil
		}
		return nil, fmt.Errorf("load tz %s: %w", name, err)
	}
	return loc, nil
}

type Calculator struct {
	loc   *time.Location
	clock func() time.Time
}

// New returns a Calculator that attaches loc to offset-less timestamps.
func New(loc *time.Location) *Calculator {
	if loc == nil {
		loc = kst
	}
	return &Calculator{
		loc:   loc,
		clock: time.Now,
	}
}

// WithClock overrides the wall clock used for elapsed checks.
func (c *Calculator) WithClock(clock func() time.Time) *Calculator {
	c.clock = clock
	return c
}

// Location returns the zone assumed for offset-less timestamps.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// Compute returns both alert instants in UTC. A trigger whose instant is not
// strictly after the current time is marked AlreadyElapsed.
func (c *Calculator) Compute(departure any) (domain.TriggerPair, error) {
	dep, err := c.ParseDeparture(departure)
	if err != nil {
		return domain.TriggerPair{}, err
	}

	now := c.clock().UTC()
	depUTC := dep.UTC()

	return domain.TriggerPair{
		Departure:      depUTC,
		FiveHourBefore: newTrigger(domain.TagFiveHoursBefore, depUTC.Add(-FiveHourLead), now),
		TwoHourBefore:  newTrigger(domain.TagTwoHoursBefore, depUTC.Add(-TwoHourLead), now),
	}, nil
}

func newTrigger(tag domain.Tag, runAt, now time.Time) domain.Trigger {
	return domain.Trigger{
		Tag:            tag,
		RunAt:          runAt,
		AlreadyElapsed: !runAt.After(now),
	}
}

// ParseDeparture reads a departure value. Strings without an offset are
// placed in the calculator's location; time.Time values are used as-is.
func (c *Calculator) ParseDeparture(departure any) (time.Time, error) {
	switch v := departure.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, ErrUnparseableDeparture
		}
		return v, nil
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, ErrUnparseableDeparture
		}
		return *v, nil
	case string:
		return c.parseString(v)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrUnparseableDeparture, departure)
	}
}

func (c *Calculator) parseString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrUnparseableDeparture
	}

	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, c.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableDeparture, s)
}
