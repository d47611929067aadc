// Package testutil holds helpers shared by the trip planner's tests.
package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// KST is the fixed +09:00 zone departures are interpreted in by default.
var KST = time.FixedZone("KST", 9*60*60)

// FakeClock is a settable clock. Pass its Now method wherever a
// func() time.Time is accepted.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d, e.g. past an alert's run time.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// TestContext returns a context that expires after 5s or when the test ends.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// StageText renders v as a fenced json block after a line of prose, the
// shape stage generators usually answer in.
func StageText(t *testing.T, prose string, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("testutil.StageText: %v", err)
	}
	return prose + "\n```json\n" + string(b) + "\n```"
}

// MustParseUUID panics on a malformed id.
func MustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic("testutil.MustParseUUID: " + err.Error())
	}
	return id
}
