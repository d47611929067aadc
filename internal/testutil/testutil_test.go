package testutil

import (
	"testing"
	"time"
)

func TestFakeClock_AdvancePastDeparture(t *testing.T) {
	departure := time.Date(2025, 11, 23, 10, 15, 0, 0, KST)
	clock := NewFakeClock(departure.Add(-6 * time.Hour))

	if !clock.Now().Before(departure.Add(-5 * time.Hour)) {
		t.Fatal("clock should start before the 5h alert")
	}

	clock.Advance(4 * time.Hour)
	now := clock.Now()
	if !now.After(departure.Add(-5*time.Hour)) || now.After(departure.Add(-2*time.Hour)) {
		t.Errorf("after 4h the clock should sit between the alerts, got %v", now)
	}
}

func TestTestContext_Deadline(t *testing.T) {
	deadline, ok := TestContext(t).Deadline()
	if !ok {
		t.Fatal("TestContext should have a deadline")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > 5*time.Second {
		t.Errorf("deadline in %v, want within 5s", remaining)
	}
}

func TestMustParseUUID(t *testing.T) {
	const s = "0f8fad5b-d9cb-469f-a165-70867728950e"
	if got := MustParseUUID(s).String(); got != s {
		t.Errorf("MustParseUUID(%q) = %s", s, got)
	}

	defer func() {
		if recover() == nil {
			t.Error("MustParseUUID should panic on a malformed id")
		}
	}()
	MustParseUUID("KE123")
}

func TestStageText(t *testing.T) {
	got := StageText(t, "추천 항공편입니다.", map[string]any{"flight_number": "KE123"})
	want := "추천 항공편입니다.\n```json\n{\"flight_number\":\"KE123\"}\n```"
	if got != want {
		t.Errorf("StageText() = %q, want %q", got, want)
	}
}

func TestKST_Offset(t *testing.T) {
	_, offset := time.Date(2025, 11, 23, 10, 15, 0, 0, KST).Zone()
	if offset != 9*60*60 {
		t.Errorf("KST offset = %d, want %d", offset, 9*60*60)
	}
}
