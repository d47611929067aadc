package domain

import "testing"

func TestJobStatus_Values(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   string
	}{
		{JobStatusPending, "pending"},
		{JobStatusFired, "fired"},
		{JobStatusDelivered, "delivered"},
		{JobStatusFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("JobStatus = %q, want %q", tt.status, tt.want)
			}
		})
	}
}

func TestTag_Values(t *testing.T) {
	if TagFiveHoursBefore != "5h_before" {
		t.Errorf("TagFiveHoursBefore = %q", TagFiveHoursBefore)
	}
	if TagTwoHoursBefore != "2h_before" {
		t.Errorf("TagTwoHoursBefore = %q", TagTwoHoursBefore)
	}
}

func TestRecord_Accessors(t *testing.T) {
	rec := Record{
		"name":   "KE123",
		"nested": map[string]any{"a": "b"},
		"list":   []any{1.0, 2.0},
		"number": 3.0,
	}

	if got := rec.String("name"); got != "KE123" {
		t.Errorf("String(name) = %q, want KE123", got)
	}
	if got := rec.String("number"); got != "" {
		t.Errorf("String(number) = %q, want empty", got)
	}
	if m, ok := rec.Map("nested"); !ok || m.String("a") != "b" {
		t.Errorf("Map(nested) = %v, %v", m, ok)
	}
	if s, ok := rec.Slice("list"); !ok || len(s) != 2 {
		t.Errorf("Slice(list) = %v, %v", s, ok)
	}

	var nilRec Record
	if nilRec.String("x") != "" {
		t.Error("nil record should return empty string")
	}
	if _, ok := nilRec.Map("x"); ok {
		t.Error("nil record should not return a map")
	}
}
