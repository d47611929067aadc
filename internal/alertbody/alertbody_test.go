package alertbody

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yejikwon7/multi-agent/internal/domain"
)

func TestSplit_BothMarkers(t *testing.T) {
	b := Split("### 5시간 전 알림\nA\n### 2시간 전 알림\nB")

	require.NotNil(t, b.FiveHour)
	require.NotNil(t, b.TwoHour)
	assert.Equal(t, "A", *b.FiveHour)
	assert.Equal(t, "B", *b.TwoHour)
	assert.False(t, b.Degraded())
}

func TestSplit_MissingFirstMarker(t *testing.T) {
	b := Split("출발 2시간 전입니다.\n### 2시간 전 알림\nB")

	assert.Nil(t, b.FiveHour)
	assert.Nil(t, b.TwoHour)
	assert.True(t, b.Degraded())
}

func TestSplit_MissingSecondMarker(t *testing.T) {
	b := Split("intro\n### 5시간 전 알림\n  집에서 05:30까지 출발하세요.  \n")

	require.NotNil(t, b.FiveHour)
	assert.Equal(t, "집에서 05:30까지 출발하세요.", *b.FiveHour)
	assert.Nil(t, b.TwoHour)
}

func TestSplit_PreambleDropped(t *testing.T) {
	b := Split("알림 초안입니다.\n\n### 5시간 전 알림\nA\n### 2시간 전 알림\nB\n")

	require.NotNil(t, b.FiveHour)
	assert.Equal(t, "A", *b.FiveHour)
	assert.Equal(t, "B", *b.TwoHour)
}

func TestSplit_FirstOccurrenceOnly(t *testing.T) {
	text := "### 5시간 전 알림\nA ### 5시간 전 알림 echoed\n### 2시간 전 알림\nB ### 2시간 전 알림 again"

	b := Split(text)
	require.NotNil(t, b.FiveHour)
	require.NotNil(t, b.TwoHour)
	assert.Equal(t, "A ### 5시간 전 알림 echoed", *b.FiveHour)
	assert.Equal(t, "B ### 2시간 전 알림 again", *b.TwoHour)
}

func TestSplit_SecondMarkerBeforeFirstIsIgnored(t *testing.T) {
	b := Split("### 2시간 전 알림\nX\n### 5시간 전 알림\nA")

	require.NotNil(t, b.FiveHour)
	assert.Equal(t, "A", *b.FiveHour)
	assert.Nil(t, b.TwoHour)
}

func TestSplit_CustomMarkers(t *testing.T) {
	s := Splitter{First: "[5h]", Second: "[2h]"}

	b := s.Split("[5h] leave now [2h] head to gate 3")
	require.NotNil(t, b.TwoHour)
	assert.Equal(t, "leave now", *b.FiveHour)
	assert.Equal(t, "head to gate 3", *b.TwoHour)
}

func TestResolve(t *testing.T) {
	raw := "whole text"

	five, two := Split(raw).Resolve(raw)
	assert.Equal(t, raw, five)
	assert.Equal(t, raw, two)

	text := "### 5시간 전 알림\nA"
	five, two = Split(text).Resolve(text)
	assert.Equal(t, "A", five)
	assert.Equal(t, text, two)

	text = "### 5시간 전 알림\nA\n### 2시간 전 알림\nB"
	b := Split(text)
	assert.Equal(t, "A", b.For(domain.TagFiveHoursBefore, text))
	assert.Equal(t, "B", b.For(domain.TagTwoHoursBefore, text))
}

func TestFromRecord(t *testing.T) {
	b, ok := FromRecord(domain.Record{
		FiveHourKey: " 05:30까지 출발 ",
		TwoHourKey:  "3번 출국장으로",
	})
	require.True(t, ok)
	assert.Equal(t, "05:30까지 출발", *b.FiveHour)
	assert.Equal(t, "3번 출국장으로", *b.TwoHour)

	_, ok = FromRecord(domain.Record{FiveHourKey: "only one"})
	assert.False(t, ok)

	_, ok = FromRecord(domain.Record{FiveHourKey: "x", TwoHourKey: 2.0})
	assert.False(t, ok)

	_, ok = FromRecord(nil)
	assert.False(t, ok)
}
