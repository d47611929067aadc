package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yejikwon7/multi-agent/internal/dispatcher"
)

const alertDoc = `{"to_email":"traveler@example.com","subject":"[출국 알림] KE123 출발 5시간 전 안내","body":"여권을 챙기세요"}`

func post(h http.Handler, body, signature, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(dispatcher.HeaderSignature, signature)
	}
	if key != "" {
		req.Header.Set(dispatcher.HeaderIdempotencyKey, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNotify_ValidSignature(t *testing.T) {
	rc := newReceiver("s3cret")
	h := rc.routes()

	rec := post(h, alertDoc, dispatcher.ComputeSignature("s3cret", []byte(alertDoc)), "k1")
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, rc.last, 1)
	assert.Equal(t, "traveler@example.com", rc.last[0].ToEmail)
	assert.Contains(t, rc.last[0].Subject, "KE123")
	assert.False(t, rc.last[0].Duplicate)
}

func TestNotify_BadSignature(t *testing.T) {
	rc := newReceiver("s3cret")

	rec := post(rc.routes(), alertDoc, "deadbeef", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, int64(1), rc.rejected)
	assert.Empty(t, rc.last)
}

func TestNotify_NoSecretAcceptsUnsigned(t *testing.T) {
	rc := newReceiver("")

	rec := post(rc.routes(), alertDoc, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotify_DuplicateIdempotencyKey(t *testing.T) {
	rc := newReceiver("")
	h := rc.routes()

	post(h, alertDoc, "", "same")
	post(h, alertDoc, "", "same")

	require.Len(t, rc.last, 2)
	assert.False(t, rc.last[0].Duplicate)
	assert.True(t, rc.last[1].Duplicate)
}

func TestNotify_InvalidDocument(t *testing.T) {
	rc := newReceiver("")

	rec := post(rc.routes(), "not json", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	rc := newReceiver("")
	h := rc.routes()
	post(h, alertDoc, "", "k1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	var s stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&s))
	assert.Equal(t, int64(1), s.Count)
	require.Len(t, s.LastAlerts, 1)
	assert.Equal(t, "k1", s.LastAlerts[0].IdempotencyKey)
}
