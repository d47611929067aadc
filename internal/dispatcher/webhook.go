package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

// Headers set on every notification request.
const (
	HeaderEventID        = "X-Concierge-Event-ID"
	HeaderJob            = "X-Concierge-Job"
	HeaderIdempotencyKey = "X-Concierge-Idempotency-Key"
	HeaderSignature      = "X-Concierge-Signature"
)

const defaultSendTimeout = 30 * time.Second

type HTTPWebhookSender struct {
	client *http.Client
}

func NewHTTPWebhookSender() *HTTPWebhookSender {
	return &HTTPWebhookSender{
		client: &http.Client{},
	}
}

// Send posts the alert input document signed with HMAC-SHA256 over the body.
func (s *HTTPWebhookSender) Send(ctx context.Context, req WebhookRequest) WebhookResult {
	start := time.Now()

	timeout := req.Timeout
	if timeout == 0 {
		timeout = defaultSendTimeout
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return WebhookResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	httpReq.Header.Set(HeaderEventID, req.AttemptID)
	httpReq.Header.Set(HeaderJob, req.JobName)
	httpReq.Header.Set(HeaderIdempotencyKey, req.IdempotencyKey)
	if req.Secret != "" {
		httpReq.Header.Set(HeaderSignature, ComputeSignature(req.Secret, req.Body))
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return WebhookResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	return WebhookResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to check an incoming notification.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
