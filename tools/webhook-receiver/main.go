// Command webhook-receiver is a development stand-in for the email sender.
// It accepts departure alerts posted by the local scheduler backend, checks
// their signature and keeps the most recent ones for inspection.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/yejikwon7/multi-agent/internal/dispatcher"
)

const maxStored = 50

type alert struct {
	ReceivedAt     string `json:"received_at"`
	EventID        string `json:"event_id"`
	Job            string `json:"job"`
	IdempotencyKey string `json:"idempotency_key"`
	ToEmail        string `json:"to_email"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	Duplicate      bool   `json:"duplicate"`
}

type stats struct {
	Count      int64   `json:"count"`
	Rejected   int64   `json:"rejected"`
	LastAlerts []alert `json:"last_alerts"`
	Since      string  `json:"since"`
}

type receiver struct {
	secret string

	mu       sync.Mutex
	count    int64
	rejected int64
	last     []alert
	seen     map[string]bool
	since    time.Time
}

func newReceiver(secret string) *receiver {
	return &receiver{
		secret: secret,
		seen:   make(map[string]bool),
		since:  time.Now().UTC(),
	}
}

func main() {
	_ = godotenv.Load()

	addr := ":9000"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	rcv := newReceiver(os.Getenv("NOTIFY_WEBHOOK_SECRET"))
	if rcv.secret == "" {
		log.Println("webhook-receiver: NOTIFY_WEBHOOK_SECRET not set, signatures are not checked")
	}

	log.Printf("webhook-receiver: listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, rcv.routes()))
}

func (rc *receiver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/notify", rc.handleNotify)
	mux.HandleFunc("/stats", rc.handleStats)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		rc.mu.Lock()
		rc.count = 0
		rc.rejected = 0
		rc.last = nil
		rc.seen = make(map[string]bool)
		rc.since = time.Now().UTC()
		rc.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})
	return mux
}

func (rc *receiver) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	r.Body.Close()
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if rc.secret != "" && !dispatcher.VerifySignature(rc.secret, body, r.Header.Get(dispatcher.HeaderSignature)) {
		rc.mu.Lock()
		rc.rejected++
		rc.mu.Unlock()
		log.Printf("webhook-receiver: rejected alert job=%s: bad signature", r.Header.Get(dispatcher.HeaderJob))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var doc struct {
		ToEmail string `json:"to_email"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		log.Printf("webhook-receiver: invalid alert document: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	a := alert{
		ReceivedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		EventID:        r.Header.Get(dispatcher.HeaderEventID),
		Job:            r.Header.Get(dispatcher.HeaderJob),
		IdempotencyKey: r.Header.Get(dispatcher.HeaderIdempotencyKey),
		ToEmail:        doc.ToEmail,
		Subject:        doc.Subject,
		Body:           doc.Body,
	}

	rc.mu.Lock()
	if a.IdempotencyKey != "" {
		a.Duplicate = rc.seen[a.IdempotencyKey]
		rc.seen[a.IdempotencyKey] = true
	}
	rc.count++
	rc.last = append(rc.last, a)
	if len(rc.last) > maxStored {
		rc.last = rc.last[len(rc.last)-maxStored:]
	}
	current := rc.count
	rc.mu.Unlock()

	log.Printf("webhook-receiver: alert #%d to=%s subject=%q duplicate=%t", current, a.ToEmail, a.Subject, a.Duplicate)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func (rc *receiver) handleStats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := stats{
		Count:      rc.count,
		Rejected:   rc.rejected,
		LastAlerts: append([]alert(nil), rc.last...),
		Since:      rc.since.Format(time.RFC3339),
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
