package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/timeclock/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type mockRecorder struct {
	mu      sync.Mutex
	results []bool
}

func (m *mockRecorder) RecordNotification(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, success)
}

// newTestClient はhttptestサーバー向けのクライアントを生成する。
// テストではSSRF対策なしのクライアントとレート制限なしのリミッターを使う。
func newTestClient(t *testing.T, url string, rec Recorder) *WebhookClient {
	t.Helper()
	var buf bytes.Buffer
	c := NewWebhookClient(http.DefaultClient, url, rec, newTestLogger(&buf))
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	c.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return c
}

func anomalies(n int) []model.Anomaly {
	out := make([]model.Anomaly, n)
	for i := range out {
		out[i] = model.Anomaly{
			Kind:     model.AnomalyOrphanOut,
			Username: "alice",
			EventID:  fmt.Sprintf("ev-%d", i),
			At:       time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
			Message:  "orphan",
		}
	}
	return out
}

func TestNotify_PostsJSON(t *testing.T) {
	var got payload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("invalid JSON: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	rec := &mockRecorder{}
	c := newTestClient(t, ts.URL, rec)
	if err := c.Notify(context.Background(), anomalies(2)); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}

	if got.Source != "timeclock" {
		t.Errorf("Source = %q", got.Source)
	}
	if len(got.Anomalies) != 2 || got.Anomalies[1].EventID != "ev-1" {
		t.Errorf("Anomalies = %+v", got.Anomalies)
	}
	if got.Anomalies[0].Kind != string(model.AnomalyOrphanOut) {
		t.Errorf("Kind = %q", got.Anomalies[0].Kind)
	}
	if len(rec.results) != 1 || !rec.results[0] {
		t.Errorf("recorded = %v, want [true]", rec.results)
	}
}

func TestNotify_ChunksLargeBatches(t *testing.T) {
	var (
		mu    sync.Mutex
		sizes []int
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		_ = json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		sizes = append(sizes, len(p.Anomalies))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL, nil)
	if err := c.Notify(context.Background(), anomalies(120)); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}

	want := []int{50, 50, 20}
	if len(sizes) != len(want) {
		t.Fatalf("requests = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("sizes[%d] = %d, want %d", i, sizes[i], want[i])
		}
	}
}

func TestNotify_EmptyDoesNothing(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL, nil)
	if err := c.Notify(context.Background(), nil); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if called {
		t.Error("webhook should not be called for empty input")
	}
}

func TestNotify_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	rec := &mockRecorder{}
	c := newTestClient(t, ts.URL, rec)
	if err := c.Notify(context.Background(), anomalies(1)); err == nil {
		t.Fatal("expected error for 502 response")
	}
	if len(rec.results) != 1 || rec.results[0] {
		t.Errorf("recorded = %v, want [false]", rec.results)
	}
}

func TestNotify_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	var buf bytes.Buffer
	c := NewWebhookClient(http.DefaultClient, ts.URL, nil, newTestLogger(&buf))
	// バースト分を使い切ってから待機させる
	c.limiter = rate.NewLimiter(rate.Every(time.Hour), 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Notify(ctx, anomalies(1)); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestDiscard_Notify(t *testing.T) {
	if err := (Discard{}).Notify(context.Background(), anomalies(3)); err != nil {
		t.Errorf("Discard.Notify returned error: %v", err)
	}
}
