package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCriticalDoesNotExit(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("job", "Reindex"))

	log.Critical("unhandled exception on timer", Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	if m["level"] != "fatal" {
		t.Fatalf("level = %v, want fatal", m["level"])
	}
	if m["job"] != "Reindex" {
		t.Fatalf("job = %v, want Reindex", m["job"])
	}
	if s, _ := m["stack"].(string); s == "" {
		t.Fatal("expected stack field on critical log")
	}
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","job":"Reindex","elapsed":1500,"time":"x","message":"slow execution"}` + "\n")
	got := FormatAlert(line)
	want := "[WARN] slow execution\n- elapsed=1500\n- job=Reindex"
	if got != want {
		t.Fatalf("FormatAlert = %q, want %q", got, want)
	}

	if got := FormatAlert([]byte(`{"level":"fatal","message":"x"}`)); !strings.HasPrefix(got, "[CRITICAL] x") {
		t.Fatalf("FormatAlert(fatal) = %q", got)
	}
	if got := FormatAlert([]byte("  not json \n")); got != "not json" {
		t.Fatalf("FormatAlert(raw) = %q", got)
	}
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSender) SendText(_ context.Context, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestAlertSinkFiltersByLevel(t *testing.T) {
	sender := &recordingSender{}
	svc, log := New(Config{
		Level:  "debug",
		Alerts: AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	}, sender)
	defer svc.Close()

	log.Info("execution completed")
	log.Warn("slow execution")
	log.Error("execution failed")

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sender.count(); got != 2 {
		t.Fatalf("alerts sent = %d, want 2", got)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]Level{
		"debug":    LevelDebug,
		" INFO ":   LevelInfo,
		"warning":  LevelWarn,
		"critical": LevelCritical,
		"bogus":    LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in, LevelInfo); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
