package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func capture() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	log := New(Config{
		Level:       "debug",
		Format:      "json",
		Output:      &buf,
		ServiceName: "test",
	})
	return log, &buf
}

func lastLine(buf *bytes.Buffer) map[string]any {
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	_ = json.Unmarshal([]byte(lines[len(lines)-1]), &m)
	return m
}

func TestNewWritesJSON(t *testing.T) {
	log, buf := capture()
	log.Info("hello", "k", "v")

	m := lastLine(buf)
	if m["msg"] != "hello" {
		t.Errorf("expected msg=hello, got %v", m["msg"])
	}
	if m["k"] != "v" {
		t.Errorf("expected k=v, got %v", m["k"])
	}
	if m["service"] != "test" {
		t.Errorf("expected service=test, got %v", m["service"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"INFO", "INFO"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in).String(); got != tt.want {
			t.Errorf("parseLevel(%q)=%s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestWithJobID(t *testing.T) {
	log, buf := capture()
	log.WithJobID("job-42").Info("processing")

	m := lastLine(buf)
	if m["job_id"] != "job-42" {
		t.Errorf("expected job_id=job-42, got %v", m["job_id"])
	}
}

func TestWithWorkerID(t *testing.T) {
	log, buf := capture()
	log.WithWorkerID("worker-1").Info("claimed")

	m := lastLine(buf)
	if m["worker_id"] != "worker-1" {
		t.Errorf("expected worker_id=worker-1, got %v", m["worker_id"])
	}
}

func TestFromContext(t *testing.T) {
	log, buf := capture()

	ctx := ContextWithJobID(context.Background(), "job-9")
	ctx = ContextWithWorkerID(ctx, "worker-3")

	log.FromContext(ctx).Info("tick")

	m := lastLine(buf)
	if m["job_id"] != "job-9" || m["worker_id"] != "worker-3" {
		t.Errorf("expected context ids in output, got %v", m)
	}
}

func TestWithErrorNil(t *testing.T) {
	log, _ := capture()
	if log.WithError(nil) != log {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Debug("hidden")
	log.Info("hidden too")
	log.Warn("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Errorf("expected 1 log line, got %d: %s", len(lines), buf.String())
	}
}
