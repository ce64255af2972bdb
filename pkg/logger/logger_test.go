package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New("ledger", Config{Level: "debug", Output: &buf})

	log.WithField("address", "abc").Info("debited")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if line["component"] != "ledger" {
		t.Fatalf("expected component ledger, got %v", line["component"])
	}
	if line["address"] != "abc" {
		t.Fatalf("expected address field, got %v", line["address"])
	}
}

func TestLoggerLevelFallback(t *testing.T) {
	log := New("x", Config{Level: "not-a-level"})
	if log.GetLevel().String() != "info" {
		t.Fatalf("expected info fallback, got %s", log.GetLevel())
	}
}

func TestWithContextRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := New("http", Config{Level: "info", Output: &buf})

	ctx := WithRequestID(context.Background(), "req-1")
	log.WithContext(ctx).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if line["request_id"] != "req-1" {
		t.Fatalf("expected request id, got %v", line["request_id"])
	}
	if log.Named("other").Component() != "other" {
		t.Fatalf("Named should change component")
	}
}
