package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func TestWithContextAddsTraceAndUser(t *testing.T) {
	var buf bytes.Buffer
	logger := New("pickup", "debug", "json")
	logger.SetOutput(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUserID(ctx, "user-1")
	logger.WithContext(ctx).Info("accepted")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if line["trace_id"] != "trace-1" {
		t.Fatalf("trace_id = %v", line["trace_id"])
	}
	if line["user_id"] != "user-1" {
		t.Fatalf("user_id = %v", line["user_id"])
	}
	if line["component"] != "pickup" {
		t.Fatalf("component = %v", line["component"])
	}
}

func TestLogRequestLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New("http", "info", "json")
	logger.SetOutput(&buf)

	logger.LogRequest(context.Background(), http.MethodGet, "/health", http.StatusInternalServerError, time.Millisecond)

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if line["level"] != "error" {
		t.Fatalf("level = %v, want error", line["level"])
	}
	if line["status"] != float64(500) {
		t.Fatalf("status = %v", line["status"])
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	logger := New("x", "loud", "text")
	if logger.GetLevel().String() != "info" {
		t.Fatalf("level = %s", logger.GetLevel())
	}
}

func TestContextHelpersEmpty(t *testing.T) {
	ctx := context.Background()
	if GetTraceID(ctx) != "" || GetUserID(ctx) != "" || GetRole(ctx) != "" {
		t.Fatal("expected empty values")
	}
	if WithTraceID(ctx, "") != ctx {
		t.Fatal("empty trace id should not wrap the context")
	}
	if NewTraceID() == NewTraceID() {
		t.Fatal("trace ids should be unique")
	}
}
