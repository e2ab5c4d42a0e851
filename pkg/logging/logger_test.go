package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func newJSONLogger(buf *bytes.Buffer, level Level) Logger {
	return NewLogger(&Config{
		Level:       level,
		ServiceName: "test-service",
		Environment: "testing",
		JSONFormat:  true,
		Output:      buf,
	})
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var output map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &output); err != nil {
		t.Fatalf("failed to parse JSON output %q: %v", buf.String(), err)
	}
	return output
}

func TestNewLogger_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level to be info, got %s", cfg.Level)
	}
	if cfg.ServiceName != "penf-chat" {
		t.Errorf("expected default service name to be 'penf-chat', got %s", cfg.ServiceName)
	}
	if cfg.JSONFormat {
		t.Error("expected default JSONFormat to be false")
	}
}

func TestNewLogger_NilConfig(t *testing.T) {
	if NewLogger(nil) == nil {
		t.Error("expected non-nil logger with nil config")
	}
}

func TestLogger_JSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := newJSONLogger(buf, LevelDebug)
	log.Info("mention created", F("mention_id", "m-1"))

	output := decodeLine(t, buf)
	if output["message"] != "mention created" {
		t.Errorf("expected message 'mention created', got %v", output["message"])
	}
	if output["service_name"] != "test-service" {
		t.Errorf("expected service_name 'test-service', got %v", output["service_name"])
	}
	if output["mention_id"] != "m-1" {
		t.Errorf("expected mention_id 'm-1', got %v", output["mention_id"])
	}
	if output["level"] != "info" {
		t.Errorf("expected level 'info', got %v", output["level"])
	}
	if _, ok := output["time"]; !ok {
		t.Error("expected timestamp field 'time' in output")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := newJSONLogger(buf, LevelWarn)

	log.Debug("debug")
	log.Info("info")
	if buf.Len() != 0 {
		t.Fatalf("expected debug and info to be filtered, got %q", buf.String())
	}

	log.Warn("warn")
	output := decodeLine(t, buf)
	if output["level"] != "warn" {
		t.Errorf("expected level 'warn', got %v", output["level"])
	}
}

func TestLogger_WithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := Component(newJSONLogger(buf, LevelDebug), "processor")
	log.With(F("entity_id", "clone-1")).Error("boom", Err(errors.New("bad")))

	output := decodeLine(t, buf)
	if output["component"] != "processor" {
		t.Errorf("expected component 'processor', got %v", output["component"])
	}
	if output["entity_id"] != "clone-1" {
		t.Errorf("expected entity_id 'clone-1', got %v", output["entity_id"])
	}
	if output["error"] != "bad" {
		t.Errorf("expected error 'bad', got %v", output["error"])
	}
}

func TestLogger_WithContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := newJSONLogger(buf, LevelDebug)

	ctx := context.WithValue(context.Background(), TraceIDKey, "trace-123")
	ctx = ContextWithEntity(ctx, "clone-9")
	log.WithContext(ctx).Info("draining")

	output := decodeLine(t, buf)
	if output["trace_id"] != "trace-123" {
		t.Errorf("expected trace_id 'trace-123', got %v", output["trace_id"])
	}
	if output["entity_id"] != "clone-9" {
		t.Errorf("expected entity_id 'clone-9', got %v", output["entity_id"])
	}
	if _, ok := output["request_id"]; ok {
		t.Error("expected no request_id when absent from context")
	}
}

func TestLogger_FieldTypes(t *testing.T) {
	buf := &bytes.Buffer{}
	log := newJSONLogger(buf, LevelDebug)
	log.Info("types",
		F("count", 3),
		F("big", int64(7)),
		F("ratio", 0.5),
		F("ok", true),
		F("took", 2*time.Second),
		F("ids", []string{"a", "b"}),
	)

	output := decodeLine(t, buf)
	if output["count"] != float64(3) {
		t.Errorf("expected count 3, got %v", output["count"])
	}
	if output["ok"] != true {
		t.Errorf("expected ok true, got %v", output["ok"])
	}
	if ids, ok := output["ids"].([]interface{}); !ok || len(ids) != 2 {
		t.Errorf("expected ids slice of 2, got %v", output["ids"])
	}
}

func TestLogger_ConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{Level: LevelInfo, ServiceName: "svc", Output: buf})
	log.Info("hello console")

	if !strings.Contains(buf.String(), "hello console") {
		t.Errorf("expected console output to contain message, got %q", buf.String())
	}
}

func TestNopLogger(t *testing.T) {
	log := NewNopLogger()
	log.Info("ignored")
	if log.With(F("a", 1)) != log {
		t.Error("expected nop With to return itself")
	}
	if Component(nil, "x") == nil {
		t.Error("expected Component(nil) to return a nop logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[Level]string{
		LevelDebug:     "debug",
		LevelInfo:      "info",
		LevelWarn:      "warn",
		LevelError:     "error",
		Level("bogus"): "info",
	}
	for in, want := range tests {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
