package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &out); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	return out
}

func TestContextFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Level: "debug", Format: "json", Output: &buf, ServiceName: "test"})

	ctx := base.WithContext(context.Background())
	ctx = SetRequestID(ctx, "req-1")
	ctx = SetPostID(ctx, "post-1")

	CtxInfo(ctx, "decided %s", "verified")

	line := decodeLine(t, &buf)
	if line["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", line["request_id"])
	}
	if line["post_id"] != "post-1" {
		t.Errorf("post_id = %v, want post-1", line["post_id"])
	}
	if line["message"] != "decided verified" {
		t.Errorf("message = %v", line["message"])
	}
	if line["service"] != "test" {
		t.Errorf("service = %v, want test", line["service"])
	}
	if GetPostID(ctx) != "post-1" {
		t.Errorf("GetPostID = %q", GetPostID(ctx))
	}
}

func TestEntryMetricFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Level: "info", Format: "json", Output: &buf, ServiceName: "test"})
	ctx := base.WithContext(context.Background())

	With(Fields{FieldScore: 0.93}).WithCount(4).WithStatus("rejected").Info(ctx, "scan")

	line := decodeLine(t, &buf)
	if line[FieldCount] != float64(4) {
		t.Errorf("count = %v, want 4", line[FieldCount])
	}
	if line[FieldStatus] != "rejected" {
		t.Errorf("status = %v", line[FieldStatus])
	}
	if line[FieldScore] != 0.93 {
		t.Errorf("score = %v", line[FieldScore])
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != GetDefault() {
		t.Error("expected default logger for bare context")
	}
}
