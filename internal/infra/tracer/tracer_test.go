package tracer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"botgate/internal/infra/config"
)

func TestSetupDisabledInstallsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Errorf("expected noop provider, got %T", otel.GetTracerProvider())
	}
}

func TestSetupEmptyExporterIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Errorf("expected noop provider for empty exporter, got %T", otel.GetTracerProvider())
	}
}

func TestSetupStdoutToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "spans.json")
	shutdown, err := Setup(context.Background(), config.TracerConfig{
		Enabled:  true,
		Exporter: "stdout",
		Endpoint: path,
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	_, span := StartSpan(context.Background(), "memory.import")
	span.SetAttributes(StringAttr("owner", "alice"), IntAttr("total", 3), BoolAttr("dry_run", false))
	SetOK(span)
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	otel.SetTracerProvider(noop.NewTracerProvider())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "memory.import") {
		t.Errorf("span not exported: %s", data)
	}
}

func TestSetupUnsupportedExporter(t *testing.T) {
	if _, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "jaeger"}); err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func TestRecordErrorIgnoresNil(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())
	_, span := StartSpan(context.Background(), "x")
	RecordError(span, nil)
	RecordError(span, errors.New("boom"))
	span.End()
}

func TestAttrHelpers(t *testing.T) {
	if kv := StringAttr("key", "value"); string(kv.Key) != "key" || kv.Value.AsString() != "value" {
		t.Errorf("StringAttr = %v", kv)
	}
	if kv := IntAttr("count", 42); kv.Value.AsInt64() != 42 {
		t.Errorf("IntAttr = %v", kv)
	}
	if kv := BoolAttr("ok", true); !kv.Value.AsBool() {
		t.Errorf("BoolAttr = %v", kv)
	}
}
