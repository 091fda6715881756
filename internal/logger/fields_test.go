package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestStringFields(t *testing.T) {
	t.Parallel()

	fields := StringFields(
		StringField{Key: "component", Value: "worker"},
		StringField{Key: "  ", Value: "dropped"},
		StringField{Key: "empty", Value: "   "},
		StringField{Key: " model ", Value: " gemini-2.5-flash "},
	)

	if len(fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(fields))
	}
	if fields[0].Key != "component" || fields[0].String != "worker" {
		t.Errorf("unexpected first field: %+v", fields[0])
	}
	if fields[1].Key != "model" || fields[1].String != "gemini-2.5-flash" {
		t.Errorf("unexpected second field: %+v", fields[1])
	}
}

func TestWithFieldsNilLogger(t *testing.T) {
	t.Parallel()

	logger := WithFields(nil, zap.String("k", "v"))
	if logger == nil {
		t.Fatal("expected a usable logger")
	}
	// Must not panic.
	logger.Info("message")
}

func TestWithComponent(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	logger := WithComponent(zap.New(core), "evaluator", "gemini-2.5-flash")

	logger.Info("step done")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	ctx := entries[0].ContextMap()
	if ctx[FieldComponent] != "evaluator" {
		t.Errorf("component = %v", ctx[FieldComponent])
	}
	if ctx[FieldModel] != "gemini-2.5-flash" {
		t.Errorf("model = %v", ctx[FieldModel])
	}
}

func TestWithComponentOmitsEmptyModel(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	logger := WithComponent(zap.New(core), "broker", "")

	logger.Info("connected")

	ctx := logs.All()[0].ContextMap()
	if _, ok := ctx[FieldModel]; ok {
		t.Error("empty model should be omitted")
	}
}
