package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestNopTracer(t *testing.T) {
	tracer := NopTracer()
	ctx := context.Background()
	ctx2, span := tracer.StartSpan(ctx, "test")
	if ctx2 != ctx {
		t.Fatalf("nop tracer should return same context")
	}
	span.SetTag("key", "value")
	span.SetError(nil)
	span.Finish()
}

func TestLogrusAdapter(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	log := NewLogrus(base).With(String("component", "engine"))

	log.Info("render finished",
		Int("matched", 2),
		Float("percentage", 50),
		Bool("generated", true),
		Duration("duration", 1500*time.Millisecond),
		Error("error", errors.New("boom")))

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatalf("no entry logged")
	}
	if entry.Message != "render finished" || entry.Level != logrus.InfoLevel {
		t.Fatalf("unexpected entry %q at %v", entry.Message, entry.Level)
	}
	want := logrus.Fields{
		"component":  "engine",
		"matched":    2,
		"percentage": 50.0,
		"generated":  true,
		"duration":   int64(1500),
		"error":      "boom",
	}
	for k, v := range want {
		if entry.Data[k] != v {
			t.Fatalf("field %s = %#v, want %#v", k, entry.Data[k], v)
		}
	}

	log.Debug("debug")
	if len(hook.AllEntries()) != 2 {
		t.Fatalf("expected debug entry to be recorded")
	}
}

func TestJSONLogrusLevel(t *testing.T) {
	if l := NewJSONLogrus("warn"); l.GetLevel() != logrus.WarnLevel {
		t.Fatalf("level = %v", l.GetLevel())
	}
	if l := NewJSONLogrus("nonsense"); l.GetLevel() != logrus.InfoLevel {
		t.Fatalf("fallback level = %v", l.GetLevel())
	}
}
