package instrument

import (
	"context"
	"testing"

	"enricher/internal/config"
	"enricher/internal/store"
)

func TestEventBuffer_FlushWritesEvents(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "events"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()
	if err := s.Bootstrap(ctx, config.AdminConfig{}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	eb := NewEventBuffer(s, 100, 60000)
	inst := NewInstrumenter(eb)
	spanCtx := WithTraceID(ctx, "trace-42")
	_, span := inst.StartSpan(spanCtx, "engine", "decorate", "decorate.rule")
	span.SetEntity("employee", "")
	span.SetStatus("ok")
	span.End()
	eb.Stop()

	rows, err := store.QueryRows(ctx, s.DB, "SELECT trace_id, entity, status FROM _events")
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 event, got %d", len(rows))
	}
	if rows[0]["trace_id"] != "trace-42" || rows[0]["entity"] != "employee" || rows[0]["status"] != "ok" {
		t.Fatalf("unexpected event row: %v", rows[0])
	}

	CleanupOldEvents(ctx, s, 7)
	rows, err = store.QueryRows(ctx, s.DB, "SELECT trace_id FROM _events")
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(rows) != 1 {
		t.Fatal("cleanup must keep recent events")
	}
}
