package db

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/opensandbox/batchfleet/internal/controlplane"
)

type memWriter struct {
	events []controlplane.Event
	err    error
}

func (w *memWriter) InsertEvent(ctx context.Context, ev controlplane.Event) error {
	if w.err != nil {
		return w.err
	}
	w.events = append(w.events, ev)
	return nil
}

func TestSyncConsumerArchive(t *testing.T) {
	w := &memWriter{}
	c := &SyncConsumer{writer: w, log: zap.NewNop()}

	ev := controlplane.Event{
		ID:      "8a1f6d0e-5f7b-4a43-9c2e-1c1f3f7f2b10",
		RunID:   "run-1",
		Type:    controlplane.EventPoolScaled,
		PoolID:  "p1",
		Outcome: "scaled_down",
		Time:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, _ := json.Marshal(ev)

	if err := c.archive(context.Background(), data); err != nil {
		t.Fatalf("archive() error: %v", err)
	}
	if len(w.events) != 1 || w.events[0] != ev {
		t.Fatalf("expected event archived unchanged, got %+v", w.events)
	}
}

func TestSyncConsumerArchive_Malformed(t *testing.T) {
	c := &SyncConsumer{writer: &memWriter{}, log: zap.NewNop()}

	for _, data := range []string{`{not json`, `{"type":"pool_scaled"}`} {
		err := c.archive(context.Background(), []byte(data))
		if err == nil {
			t.Fatalf("archive(%s): expected error", data)
		}
		if retryable(err) {
			t.Errorf("archive(%s): malformed events must not be redelivered", data)
		}
	}
}

func TestSyncConsumerArchive_WriteFailureRetries(t *testing.T) {
	c := &SyncConsumer{writer: &memWriter{err: errors.New("connection refused")}, log: zap.NewNop()}
	data, _ := json.Marshal(controlplane.Event{ID: "e1", PoolID: "p1", Type: controlplane.EventReconcileFailed})

	err := c.archive(context.Background(), data)
	if err == nil || !retryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}
