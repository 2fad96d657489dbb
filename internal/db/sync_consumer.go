package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/opensandbox/batchfleet/internal/controlplane"
	"github.com/opensandbox/batchfleet/internal/events"
)

const archiveDurable = "pg-event-archive"

// EventWriter persists control-plane events.
type EventWriter interface {
	InsertEvent(ctx context.Context, ev controlplane.Event) error
}

// SyncConsumer reads control-plane events from NATS JetStream and archives
// them in PostgreSQL.
type SyncConsumer struct {
	writer EventWriter
	nc     *nats.Conn
	js     nats.JetStreamContext
	sub    *nats.Subscription
	log    *zap.Logger
}

// NewSyncConsumer creates a new NATS-to-PG sync consumer.
func NewSyncConsumer(writer EventWriter, natsURL string, logger *zap.Logger) (*SyncConsumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sync_consumer")
	nc, js, err := events.Connect(natsURL, logger)
	if err != nil {
		return nil, err
	}
	return &SyncConsumer{writer: writer, nc: nc, js: js, log: logger}, nil
}

// Start begins consuming events with a durable consumer.
func (c *SyncConsumer) Start() error {
	sub, err := c.js.Subscribe(events.SubjectAll, c.handleMessage,
		nats.Durable(archiveDurable),
		nats.AckExplicit(),
		nats.MaxAckPending(256),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	c.sub = sub
	c.log.Info("subscribed", zap.String("subject", events.SubjectAll))
	return nil
}

// Stop unsubscribes and closes the connection.
func (c *SyncConsumer) Stop() {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	c.nc.Close()
}

func (c *SyncConsumer) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.archive(ctx, msg.Data); err != nil {
		if retryable(err) {
			c.log.Warn("archive failed, will redeliver", zap.Error(err))
			msg.Nak()
			return
		}
		c.log.Warn("dropping event", zap.Error(err))
	}
	msg.Ack()
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode event: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var de *decodeError
	return !errors.As(err, &de)
}

// archive decodes one message and writes it. Malformed payloads return a
// decodeError so they are acknowledged instead of redelivered forever.
func (c *SyncConsumer) archive(ctx context.Context, data []byte) error {
	var ev controlplane.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return &decodeError{err}
	}
	if ev.ID == "" || ev.PoolID == "" {
		return &decodeError{errors.New("event without id or pool")}
	}
	if err := c.writer.InsertEvent(ctx, ev); err != nil {
		return err
	}
	c.log.Debug("event archived", zap.String("type", ev.Type), zap.String("pool", ev.PoolID))
	return nil
}
