// Package events publishes control-plane events to NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/opensandbox/batchfleet/internal/controlplane"
)

// Stream layout shared by the publisher and the archive consumer.
const (
	StreamName    = "BATCHFLEET_EVENTS"
	SubjectPrefix = "batchfleet.events"
	SubjectAll    = SubjectPrefix + ".>"
	StreamMaxAge  = 7 * 24 * time.Hour
)

// Connect dials NATS with the reconnect settings used by every component
// and ensures the events stream exists.
func Connect(natsURL string, logger *zap.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	if _, err := js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectAll},
		MaxAge:   StreamMaxAge,
	}); err != nil {
		// Stream may already exist with the same config.
		logger.Debug("stream setup", zap.String("stream", StreamName), zap.Error(err))
	}
	return nc, js, nil
}

// Publisher sends reconciler events to JetStream. It satisfies
// controlplane.EventSink.
type Publisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewPublisher connects to natsURL.
func NewPublisher(natsURL string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("events")
	nc, js, err := Connect(natsURL, logger)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, js: js, logger: logger}, nil
}

// Publish sends ev on the subject for its pool. The event ID is used as the
// JetStream message ID so retried publishes are deduplicated.
func (p *Publisher) Publish(ctx context.Context, ev controlplane.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	opts := []nats.PubOpt{nats.Context(ctx)}
	if ev.ID != "" {
		opts = append(opts, nats.MsgId(ev.ID))
	}
	if _, err := p.js.Publish(Subject(ev.PoolID), data, opts...); err != nil {
		return fmt.Errorf("publish %s for pool %s: %w", ev.Type, ev.PoolID, err)
	}
	p.logger.Debug("event published", zap.String("type", ev.Type), zap.String("pool", ev.PoolID))
	return nil
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}

// Subject returns the subject carrying events for poolID. Characters that
// are NATS subject tokens are replaced.
func Subject(poolID string) string {
	if poolID == "" {
		poolID = "_"
	}
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, poolID)
	return SubjectPrefix + "." + token
}
