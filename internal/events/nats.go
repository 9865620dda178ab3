package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/atmx/fund-engine/internal/model"
)

// SubjectPrefix is prepended to the event type to form the NATS subject.
const SubjectPrefix = "fund.events."

// Subject returns the NATS subject events of type t are published on.
func Subject(t model.JournalKind) string {
	return SubjectPrefix + string(t)
}

// conn is the subset of *nats.Conn the publisher needs.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes fund events as JSON on fund.events.<type>.
type NATSPublisher struct {
	conn   conn
	logger *slog.Logger
}

// ConnectNATS dials url with unlimited reconnects and returns a publisher.
func ConnectNATS(url string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("fund-engine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSPublisher{conn: nc, logger: logger}, nil
}

// Publish sends ev without waiting for the server. Failures are logged.
func (p *NATSPublisher) Publish(_ context.Context, ev model.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("nats event marshal failed", "type", ev.Type, "err", err)
		return
	}
	if err := p.conn.Publish(Subject(ev.Type), data); err != nil {
		p.logger.Warn("nats publish failed", "subject", Subject(ev.Type), "err", err)
	}
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
