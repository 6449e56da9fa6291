package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "icl.events"

// Publisher is the part of *nats.Conn the mirror needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes every event as JSON to <subject>.<iteration id>.
// Publish failures are logged and never returned, so the mirror cannot fail
// a run.
type NATSSink struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSSink creates a mirror over an existing publisher.
func NewNATSSink(pub Publisher, subject, iterationID string, logger *slog.Logger) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSink{
		pub:     pub,
		subject: subject + "." + iterationID,
		logger:  logger,
	}
}

// ConnectNATS dials url and returns a mirror that owns the connection.
func ConnectNATS(url, subject, iterationID string, logger *slog.Logger) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("icl"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	s := NewNATSSink(conn, subject, iterationID, logger)
	s.conn = conn
	return s, nil
}

// Subject returns the subject events are published to.
func (s *NATSSink) Subject() string { return s.subject }

func (s *NATSSink) Emit(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("Failed to encode event for NATS", "event", e.Type, "error", err)
		return nil
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		s.logger.Warn("Failed to publish event", "subject", s.subject, "event", e.Type, "error", err)
	}
	return nil
}

// Close drains the connection if the sink owns one.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
