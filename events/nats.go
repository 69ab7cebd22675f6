package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// jetStream is the part of nats.JetStreamContext the publisher needs.
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type NATSPublisher struct {
	conn   *nats.Conn
	js     jetStream
	prefix string
	logger *slog.Logger
}

// Connect opens a JetStream connection and makes sure the stream that captures
// "<prefix>.>" exists.
func Connect(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("tournament-engine"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err = ConfigureStream(js, prefix); err != nil {
		nc.Close()
		return nil, err
	}

	return &NATSPublisher{conn: nc, js: js, prefix: prefix, logger: logger}, nil
}

func ConfigureStream(js nats.JetStreamContext, prefix string) error {
	cfg := &nats.StreamConfig{
		Name:     streamName(prefix),
		Subjects: []string{prefix + ".>"},
	}
	if _, err := js.StreamInfo(cfg.Name); err == nil {
		if _, err = js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("failed to update stream: %w", err)
		}
		return nil
	}
	if _, err := js.AddStream(cfg); err != nil {
		return fmt.Errorf("failed to add stream: %w", err)
	}
	return nil
}

func streamName(prefix string) string {
	upper := strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, strings.ToUpper(prefix))
	return upper + "_EVENTS"
}

func (p *NATSPublisher) Notify(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", e.Type, err)
	}
	subject := e.Subject(p.prefix)
	ack, err := p.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(e.ID))
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	p.logger.Debug("Event published",
		slog.String("subject", subject),
		slog.Uint64("sequence", ack.Sequence),
	)
	return nil
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
