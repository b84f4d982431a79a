package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// JetStreamPublisher is the part of nats.JetStreamContext used here.
type JetStreamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSPublisher publishes each event to "<prefix>.<type>" on JetStream.
type NATSPublisher struct {
	conn   *nats.Conn
	js     JetStreamPublisher
	prefix string
}

// NewNATSPublisher connects to url and binds JetStream.
func NewNATSPublisher(url, subjectPrefix string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSPublisher{conn: nc, js: js, prefix: subjectPrefix}, nil
}

// NewNATSPublisherWithJetStream allows injecting a test publisher.
func NewNATSPublisherWithJetStream(js JetStreamPublisher, subjectPrefix string) *NATSPublisher {
	return &NATSPublisher{js: js, prefix: subjectPrefix}
}

// Subject returns the subject an event of eventType is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(p.Subject(e.Type), data, nats.Context(ctx), nats.MsgId(e.ID)); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close drains the connection, falling back to a hard close.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
	return nil
}
