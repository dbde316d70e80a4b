package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/fluxorio/mstflow/pkg/core"
	"github.com/nats-io/nats.go"
)

// NATSConfig configures the NATS publisher
type NATSConfig struct {
	// URL is the NATS server URL, e.g. "nats://127.0.0.1:4222".
	URL string

	// SubjectPrefix is prepended to the op name. Default: "mstflow.tasks".
	SubjectPrefix string

	// Name is an optional NATS connection name.
	Name string
}

// NATSPublisher publishes events as JSON to <prefix>.<op>
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSPublisher connects to the server at cfg.URL
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	prefix := strings.TrimSuffix(cfg.SubjectPrefix, ".")
	if prefix == "" {
		prefix = "mstflow.tasks"
	}

	nc, err := nats.Connect(url, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc, prefix: prefix}, nil
}

// Subject returns the subject events of op are published to
func (p *NATSPublisher) Subject(op string) string {
	return p.prefix + "." + op
}

// Publish sends ev. Delivery is fire-and-forget.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := core.JSONEncode(ev)
	if err != nil {
		return err
	}

	msg := &nats.Msg{
		Subject: p.Subject(ev.Op),
		Data:    data,
		Header:  nats.Header{},
	}
	if ev.Conn != "" {
		msg.Header.Set("X-Conn-ID", ev.Conn)
	}
	return p.nc.PublishMsg(msg)
}

// Close flushes pending events and closes the connection
func (p *NATSPublisher) Close() error {
	err := p.nc.Flush()
	p.nc.Close()
	return err
}

var _ Publisher = (*NATSPublisher)(nil)
var _ Publisher = Noop{}
