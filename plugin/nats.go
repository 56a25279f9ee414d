package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder republishes hook payloads as JSON on <subject>.<hook> so
// out-of-process plugins can react to them.
type NATSForwarder struct {
	url     string
	subject string
	queue   chan Payload
	pub     publisher
}

// NewNATSForwarder returns a forwarder for the server at url. Nothing is
// published until Serve connects.
func NewNATSForwarder(url, subject string) *NATSForwarder {
	if subject == "" {
		subject = "relay.hooks"
	}
	return &NATSForwarder{url: url, subject: subject, queue: make(chan Payload, 1024)}
}

// Attach registers the forwarder on d for hooks (every hook if none given).
func (f *NATSForwarder) Attach(d *Dispatcher, hooks ...Hook) {
	if len(hooks) == 0 {
		hooks = []Hook{HookClient, HookJoin, HookPart, HookRegistered, HookRaw, HookTags, HookMessage}
	}
	for _, h := range hooks {
		d.On(h, f.enqueue)
	}
}

func (f *NATSForwarder) enqueue(_ context.Context, p Payload) {
	select {
	case f.queue <- p:
	default:
		slog.Warn("nats forward queue full, dropping hook", slog.String("component", "plugin_nats"), slog.String("hook", string(p.Hook)))
	}
}

// Serve connects to NATS and publishes queued payloads until ctx ends.
func (f *NATSForwarder) Serve(ctx context.Context) error {
	nc, err := nats.Connect(f.url,
		nats.Name("relay-hooks"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	f.pub = nc
	slog.Info("nats hook forwarder connected", slog.String("component", "plugin_nats"), slog.String("url", f.url))

	for {
		select {
		case <-ctx.Done():
			if err := nc.Flush(); err != nil {
				slog.Warn("nats flush failed", slog.Any("err", err))
			}
			return ctx.Err()
		case p := <-f.queue:
			if err := f.forward(p); err != nil {
				slog.Warn("nats publish failed", slog.String("component", "plugin_nats"), slog.Any("err", err))
			}
		}
	}
}

func (f *NATSForwarder) forward(p Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode hook payload: %w", err)
	}
	return f.pub.Publish(f.subject+"."+string(p.Hook), data)
}
