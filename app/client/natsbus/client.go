// Package natsbus connects the service to NATS: inbound chat messages and
// notifications arrive on it, sent messages and actions are published to it.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"prefrontal/app/config"
	"prefrontal/app/model"

	"github.com/nats-io/nats.go"
	"github.com/samber/do"
	"github.com/samber/oops"
)

var _ do.Shutdownable = (*Client)(nil)

// Client is a no-op when NATS is disabled.
type Client struct {
	prefix string
	conn   *nats.Conn
	subs   []*nats.Subscription
}

func New(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	if !cfg.NATS.Enabled {
		return &Client{prefix: cfg.NATS.SubjectPrefix}, nil
	}

	return Connect(cfg.NATS)
}

func Connect(cfg config.NATS) (*Client, error) {
	opts := []nats.Option{
		nats.Name("prefrontal"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "subject", subject, "error", err)
		}),
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, oops.In("natsbus").With("url", cfg.URL).Wrapf(err, "failed to connect to NATS")
	}

	slog.Info("Connected to NATS", "url", conn.ConnectedUrl())

	return &Client{
		prefix: cfg.SubjectPrefix,
		conn:   conn,
	}, nil
}

func (c *Client) Enabled() bool {
	return c.conn != nil
}

func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Subscribe routes <prefix>.inbound.> payloads to onMessage and
// <prefix>.notify.> payloads to onNotification.
func (c *Client) Subscribe(onMessage func(model.Message), onNotification func(model.Notification)) error {
	if c.conn == nil {
		return nil
	}

	inbound, err := c.conn.Subscribe(c.subject("inbound", ">"), func(msg *nats.Msg) {
		if decoded, ok := c.decodeMessage(msg); ok {
			onMessage(decoded)
		}
	})
	if err != nil {
		return oops.In("natsbus").Wrapf(err, "failed to subscribe to inbound messages")
	}

	notify, err := c.conn.Subscribe(c.subject("notify", ">"), func(msg *nats.Msg) {
		if decoded, ok := c.decodeNotification(msg); ok {
			onNotification(decoded)
		}
	})
	if err != nil {
		_ = inbound.Unsubscribe()
		return oops.In("natsbus").Wrapf(err, "failed to subscribe to notifications")
	}

	c.subs = append(c.subs, inbound, notify)

	return nil
}

func (c *Client) decodeMessage(msg *nats.Msg) (model.Message, bool) {
	var result model.Message
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		slog.Warn("Dropping malformed inbound message", "subject", msg.Subject, "error", err)
		return model.Message{}, false
	}

	if result.StreamKey == "" {
		result.StreamKey = c.keyFromSubject("inbound", msg.Subject)
	}
	if result.Time.IsZero() {
		result.Time = time.Now()
	}

	return result, true
}

func (c *Client) decodeNotification(msg *nats.Msg) (model.Notification, bool) {
	var result model.Notification
	if err := json.Unmarshal(msg.Data, &result); err != nil {
		slog.Warn("Dropping malformed notification", "subject", msg.Subject, "error", err)
		return model.Notification{}, false
	}

	if result.StreamKey == "" {
		result.StreamKey = c.keyFromSubject("notify", msg.Subject)
	}

	return result, true
}

// PublishOutbound announces a message the bot sent.
func (c *Client) PublishOutbound(msg model.Message) error {
	return c.publish(c.subject("outbound", subjectToken(msg.StreamKey)), msg)
}

// RecordAction publishes a decision of a conversation loop; failures are only logged.
func (c *Client) RecordAction(_ context.Context, entry model.ActionEntry) {
	if err := c.publish(c.subject("actions", subjectToken(entry.StreamKey)), entry); err != nil {
		slog.Warn("Failed to publish action",
			"stream", entry.StreamKey,
			"action", entry.Action,
			"error", err,
		)
	}
}

func (c *Client) publish(subject string, v any) error {
	if c.conn == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if err = c.conn.Publish(subject, data); err != nil {
		return oops.In("natsbus").With("subject", subject).Wrapf(err, "failed to publish")
	}

	return nil
}

func (c *Client) subject(kind, suffix string) string {
	return c.prefix + "." + kind + "." + suffix
}

func (c *Client) keyFromSubject(kind, subject string) string {
	return strings.TrimPrefix(subject, c.prefix+"."+kind+".")
}

// subjectToken makes a stream key safe to use as a single subject token.
func subjectToken(streamKey string) string {
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(streamKey)
}

func (c *Client) Shutdown() error {
	if c.conn == nil {
		return nil
	}

	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}

	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return err
	}

	return nil
}
