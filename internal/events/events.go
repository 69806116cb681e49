// Package events publishes order lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tphummel/laundry_scan/internal/models"
)

const (
	SubjectOrderStarted   = "laundry.orders.started"
	SubjectOrderCompleted = "laundry.orders.completed"
)

// OrderEvent is the JSON payload of every order event.
type OrderEvent struct {
	Event     string        `json:"event"`
	Order     *models.Order `json:"order"`
	MachineID string        `json:"machine_id"`
	UserID    string        `json:"user_id"`
	At        time.Time     `json:"at"`
}

// NewOrderEvent builds the event published on subject for o.
func NewOrderEvent(subject string, o *models.Order) OrderEvent {
	return OrderEvent{
		Event:     subject,
		Order:     o,
		MachineID: o.MachineID,
		UserID:    o.UserID,
		At:        time.Now().UTC(),
	}
}

// Publisher sends an already-encoded payload to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Close()
}

// PublishOrder encodes an OrderEvent for o and publishes it on subject.
func PublishOrder(ctx context.Context, p Publisher, subject string, o *models.Order) error {
	b, err := json.Marshal(NewOrderEvent(subject, o))
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.Publish(ctx, subject, b)
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) Close()                                         {}

// NATSPublisher publishes to a NATS server, reconnecting indefinitely.
type NATSPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url string, logger *slog.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("laundry_scan"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{nc: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.nc.Publish(subject, payload)
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain() //nolint:errcheck
		p.nc.Close()
	}
}
