// Package amqp consumes location fixes published to a RabbitMQ queue.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	rabbit "github.com/rabbitmq/amqp091-go"

	"github.com/okian/fieldtrack/internal/domain/model"
	"github.com/okian/fieldtrack/pkg/logger"
	"github.com/okian/fieldtrack/pkg/metrics"
)

var ErrMalformed = errors.New("malformed fix message")

// Message is the wire payload of one fix.
type Message struct {
	Token     string    `json:"token"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Verifier maps a session token to its user.
type Verifier interface {
	Verify(token string) (string, error)
}

// Deliverer hands a fix to the user's recorder.
type Deliverer interface {
	Deliver(ctx context.Context, userID string, fix model.Fix) error
}

// Options configure a Consumer.
type Options struct {
	URL         string
	Queue       string
	ConsumerTag string
	Prefetch    int
}

// Consumer reads fixes and forwards them. Malformed or unauthenticated
// messages are rejected without requeue; everything else is acked, including
// fixes the recorder declines.
type Consumer struct {
	opts      Options
	verifier  Verifier
	deliverer Deliverer
	log       logger.Logger
}

func NewConsumer(opts Options, v Verifier, d Deliverer, log logger.Logger) *Consumer {
	if opts.ConsumerTag == "" {
		opts.ConsumerTag = "fieldtrack"
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Consumer{opts: opts, verifier: v, deliverer: d, log: log}
}

// Decode parses and validates a payload.
func Decode(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case m.Token == "":
		return m, fmt.Errorf("%w: missing token", ErrMalformed)
	case m.Timestamp.IsZero():
		return m, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	case math.IsNaN(m.Latitude) || m.Latitude < -90 || m.Latitude > 90:
		return m, fmt.Errorf("%w: latitude out of range", ErrMalformed)
	case math.IsNaN(m.Longitude) || m.Longitude < -180 || m.Longitude > 180:
		return m, fmt.Errorf("%w: longitude out of range", ErrMalformed)
	}
	return m, nil
}

// Handle processes one payload and reports whether it should be acked.
func (c *Consumer) Handle(ctx context.Context, body []byte) bool {
	m, err := Decode(body)
	if err != nil {
		c.log.Warn(ctx, "dropping fix message", logger.Error(err))
		metrics.RecordErrorByComponent("amqp", "malformed")
		return false
	}
	userID, err := c.verifier.Verify(m.Token)
	if err != nil {
		c.log.Warn(ctx, "fix message with bad token", logger.Error(err))
		metrics.RecordErrorByComponent("amqp", "unauthorized")
		return false
	}

	fix := model.Fix{
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		Accuracy:  m.Accuracy,
		Timestamp: m.Timestamp,
	}
	if err := c.deliverer.Deliver(ctx, userID, fix); err != nil {
		c.log.Debug(ctx, "fix not delivered",
			logger.String("user_id", userID),
			logger.Error(err),
		)
	}
	return true
}

// Run consumes until ctx is done or the channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	conn, err := rabbit.Dial(c.opts.URL)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(c.opts.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if c.opts.Prefetch > 0 {
		if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}
	}

	msgs, err := ch.ConsumeWithContext(ctx,
		c.opts.Queue,
		c.opts.ConsumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	c.log.Info(ctx, "consuming fixes",
		logger.String("queue", c.opts.Queue),
		logger.Int("prefetch", c.opts.Prefetch),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("amqp delivery channel closed")
			}
			if c.Handle(ctx, msg.Body) {
				_ = msg.Ack(false)
			} else {
				_ = msg.Nack(false, false)
			}
		}
	}
}

// Publish sends one fix message. Used by the simulator and tests against a
// live broker.
func Publish(ctx context.Context, url, queue string, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	conn, err := rabbit.Dial(url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	return ch.PublishWithContext(ctx, "", queue, false, false, rabbit.Publishing{
		ContentType:  "application/json",
		DeliveryMode: rabbit.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}
