package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/metrics"
)

// Publisher pushes each exchange onto both of the user's queues. The HTTP
// turn handler waits on it, so failures surface to the client.
type Publisher struct {
	url    string
	logger *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher connects to the broker and opens a channel.
func NewPublisher(url string, logger *zap.Logger) (*Publisher, error) {
	p := &Publisher{url: url, logger: logger}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("broker dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("broker channel: %w", err)
	}
	p.conn = conn
	p.ch = ch
	return nil
}

// PublishExchange declares the user's two durable queues and publishes the
// exchange to both with persistent delivery.
func (p *Publisher) PublishExchange(ctx context.Context, userID, userMsg, botResp string) error {
	body, err := json.Marshal(QueueMessage{UserID: userID, UserMessage: userMsg, BotResponse: botResp})
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// A closed channel means the broker connection dropped; reconnect once.
	if p.ch == nil || p.ch.IsClosed() {
		if err := p.connect(); err != nil {
			return err
		}
	}

	for _, family := range []struct {
		label string
		queue string
	}{
		{"memory", MemoryQueue(userID)},
		{"log", LogQueue(userID)},
	} {
		if _, err := p.ch.QueueDeclare(family.queue, true, false, false, false, nil); err != nil {
			metrics.MessagesPublished.WithLabelValues(family.label, "error").Inc()
			return fmt.Errorf("declare %s: %w", family.queue, err)
		}
		err := p.ch.PublishWithContext(ctx, "", family.queue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
		if err != nil {
			metrics.MessagesPublished.WithLabelValues(family.label, "error").Inc()
			return fmt.Errorf("publish to %s: %w", family.queue, err)
		}
		metrics.MessagesPublished.WithLabelValues(family.label, "ok").Inc()
	}

	p.logger.Debug("Exchange published", zap.String("user_id", userID))
	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
