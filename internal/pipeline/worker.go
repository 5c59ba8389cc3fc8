package pipeline

import (
	"context"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/abrasive519mars/mem0-async-chatbot/internal/metrics"
)

// reconnectDelay paces broker reconnection attempts.
const reconnectDelay = 3 * time.Second

// Handler processes one parsed queue message. Errors are logged by the
// worker; the delivery is acked either way, so processing is at-most-once.
type Handler func(ctx context.Context, msg QueueMessage) error

// Worker consumes one queue family across all users. New per-user queues
// appear at login time, so the worker discovers them by polling the broker's
// management surface rather than from a static list.
type Worker struct {
	family    string // metrics label: "memory" or "log"
	prefix    string
	brokerURL string
	mgmt      ManagementAPI
	prefetch  int
	interval  time.Duration
	handler   Handler
	logger    *zap.Logger
}

// WorkerConfig assembles a Worker.
type WorkerConfig struct {
	Family    string
	Prefix    string
	BrokerURL string
	Mgmt      ManagementAPI
	Prefetch  int
	Interval  time.Duration
	Handler   Handler
}

// NewWorker creates a consumer for one queue family.
func NewWorker(cfg WorkerConfig, logger *zap.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Second
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Worker{
		family:    cfg.Family,
		prefix:    cfg.Prefix,
		brokerURL: cfg.BrokerURL,
		mgmt:      cfg.Mgmt,
		prefetch:  cfg.Prefetch,
		interval:  cfg.Interval,
		handler:   cfg.Handler,
		logger:    logger,
	}
}

// Run consumes until the context is cancelled, reconnecting to the broker
// whenever the connection drops.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := w.runSession(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("Worker session ended, reconnecting",
				zap.String("family", w.family),
				zap.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

// runSession holds one broker connection: a discovery loop that attaches a
// consumer to every queue matching the family prefix, pruning entries for
// queues that have vanished so they can be re-added later.
func (w *Worker) runSession(ctx context.Context) error {
	conn, err := amqp.Dial(w.brokerURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(w.prefetch, 0, false); err != nil {
		return err
	}

	w.logger.Info("Worker connected to broker", zap.String("family", w.family))

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	consumers := make(map[string]struct{})

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Immediate first pass, then on the ticker.
	w.discover(ctx, ch, consumers)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr != nil {
				return amqpErr
			}
			return nil
		case <-ticker.C:
			w.discover(ctx, ch, consumers)
		}
	}
}

func (w *Worker) discover(ctx context.Context, ch *amqp.Channel, consumers map[string]struct{}) {
	queues, err := w.mgmt.ListQueues()
	if err != nil {
		w.logger.Warn("Queue discovery error", zap.String("family", w.family), zap.Error(err))
		return
	}

	active := make(map[string]struct{})
	for _, q := range queues {
		if !strings.HasPrefix(q.Name, w.prefix) {
			continue
		}
		active[q.Name] = struct{}{}
		if _, ok := consumers[q.Name]; ok {
			continue
		}
		if err := w.attach(ctx, ch, q.Name); err != nil {
			w.logger.Warn("Failed to attach consumer",
				zap.String("queue", q.Name),
				zap.Error(err),
			)
			continue
		}
		consumers[q.Name] = struct{}{}
		w.logger.Info("Now consuming", zap.String("queue", q.Name))
	}

	// Queues the broker no longer reports: drop the map entry so a
	// recreated queue gets a fresh consumer. The tag itself died with the
	// queue.
	for name := range consumers {
		if _, ok := active[name]; !ok {
			delete(consumers, name)
			w.logger.Info("Pruned consumer for removed queue", zap.String("queue", name))
		}
	}

	metrics.QueuesWatched.WithLabelValues(w.family).Set(float64(len(consumers)))
	w.logger.Debug("Discovery pass complete",
		zap.String("family", w.family),
		zap.Int("queues", len(consumers)),
	)
}

func (w *Worker) attach(ctx context.Context, ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return err
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	go func() {
		for d := range deliveries {
			w.handleDelivery(ctx, d)
		}
	}()
	return nil
}

// handleDelivery always acks: the LLM calls behind the handler are not
// deterministic, so redelivering a failed message would not converge and
// risks a poison loop. The next conversational turn is the retry.
func (w *Worker) handleDelivery(ctx context.Context, d amqp.Delivery) {
	defer func() {
		if err := d.Ack(false); err != nil {
			w.logger.Warn("Ack failed", zap.String("family", w.family), zap.Error(err))
		}
	}()

	msg, err := ParseMessage(d.Body)
	if err != nil {
		metrics.MessagesConsumed.WithLabelValues(w.family, "skipped").Inc()
		w.logger.Warn("Skipping malformed message",
			zap.String("family", w.family),
			zap.Error(err),
		)
		return
	}

	start := time.Now()
	if err := w.handler(ctx, msg); err != nil {
		metrics.MessagesConsumed.WithLabelValues(w.family, "error").Inc()
		w.logger.Error("Message processing failed",
			zap.String("family", w.family),
			zap.String("user_id", msg.UserID),
			zap.Error(err),
		)
		return
	}
	metrics.MessagesConsumed.WithLabelValues(w.family, "ok").Inc()
	w.logger.Info("Message processed",
		zap.String("family", w.family),
		zap.String("user_id", msg.UserID),
		zap.Duration("elapsed", time.Since(start)),
	)
}
