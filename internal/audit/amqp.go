package audit

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/zjrosen/provenance/internal/log"
)

// AMQPConfig names the broker topology shared by publisher and sink worker.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
	Queue      string
}

// Publisher is the subset of *amqp.Channel used to publish entries.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher records entries as persistent JSON messages.
type AMQPPublisher struct {
	ch         Publisher
	exchange   string
	routingKey string
	close      func() error
}

// NewAMQPPublisher wraps an open channel.
func NewAMQPPublisher(ch Publisher, exchange, routingKey string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, routingKey: routingKey}
}

// DialAMQP connects, declares the exchange and queue and binds them.
func DialAMQP(cfg AMQPConfig) (*AMQPPublisher, error) {
	conn, ch, err := openChannel(cfg)
	if err != nil {
		return nil, err
	}
	p := NewAMQPPublisher(ch, cfg.Exchange, cfg.RoutingKey)
	p.close = func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return p, nil
}

func openChannel(cfg AMQPConfig) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func (p *AMQPPublisher) Record(ctx context.Context, entry Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return &Error{Action: entry.Action, Sink: "amqp", Err: err}
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
		DeliveryMode: amqp.Persistent,
		Type:         string(entry.Action),
	})
	if err != nil {
		return &Error{Action: entry.Action, Sink: "amqp", Err: err}
	}
	return nil
}

// Close releases the connection opened by DialAMQP.
func (p *AMQPPublisher) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}

// SinkWorker moves entries from an AMQP queue into a Store.
type SinkWorker struct {
	store Store
}

func NewSinkWorker(store Store) *SinkWorker {
	return &SinkWorker{store: store}
}

// Consume opens a consumer on cfg.Queue and runs until ctx ends or the
// broker closes the channel.
func (w *SinkWorker) Consume(ctx context.Context, cfg AMQPConfig) error {
	conn, ch, err := openChannel(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = ch.Close()
		_ = conn.Close()
	}()

	deliveries, err := ch.ConsumeWithContext(ctx, cfg.Queue, "provenance-sink", false, false, false, false, nil)
	if err != nil {
		return err
	}
	log.Info(log.CatAudit, "sink worker consuming", "queue", cfg.Queue)
	w.Run(ctx, deliveries)
	return nil
}

// Run handles deliveries until ctx ends or the channel closes. Malformed
// messages are rejected without requeue; store failures are requeued.
func (w *SinkWorker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			w.handle(ctx, d)
		}
	}
}

func (w *SinkWorker) handle(ctx context.Context, d amqp.Delivery) {
	var body map[string]any
	if err := json.Unmarshal(d.Body, &body); err != nil {
		log.ErrorErr(log.CatAudit, "failed to unmarshal audit message", err)
		_ = d.Nack(false, false)
		return
	}

	stored, err := w.store.Append(ctx, body)
	if err != nil {
		log.ErrorErr(log.CatAudit, "failed to store audit message", err)
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
	log.Debug(log.CatAudit, "audit message stored", "id", stored.ID, "action", stored.Action)
}
