package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"gitlab.com/yelinaung/ledger-bot/internal/logger"
	"go.opentelemetry.io/otel"
)

const (
	publishTimeout = 5 * time.Second
	redialInitial  = 500 * time.Millisecond
	redialMax      = 30 * time.Second
)

// ErrNotConnected is returned by Publish while the broker link is down.
var ErrNotConnected = errors.New("publisher is not connected")

var errPublisherClosed = errors.New("publisher is closed")

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// dialFunc opens a broker connection and a channel on it.
type dialFunc func() (channel, io.Closer, error)

// AMQPPublisher publishes events as persistent JSON messages on a topic exchange.
// When the broker drops the channel it redials with exponential backoff until
// Close is called; events published in the meantime fail with ErrNotConnected.
type AMQPPublisher struct {
	dial       dialFunc
	exchange   string
	newBackOff func() backoff.BackOff

	mu     sync.Mutex
	ch     channel
	conn   io.Closer
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewAMQPPublisher dials the broker and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	return newPublisher(dialer(url), exchange, redialBackOff)
}

func dialer(url string) dialFunc {
	return func() (channel, io.Closer, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("dial AMQP: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("open channel: %w", err)
		}
		return ch, conn, nil
	}
}

func redialBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = redialInitial
	b.MaxInterval = redialMax
	return b
}

func newPublisher(dial dialFunc, exchange string, newBackOff func() backoff.BackOff) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		dial:       dial,
		exchange:   exchange,
		newBackOff: newBackOff,
		done:       make(chan struct{}),
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect dials, declares the exchange and watches the new channel for closure.
func (p *AMQPPublisher) connect() error {
	ch, conn, err := p.dial()
	if err != nil {
		return err
	}

	err = ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		_ = ch.Close()
		closeQuietly(conn)
		return fmt.Errorf("declare exchange: %w", err)
	}
	notify := ch.NotifyClose(make(chan *amqp.Error, 1))

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = ch.Close()
		closeQuietly(conn)
		return errPublisherClosed
	}
	p.ch, p.conn = ch, conn
	p.wg.Add(1)
	p.mu.Unlock()

	go p.watch(notify)
	return nil
}

// watch waits for the channel to close and then redials.
func (p *AMQPPublisher) watch(notify chan *amqp.Error) {
	defer p.wg.Done()

	var amqpErr *amqp.Error
	select {
	case <-p.done:
		return
	case amqpErr = <-notify:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	conn := p.conn
	p.ch, p.conn = nil, nil
	p.mu.Unlock()
	closeQuietly(conn)

	event := logger.Log.Warn().Str("exchange", p.exchange)
	if amqpErr != nil {
		event = event.Int("code", amqpErr.Code).Str("reason", amqpErr.Reason)
	}
	event.Msg("Broker channel closed, reconnecting")

	p.redial()
}

// redial retries connect with backoff until it succeeds or Close is called.
func (p *AMQPPublisher) redial() {
	b := p.newBackOff()
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-p.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		err := p.connect()
		if err == nil {
			logger.Log.Info().Int("attempt", attempt).Msg("Reconnected to broker")
			return
		}
		if errors.Is(err, errPublisherClosed) {
			return
		}
		logger.Log.Warn().Err(err).Int("attempt", attempt).Msg("Broker reconnect failed")
	}
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

// Publish sends the event. The trace context of ctx travels in the message headers.
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	// amqp091 channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return fmt.Errorf("publish %s: %w", event.Type, ErrNotConnected)
	}

	err = p.ch.PublishWithContext(
		ctx,
		p.exchange,         // exchange
		event.RoutingKey(), // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			Headers:      headers,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.Timestamp,
			Type:         event.Type,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Close stops reconnecting and closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	ch, conn := p.ch, p.conn
	p.ch, p.conn = nil, nil
	p.mu.Unlock()

	var errs []error
	if ch != nil {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	p.wg.Wait()
	return errors.Join(errs...)
}

// headerCarrier adapts amqp.Table to propagation.TextMapCarrier.
type headerCarrier amqp.Table

func (c headerCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
