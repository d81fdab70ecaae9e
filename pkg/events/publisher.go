// Package events provides a RabbitMQ publisher for analysis lifecycle
// events, with automatic reconnection and publish confirmation.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/emovision/pkg/metrics"
)

// AnalysisCreated is the event emitted after an analysis is committed.
type AnalysisCreated struct {
	AnalysisID uint      `json:"analysis_id"`
	Device     string    `json:"device"`
	Status     bool      `json:"status"`
	Emotion    string    `json:"emotion"`
	CreatedAt  time.Time `json:"created_at"`
}

// PublisherInterface defines the interface for event publishing.
// This interface enables easier testing through mocking and
// dependency injection.
type PublisherInterface interface {
	// PublishAnalysisCreated marshals and publishes one event,
	// waiting for broker confirmation.
	PublishAnalysisCreated(ctx context.Context, event *AnalysisCreated) error

	// Close will cleanly shut down the channel and connection.
	Close() error
}

// Publisher is a publish-only RabbitMQ client that handles connection
// management and automatic reconnection.
type Publisher struct {
	m               *sync.Mutex
	logger          *slog.Logger
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan bool
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	queueName       string
	isReady         bool
	metrics         *metrics.EventsMetrics // Optional metrics
}

const (
	// When reconnecting to the server after connection failure.
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception.
	reInitDelay = 2 * time.Second

	// Initial backoff delay for publish retries.
	initialBackoff = 100 * time.Millisecond

	// Maximum backoff delay for publish retries.
	maxBackoff = 10 * time.Second

	// Backoff multiplier for exponential backoff.
	backoffMultiplier = 2

	// Maximum number of retry attempts before giving up.
	maxRetryAttempts = 5
)

var (
	errNotConnected       = errors.New("not connected to a server")
	errAlreadyClosed      = errors.New("already closed: not connected to the server")
	errShutdown           = errors.New("publisher is shutting down")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
)

// Ensure Publisher implements PublisherInterface.
var _ PublisherInterface = (*Publisher)(nil)

// New creates a new publisher instance and automatically attempts to
// connect to the server.
func New(queueName, addr string, l *slog.Logger) *Publisher {
	p := Publisher{
		m:         &sync.Mutex{},
		logger:    l,
		queueName: queueName,
		done:      make(chan bool),
	}
	go p.handleReconnect(addr)
	return &p
}

// SetMetrics sets the metrics collector for this publisher.
// This should be called before the publisher starts emitting events.
func (p *Publisher) SetMetrics(m *metrics.EventsMetrics) {
	p.metrics = m
}

// PublishAnalysisCreated marshals the event and publishes it to the
// configured queue, waiting for broker confirmation.
func (p *Publisher) PublishAnalysisCreated(ctx context.Context, event *AnalysisCreated) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis event: %w", err)
	}
	return p.publish(ctx, body)
}

// handleReconnect waits for a connection error on notifyConnClose and
// then continuously attempts to reconnect.
func (p *Publisher) handleReconnect(addr string) {
	for {
		p.m.Lock()
		p.isReady = false
		p.m.Unlock()

		p.logger.Info("attempting to connect")

		if p.metrics != nil {
			p.metrics.ReconnectAttempts.Inc()
		}

		conn, err := p.connect(addr)
		if err != nil {
			p.logger.Error("failed to connect, retrying...", "error", err)

			select {
			case <-p.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		if done := p.handleReInit(conn); done {
			break
		}
	}
}

// connect creates a new AMQP connection.
func (p *Publisher) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ConnectionStatus.Set(0)
		}
		return nil, err
	}

	p.changeConnection(conn)
	p.logger.Info("connected")

	if p.metrics != nil {
		p.metrics.ConnectionStatus.Set(1)
	}

	return conn, nil
}

// handleReInit waits for a channel error and then continuously
// attempts to re-initialize the channel.
func (p *Publisher) handleReInit(conn *amqp.Connection) bool {
	for {
		p.m.Lock()
		p.isReady = false
		p.m.Unlock()

		err := p.init(conn)
		if err != nil {
			p.logger.Error("failed to initialize channel, retrying...", "error", err)

			select {
			case <-p.done:
				return true
			case <-p.notifyConnClose:
				p.logger.Info("connection closed, reconnecting...")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-p.done:
			return true
		case <-p.notifyConnClose:
			p.logger.Info("connection closed, reconnecting...")
			return false
		case <-p.notifyChanClose:
			p.logger.Info("channel closed, re-running init...")
		}
	}
}

// init initializes the channel and declares the queue.
func (p *Publisher) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		p.queueName,
		false, // Durable
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	); err != nil {
		return err
	}

	p.changeChannel(ch)
	p.m.Lock()
	p.isReady = true
	p.m.Unlock()
	p.logger.Info("publisher init done")

	return nil
}

// changeConnection takes a new connection and updates the close
// listener to reflect it.
func (p *Publisher) changeConnection(connection *amqp.Connection) {
	p.connection = connection
	p.notifyConnClose = make(chan *amqp.Error, 1)
	p.connection.NotifyClose(p.notifyConnClose)
}

// changeChannel takes a new channel and updates the channel listeners
// to reflect it.
func (p *Publisher) changeChannel(channel *amqp.Channel) {
	p.channel = channel
	p.notifyChanClose = make(chan *amqp.Error, 1)
	p.notifyConfirm = make(chan amqp.Confirmation, 1)
	p.channel.NotifyClose(p.notifyChanClose)
	p.channel.NotifyPublish(p.notifyConfirm)
}

// publish pushes data onto the queue and waits for confirmation, using
// exponential backoff while the client is reconnecting. After
// maxRetryAttempts failed attempts it returns a fatal error.
func (p *Publisher) publish(ctx context.Context, data []byte) error {
	var timer *prometheus.Timer
	if p.metrics != nil {
		timer = prometheus.NewTimer(p.metrics.PublishDuration.WithLabelValues(p.queueName))
		defer timer.ObserveDuration()
	}

	backoff := initialBackoff
	retryCount := 0

	for {
		if retryCount >= maxRetryAttempts {
			p.logger.Error("maximum retry attempts exceeded",
				"retry_count", retryCount,
				"max_attempts", maxRetryAttempts)

			if p.metrics != nil {
				p.metrics.PublishFailures.WithLabelValues(p.queueName, "max_retries_exceeded").Inc()
			}

			return errMaxRetriesExceeded
		}

		p.m.Lock()
		isReady := p.isReady
		p.m.Unlock()

		if !isReady {
			// Not connected; wait for reconnection with backoff.
			p.logger.Info("not connected, waiting for reconnection",
				"backoff", backoff,
				"retry_count", retryCount)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.done:
				return errShutdown
			case <-time.After(backoff):
				backoff *= backoffMultiplier
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				retryCount++
				continue
			}
		}

		if err := p.unsafePublish(ctx, data); err != nil {
			p.logger.Error("publish failed, retrying with backoff",
				"error", err,
				"backoff", backoff,
				"retry_count", retryCount)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.done:
				return errShutdown
			case <-time.After(backoff):
				backoff *= backoffMultiplier
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				retryCount++
				continue
			}
		}

		// Wait for confirmation
		select {
		case <-ctx.Done():
			if p.metrics != nil {
				p.metrics.PublishFailures.WithLabelValues(p.queueName, "context_canceled").Inc()
			}
			return ctx.Err()
		case confirm := <-p.notifyConfirm:
			if confirm.Ack {
				if p.metrics != nil {
					p.metrics.EventsPublished.WithLabelValues(p.queueName).Inc()
				}
				p.logger.Debug("publish confirmed", "delivery_tag", confirm.DeliveryTag)
				return nil
			}
			// Negative acknowledgment; retry with backoff.
			p.logger.Warn("publish not acknowledged, retrying",
				"delivery_tag", confirm.DeliveryTag,
				"backoff", backoff)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.done:
				return errShutdown
			case <-time.After(backoff):
				backoff *= backoffMultiplier
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				retryCount++
				continue
			}
		}
	}
}

// unsafePublish publishes without waiting for confirmation.
func (p *Publisher) unsafePublish(ctx context.Context, data []byte) error {
	p.m.Lock()
	if !p.isReady {
		p.m.Unlock()
		return errNotConnected
	}
	p.m.Unlock()

	return p.channel.PublishWithContext(
		ctx,
		"",          // Exchange
		p.queueName, // Routing key
		false,       // Mandatory
		false,       // Immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        data,
		},
	)
}

// Close cleanly shuts down the channel and connection.
func (p *Publisher) Close() error {
	p.m.Lock()
	defer p.m.Unlock()

	if !p.isReady {
		return errAlreadyClosed
	}
	close(p.done)

	if err := p.channel.Close(); err != nil {
		return err
	}
	if err := p.connection.Close(); err != nil {
		return err
	}

	p.isReady = false
	return nil
}
