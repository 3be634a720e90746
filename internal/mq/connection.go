package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Параметры соединения.
const (
	heartbeatInterval  = 10 * time.Second
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// ErrConnectionClosed — соединение закрыто через Close.
var ErrConnectionClosed = errors.New("mq: connection closed")

// Connection — AMQP соединение с автоматическим переподключением.
//
// Один процесс Maestro держит одно соединение; поверх него работают
// publisher и несколько consumers (runs.scheduled + runs.events у
// worker'а). Поэтому уведомление о переподключении — broadcast: каждый
// вызов ReconnectNotify регистрирует отдельного подписчика, и все они
// будят свои consume-циклы независимо.
type Connection struct {
	url    string
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool

	closedCh chan struct{}

	subsMu sync.Mutex
	subs   []chan struct{}
}

// NewConnection устанавливает соединение с RabbitMQ и запускает
// фоновый мониторинг разрыва.
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	c := &Connection{
		url:      url,
		name:     "maestro",
		logger:   logger,
		closedCh: make(chan struct{}),
	}

	if err := c.dial(); err != nil {
		return nil, err
	}

	go c.watch()

	return c, nil
}

// dial устанавливает соединение и открывает канал.
func (c *Connection) dial() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := amqp.DialConfig(c.url, amqp.Config{
		Heartbeat: heartbeatInterval,
		Properties: amqp.Table{
			// Имя в management UI RabbitMQ.
			"connection_name": c.name,
		},
	})
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.conn = conn
	c.channel = ch

	c.logger.Info("connected to RabbitMQ", "connection", c.name)
	return nil
}

// watch ждёт разрыва соединения и переподключается с экспоненциальной
// задержкой, пока соединение не закрыто через Close.
func (c *Connection) watch() {
	for {
		c.mu.RLock()
		closed := c.closed
		conn := c.conn
		c.mu.RUnlock()

		if closed {
			return
		}

		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.closedCh:
			return
		case amqpErr := <-notifyClose:
			if amqpErr != nil {
				c.logger.Warn("RabbitMQ connection lost", "error", amqpErr)
			}
		}

		if !c.redial() {
			return
		}
	}
}

// redial повторяет dial до успеха. Возвращает false, если соединение
// закрыли во время ожидания.
func (c *Connection) redial() bool {
	delay := reconnectBaseDelay

	for {
		select {
		case <-c.closedCh:
			return false
		case <-time.After(delay):
		}

		if err := c.dial(); err != nil {
			c.logger.Warn("reconnect failed", "error", err, "next_attempt_in", delay)
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}

		c.broadcastReconnect()
		return true
	}
}

// broadcastReconnect будит всех подписчиков ReconnectNotify.
func (c *Connection) broadcastReconnect() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for _, sub := range c.subs {
		select {
		case sub <- struct{}{}:
		default:
			// Подписчик ещё не обработал прошлое уведомление —
			// ему достаточно одного.
		}
	}
}

// ReconnectNotify регистрирует подписчика на переподключения.
// Каждый consumer вызывает его один раз и слушает полученный канал.
func (c *Connection) ReconnectNotify() <-chan struct{} {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	sub := make(chan struct{}, 1)
	c.subs = append(c.subs, sub)
	return sub
}

// Channel возвращает текущий AMQP канал.
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrConnectionClosed
	}
	if c.channel == nil {
		return nil, fmt.Errorf("mq: no channel available")
	}
	return c.channel, nil
}

// WithChannel выполняет fn с текущим каналом.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	ch, err := c.Channel()
	if err != nil {
		return err
	}
	return fn(ch)
}

// Close закрывает соединение. Повторный Close — no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closedCh)

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	c.logger.Info("RabbitMQ connection closed")
	return errors.Join(errs...)
}
