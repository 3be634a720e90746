package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrDiscard — обработчик распознал сообщение как непригодное к
// повтору (отравленный payload, неизвестный run и т.п.). Сообщение
// уходит в DLQ вместо requeue.
var ErrDiscard = errors.New("mq: discard message")

// Handler — обработчик доставленного сообщения.
//
// Возврат nil — ack. Возврат ошибки, обёрнутой в ErrDiscard — nack в
// DLQ. Любая другая ошибка — requeue, но только один раз: повторно
// доставленное сообщение при следующей ошибке уходит в DLQ, чтобы
// отравленный run не крутился в очереди вечно.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	// Message — распарсенный конверт.
	Message Message

	// Raw — сырое AMQP сообщение.
	Raw amqp.Delivery
}

// disposition — решение по итогам обработки сообщения.
type disposition int

const (
	dispositionAck disposition = iota
	dispositionRequeue
	dispositionDLQ
)

// Consumer потребляет сообщения одной очереди Maestro.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	handler  Handler
	prefetch int
	types    map[MessageType]struct{}

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — размер окна неподтверждённых сообщений (default: 1).
	Prefetch int

	// Types — допустимые типы сообщений для этой очереди.
	// Сообщение другого типа уходит в DLQ. Пустой список — без проверки.
	Types []MessageType
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	var types map[MessageType]struct{}
	if len(cfg.Types) > 0 {
		types = make(map[MessageType]struct{}, len(cfg.Types))
		for _, t := range cfg.Types {
			types[t] = struct{}{}
		}
	}

	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
		types:    types,
	}
}

// Start запускает цикл потребления. Блокируется до отмены ctx или Stop.
// Разрыв соединения переживается: цикл ждёт уведомления о
// переподключении и поднимает consume заново.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	reconnects := c.conn.ReconnectNotify()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to start consuming", "error", err)
			if err := c.awaitReconnect(ctx, reconnects); err != nil {
				return err
			}
			continue
		}

		c.logger.Info("consumer started")

		if err := c.drain(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, waiting for reconnect")
			if err := c.awaitReconnect(ctx, reconnects); err != nil {
				return err
			}
		}
	}
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// awaitReconnect ждёт переподключения соединения.
func (c *Consumer) awaitReconnect(ctx context.Context, reconnects <-chan struct{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-reconnects:
		c.logger.Info("connection restored, resuming consumer")
		return nil
	}
}

// subscribe настраивает prefetch и начинает consume.
func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		c.queue,
		"maestro."+c.queue, // consumer tag
		false,              // auto-ack: подтверждаем после обработки
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.queue, err)
	}

	return deliveries, nil
}

// drain обрабатывает сообщения до отмены ctx или закрытия канала.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}
			c.handle(ctx, raw)
		}
	}
}

// handle обрабатывает одно сообщение и применяет disposition.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	msg, err := c.decode(raw)
	if err != nil {
		c.logger.Error("malformed message, sending to DLQ",
			"error", err,
			"body", string(raw.Body),
		)
		c.nack(raw, dispositionDLQ)
		return
	}

	handlerErr := c.handler(ctx, msg)
	switch c.disposition(raw, handlerErr) {
	case dispositionAck:
		if err := raw.Ack(false); err != nil {
			c.logger.Warn("ack failed", "message_id", msg.Message.ID, "error", err)
		}

	case dispositionRequeue:
		c.logger.Error("handler failed, requeueing",
			"message_id", msg.Message.ID,
			"type", msg.Message.Type,
			"error", handlerErr,
		)
		c.nack(raw, dispositionRequeue)

	case dispositionDLQ:
		c.logger.Error("handler failed on redelivery, sending to DLQ",
			"message_id", msg.Message.ID,
			"type", msg.Message.Type,
			"error", handlerErr,
		)
		c.nack(raw, dispositionDLQ)
	}
}

// decode парсит конверт и проверяет тип сообщения для этой очереди.
func (c *Consumer) decode(raw amqp.Delivery) (*Delivery, error) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	if c.types != nil {
		if _, ok := c.types[msg.Type]; !ok {
			return nil, fmt.Errorf("unexpected message type %q", msg.Type)
		}
	}

	return &Delivery{Message: msg, Raw: raw}, nil
}

// disposition решает судьбу сообщения по результату обработчика.
//
//   - nil — ack;
//   - ErrDiscard — DLQ;
//   - прочая ошибка — requeue для первой доставки, DLQ для повторной.
func (c *Consumer) disposition(raw amqp.Delivery, err error) disposition {
	switch {
	case err == nil:
		return dispositionAck
	case errors.Is(err, ErrDiscard):
		return dispositionDLQ
	case raw.Redelivered:
		return dispositionDLQ
	default:
		return dispositionRequeue
	}
}

// nack отклоняет сообщение; requeue только для dispositionRequeue.
func (c *Consumer) nack(raw amqp.Delivery, d disposition) {
	if err := raw.Nack(false, d == dispositionRequeue); err != nil {
		c.logger.Warn("nack failed", "error", err)
	}
}

// ParsePayload парсит payload конверта в указанный тип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	// Payload после json.Unmarshal конверта — map; прогоняем через
	// JSON ещё раз, чтобы получить типизированную структуру.
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}

	return result, nil
}
