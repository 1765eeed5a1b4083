package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQPNotifier publishes events as persistent JSON messages on a durable
// direct exchange
type AMQPNotifier struct {
	conn       *amqp091.Connection
	channel    publisher
	exchange   string
	routingKey string
	logger     *zap.Logger
}

func NewAMQPNotifier(url, exchange, routingKey string, logger *zap.Logger) (*AMQPNotifier, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	logger.Info("AMQP notifier connected",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
	)

	return &AMQPNotifier{
		conn:       conn,
		channel:    channel,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, event SyncEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal sync event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = n.channel.PublishWithContext(ctx,
		n.exchange,
		n.routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    event.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish sync event: %w", err)
	}

	n.logger.Debug("Published sync event",
		zap.String("exchange", n.exchange),
		zap.String("outcome", event.Outcome),
	)
	return nil
}

func (n *AMQPNotifier) Close() error {
	if c, ok := n.channel.(*amqp091.Channel); ok && c != nil {
		c.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
