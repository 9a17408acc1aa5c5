package messaging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// OrderHandler applies decoded requests to the dispatch core.
type OrderHandler interface {
	HandleOrderRequest(ctx context.Context, req OrderRequest) (string, error)
	HandleCancelRequest(ctx context.Context, req CancelRequest) error
}

// Consumer turns envelopes from the orders topic into order and cancel requests.
type Consumer struct {
	handler OrderHandler
	log     *zap.SugaredLogger
}

func NewConsumer(handler OrderHandler, log *zap.SugaredLogger) *Consumer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Consumer{handler: handler, log: log}
}

// Start subscribes to topic. Decode and intake errors are logged and skipped.
func (c *Consumer) Start(ctx context.Context, client *Client, topic string) error {
	return client.Subscribe(ctx, topic, func(topic string, data []byte) {
		if err := c.HandleMessage(ctx, data); err != nil {
			c.log.Warnf("messaging: %s: %v", topic, err)
		}
	})
}

func (c *Consumer) HandleMessage(ctx context.Context, data []byte) error {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}
	switch env.Type {
	case TypeOrder:
		var req OrderRequest
		if err := env.DecodePayload(&req); err != nil {
			return err
		}
		id, err := c.handler.HandleOrderRequest(ctx, req)
		if err != nil {
			return fmt.Errorf("order from %s: %w", env.ClientID, err)
		}
		c.log.Debugf("messaging: order %s accepted from %s", id, env.ClientID)
	case TypeCancel:
		var req CancelRequest
		if err := env.DecodePayload(&req); err != nil {
			return err
		}
		if err := c.handler.HandleCancelRequest(ctx, req); err != nil {
			return fmt.Errorf("cancel %s from %s: %w", req.OrderID, env.ClientID, err)
		}
	default:
		return fmt.Errorf("unsupported message type %q", env.Type)
	}
	return nil
}
