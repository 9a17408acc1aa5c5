package messaging

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"floorcore/store"
)

type OutboxStore interface {
	ListPendingOutbox(limit int) ([]*store.OutboxMessage, error)
	AckOutbox(id int64) error
	FailOutbox(id int64, errMsg string) error
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, data []byte) error
	IsConnected() bool
}

// OutboxDrainer periodically publishes pending outbox rows in id order.
type OutboxDrainer struct {
	store    OutboxStore
	pub      Publisher
	clock    clock.Clock
	interval time.Duration
	batch    int
	log      *zap.SugaredLogger
}

func NewOutboxDrainer(s OutboxStore, pub Publisher, c clock.Clock, interval time.Duration, log *zap.SugaredLogger) *OutboxDrainer {
	if c == nil {
		c = clock.New()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &OutboxDrainer{store: s, pub: pub, clock: c, interval: interval, batch: 100, log: log}
}

func (d *OutboxDrainer) Run(ctx context.Context) {
	ticker := d.clock.Ticker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DrainOnce(ctx); err != nil {
				d.log.Warnf("outbox: %v", err)
			}
		}
	}
}

// DrainOnce publishes one batch. It stops at the first publish failure so
// ordering is kept for the next attempt.
func (d *OutboxDrainer) DrainOnce(ctx context.Context) (int, error) {
	if !d.pub.IsConnected() {
		return 0, nil
	}
	msgs, err := d.store.ListPendingOutbox(d.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, m := range msgs {
		if err := d.pub.Publish(ctx, m.Topic, m.MessageID, m.Payload); err != nil {
			if ferr := d.store.FailOutbox(m.ID, err.Error()); ferr != nil {
				d.log.Warnf("outbox: record failure for %d: %v", m.ID, ferr)
			}
			return sent, err
		}
		if err := d.store.AckOutbox(m.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
