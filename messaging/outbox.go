package messaging

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"robonav/store"
)

// OutboxStore is the slice of store.DB the drainer uses.
type OutboxStore interface {
	ListPendingOutbox(limit int) ([]*store.OutboxMessage, error)
	AckOutbox(id int64) error
	IncrementOutboxRetries(id int64) error
}

// Publisher publishes raw payloads.
type Publisher interface {
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// OutboxDrainer periodically sends pending outbox messages.
type OutboxDrainer struct {
	db       OutboxStore
	client   Publisher
	interval time.Duration
	log      *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewOutboxDrainer(db OutboxStore, client Publisher, interval time.Duration, logger *zap.Logger) *OutboxDrainer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutboxDrainer{
		db:       db,
		client:   client,
		interval: interval,
		log:      logger.Named("outbox"),
		stopChan: make(chan struct{}),
	}
}

// Start begins the outbox drain loop.
func (d *OutboxDrainer) Start() {
	d.wg.Add(1)
	go d.drainLoop()
}

// Stop stops the outbox drain loop.
func (d *OutboxDrainer) Stop() {
	select {
	case <-d.stopChan:
	default:
		close(d.stopChan)
	}
	d.wg.Wait()
}

func (d *OutboxDrainer) drainLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.drain()
		}
	}
}

func (d *OutboxDrainer) drain() {
	if !d.client.IsConnected() {
		return
	}
	msgs, err := d.db.ListPendingOutbox(50)
	if err != nil {
		d.log.Warn("list pending", zap.Error(err))
		return
	}
	for _, msg := range msgs {
		if err := d.client.Publish(msg.Topic, msg.Payload); err != nil {
			d.log.Warn("publish failed", zap.Int64("id", msg.ID), zap.String("topic", msg.Topic), zap.Error(err))
			d.db.IncrementOutboxRetries(msg.ID)
			continue
		}
		if err := d.db.AckOutbox(msg.ID); err != nil {
			d.log.Warn("ack failed", zap.Int64("id", msg.ID), zap.Error(err))
		}
	}
}
