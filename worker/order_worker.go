// Package worker contains the order fulfillment consumer: the single
// loop that turns admitted queue entries into durable order rows.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"flashsale/metrics"
	"flashsale/repository"
)

const mysqlDupEntry = 1062

// OrderWorker is deliberately single-threaded: one consumer, one entry in
// flight, so per-buyer locking stays simple. Scaling out means more worker
// processes, each its own consumer in the group.
type OrderWorker struct {
	Queue  repository.OrderQueue
	Orders repository.OrderRepository
	Events repository.EventPublisher
	Redis  *goredis.Client

	Group     string
	Consumer  string
	ReadBlock time.Duration
	LockTTL   time.Duration

	log zerolog.Logger
}

func NewOrderWorker(queue repository.OrderQueue, orders repository.OrderRepository,
	events repository.EventPublisher, rdb *goredis.Client,
	group, consumer string, readBlock, lockTTL time.Duration, log zerolog.Logger) *OrderWorker {
	return &OrderWorker{
		Queue:     queue,
		Orders:    orders,
		Events:    events,
		Redis:     rdb,
		Group:     group,
		Consumer:  consumer,
		ReadBlock: readBlock,
		LockTTL:   lockTTL,
		log:       log.With().Str("component", "order-worker").Str("consumer", consumer).Logger(),
	}
}

// Start tails the order stream until the context is cancelled. Any error
// on the main loop triggers a pending-list sweep before tailing resumes,
// so a crash-interrupted entry is always picked back up.
func (w *OrderWorker) Start(ctx context.Context) error {
	if err := w.Queue.EnsureGroup(ctx, w.Group); err != nil {
		return err
	}
	w.log.Info().Str("group", w.Group).Msg("order worker started")

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := w.Queue.ReadNew(ctx, w.Group, w.Consumer, w.ReadBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if msg != nil && msg.EntryID != "" {
				// Parseable id, unparseable payload: park it, don't wedge.
				w.deadLetter(ctx, msg, err)
				continue
			}
			w.log.Error().Err(err).Msg("stream read failed")
			w.DrainPending(ctx)
			continue
		}
		if msg == nil {
			continue
		}

		if err := w.handle(ctx, msg); err != nil {
			w.log.Error().Err(err).Str("entry", msg.EntryID).Msg("order handling failed")
			w.DrainPending(ctx)
		}
	}
}

// DrainPending reprocesses every entry this consumer received but never
// acknowledged, oldest first, until the pending list is empty. Safe to run
// any number of times; handling is idempotent.
func (w *OrderWorker) DrainPending(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := w.Queue.ReadPending(ctx, w.Group, w.Consumer)
		if err != nil {
			if msg != nil && msg.EntryID != "" {
				w.deadLetter(ctx, msg, err)
				continue
			}
			w.log.Error().Err(err).Msg("pending read failed")
			time.Sleep(time.Second)
			continue
		}
		if msg == nil {
			return
		}

		if err := w.handle(ctx, msg); err != nil {
			w.log.Error().Err(err).Str("entry", msg.EntryID).Msg("pending entry failed")
			time.Sleep(time.Second)
			continue
		}
		metrics.PendingRecovered.Inc()
	}
}

// handle persists one admitted order and acknowledges its entry. The entry
// is acknowledged only after the transaction commits (or turns out to be a
// duplicate), which is what makes redelivery safe.
func (w *OrderWorker) handle(ctx context.Context, msg *repository.OrderMessage) error {
	lock := repository.NewRedisLock(w.Redis, fmt.Sprintf("order:%d", msg.BuyerID))
	ok, err := lock.TryLock(ctx, w.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire buyer lock: %w", err)
	}
	if !ok {
		// Another worker holds this buyer. Leave the entry pending; the
		// next sweep retries it.
		return fmt.Errorf("buyer %d is locked by another worker", msg.BuyerID)
	}
	defer func() {
		if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			w.log.Warn().Err(err).Int64("buyer", msg.BuyerID).Msg("buyer unlock failed")
		}
	}()

	order := &repository.VoucherOrder{
		ID:        msg.OrderID,
		VoucherID: msg.VoucherID,
		BuyerID:   msg.BuyerID,
	}

	err = w.Orders.CreateOrder(ctx, order)
	switch {
	case err == nil:
		metrics.OrdersPersisted.Inc()
		w.log.Info().Int64("order", order.ID).Int64("buyer", order.BuyerID).
			Int64("voucher", order.VoucherID).Msg("order persisted")
		w.publishFulfilled(ctx, order)
	case errors.Is(err, repository.ErrOrderExists) || isDuplicateKey(err):
		// Redelivery of an already-applied entry. Done, just ack.
		w.log.Warn().Int64("order", order.ID).Int64("buyer", order.BuyerID).
			Msg("order already persisted, skipping")
	case errors.Is(err, repository.ErrStockDepleted):
		// Admission outran durable stock; nothing to persist for this
		// entry. Kept benign so it cannot wedge the queue.
		w.log.Error().Int64("order", order.ID).Int64("voucher", order.VoucherID).
			Msg("durable stock depleted for admitted order")
	default:
		return fmt.Errorf("persist order %d: %w", order.ID, err)
	}

	if err := w.Queue.Ack(ctx, w.Group, msg.EntryID); err != nil {
		// Order is durable but the entry stays pending; the next sweep
		// will hit the duplicate guard and ack then.
		return fmt.Errorf("ack entry %s: %w", msg.EntryID, err)
	}
	return nil
}

func (w *OrderWorker) publishFulfilled(ctx context.Context, order *repository.VoucherOrder) {
	if w.Events == nil {
		return
	}
	if err := w.Events.PublishOrderFulfilled(ctx, order); err != nil {
		// Best effort. The order row is the source of truth.
		w.log.Warn().Err(err).Int64("order", order.ID).Msg("fulfilled event publish failed")
	}
}

// deadLetter parks a poison entry on the DLQ topic and acknowledges it so
// it cannot block the pending list. The entry is only acked once the DLQ
// write succeeded.
func (w *OrderWorker) deadLetter(ctx context.Context, msg *repository.OrderMessage, cause error) {
	if w.Events == nil {
		w.log.Error().Err(cause).Str("entry", msg.EntryID).Msg("poison entry and no DLQ configured")
		return
	}
	payload, err := json.Marshal(msg.Raw)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", msg.Raw))
	}
	if err := w.Events.PublishToDLQ(ctx, []byte(msg.EntryID), payload, cause.Error()); err != nil {
		w.log.Error().Err(err).Str("entry", msg.EntryID).Msg("dead letter publish failed")
		return
	}
	if err := w.Queue.Ack(ctx, w.Group, msg.EntryID); err != nil {
		w.log.Error().Err(err).Str("entry", msg.EntryID).Msg("dead letter ack failed")
		return
	}
	metrics.OrdersDeadLettered.Inc()
	w.log.Warn().Err(cause).Str("entry", msg.EntryID).Msg("entry moved to dead letter topic")
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDupEntry
}
