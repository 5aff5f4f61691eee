package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Admission result codes returned by the seckill script.
type AdmissionCode int

const (
	AdmissionOK AdmissionCode = iota
	AdmissionSoldOut
	AdmissionDuplicate
)

const (
	stockKeyPrefix  = "seckill:stock:"
	buyersKeyPrefix = "seckill:buyers:"
)

// seckillScript is the whole admission decision in one round trip:
// stock check, one-order-per-buyer check, decrement, reservation record
// and queue append. Redis executes it atomically, so two buyers can never
// both pass the stock check for the last unit.
//
// KEYS[1] stock counter, KEYS[2] buyer set, KEYS[3] order stream.
// ARGV[1] voucherId, ARGV[2] buyerId, ARGV[3] orderId.
var seckillScript = redis.NewScript(`
	local stock = tonumber(redis.call("GET", KEYS[1]))
	if not stock or stock <= 0 then
		return 1
	end
	if redis.call("SISMEMBER", KEYS[2], ARGV[2]) == 1 then
		return 2
	end
	redis.call("DECR", KEYS[1])
	redis.call("SADD", KEYS[2], ARGV[2])
	redis.call("XADD", KEYS[3], "*",
		"orderId", ARGV[3], "voucherId", ARGV[1], "buyerId", ARGV[2])
	return 0
`)

// OrderMessage is an admitted-but-not-yet-durable order as carried on the
// stream. EntryID tags the delivery for acknowledgement.
type OrderMessage struct {
	EntryID   string
	OrderID   int64
	VoucherID int64
	BuyerID   int64

	// Raw carries the original field map for dead-lettering entries that
	// fail to parse.
	Raw map[string]interface{}
}

// RedisRepository owns the hot-path state: stock counters, per-voucher
// buyer sets and the admitted-order stream.
type RedisRepository struct {
	Client *redis.Client
	Stream string
}

func NewRedisRepository(client *redis.Client, stream string) *RedisRepository {
	return &RedisRepository{Client: client, Stream: stream}
}

// Admit runs the admission script for one buyer/voucher pair. The order id
// is generated by the caller beforehand so the script stays a pure function
// of its inputs.
func (r *RedisRepository) Admit(ctx context.Context, voucherID, buyerID, orderID string) (AdmissionCode, error) {
	keys := []string{
		stockKeyPrefix + voucherID,
		buyersKeyPrefix + voucherID,
		r.Stream,
	}
	code, err := seckillScript.Run(ctx, r.Client, keys, voucherID, buyerID, orderID).Int()
	if err != nil {
		return 0, fmt.Errorf("seckill script: %w", err)
	}
	switch AdmissionCode(code) {
	case AdmissionOK, AdmissionSoldOut, AdmissionDuplicate:
		return AdmissionCode(code), nil
	default:
		return 0, fmt.Errorf("seckill script: unexpected result %d", code)
	}
}

// PrepareVoucher seeds the stock counter and clears the buyer set before a
// sale opens.
func (r *RedisRepository) PrepareVoucher(ctx context.Context, voucherID string, stock int) error {
	pipe := r.Client.Pipeline()
	pipe.Set(ctx, stockKeyPrefix+voucherID, stock, 0)
	pipe.Del(ctx, buyersKeyPrefix+voucherID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("prepare voucher %s: %w", voucherID, err)
	}
	return nil
}

// SeedStock initializes the stock counter only when absent, so a process
// restart mid-sale cannot reset a live counter.
func (r *RedisRepository) SeedStock(ctx context.Context, voucherID string, stock int) error {
	return r.Client.SetNX(ctx, stockKeyPrefix+voucherID, stock, 0).Err()
}

func (r *RedisRepository) GetStock(ctx context.Context, voucherID string) (int, error) {
	val, err := r.Client.Get(ctx, stockKeyPrefix+voucherID).Int()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return val, nil
}

// EnsureGroup creates the consumer group, creating the stream with it if
// needed. An already-existing group is fine.
func (r *RedisRepository) EnsureGroup(ctx context.Context, group string) error {
	err := r.Client.XGroupCreateMkStream(ctx, r.Stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s: %w", group, err)
	}
	return nil
}

// ReadNew blocks up to the given duration for the next undelivered entry.
// Returns nil when the wait times out with nothing to read.
func (r *RedisRepository) ReadNew(ctx context.Context, group, consumer string, block time.Duration) (*OrderMessage, error) {
	return r.readOne(ctx, group, consumer, ">", block)
}

// ReadPending returns the oldest entry that was delivered to this consumer
// but never acknowledged, or nil when the pending list is empty. Used by
// the crash-recovery sweep.
func (r *RedisRepository) ReadPending(ctx context.Context, group, consumer string) (*OrderMessage, error) {
	// Negative block: history reads return immediately, no BLOCK argument.
	return r.readOne(ctx, group, consumer, "0", -1)
}

func (r *RedisRepository) readOne(ctx context.Context, group, consumer, from string, block time.Duration) (*OrderMessage, error) {
	streams, err := r.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{r.Stream, from},
		Count:    1,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", r.Stream, err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	msg := streams[0].Messages[0]
	order, err := parseOrderMessage(msg)
	if err != nil {
		// Surface the entry id and raw fields so the caller can
		// dead-letter and ack a poison entry instead of looping on it.
		return &OrderMessage{EntryID: msg.ID, Raw: msg.Values}, fmt.Errorf("entry %s: %w", msg.ID, err)
	}
	return order, nil
}

// Ack confirms an entry after its order has been durably persisted.
func (r *RedisRepository) Ack(ctx context.Context, group, entryID string) error {
	return r.Client.XAck(ctx, r.Stream, group, entryID).Err()
}

func parseOrderMessage(msg redis.XMessage) (*OrderMessage, error) {
	order := &OrderMessage{EntryID: msg.ID, Raw: msg.Values}
	for field, dst := range map[string]*int64{
		"orderId":   &order.OrderID,
		"voucherId": &order.VoucherID,
		"buyerId":   &order.BuyerID,
	} {
		raw, ok := msg.Values[field].(string)
		if !ok {
			return nil, fmt.Errorf("missing field %q", field)
		}
		val, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		*dst = val
	}
	return order, nil
}
