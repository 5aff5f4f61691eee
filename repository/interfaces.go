package repository

import (
	"context"
	"time"
)

// AdmissionRepository is the Redis-backed hot path: atomic check-and-reserve
// plus stock bookkeeping around it.
type AdmissionRepository interface {
	Admit(ctx context.Context, voucherID, buyerID, orderID string) (AdmissionCode, error)
	PrepareVoucher(ctx context.Context, voucherID string, stock int) error
	SeedStock(ctx context.Context, voucherID string, stock int) error
	GetStock(ctx context.Context, voucherID string) (int, error)
}

// OrderQueue is the durable log of admitted orders consumed by the
// fulfillment worker. Entries stay pending until acknowledged.
type OrderQueue interface {
	EnsureGroup(ctx context.Context, group string) error
	ReadNew(ctx context.Context, group, consumer string, block time.Duration) (*OrderMessage, error)
	ReadPending(ctx context.Context, group, consumer string) (*OrderMessage, error)
	Ack(ctx context.Context, group, entryID string) error
}

// OrderRepository persists orders and voucher rows in the relational store.
type OrderRepository interface {
	GetVoucher(ctx context.Context, voucherID int64) (*SeckillVoucher, error)
	ExistsOrder(ctx context.Context, buyerID, voucherID int64) (bool, error)
	CreateOrder(ctx context.Context, order *VoucherOrder) error
}

// EventPublisher fans fulfilled orders out to downstream consumers and
// parks poison queue entries.
type EventPublisher interface {
	PublishOrderFulfilled(ctx context.Context, order *VoucherOrder) error
	PublishToDLQ(ctx context.Context, key, value []byte, reason string) error
}
