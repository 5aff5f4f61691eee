package service

import (
	"context"
	"fmt"
	"time"

	"flashsale/cache"
	"flashsale/repository"
)

// Separate prefixes per strategy: plain JSON entries and logical-expiry
// envelopes are not interchangeable on the wire.
const (
	voucherCacheKeyPrefix = "cache:voucher:"
	saleCacheKeyPrefix    = "cache:seckill:"
)

// VoucherService serves voucher catalog reads through the cache layer.
// Plain lookups use the penetration-resistant strategy; sale-critical
// metadata is pre-warmed and served with logical expiry so the admission
// path never blocks on a rebuild.
type VoucherService struct {
	Cache  *cache.Client
	Orders repository.OrderRepository
	TTL    time.Duration
}

func NewVoucherService(c *cache.Client, orders repository.OrderRepository, ttl time.Duration) *VoucherService {
	return &VoucherService{Cache: c, Orders: orders, TTL: ttl}
}

func voucherCacheKey(voucherID int64) string {
	return fmt.Sprintf("%s%d", voucherCacheKeyPrefix, voucherID)
}

func saleCacheKey(voucherID int64) string {
	return fmt.Sprintf("%s%d", saleCacheKeyPrefix, voucherID)
}

// GetVoucher is the general catalog read. A voucher absent from cache and
// database alike leaves a short-lived tombstone behind.
func (s *VoucherService) GetVoucher(ctx context.Context, voucherID int64) (*repository.SeckillVoucher, error) {
	return cache.GetWithPassThrough(ctx, s.Cache, voucherCacheKey(voucherID), s.TTL,
		func(ctx context.Context) (*repository.SeckillVoucher, error) {
			return s.Orders.GetVoucher(ctx, voucherID)
		})
}

// GetSaleVoucher reads the sale-window metadata for an active flash sale.
// The key must have been warmed by Warm; a miss means the voucher has no
// active sale.
func (s *VoucherService) GetSaleVoucher(ctx context.Context, voucherID int64) (*repository.SeckillVoucher, error) {
	return cache.GetWithLogicalExpire(ctx, s.Cache, saleCacheKey(voucherID), s.TTL,
		func(ctx context.Context) (*repository.SeckillVoucher, error) {
			return s.Orders.GetVoucher(ctx, voucherID)
		})
}

// Warm pre-populates the logical-expiry entry for a voucher going on sale.
func (s *VoucherService) Warm(ctx context.Context, voucher *repository.SeckillVoucher) error {
	return s.Cache.SetWithLogicalExpire(ctx, saleCacheKey(voucher.VoucherID), voucher, s.TTL)
}
