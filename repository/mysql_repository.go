package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Benign persistence outcomes. Both mean the queue entry is done and may
// be acknowledged; neither is a retryable failure.
var (
	ErrOrderExists   = errors.New("order already persisted for this buyer and voucher")
	ErrStockDepleted = errors.New("durable stock depleted")
)

// SeckillVoucher is the catalog row for a flash-sale voucher. The sale
// window lives here; the hot path never reads this table directly.
type SeckillVoucher struct {
	VoucherID int64     `gorm:"primaryKey;column:voucher_id" json:"voucherId"`
	Title     string    `gorm:"column:title" json:"title"`
	Stock     int       `gorm:"column:stock" json:"stock"`
	BeginTime time.Time `gorm:"column:begin_time" json:"beginTime"`
	EndTime   time.Time `gorm:"column:end_time" json:"endTime"`
}

func (SeckillVoucher) TableName() string {
	return "seckill_vouchers"
}

// VoucherOrder is the durable order row. The (buyer, voucher) pair is
// unique so redelivered queue entries can never produce a second row.
type VoucherOrder struct {
	ID        int64     `gorm:"primaryKey;column:id" json:"orderId"`
	VoucherID int64     `gorm:"column:voucher_id;uniqueIndex:uq_buyer_voucher" json:"voucherId"`
	BuyerID   int64     `gorm:"column:buyer_id;uniqueIndex:uq_buyer_voucher" json:"buyerId"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (VoucherOrder) TableName() string {
	return "voucher_orders"
}

type MySQLRepository struct {
	DB *gorm.DB
}

func NewMySQLRepository(db *gorm.DB) *MySQLRepository {
	return &MySQLRepository{DB: db}
}

func (r *MySQLRepository) GetVoucher(ctx context.Context, voucherID int64) (*SeckillVoucher, error) {
	var voucher SeckillVoucher
	err := r.DB.WithContext(ctx).Where("voucher_id = ?", voucherID).First(&voucher).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &voucher, nil
}

func (r *MySQLRepository) ListVouchers(ctx context.Context) ([]SeckillVoucher, error) {
	var vouchers []SeckillVoucher
	err := r.DB.WithContext(ctx).Find(&vouchers).Error
	return vouchers, err
}

// SaveVoucher creates or replaces a voucher row; used when a sale is set up.
func (r *MySQLRepository) SaveVoucher(ctx context.Context, voucher *SeckillVoucher) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(voucher).Error
}

func (r *MySQLRepository) ExistsOrder(ctx context.Context, buyerID, voucherID int64) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&VoucherOrder{}).
		Where("buyer_id = ? AND voucher_id = ?", buyerID, voucherID).
		Count(&count).Error
	return count > 0, err
}

// CreateOrder persists an admitted order in one transaction: authoritative
// duplicate check, guarded stock decrement, insert. Returns ErrOrderExists
// or ErrStockDepleted when there is nothing left to do; any other error
// rolls the transaction back and the caller must not acknowledge.
func (r *MySQLRepository) CreateOrder(ctx context.Context, order *VoucherOrder) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&VoucherOrder{}).
			Where("buyer_id = ? AND voucher_id = ?", order.BuyerID, order.VoucherID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrOrderExists
		}

		// stock > 0 guard keeps the counter from ever going negative,
		// whatever the admission layer believed.
		res := tx.Model(&SeckillVoucher{}).
			Where("voucher_id = ? AND stock > 0", order.VoucherID).
			Update("stock", gorm.Expr("stock - 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStockDepleted
		}

		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(order)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrOrderExists
		}
		return nil
	})
}
