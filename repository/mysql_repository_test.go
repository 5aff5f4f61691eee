package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *MySQLRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&SeckillVoucher{}, &VoucherOrder{}))
	return NewMySQLRepository(db)
}

func seedVoucher(t *testing.T, repo *MySQLRepository, voucherID int64, stock int) {
	t.Helper()
	require.NoError(t, repo.SaveVoucher(context.Background(), &SeckillVoucher{
		VoucherID: voucherID,
		Title:     "100 off 200",
		Stock:     stock,
		BeginTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now().Add(time.Hour),
	}))
}

func TestCreateOrderPersistsAndDecrementsStock(t *testing.T) {
	repo := newTestDB(t)
	ctx := context.Background()
	seedVoucher(t, repo, 1, 2)

	err := repo.CreateOrder(ctx, &VoucherOrder{ID: 1001, VoucherID: 1, BuyerID: 7})
	require.NoError(t, err)

	exists, err := repo.ExistsOrder(ctx, 7, 1)
	require.NoError(t, err)
	assert.True(t, exists)

	voucher, err := repo.GetVoucher(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, voucher)
	assert.Equal(t, 1, voucher.Stock)
}

func TestCreateOrderRejectsSecondOrderPerBuyer(t *testing.T) {
	repo := newTestDB(t)
	ctx := context.Background()
	seedVoucher(t, repo, 1, 10)

	require.NoError(t, repo.CreateOrder(ctx, &VoucherOrder{ID: 1001, VoucherID: 1, BuyerID: 7}))

	err := repo.CreateOrder(ctx, &VoucherOrder{ID: 1002, VoucherID: 1, BuyerID: 7})
	assert.ErrorIs(t, err, ErrOrderExists)

	// The failed attempt must not have consumed stock.
	voucher, err := repo.GetVoucher(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 9, voucher.Stock)
}

func TestCreateOrderSameBuyerDifferentVouchers(t *testing.T) {
	repo := newTestDB(t)
	ctx := context.Background()
	seedVoucher(t, repo, 1, 5)
	seedVoucher(t, repo, 2, 5)

	require.NoError(t, repo.CreateOrder(ctx, &VoucherOrder{ID: 1001, VoucherID: 1, BuyerID: 7}))
	require.NoError(t, repo.CreateOrder(ctx, &VoucherOrder{ID: 1002, VoucherID: 2, BuyerID: 7}))
}

func TestCreateOrderStockFloor(t *testing.T) {
	repo := newTestDB(t)
	ctx := context.Background()
	seedVoucher(t, repo, 1, 1)

	require.NoError(t, repo.CreateOrder(ctx, &VoucherOrder{ID: 1001, VoucherID: 1, BuyerID: 1}))

	err := repo.CreateOrder(ctx, &VoucherOrder{ID: 1002, VoucherID: 1, BuyerID: 2})
	assert.ErrorIs(t, err, ErrStockDepleted)

	voucher, err := repo.GetVoucher(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, voucher.Stock, "stock never decremented below zero")

	exists, err := repo.ExistsOrder(ctx, 2, 1)
	require.NoError(t, err)
	assert.False(t, exists, "no order row without stock")
}

func TestGetVoucherMissingReturnsNil(t *testing.T) {
	repo := newTestDB(t)

	voucher, err := repo.GetVoucher(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, voucher)
}
