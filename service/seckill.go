package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"flashsale/cache"
	"flashsale/metrics"
	"flashsale/repository"
)

// Admission rejections. User-visible, never retried on the caller's behalf.
var (
	ErrVoucherNotFound = errors.New("voucher does not exist")
	ErrSaleNotStarted  = errors.New("sale has not started yet")
	ErrSaleEnded       = errors.New("sale has already ended")
	ErrSoldOut         = errors.New("voucher is sold out")
	ErrDuplicateOrder  = errors.New("buyer already has an order for this voucher")
)

const orderIDNamespace = "order"

// SeckillService decides admission: generate an order id, run the atomic
// check-and-reserve script, map its result. Everything after a successful
// admission happens asynchronously off the order stream.
type SeckillService struct {
	Admission repository.AdmissionRepository
	IDs       *repository.IDWorker
	Vouchers  *VoucherService

	log zerolog.Logger
}

func NewSeckillService(admission repository.AdmissionRepository, ids *repository.IDWorker,
	vouchers *VoucherService, log zerolog.Logger) *SeckillService {
	return &SeckillService{
		Admission: admission,
		IDs:       ids,
		Vouchers:  vouchers,
		log:       log.With().Str("component", "seckill").Logger(),
	}
}

// SeckillVoucher attempts to reserve one unit for the buyer and returns
// the order id on success. The sale-window check is a precondition read
// from warmed metadata; the stock and one-order-per-buyer decisions are
// made atomically inside the store.
func (s *SeckillService) SeckillVoucher(ctx context.Context, voucherID, buyerID int64) (int64, error) {
	metrics.AdmissionRequests.Inc()

	voucher, err := s.Vouchers.GetSaleVoucher(ctx, voucherID)
	if errors.Is(err, cache.ErrNotFound) {
		metrics.AdmissionRejections.WithLabelValues("no_sale").Inc()
		return 0, ErrVoucherNotFound
	} else if err != nil {
		return 0, fmt.Errorf("load voucher %d: %w", voucherID, err)
	}

	now := time.Now()
	if now.Before(voucher.BeginTime) {
		metrics.AdmissionRejections.WithLabelValues("not_started").Inc()
		return 0, ErrSaleNotStarted
	}
	if now.After(voucher.EndTime) {
		metrics.AdmissionRejections.WithLabelValues("ended").Inc()
		return 0, ErrSaleEnded
	}

	// The id is generated before the script runs so the script stays a
	// pure function of its inputs.
	orderID, err := s.IDs.NextID(ctx, orderIDNamespace)
	if err != nil {
		return 0, fmt.Errorf("generate order id: %w", err)
	}

	code, err := s.Admission.Admit(ctx,
		strconv.FormatInt(voucherID, 10),
		strconv.FormatInt(buyerID, 10),
		strconv.FormatInt(orderID, 10),
	)
	if err != nil {
		return 0, fmt.Errorf("admission: %w", err)
	}

	switch code {
	case repository.AdmissionOK:
		s.log.Info().Int64("voucher", voucherID).Int64("buyer", buyerID).
			Int64("order", orderID).Msg("buyer admitted")
		return orderID, nil
	case repository.AdmissionSoldOut:
		metrics.AdmissionRejections.WithLabelValues("sold_out").Inc()
		return 0, ErrSoldOut
	default:
		metrics.AdmissionRejections.WithLabelValues("duplicate").Inc()
		return 0, ErrDuplicateOrder
	}
}

// PrepareVoucher opens a sale: seeds the Redis stock counter, clears the
// buyer set and warms the metadata cache.
func (s *SeckillService) PrepareVoucher(ctx context.Context, voucher *repository.SeckillVoucher) error {
	voucherID := strconv.FormatInt(voucher.VoucherID, 10)
	if err := s.Admission.PrepareVoucher(ctx, voucherID, voucher.Stock); err != nil {
		return err
	}
	if err := s.Vouchers.Warm(ctx, voucher); err != nil {
		return fmt.Errorf("warm voucher %d: %w", voucher.VoucherID, err)
	}
	metrics.VoucherStockLevel.WithLabelValues(voucherID).Set(float64(voucher.Stock))
	s.log.Info().Int64("voucher", voucher.VoucherID).Int("stock", voucher.Stock).
		Msg("voucher prepared for sale")
	return nil
}
