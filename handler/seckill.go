package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"flashsale/service"
)

// Response is the common JSON envelope for admission results.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	OrderID int64  `json:"orderId,omitempty"`
}

// SeckillHandler translates HTTP requests into admission attempts and
// admission outcomes into status codes. All the real work happens in the
// service; this layer stays thin on purpose.
type SeckillHandler struct {
	Service *service.SeckillService
}

func NewSeckillHandler(s *service.SeckillService) *SeckillHandler {
	return &SeckillHandler{Service: s}
}

// ServeHTTP handles POST /seckill?voucher_id=...&user_id=...
func (h *SeckillHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	voucherID, err := strconv.ParseInt(r.URL.Query().Get("voucher_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "invalid voucher_id"})
		return
	}
	// Buyer identity would normally come from the session layer; here it
	// arrives as an explicit parameter.
	buyerID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "invalid user_id"})
		return
	}

	orderID, err := h.Service.SeckillVoucher(r.Context(), voucherID, buyerID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, Response{Success: true, OrderID: orderID})
	case errors.Is(err, service.ErrVoucherNotFound):
		writeJSON(w, http.StatusNotFound, Response{Message: err.Error()})
	case errors.Is(err, service.ErrSoldOut):
		writeJSON(w, http.StatusGone, Response{Message: err.Error()})
	case errors.Is(err, service.ErrDuplicateOrder),
		errors.Is(err, service.ErrSaleNotStarted),
		errors.Is(err, service.ErrSaleEnded):
		writeJSON(w, http.StatusBadRequest, Response{Message: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, Response{Message: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
