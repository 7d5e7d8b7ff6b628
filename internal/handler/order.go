package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// submitOrderRequest is the JSON request body for POST /members/{member_id}/orders.
type submitOrderRequest struct {
	Market string          `json:"market"`
	Side   string          `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
}

// orderResponse is the JSON representation of an order. Nullable fields
// are always present.
type orderResponse struct {
	OrderID        string           `json:"order_id"`
	MemberID       string           `json:"member_id"`
	Market         string           `json:"market"`
	Side           string           `json:"side"`
	Price          decimal.Decimal  `json:"price"`
	Size           decimal.Decimal  `json:"size"`
	Status         string           `json:"status"`
	ExecutionPrice *decimal.Decimal `json:"execution_price"`
	RequestedAt    string           `json:"requested_at"`
	MatchedAt      *string          `json:"matched_at"`
	CancelledAt    *string          `json:"cancelled_at"`
}

// SubmitOrder handles POST /members/{member_id}/orders.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	order, err := h.orderSvc.SubmitOrder(r.Context(), chi.URLParam(r, "member_id"), service.SubmitOrderRequest{
		Market: req.Market,
		Side:   domain.OrderSide(req.Side),
		Price:  req.Price,
		Size:   req.Size,
	})
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildOrderResponse(order))
}

// GetOrder handles GET /members/{member_id}/orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.GetOrder(chi.URLParam(r, "member_id"), chi.URLParam(r, "order_id"))
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// CancelOrder handles DELETE /members/{member_id}/orders/{order_id}.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.CancelOrder(r.Context(), chi.URLParam(r, "member_id"), chi.URLParam(r, "order_id"))
	if err != nil {
		mapOrderError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

func buildOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:     o.ID,
		MemberID:    o.MemberID,
		Market:      o.Market,
		Side:        string(o.Side),
		Price:       o.Price,
		Size:        o.Size,
		Status:      string(o.Status),
		RequestedAt: formatTime(o.RequestedAt),
		MatchedAt:   formatTimePtr(o.MatchedAt),
		CancelledAt: formatTimePtr(o.CancelledAt),
	}
	if o.Status == domain.OrderStatusSuccess {
		p := o.ExecutionPrice
		resp.ExecutionPrice = &p
	}
	return resp
}

// mapOrderError maps domain errors to HTTP responses for order endpoints.
func mapOrderError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrMemberNotFound), errors.Is(err, domain.ErrWalletNotFound):
		WriteError(w, http.StatusNotFound, "member_not_found", err.Error())
	case errors.Is(err, domain.ErrHoldingNotFound):
		WriteError(w, http.StatusNotFound, "holding_not_found", err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		WriteError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, domain.ErrOrderNotCancellable):
		WriteError(w, http.StatusConflict, "order_not_cancellable", err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		WriteError(w, http.StatusConflict, "insufficient_funds", err.Error())
	case errors.Is(err, domain.ErrInsufficientHoldings):
		WriteError(w, http.StatusConflict, "insufficient_holdings", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
