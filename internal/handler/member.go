package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/service"
)

// MemberHandler handles HTTP requests for member endpoints.
type MemberHandler struct {
	memberSvc *service.MemberService
	orderSvc  *service.OrderService
}

// NewMemberHandler creates a new MemberHandler.
func NewMemberHandler(memberSvc *service.MemberService, orderSvc *service.OrderService) *MemberHandler {
	return &MemberHandler{
		memberSvc: memberSvc,
		orderSvc:  orderSvc,
	}
}

// registerMemberRequest is the JSON request body for POST /members.
type registerMemberRequest struct {
	MemberID        string          `json:"member_id"`
	InitialBalance  decimal.Decimal `json:"initial_balance"`
	InitialHoldings []holdingInput  `json:"initial_holdings"`
}

// holdingInput is a single holding in the registration request.
type holdingInput struct {
	Market   string          `json:"market"`
	Size     decimal.Decimal `json:"size"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// depositRequest is the JSON request body for POST /members/{member_id}/deposits.
type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// memberResponse is the JSON response for POST /members (201 Created).
type memberResponse struct {
	MemberID  string            `json:"member_id"`
	Balance   decimal.Decimal   `json:"balance"`
	Holdings  []holdingResponse `json:"holdings"`
	CreatedAt string            `json:"created_at"`
}

// walletResponse is the JSON response for the wallet and deposit endpoints.
type walletResponse struct {
	MemberID  string          `json:"member_id"`
	Balance   decimal.Decimal `json:"balance"`
	Locked    decimal.Decimal `json:"locked"`
	Total     decimal.Decimal `json:"total"`
	UpdatedAt string          `json:"updated_at"`
}

// holdingResponse is a single holding.
type holdingResponse struct {
	Market    string          `json:"market"`
	Size      decimal.Decimal `json:"size"`
	Locked    decimal.Decimal `json:"locked"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
	UpdatedAt string          `json:"updated_at"`
}

// holdingListResponse is the JSON response for GET /members/{member_id}/holdings.
type holdingListResponse struct {
	Holdings []holdingResponse `json:"holdings"`
}

// orderListResponse is the JSON response for GET /members/{member_id}/orders.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

// Register handles POST /members.
func (h *MemberHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerMemberRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	holdings := make([]service.HoldingInput, len(req.InitialHoldings))
	for i, h := range req.InitialHoldings {
		holdings[i] = service.HoldingInput{
			Market:   h.Market,
			Size:     h.Size,
			AvgPrice: h.AvgPrice,
		}
	}

	member, err := h.memberSvc.Register(r.Context(), service.RegisterMemberRequest{
		MemberID:        req.MemberID,
		InitialBalance:  req.InitialBalance,
		InitialHoldings: holdings,
	})
	if err != nil {
		mapMemberError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, memberResponse{
		MemberID:  member.Wallet.MemberID,
		Balance:   member.Wallet.Balance,
		Holdings:  buildHoldingResponses(member.Holdings),
		CreatedAt: formatTime(member.Wallet.UpdatedAt),
	})
}

// GetWallet handles GET /members/{member_id}/wallet.
func (h *MemberHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.memberSvc.GetWallet(chi.URLParam(r, "member_id"))
	if err != nil {
		mapMemberError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildWalletResponse(wallet))
}

// Deposit handles POST /members/{member_id}/deposits.
func (h *MemberHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	wallet, err := h.memberSvc.Deposit(r.Context(), chi.URLParam(r, "member_id"), req.Amount)
	if err != nil {
		mapMemberError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildWalletResponse(wallet))
}

// ListHoldings handles GET /members/{member_id}/holdings.
func (h *MemberHandler) ListHoldings(w http.ResponseWriter, r *http.Request) {
	holdings, err := h.orderSvc.ListHoldings(chi.URLParam(r, "member_id"))
	if err != nil {
		mapMemberError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, holdingListResponse{Holdings: buildHoldingResponses(holdings)})
}

// ListOrders handles GET /members/{member_id}/orders.
func (h *MemberHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "member_id")

	// Parse query params.
	var statusFilter *domain.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status := domain.OrderStatus(s)
		statusFilter = &status
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		var err error
		page, err = strconv.Atoi(p)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "page must be a valid integer")
			return
		}
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "limit must be a valid integer")
			return
		}
	}

	orders, total, err := h.orderSvc.ListOrders(memberID, statusFilter, page, limit)
	if err != nil {
		mapMemberError(w, err)
		return
	}

	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = buildOrderResponse(&orders[i])
	}

	WriteJSON(w, http.StatusOK, orderListResponse{
		Orders: resp,
		Total:  total,
		Page:   page,
		Limit:  limit,
	})
}

func buildWalletResponse(wallet *domain.Wallet) walletResponse {
	return walletResponse{
		MemberID:  wallet.MemberID,
		Balance:   wallet.Balance,
		Locked:    wallet.Locked,
		Total:     wallet.Total(),
		UpdatedAt: formatTime(wallet.UpdatedAt),
	}
}

func buildHoldingResponses(holdings []domain.Holding) []holdingResponse {
	result := make([]holdingResponse, len(holdings))
	for i, h := range holdings {
		result[i] = holdingResponse{
			Market:    h.Market,
			Size:      h.Size,
			Locked:    h.Locked,
			AvgPrice:  h.AvgPrice,
			UpdatedAt: formatTime(h.UpdatedAt),
		}
	}
	return result
}

// mapMemberError maps domain errors to HTTP responses for member endpoints.
func mapMemberError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrMemberAlreadyExists):
		WriteError(w, http.StatusConflict, "member_already_exists", err.Error())
	case errors.Is(err, domain.ErrMemberNotFound):
		WriteError(w, http.StatusNotFound, "member_not_found", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
