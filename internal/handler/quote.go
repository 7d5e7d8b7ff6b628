package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/escrowexchange/internal/engine"
	"github.com/efreitasn/escrowexchange/internal/quote"
)

// QuoteHandler handles HTTP requests for quote endpoints. PUT is the
// ingestion point for the market-data feed.
type QuoteHandler struct {
	quotes *quote.Cache
}

// NewQuoteHandler creates a new QuoteHandler.
func NewQuoteHandler(quotes *quote.Cache) *QuoteHandler {
	return &QuoteHandler{quotes: quotes}
}

// putQuoteRequest is the JSON request body for PUT /quotes/{market}.
type putQuoteRequest struct {
	Ask decimal.Decimal `json:"ask"`
	Bid decimal.Decimal `json:"bid"`
}

// quoteResponse is the JSON response for the quote endpoints.
type quoteResponse struct {
	Market string          `json:"market"`
	Ask    decimal.Decimal `json:"ask"`
	Bid    decimal.Decimal `json:"bid"`
	At     string          `json:"at"`
}

// Put handles PUT /quotes/{market}.
func (h *QuoteHandler) Put(w http.ResponseWriter, r *http.Request) {
	market := chi.URLParam(r, "market")
	if !engine.ValidMarket(market) {
		WriteError(w, http.StatusBadRequest, "validation_error", "market must be a valid market code such as KRW-BTC")
		return
	}

	var req putQuoteRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	q := quote.Quote{Market: market, Ask: req.Ask, Bid: req.Bid}
	if err := h.quotes.Set(q); err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	h.Get(w, r)
}

// Get handles GET /quotes/{market}.
func (h *QuoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	market := chi.URLParam(r, "market")

	q, err := h.quotes.BestQuote(r.Context(), market)
	if err != nil {
		if errors.Is(err, quote.ErrUnavailable) {
			WriteError(w, http.StatusNotFound, "quote_not_found", "no current quote for "+market)
			return
		}
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
		return
	}

	WriteJSON(w, http.StatusOK, quoteResponse{
		Market: q.Market,
		Ask:    q.Ask,
		Bid:    q.Bid,
		At:     formatTime(q.At),
	})
}
