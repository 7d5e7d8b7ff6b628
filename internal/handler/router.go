package handler

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/escrowexchange/internal/quote"
	"github.com/efreitasn/escrowexchange/internal/service"
)

// NewRouter creates a chi router with all routes registered, request logging,
// and Content-Type validation middleware. ws serves the WebSocket endpoint
// that streams order events.
func NewRouter(
	memberSvc *service.MemberService,
	orderSvc *service.OrderService,
	webhookSvc *service.WebhookService,
	quotes *quote.Cache,
	ws http.Handler,
	logger *slog.Logger,
) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(contentTypeJSON)

	// Create handlers.
	memberH := NewMemberHandler(memberSvc, orderSvc)
	orderH := NewOrderHandler(orderSvc)
	quoteH := NewQuoteHandler(quotes)
	webhookH := NewWebhookHandler(webhookSvc)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Member routes.
	r.Post("/members", memberH.Register)
	r.Get("/members/{member_id}/wallet", memberH.GetWallet)
	r.Post("/members/{member_id}/deposits", memberH.Deposit)
	r.Get("/members/{member_id}/holdings", memberH.ListHoldings)
	r.Get("/members/{member_id}/orders", memberH.ListOrders)

	// Order routes.
	r.Post("/members/{member_id}/orders", orderH.SubmitOrder)
	r.Get("/members/{member_id}/orders/{order_id}", orderH.GetOrder)
	r.Delete("/members/{member_id}/orders/{order_id}", orderH.CancelOrder)

	// Quote routes.
	r.Put("/quotes/{market}", quoteH.Put)
	r.Get("/quotes/{market}", quoteH.Get)

	// Webhook routes.
	r.Post("/webhooks", webhookH.Subscribe)
	r.Get("/webhooks", webhookH.Subscriptions)
	r.Delete("/webhooks/{webhook_id}", webhookH.Unsubscribe)

	// Order event stream.
	if ws != nil {
		r.Handle("/ws", ws)
	}

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	w.wroteHeader = true
	return hj.Hijack()
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests. If the Content-Type header doesn't start with
// "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
