package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/engine"
	"github.com/efreitasn/escrowexchange/internal/store"
)

// SubmitOrderRequest represents the input for order submission.
type SubmitOrderRequest struct {
	Market string
	Side   domain.OrderSide
	Price  decimal.Decimal
	Size   decimal.Decimal
}

// OrderService handles order submission, cancellation and the member's
// read views.
type OrderService struct {
	store     *store.Store
	intake    *engine.Intake
	canceller *engine.Canceller
}

// NewOrderService creates a new OrderService with the given dependencies.
func NewOrderService(st *store.Store, intake *engine.Intake, canceller *engine.Canceller) *OrderService {
	return &OrderService{
		store:     st,
		intake:    intake,
		canceller: canceller,
	}
}

// SubmitOrder escrows the order's funds and records it as WAITING. The
// sweeper fills it once the market reaches its limit.
func (s *OrderService) SubmitOrder(ctx context.Context, memberID string, req SubmitOrderRequest) (*domain.Order, error) {
	if !memberIDRegex.MatchString(memberID) {
		return nil, &domain.ValidationError{
			Message: "member_id must match ^[a-zA-Z0-9_-]{1,64}$",
		}
	}
	return s.intake.Submit(ctx, engine.SubmitRequest{
		MemberID: memberID,
		Market:   req.Market,
		Side:     req.Side,
		Price:    req.Price,
		Size:     req.Size,
	})
}

// CancelOrder cancels a WAITING order and returns its escrow.
func (s *OrderService) CancelOrder(ctx context.Context, memberID, orderID string) (*domain.Order, error) {
	return s.canceller.Cancel(ctx, memberID, orderID)
}

// GetOrder returns one of the member's orders.
func (s *OrderService) GetOrder(memberID, orderID string) (*domain.Order, error) {
	order, err := s.store.Order(orderID)
	if err != nil || order.MemberID != memberID {
		return nil, domain.ErrOrderNotFound
	}
	return &order, nil
}

// ListOrders returns a page of the member's orders, oldest request first,
// with optional status filtering. total counts every matching order. A
// member with no orders, registered or not, gets an empty page.
func (s *OrderService) ListOrders(memberID string, status *domain.OrderStatus, page, limit int) ([]domain.Order, int, error) {
	if status != nil && !status.Valid() {
		return nil, 0, &domain.ValidationError{
			Message: fmt.Sprintf("Invalid status filter: '%s'. Must be one of: WAITING, SUCCESS, FAILED, CANCELLED", *status),
		}
	}
	if page < 1 {
		return nil, 0, &domain.ValidationError{Message: "page must be >= 1"}
	}
	if limit < 1 || limit > 100 {
		return nil, 0, &domain.ValidationError{Message: "limit must be between 1 and 100"}
	}

	orders := s.store.OrdersByMember(memberID, status)
	total := len(orders)
	start := (page - 1) * limit
	if start >= total {
		return []domain.Order{}, total, nil
	}
	end := min(start+limit, total)
	return orders[start:end], total, nil
}

// ListHoldings returns the member's holdings sorted by market, or an empty
// list for a member that holds nothing.
func (s *OrderService) ListHoldings(memberID string) ([]domain.Holding, error) {
	return s.store.Holdings(memberID), nil
}
