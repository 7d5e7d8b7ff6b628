package service

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/engine"
	"github.com/efreitasn/escrowexchange/internal/store"
)

var memberIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// RegisterMemberRequest represents the input for member registration.
type RegisterMemberRequest struct {
	MemberID        string
	InitialBalance  decimal.Decimal
	InitialHoldings []HoldingInput
}

// HoldingInput represents a single holding in a registration request.
type HoldingInput struct {
	Market   string
	Size     decimal.Decimal
	AvgPrice decimal.Decimal
}

// Member is a member's full ledger position.
type Member struct {
	Wallet   domain.Wallet
	Holdings []domain.Holding
}

// MemberService handles member registration, deposits and wallet queries.
type MemberService struct {
	store *store.Store
	now   func() time.Time
}

// NewMemberService creates a new MemberService.
func NewMemberService(st *store.Store) *MemberService {
	return &MemberService{store: st, now: time.Now}
}

// Register validates the request and creates the member's wallet and seed
// holdings in one commit.
func (s *MemberService) Register(ctx context.Context, req RegisterMemberRequest) (*Member, error) {
	if !memberIDRegex.MatchString(req.MemberID) {
		return nil, &domain.ValidationError{
			Message: "member_id must match ^[a-zA-Z0-9_-]{1,64}$",
		}
	}
	if err := domain.CheckAmount("initial_balance", req.InitialBalance); err != nil {
		return nil, err
	}
	if req.InitialBalance.IsNegative() {
		return nil, &domain.ValidationError{Message: "initial_balance must be >= 0"}
	}

	seen := make(map[string]bool)
	for _, h := range req.InitialHoldings {
		if !engine.ValidMarket(h.Market) {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("holding market %q is not a valid market code", h.Market),
			}
		}
		if err := domain.CheckAmount("holding size for "+h.Market, h.Size); err != nil {
			return nil, err
		}
		if err := domain.CheckAmount("holding avg_price for "+h.Market, h.AvgPrice); err != nil {
			return nil, err
		}
		if !h.Size.IsPositive() {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("holding size must be > 0 for market %s", h.Market),
			}
		}
		if h.AvgPrice.IsNegative() {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("holding avg_price must be >= 0 for market %s", h.Market),
			}
		}
		if seen[h.Market] {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("duplicate market in initial_holdings: %s", h.Market),
			}
		}
		seen[h.Market] = true
	}

	keys := []string{store.WalletKey(req.MemberID)}
	for _, h := range req.InitialHoldings {
		keys = append(keys, store.HoldingKey(req.MemberID, h.Market))
	}
	unlock := s.store.Lock(keys...)
	defer unlock()

	if s.store.HasWallet(req.MemberID) {
		return nil, domain.ErrMemberAlreadyExists
	}

	now := s.now()
	member := &Member{
		Wallet: domain.Wallet{
			MemberID:  req.MemberID,
			Balance:   req.InitialBalance,
			UpdatedAt: now,
		},
		Holdings: make([]domain.Holding, 0, len(req.InitialHoldings)),
	}
	for _, h := range req.InitialHoldings {
		member.Holdings = append(member.Holdings, domain.Holding{
			MemberID:  req.MemberID,
			Market:    h.Market,
			Size:      h.Size,
			AvgPrice:  h.AvgPrice,
			UpdatedAt: now,
		})
	}

	if err := s.store.Commit(store.Changes{
		Wallets:  []domain.Wallet{member.Wallet},
		Holdings: member.Holdings,
	}); err != nil {
		return nil, fmt.Errorf("register member %s: %w", req.MemberID, err)
	}
	return member, nil
}

// Deposit credits amount to the member's spendable balance.
func (s *MemberService) Deposit(ctx context.Context, memberID string, amount decimal.Decimal) (*domain.Wallet, error) {
	if err := domain.CheckAmount("amount", amount); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, &domain.ValidationError{Message: "amount must be > 0"}
	}

	unlock := s.store.Lock(store.WalletKey(memberID))
	defer unlock()

	wallet, err := s.store.Wallet(memberID)
	if err != nil {
		return nil, domain.ErrMemberNotFound
	}
	wallet.Credit(amount)
	wallet.UpdatedAt = s.now()
	if err := s.store.Commit(store.Changes{Wallets: []domain.Wallet{wallet}}); err != nil {
		return nil, fmt.Errorf("deposit to %s: %w", memberID, err)
	}
	return &wallet, nil
}

// GetWallet returns the member's wallet.
func (s *MemberService) GetWallet(memberID string) (*domain.Wallet, error) {
	wallet, err := s.store.Wallet(memberID)
	if err != nil {
		return nil, domain.ErrMemberNotFound
	}
	return &wallet, nil
}
