package engine

import (
	"context"
	"log/slog"

	"github.com/efreitasn/escrowexchange/internal/domain"
	"github.com/efreitasn/escrowexchange/internal/notify"
)

// IncidentReporter receives settlement failures whose escrow could not be
// refunded. Those orders are FAILED with funds still locked and need a
// manual fix.
type IncidentReporter interface {
	ReportIncident(ctx context.Context, failure *domain.SettlementFailure)
}

// LogIncidentReporter reports incidents as ERROR log records.
type LogIncidentReporter struct {
	Logger *slog.Logger
}

func (r LogIncidentReporter) ReportIncident(ctx context.Context, failure *domain.SettlementFailure) {
	r.Logger.ErrorContext(ctx, "escrow refund failed",
		slog.String("order_id", failure.OrderID),
		slog.String("cause", failure.Cause.Error()),
		slog.Bool("operator_action_required", true),
	)
}

// publish sends an order event to the member's channel. Delivery failures
// are logged; the ledger change that produced the event stands.
func publish(ctx context.Context, sink notify.Sink, logger *slog.Logger, event string, order domain.Order) {
	if sink == nil {
		return
	}
	if err := sink.Publish(ctx, notify.ChannelFor(order.MemberID), notify.NewEvent(event, order)); err != nil {
		logger.WarnContext(ctx, "order event not delivered",
			slog.String("event", event),
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
}
