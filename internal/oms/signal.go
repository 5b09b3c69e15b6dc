package oms

import (
	"callisto/internal/domain"
)

// OrderRequestFromSignal maps a signal onto the market order request it
// implies: buy and strong_buy signals buy, sell and strong_sell sell,
// anything else is a validation error. The request carries the strategy
// and signal ids so the resulting order and its fills stay attributable.
// Qty may be zero for the caller to size before submission.
func OrderRequestFromSignal(sig *domain.Signal, qty float64) (domain.OrderRequest, error) {
	var side domain.OrderSide
	switch sig.Type {
	case domain.SignalTypeBuy, domain.SignalTypeStrongBuy:
		side = domain.OrderSideBuy
	case domain.SignalTypeSell, domain.SignalTypeStrongSell:
		side = domain.OrderSideSell
	default:
		return domain.OrderRequest{}, domain.Validationf("type",
			"signal type %q does not map to an order side", sig.Type)
	}
	if sig.Symbol == "" {
		return domain.OrderRequest{}, domain.Validationf("symbol", "must not be empty")
	}
	return domain.OrderRequest{
		Symbol:     sig.Symbol,
		Side:       side,
		Type:       domain.OrderTypeMarket,
		Qty:        qty,
		StrategyID: sig.StrategyID,
		SignalID:   sig.ID,
	}, nil
}
