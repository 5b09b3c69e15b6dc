package domain

// FillDecision is the outcome of evaluating an order against a reference
// price. When Fill is false the order rests in Status; when ConvertTo is
// set the order changes type first (stop_limit converting to a resting
// limit after its trigger crosses).
type FillDecision struct {
	Fill      bool
	Price     float64
	Status    OrderStatus
	ConvertTo OrderType
	Triggered bool
}

// LimitCrossed reports whether a limit price is marketable against the
// reference price: a buy fills when its limit is at or above the market, a
// sell when its limit is at or below.
func LimitCrossed(side OrderSide, limit, ref float64) bool {
	if side == OrderSideBuy {
		return limit >= ref
	}
	return limit <= ref
}

// StopTriggered reports whether the reference price has crossed the stop
// price in the order's direction.
func StopTriggered(side OrderSide, stop, ref float64) bool {
	if side == OrderSideBuy {
		return ref >= stop
	}
	return ref <= stop
}

// EvaluateFill applies the fill policy shared by the execution engine and
// the simulated venue:
//
//   - market orders fill fully at the reference price
//   - limit orders fill fully iff marketable, else rest open
//   - stop orders convert to a market fill once triggered
//   - stop-limit orders convert to a resting limit once triggered
//
// A non-positive reference price means no pricing input is available and
// the order rests open.
func EvaluateFill(o *Order, ref float64) FillDecision {
	if ref <= 0 {
		return FillDecision{Status: OrderStatusOpen}
	}
	switch o.Type {
	case OrderTypeMarket:
		return FillDecision{Fill: true, Price: ref}
	case OrderTypeLimit:
		if o.LimitPrice != nil && LimitCrossed(o.Side, *o.LimitPrice, ref) {
			return FillDecision{Fill: true, Price: ref}
		}
		return FillDecision{Status: OrderStatusOpen}
	case OrderTypeStop:
		if o.StopPrice != nil && StopTriggered(o.Side, *o.StopPrice, ref) {
			return FillDecision{Fill: true, Price: ref, Triggered: true}
		}
		return FillDecision{Status: OrderStatusOpen}
	case OrderTypeStopLimit:
		if o.StopPrice != nil && StopTriggered(o.Side, *o.StopPrice, ref) {
			return FillDecision{Status: OrderStatusOpen, ConvertTo: OrderTypeLimit, Triggered: true}
		}
		return FillDecision{Status: OrderStatusOpen}
	default:
		// trailing_stop and anything else rests until the venue reports.
		return FillDecision{Status: OrderStatusOpen}
	}
}
