// Package position tracks the account's portfolio snapshot and computes
// order sizes. Sizing functions are pure; the Tracker owns the snapshot
// and refreshes it from the broker on a timer and after fills.
package position

import (
	"math"

	"callisto/internal/domain"
)

// FixedRisk returns the whole number of shares that puts riskAmount at
// risk between the entry and stop prices.
func FixedRisk(riskAmount, entryPrice, stopPrice float64) (float64, error) {
	if riskAmount <= 0 {
		return 0, domain.Validationf("risk_amount", "must be positive, got %v", riskAmount)
	}
	perShare := math.Abs(entryPrice - stopPrice)
	if perShare == 0 {
		return 0, domain.Validationf("stop_price", "must differ from entry price")
	}
	return math.Floor(riskAmount / perShare), nil
}

// PercentOfPortfolio returns the whole number of shares worth pct percent
// of the portfolio at the entry price.
func PercentOfPortfolio(pct, entryPrice, portfolioValue float64) (float64, error) {
	if pct <= 0 || pct > 100 {
		return 0, domain.Validationf("pct", "must be in (0,100], got %v", pct)
	}
	if entryPrice <= 0 {
		return 0, domain.Validationf("entry_price", "must be positive, got %v", entryPrice)
	}
	if portfolioValue < 0 {
		return 0, domain.Validationf("portfolio_value", "must not be negative, got %v", portfolioValue)
	}
	return math.Floor(portfolioValue * pct / 100 / entryPrice), nil
}

// HalfKelly returns the whole number of shares sized by half the Kelly
// criterion, capped at maxAllocationPct percent of the portfolio. A
// non-positive Kelly edge sizes to zero shares rather than erroring.
func HalfKelly(winRate, winLossRatio, maxAllocationPct, entryPrice, portfolioValue float64) (float64, error) {
	if winRate < 0 || winRate > 1 {
		return 0, domain.Validationf("win_rate", "must be in [0,1], got %v", winRate)
	}
	if winLossRatio <= 0 {
		return 0, domain.Validationf("win_loss_ratio", "must be positive, got %v", winLossRatio)
	}
	if maxAllocationPct <= 0 || maxAllocationPct > 100 {
		return 0, domain.Validationf("max_allocation_pct", "must be in (0,100], got %v", maxAllocationPct)
	}
	if entryPrice <= 0 {
		return 0, domain.Validationf("entry_price", "must be positive, got %v", entryPrice)
	}

	kelly := winRate - (1-winRate)/winLossRatio
	alloc := math.Min(kelly*0.5, maxAllocationPct/100)
	if alloc <= 0 || portfolioValue <= 0 {
		return 0, nil
	}
	return math.Floor(portfolioValue * alloc / entryPrice), nil
}
