// Package risk implements the pre-trade risk gate applied by the TradingOrchestrator
// before any OPEN_LONG/OPEN_SHORT decision reaches the exchange, plus the stop-loss/
// take-profit arithmetic and liquidation-proximity monitor shared by that gate.
package risk

import (
	"fmt"
)

const (
	// defaultExposureCapPct caps total notional exposure as a fraction of account value.
	defaultExposureCapPct = 0.80
	// defaultLiquidationWarningPct flags positions within this fraction of liquidation.
	defaultLiquidationWarningPct = 0.20
)

// AgentLimits carries the per-agent risk configuration RiskManager validates against.
type AgentLimits struct {
	MaxLeverage        int     // hard leverage ceiling for this agent
	MaxPositionSizePct float64 // max single-position size as a percent of account value
}

// AccountSnapshot carries the account-level figures needed to evaluate margin and exposure.
type AccountSnapshot struct {
	TotalValue      float64
	AvailableMargin float64
	CurrentExposure float64 // sum of notional value of all open positions, USD
}

// Manager implements the spec's RiskManager: pre-trade validation and SL/TP arithmetic.
type Manager struct {
	exposureCapPct        float64
	liquidationWarningPct float64
}

// Option configures a Manager.
type Option func(*Manager)

// WithExposureCapPct overrides the default 80% total-exposure cap.
func WithExposureCapPct(pct float64) Option {
	return func(m *Manager) {
		if pct > 0 {
			m.exposureCapPct = pct
		}
	}
}

// WithLiquidationWarningPct overrides the default 20% liquidation-proximity threshold.
func WithLiquidationWarningPct(pct float64) Option {
	return func(m *Manager) {
		if pct > 0 {
			m.liquidationWarningPct = pct
		}
	}
}

// NewManager constructs a Manager with the given options applied over the spec defaults.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		exposureCapPct:        defaultExposureCapPct,
		liquidationWarningPct: defaultLiquidationWarningPct,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Validate applies the four pre-trade checks from spec §4.10 in order, returning the
// first violation encountered. ok is true and reason is empty when all checks pass.
func (m *Manager) Validate(limits AgentLimits, account AccountSnapshot, coin string, sizeUSD float64, leverage int) (ok bool, reason string) {
	if leverage <= 0 {
		return false, fmt.Sprintf("%s: leverage must be positive", coin)
	}
	if sizeUSD <= 0 {
		return false, fmt.Sprintf("%s: size_usd must be positive", coin)
	}
	if limits.MaxLeverage > 0 && leverage > limits.MaxLeverage {
		return false, fmt.Sprintf("%s: leverage %dx exceeds agent max %dx", coin, leverage, limits.MaxLeverage)
	}
	if limits.MaxPositionSizePct > 0 && account.TotalValue > 0 {
		maxSize := account.TotalValue * limits.MaxPositionSizePct / 100
		if sizeUSD > maxSize+1e-9 {
			return false, fmt.Sprintf("%s: size_usd %.2f exceeds max_position_size_pct cap %.2f", coin, sizeUSD, maxSize)
		}
	}
	requiredMargin := sizeUSD / float64(leverage)
	if requiredMargin > account.AvailableMargin+1e-9 {
		return false, fmt.Sprintf("%s: required initial margin %.2f exceeds available margin %.2f", coin, requiredMargin, account.AvailableMargin)
	}
	if account.TotalValue > 0 {
		exposureCap := account.TotalValue * m.exposureCapPct
		if account.CurrentExposure+sizeUSD > exposureCap+1e-9 {
			return false, fmt.Sprintf("%s: total exposure %.2f would exceed cap %.2f (%.0f%% of account)", coin, account.CurrentExposure+sizeUSD, exposureCap, m.exposureCapPct*100)
		}
	}
	return true, ""
}

// StopLossTakeProfit computes SL/TP prices for a position entered at entry, per spec §4.10.
// side must be "long" or "short"; pct values are whole percentages (e.g. 2 == 2%).
func StopLossTakeProfit(side string, entry, slPct, tpPct float64) (sl, tp float64, err error) {
	if entry <= 0 {
		return 0, 0, fmt.Errorf("risk: entry price must be positive")
	}
	switch side {
	case "long":
		sl = entry * (1 - slPct/100)
		tp = entry * (1 + tpPct/100)
	case "short":
		sl = entry * (1 + slPct/100)
		tp = entry * (1 - tpPct/100)
	default:
		return 0, 0, fmt.Errorf("risk: unknown side %q", side)
	}
	return sl, tp, nil
}

// AtLiquidationRisk reports whether distanceToLiquidationPct (a fraction, e.g. 0.15 == 15%)
// falls at or below the manager's liquidation-proximity threshold. Informational only —
// callers surface this as a warning, never as a validation failure.
func (m *Manager) AtLiquidationRisk(distanceToLiquidationPct float64) bool {
	return distanceToLiquidationPct <= m.liquidationWarningPct
}
