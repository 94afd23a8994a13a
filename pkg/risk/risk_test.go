package risk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateLeverageCap(t *testing.T) {
	m := NewManager()
	limits := AgentLimits{MaxLeverage: 10, MaxPositionSizePct: 50}
	account := AccountSnapshot{TotalValue: 10000, AvailableMargin: 5000, CurrentExposure: 0}

	ok, reason := m.Validate(limits, account, "BTC", 1000, 20)
	require.False(t, ok)
	require.Contains(t, reason, "leverage")
}

func TestValidatePositionSizeCap(t *testing.T) {
	m := NewManager()
	limits := AgentLimits{MaxLeverage: 10, MaxPositionSizePct: 10}
	account := AccountSnapshot{TotalValue: 10000, AvailableMargin: 5000, CurrentExposure: 0}

	ok, reason := m.Validate(limits, account, "ETH", 2000, 5)
	require.False(t, ok)
	require.Contains(t, reason, "max_position_size_pct")
}

func TestValidateMarginCap(t *testing.T) {
	m := NewManager()
	limits := AgentLimits{MaxLeverage: 10, MaxPositionSizePct: 100}
	account := AccountSnapshot{TotalValue: 10000, AvailableMargin: 100, CurrentExposure: 0}

	ok, reason := m.Validate(limits, account, "ETH", 1000, 5)
	require.False(t, ok)
	require.Contains(t, reason, "margin")
}

func TestValidateExposureCap(t *testing.T) {
	m := NewManager()
	limits := AgentLimits{MaxLeverage: 20, MaxPositionSizePct: 100}
	account := AccountSnapshot{TotalValue: 10000, AvailableMargin: 9000, CurrentExposure: 7500}

	ok, reason := m.Validate(limits, account, "SOL", 1000, 10)
	require.False(t, ok)
	require.Contains(t, reason, "exposure")
}

func TestValidatePasses(t *testing.T) {
	m := NewManager()
	limits := AgentLimits{MaxLeverage: 20, MaxPositionSizePct: 50}
	account := AccountSnapshot{TotalValue: 10000, AvailableMargin: 9000, CurrentExposure: 1000}

	ok, reason := m.Validate(limits, account, "BTC", 2000, 10)
	require.True(t, ok)
	require.Empty(t, reason)
}

func TestStopLossTakeProfitLong(t *testing.T) {
	sl, tp, err := StopLossTakeProfit("long", 100, 2, 4)
	require.NoError(t, err)
	require.InDelta(t, 98.0, sl, 1e-9)
	require.InDelta(t, 104.0, tp, 1e-9)
}

func TestStopLossTakeProfitShort(t *testing.T) {
	sl, tp, err := StopLossTakeProfit("short", 100, 2, 4)
	require.NoError(t, err)
	require.InDelta(t, 102.0, sl, 1e-9)
	require.InDelta(t, 96.0, tp, 1e-9)
}

func TestAtLiquidationRisk(t *testing.T) {
	m := NewManager(WithLiquidationWarningPct(0.20))
	require.True(t, m.AtLiquidationRisk(0.15))
	require.False(t, m.AtLiquidationRisk(0.50))
}
