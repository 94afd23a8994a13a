package hyperliquid

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/hypertrader/sentinel/pkg/exchange"
)

const closePriceSlippage = 0.005

var (
	closeMultiplierBuy  = big.NewRat(1005, 1000)
	closeMultiplierSell = big.NewRat(995, 1000)
)

// GetPositions returns live positions, sourced from the same account-state
// snapshot used for margin and liquidation reporting.
func (c *Client) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	state, err := c.GetAccountState(ctx)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, nil
	}
	return state.AssetPositions, nil
}

// ClosePosition submits a reduce-only IOC order sized to fully flatten coin.
// Returns a nil response (no error) when the caller holds no position.
func (c *Client) ClosePosition(ctx context.Context, coin string) (*exchange.OrderResponse, error) {
	target, err := c.findPosition(ctx, coin)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, nil
	}

	assetIdx, err := c.GetAssetIndex(ctx, coin)
	if err != nil {
		return nil, err
	}
	info, err := c.GetAssetInfo(ctx, coin)
	if err != nil {
		return nil, err
	}
	order, shouldExecute, err := buildCloseOrder(assetIdx, info.MarkPx, *target)
	if err != nil {
		return nil, err
	}
	if !shouldExecute {
		return nil, nil
	}
	return c.PlaceOrder(ctx, order)
}

func (c *Client) findPosition(ctx context.Context, coin string) (*exchange.Position, error) {
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if strings.EqualFold(positions[i].Coin, coin) {
			return &positions[i], nil
		}
	}
	return nil, nil
}

// UpdateLeverage adjusts leverage for a given asset index.
func (c *Client) UpdateLeverage(ctx context.Context, asset int, isCross bool, leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("hyperliquid: leverage must be positive")
	}
	action := Action{
		Type:     ActionTypeUpdateLeverage,
		Asset:    &asset,
		IsCross:  &isCross,
		Leverage: leverage,
	}
	return c.doExchangeRequest(ctx, action, nil)
}

// buildCloseOrder converts an existing position into the reduce-only order
// that flattens it: a short's close order buys, a long's sells, priced at a
// small aggressive offset from mark so the IOC fill actually executes. A
// zero-size position yields shouldExecute=false rather than an error, since
// "nothing to close" is an expected caller state, not a failure.
func buildCloseOrder(assetIdx int, markPx string, pos exchange.Position) (exchange.Order, bool, error) {
	rawSize := strings.TrimSpace(pos.Szi)
	if rawSize == "" || isZeroDecimal(rawSize) {
		return exchange.Order{}, false, nil
	}

	isShort := strings.HasPrefix(rawSize, "-")
	size := trimSign(rawSize)
	if size == "" || isZeroDecimal(size) {
		return exchange.Order{}, false, nil
	}

	order := exchange.Order{
		Asset:      assetIdx,
		IsBuy:      isShort,
		LimitPx:    computeCloseLimit(markPx, isShort),
		Sz:         size,
		ReduceOnly: true,
		OrderType: exchange.OrderType{
			Limit: &exchange.LimitOrderType{TIF: "Ioc"},
		},
	}
	return order, true, nil
}

// computeCloseLimit applies closePriceSlippage against mark in the direction
// that guarantees the IOC order crosses the book, falling back to the
// maximally aggressive limit price when mark isn't a usable decimal.
func computeCloseLimit(mark string, isBuy bool) string {
	trimmed := strings.TrimSpace(mark)
	if trimmed == "" || !isPositiveDecimal(trimmed) {
		return aggressiveLimitPrice(isBuy)
	}

	price := new(big.Rat)
	if _, ok := price.SetString(trimmed); !ok || price.Sign() <= 0 {
		return aggressiveLimitPrice(isBuy)
	}

	multiplier := closeMultiplierSell
	if isBuy {
		multiplier = closeMultiplierBuy
	}
	result := new(big.Rat).Mul(price, multiplier)
	f, _ := result.Float64()
	if f <= 0 {
		return aggressiveLimitPrice(isBuy)
	}
	return RoundPriceToSigFigs(f, 5)
}

func trimSign(value string) string {
	s := strings.TrimSpace(value)
	for len(s) > 0 {
		if s[0] == '+' || s[0] == '-' {
			s = strings.TrimSpace(s[1:])
			continue
		}
		break
	}
	return s
}

func decimalsForString(value string) int {
	value = strings.TrimSpace(value)
	if idx := strings.Index(value, "."); idx >= 0 {
		return len(value[idx+1:])
	}
	return 0
}

func trimTrailingZeros(value string) string {
	if value == "" {
		return value
	}
	value = strings.TrimRight(value, "0")
	value = strings.TrimRight(value, ".")
	if value == "" {
		return "0"
	}
	return value
}
