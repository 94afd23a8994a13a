package hyperliquid

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/hypertrader/sentinel/pkg/exchange"
)

const defaultIOCSlippage = 0.01

// FormatSize rounds qty (half-up) to the coin's szDecimals and renders it as
// a plain decimal string with no scientific notation and no trailing zeros.
func (c *Client) FormatSize(ctx context.Context, coin string, qty float64) (string, error) {
	info, err := c.GetAssetInfo(ctx, coin)
	if err != nil {
		return "", err
	}
	if qty < 0 {
		qty = -qty
	}

	pow := math.Pow(10, float64(info.SzDecimals))
	rounded := math.Round(qty*pow) / pow
	s := strconv.FormatFloat(rounded, 'f', info.SzDecimals, 64)
	return trimTrailingZeros(s), nil
}

// IOCMarket places an IOC limit order offset from the best available
// reference price (mid, falling back to mark then oracle) by slippage, to
// approximate a market fill. slippage is a fraction (0.01 = 1%); <= 0 falls
// back to the client's configured default, then 1%.
func (c *Client) IOCMarket(ctx context.Context, coin string, isBuy bool, qty float64, slippage float64, reduceOnly bool) (*exchange.OrderResponse, error) {
	slippage = c.resolveSlippage(slippage)

	idx, err := c.GetAssetIndex(ctx, coin)
	if err != nil {
		return nil, err
	}
	info, err := c.GetAssetInfo(ctx, coin)
	if err != nil {
		return nil, err
	}

	price, err := referencePriceWithSlippage(info, coin, isBuy, slippage, c.sigFigsOrDefault())
	if err != nil {
		return nil, err
	}
	size, err := c.FormatSize(ctx, coin, qty)
	if err != nil {
		return nil, err
	}

	order := exchange.Order{
		Asset:      idx,
		IsBuy:      isBuy,
		LimitPx:    price,
		Sz:         size,
		ReduceOnly: reduceOnly,
		OrderType:  exchange.OrderType{Limit: &exchange.LimitOrderType{TIF: "Ioc"}},
	}
	resp, err := c.PlaceOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	if rejectErr := rejectionError(resp); rejectErr != nil {
		return resp, rejectErr
	}
	return resp, nil
}

func (c *Client) resolveSlippage(requested float64) float64 {
	if requested > 0 {
		return requested
	}
	if c.defaultSlippage > 0 {
		return c.defaultSlippage
	}
	return defaultIOCSlippage
}

func (c *Client) sigFigsOrDefault() int {
	if c.priceSigFigs > 0 {
		return c.priceSigFigs
	}
	return 5
}

func referencePriceWithSlippage(info *AssetInfo, coin string, isBuy bool, slippage float64, sigFigs int) (string, error) {
	base := firstNonEmpty(info.MidPx, info.MarkPx, info.OraclePx)
	if base == "" {
		return "", fmt.Errorf("hyperliquid: missing reference price for %s", coin)
	}
	px, err := strconv.ParseFloat(base, 64)
	if err != nil || !(px > 0) {
		return "", fmt.Errorf("hyperliquid: invalid reference price %q for %s", base, coin)
	}
	if isBuy {
		px *= 1 + slippage
	} else {
		px *= 1 - slippage
	}
	return RoundPriceToSigFigs(px, sigFigs), nil
}

// rejectionError extracts a descriptive error from an "err" status response,
// preferring the per-order status message over the top-level error string.
func rejectionError(resp *exchange.OrderResponse) error {
	if resp.Status != "err" {
		return nil
	}
	if len(resp.Response.Data.Statuses) > 0 && resp.Response.Data.Statuses[0].Error != "" {
		return fmt.Errorf("hyperliquid: order rejected: %s", resp.Response.Data.Statuses[0].Error)
	}
	if resp.ErrorMessage != "" {
		return fmt.Errorf("hyperliquid: order rejected: %s", resp.ErrorMessage)
	}
	return fmt.Errorf("hyperliquid: order rejected with status 'err' (no error details provided)")
}

// PlaceTriggerReduceOnly creates a reduce-only trigger order (TP/SL style).
// tpsl is "tp" or "sl" for venues that key off the semantic hint.
func (c *Client) PlaceTriggerReduceOnly(ctx context.Context, coin string, isBuy bool, qty float64, triggerPx float64, tpsl string) error {
	if !(triggerPx > 0) {
		return fmt.Errorf("hyperliquid: trigger price must be positive")
	}
	idx, err := c.GetAssetIndex(ctx, coin)
	if err != nil {
		return err
	}
	size, err := c.FormatSize(ctx, coin, qty)
	if err != nil {
		return err
	}

	order := exchange.Order{
		Asset: idx,
		IsBuy: isBuy,
		// An aggressive limit price is the safety net if isMarket fails to
		// convert to an immediate fill once triggered.
		LimitPx:    aggressiveLimitPrice(isBuy),
		Sz:         size,
		ReduceOnly: true,
		TriggerPx:  RoundPriceToSigFigs(triggerPx, 5),
		OrderType:  exchange.OrderType{Trigger: &exchange.TriggerOrderType{IsMarket: true, Tpsl: tpsl}},
	}
	_, err = c.PlaceOrder(ctx, order)
	return err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if len(v) > 0 {
			return v
		}
	}
	return ""
}
