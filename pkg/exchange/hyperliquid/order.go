package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/hypertrader/sentinel/pkg/exchange"
)

const (
	defaultAggressiveBuyLimit  = "999999999"
	defaultAggressiveSellLimit = "0.00000001"

	maxCloidLength = 128
)

var (
	errInvalidAsset = errors.New("hyperliquid: asset index must be non-negative")
	errInvalidPrice = errors.New("hyperliquid: price must be positive")
	errInvalidSize  = errors.New("hyperliquid: size must be positive")
)

// frontendOpenOrder is the wire shape of a single resting order as returned
// by HyperLiquid's "frontendOpenOrders" info query.
type frontendOpenOrder struct {
	Coin       string `json:"coin"`
	Side       string `json:"side"`
	LimitPx    string `json:"limitPx"`
	Sz         string `json:"sz"`
	OrigSz     string `json:"origSz"`
	Oid        int64  `json:"oid"`
	Timestamp  int64  `json:"timestamp"`
	Cloid      string `json:"cloid"`
	ReduceOnly bool   `json:"reduceOnly"`
	OrderType  any    `json:"orderType"`
}

// buildPlaceOrderAction validates and converts a batch of exchange-agnostic
// Order values into the exchange action payload HyperLiquid's order endpoint
// expects, failing on the first invalid order with its index in the batch.
func buildPlaceOrderAction(orders []exchange.Order) (Action, error) {
	payloads := make([]orderPayload, len(orders))
	for i, order := range orders {
		if err := validateOrder(order); err != nil {
			return Action{}, fmt.Errorf("order[%d]: %w", i, err)
		}
		payload, err := convertOrder(order)
		if err != nil {
			return Action{}, fmt.Errorf("order[%d]: %w", i, err)
		}
		payloads[i] = payload
	}
	return Action{Type: ActionTypeOrder, Grouping: "na", Orders: payloads}, nil
}

func buildCancelAction(cancels []Cancel) Action {
	payloads := make([]cancelPayload, len(cancels))
	for i, cancel := range cancels {
		payloads[i] = cancelPayload{Asset: cancel.Asset, Oid: cancel.Oid}
	}
	return Action{Type: ActionTypeCancel, Cancels: payloads}
}

// GetOpenOrders returns the caller's currently resting orders. HyperLiquid's
// response shape varies (a bare array, or an object wrapping status+data)
// depending on endpoint version, so the raw body is sniffed before decoding.
func (c *Client) GetOpenOrders(ctx context.Context) ([]exchange.OrderStatus, error) {
	infoAddr := c.getInfoAddress()
	if infoAddr == "" {
		return nil, fmt.Errorf("hyperliquid: client address unavailable")
	}

	var raw json.RawMessage
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "frontendOpenOrders", User: infoAddr}, &raw); err != nil {
		return nil, err
	}

	orders, err := decodeOpenOrders(raw)
	if err != nil {
		return nil, err
	}

	results := make([]exchange.OrderStatus, 0, len(orders))
	for _, o := range orders {
		results = append(results, exchange.OrderStatus{
			Order: exchange.OrderInfo{
				Coin:      o.Coin,
				Side:      o.Side,
				LimitPx:   o.LimitPx,
				Sz:        o.Sz,
				Oid:       o.Oid,
				Timestamp: o.Timestamp,
				OrigSz:    o.OrigSz,
				Cloid:     o.Cloid,
			},
			Status:          "open",
			StatusTimestamp: o.Timestamp,
		})
	}
	return results, nil
}

func decodeOpenOrders(raw json.RawMessage) ([]frontendOpenOrder, error) {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		var orders []frontendOpenOrder
		if err := json.Unmarshal(raw, &orders); err != nil {
			return nil, fmt.Errorf("hyperliquid: decode open orders array: %w", err)
		}
		return orders, nil
	}

	var resp struct {
		Status string              `json:"status"`
		Data   []frontendOpenOrder `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("hyperliquid: decode open orders object: %w", err)
	}
	if strings.ToLower(resp.Status) != "ok" {
		return nil, fmt.Errorf("hyperliquid: frontendOpenOrders status %q", resp.Status)
	}
	return resp.Data, nil
}

// validateOrder enforces the constraints HyperLiquid's order endpoint itself
// enforces, so a malformed order fails fast locally instead of round-tripping
// to the exchange for a rejection.
func validateOrder(order exchange.Order) error {
	if order.Asset < 0 {
		return errInvalidAsset
	}
	if strings.TrimSpace(order.Sz) == "" || !isPositiveDecimal(order.Sz) {
		return errInvalidSize
	}
	if isTriggerOrder(order) {
		if !isPositiveDecimal(order.TriggerPx) {
			return fmt.Errorf("hyperliquid: trigger price must be positive")
		}
	} else if strings.TrimSpace(order.LimitPx) == "" || !isPositiveDecimal(order.LimitPx) {
		return errInvalidPrice
	}
	if len(order.Cloid) > maxCloidLength {
		return fmt.Errorf("hyperliquid: cloid longer than %d characters", maxCloidLength)
	}
	return nil
}

func isTriggerOrder(order exchange.Order) bool {
	return order.OrderType.Trigger != nil || strings.TrimSpace(order.TriggerPx) != ""
}

func isPositiveDecimal(value string) bool {
	v := new(big.Rat)
	if _, ok := v.SetString(strings.TrimSpace(value)); !ok {
		return false
	}
	return v.Sign() > 0
}

func isZeroDecimal(value string) bool {
	s := strings.TrimSpace(value)
	if s == "" {
		return true
	}
	s = strings.TrimPrefix(s, "+")
	s = strings.TrimPrefix(s, "-")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.TrimLeft(s, "0")
	return s == ""
}

// convertOrder maps an exchange-agnostic Order onto HyperLiquid's wire
// payload, preferring a trigger (stop/take-profit) order shape over a plain
// limit order whenever the caller supplied trigger fields.
func convertOrder(order exchange.Order) (orderPayload, error) {
	payload := orderPayload{
		Asset:      order.Asset,
		IsBuy:      order.IsBuy,
		LimitPx:    order.LimitPx,
		Sz:         order.Sz,
		ReduceOnly: order.ReduceOnly,
		Cloid:      order.Cloid,
	}

	wantsTrigger := order.OrderType.Trigger != nil || (strings.TrimSpace(order.TriggerPx) != "" && order.OrderType.Limit == nil)
	if wantsTrigger {
		if strings.TrimSpace(order.TriggerPx) == "" {
			return orderPayload{}, fmt.Errorf("hyperliquid: trigger order requires trigger price")
		}
		// HL expects triggerPx nested inside orderType.trigger; top-level
		// TriggerPx/TriggerRel fields are not part of the documented payload.
		payload.OrderType = orderTypePayload{Trigger: buildTriggerPayload(order)}
		return payload, nil
	}

	if order.OrderType.Limit == nil {
		return orderPayload{}, fmt.Errorf("hyperliquid: order type not specified (limit or trigger)")
	}
	payload.OrderType = orderTypePayload{Limit: &limitOrderPayload{TIF: order.OrderType.Limit.TIF}}
	return payload, nil
}

func buildTriggerPayload(order exchange.Order) *triggerOrderPayload {
	var isMarket bool
	var tpsl string
	if order.OrderType.Trigger != nil {
		isMarket = order.OrderType.Trigger.IsMarket
		tpsl = order.OrderType.Trigger.Tpsl
	}
	return &triggerOrderPayload{
		IsMarket:   isMarket,
		TriggerPx:  order.TriggerPx,
		Tpsl:       tpsl,
		TriggerRel: order.TriggerRel,
	}
}

func aggressiveLimitPrice(isBuy bool) string {
	if isBuy {
		return defaultAggressiveBuyLimit
	}
	return defaultAggressiveSellLimit
}
