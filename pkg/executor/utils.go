package executor

import "strings"

// sanitizeResponse strips whitespace and a leading UTF-8 BOM before parsing.
func sanitizeResponse(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "﻿")
}

// decisionContract mirrors the structured JSON contract the LLM is asked to
// fill in; mapDecisionContract translates its trading-vocabulary "signal"
// field into the internal action vocabulary ValidateDecisions understands.
type decisionContract struct {
	Signal                string  `json:"signal"`
	Symbol                string  `json:"symbol"`
	Leverage              int     `json:"leverage"`
	PositionSizeUSD       float64 `json:"position_size_usd"`
	EntryPrice            float64 `json:"entry_price"`
	StopLoss              float64 `json:"stop_loss"`
	TakeProfit            float64 `json:"take_profit"`
	RiskUSD               float64 `json:"risk_usd"`
	Confidence            int     `json:"confidence"`
	InvalidationCondition string  `json:"invalidation_condition"`
	Reasoning             string  `json:"reasoning"`
}

var signalToAction = map[string]string{
	"buy_to_enter": "open_long",
	"sell_to_enter": "open_short",
	"hold":         "hold",
}

func mapDecisionContract(d decisionContract, positions []PositionInfo) Decision {
	signal := strings.ToLower(strings.TrimSpace(d.Signal))
	action, ok := signalToAction[signal]
	if !ok {
		action = "hold"
	}
	if signal == "close" {
		if inferSide(positions, d.Symbol) == "short" {
			action = "close_short"
		} else {
			action = "close_long"
		}
	}
	return Decision{
		Symbol:                d.Symbol,
		Action:                action,
		Leverage:              d.Leverage,
		PositionSizeUSD:       d.PositionSizeUSD,
		EntryPrice:            d.EntryPrice,
		StopLoss:              d.StopLoss,
		TakeProfit:            d.TakeProfit,
		Confidence:            d.Confidence,
		RiskUSD:               d.RiskUSD,
		Reasoning:             d.Reasoning,
		InvalidationCondition: d.InvalidationCondition,
	}
}

// inferSide reports the side of the caller's existing position in symbol, so
// a "close" signal (which carries no side of its own) maps onto the right
// close_long/close_short action. Returns "" when no position exists, which
// mapDecisionContract treats as long.
func inferSide(positions []PositionInfo, symbol string) string {
	for _, p := range positions {
		if strings.EqualFold(p.Symbol, symbol) {
			if strings.EqualFold(p.Side, "short") {
				return "short"
			}
			return "long"
		}
	}
	return ""
}

func isBTCETH(sym string) bool {
	s := strings.ToUpper(strings.TrimSpace(sym))
	return s == "BTC" || s == "ETH"
}
