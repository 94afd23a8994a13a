package executor

import (
	"fmt"
	"strings"
	"time"
)

// ValidateDecisions applies sanity checks against configuration and current context.
func ValidateDecisions(cfg *Config, ctx *Context, decisions []Decision) error {
	if cfg == nil {
		return fmt.Errorf("executor: missing config for validation")
	}
	for i, d := range decisions {
		action := strings.TrimSpace(d.Action)
		symbol := strings.TrimSpace(d.Symbol)

		switch action {
		case "open_long", "open_short":
			if err := validateOpenDecision(cfg, ctx, d, symbol, action); err != nil {
				return fmt.Errorf("decision[%d]: %w", i, err)
			}
		case "close_long", "close_short":
			if err := validateCloseDecision(ctx, d, symbol, action); err != nil {
				return fmt.Errorf("decision[%d]: %w", i, err)
			}
		case "hold", "wait":
			// ok
		default:
			return fmt.Errorf("decision[%d]: unknown action %q", i, d.Action)
		}
	}
	return nil
}

// validateOpenDecision checks an open_long/open_short decision against the
// static config bounds (leverage, risk/reward, confidence) and, where ctx
// supplies live account/market state, the dynamic guards (liquidity,
// position-value bands, margin usage, cooldown, pyramiding).
func validateOpenDecision(cfg *Config, ctx *Context, d Decision, symbol, action string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if d.Leverage <= 0 {
		return fmt.Errorf("leverage must be positive")
	}
	if d.PositionSizeUSD <= 0 {
		return fmt.Errorf("position_size_usd must be positive")
	}
	if d.StopLoss <= 0 || d.TakeProfit <= 0 || d.EntryPrice <= 0 {
		return fmt.Errorf("entry/stop_loss/take_profit must be positive")
	}
	if d.Confidence < 0 || d.Confidence > 100 {
		return fmt.Errorf("confidence must be 0-100")
	}
	if d.Confidence < cfg.MinConfidence {
		return fmt.Errorf("confidence below threshold")
	}
	if err := validateRiskReward(d, action, cfg.MinRiskReward); err != nil {
		return err
	}
	if err := validateLeverageCap(cfg, ctx, d); err != nil {
		return err
	}
	if ctx != nil {
		if err := validateLiveGuards(cfg, ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// validateRiskReward enforces the entry/stop/take-profit price ordering for
// the given direction and the minimum reward-to-risk ratio.
func validateRiskReward(d Decision, action string, minRR float64) error {
	if action == "open_long" {
		if !(d.TakeProfit > d.EntryPrice && d.EntryPrice > d.StopLoss) {
			return fmt.Errorf("long requires TP>entry>SL")
		}
		rr := (d.TakeProfit - d.EntryPrice) / (d.EntryPrice - d.StopLoss)
		if rr < minRR {
			return fmt.Errorf("reward/risk %.2f below min %.2f", rr, minRR)
		}
		return nil
	}
	if !(d.StopLoss > d.EntryPrice && d.EntryPrice > d.TakeProfit) {
		return fmt.Errorf("short requires SL>entry>TP")
	}
	rr := (d.EntryPrice - d.TakeProfit) / (d.StopLoss - d.EntryPrice)
	if rr < minRR {
		return fmt.Errorf("reward/risk %.2f below min %.2f", rr, minRR)
	}
	return nil
}

// validateLeverageCap takes the stricter of the config-level cap (major-coin
// vs altcoin) and any asset-specific max leverage ctx supplies.
func validateLeverageCap(cfg *Config, ctx *Context, d Decision) error {
	capLev := cfg.AltcoinLeverage
	if isBTCETH(d.Symbol) {
		capLev = cfg.MajorCoinLeverage
	}
	if ctx != nil && ctx.AssetMeta != nil {
		if meta, ok := ctx.AssetMeta[d.Symbol]; ok && meta.MaxLeverage > 0 {
			if ml := int(meta.MaxLeverage); ml < capLev {
				capLev = ml
			}
		}
	}
	if d.Leverage > capLev {
		return fmt.Errorf("leverage %dx exceeds cap %dx", d.Leverage, capLev)
	}
	return nil
}

// validateLiveGuards applies the guards that only make sense with the
// Manager-supplied runtime context: liquidity floor, position-value bands,
// margin usage after the new position, close cooldown, position-count cap,
// no-pyramiding, and risk/size ceilings.
func validateLiveGuards(cfg *Config, ctx *Context, d Decision) error {
	if err := validateLiquidity(ctx, d); err != nil {
		return err
	}
	if err := validatePositionValueBand(ctx, d); err != nil {
		return err
	}
	if err := validateMarginUsage(ctx, d); err != nil {
		return err
	}
	if err := validateCooldown(ctx, d); err != nil {
		return err
	}
	if len(ctx.Positions) >= cfg.MaxPositions {
		return fmt.Errorf("max_positions reached (%d)", cfg.MaxPositions)
	}
	for _, p := range ctx.Positions {
		if strings.EqualFold(p.Symbol, d.Symbol) {
			return fmt.Errorf("position already exists on %s; no add/hedge allowed", d.Symbol)
		}
	}
	if ctx.Account.TotalEquity > 0 && ctx.MaxRiskPct > 0 {
		maxRiskUSD := ctx.Account.TotalEquity * (ctx.MaxRiskPct / 100.0)
		if d.RiskUSD > maxRiskUSD+1e-9 {
			return fmt.Errorf("risk_usd %.2f exceeds max %.2f (%.2f%% of equity)", d.RiskUSD, maxRiskUSD, ctx.MaxRiskPct)
		}
	}
	if ctx.MaxPositionSizeUSD > 0 && d.PositionSizeUSD > ctx.MaxPositionSizeUSD+1e-9 {
		return fmt.Errorf("position_size_usd %.2f exceeds cap %.2f", d.PositionSizeUSD, ctx.MaxPositionSizeUSD)
	}
	return nil
}

func validateLiquidity(ctx *Context, d Decision) error {
	if ctx.LiquidityThresholdUSD <= 0 || ctx.MarketDataMap == nil {
		return nil
	}
	snap, ok := ctx.MarketDataMap[d.Symbol]
	if !ok || snap == nil || snap.OpenInterest == nil || snap.Price.Last <= 0 {
		return nil
	}
	oiValueUSD := snap.OpenInterest.Latest * snap.Price.Last
	if oiValueUSD+1e-9 < ctx.LiquidityThresholdUSD {
		return fmt.Errorf("%s illiquid: oi*price %.2f < threshold %.2f", d.Symbol, oiValueUSD, ctx.LiquidityThresholdUSD)
	}
	return nil
}

func validatePositionValueBand(ctx *Context, d Decision) error {
	if ctx.Account.TotalEquity <= 0 {
		return nil
	}
	equity := ctx.Account.TotalEquity
	minMult, maxMult := ctx.AltPositionValueMinMultiple, ctx.AltPositionValueMaxMultiple
	label := "alt"
	if isBTCETH(d.Symbol) {
		minMult, maxMult = ctx.BTCETHPositionValueMinMultiple, ctx.BTCETHPositionValueMaxMultiple
		label = "BTC/ETH"
	}
	if minMult > 0 {
		minV := equity * minMult
		if d.PositionSizeUSD+1e-9 < minV {
			return fmt.Errorf("position_size_usd %.2f below %s min %.2f (%.2fx equity)", d.PositionSizeUSD, label, minV, minMult)
		}
	}
	if maxMult > 0 {
		maxV := equity * maxMult
		if d.PositionSizeUSD-1e-9 > maxV {
			return fmt.Errorf("position_size_usd %.2f exceeds %s max %.2f (%.2fx equity)", d.PositionSizeUSD, label, maxV, maxMult)
		}
	}
	return nil
}

func validateMarginUsage(ctx *Context, d Decision) error {
	if ctx.MaxMarginUsagePct <= 0 || ctx.Account.TotalEquity <= 0 || d.Leverage <= 0 {
		return nil
	}
	newMargin := d.PositionSizeUSD / float64(d.Leverage)
	used := ctx.Account.MarginUsed + newMargin
	usagePct := 100 * (used / ctx.Account.TotalEquity)
	if usagePct > ctx.MaxMarginUsagePct+1e-9 {
		return fmt.Errorf("margin usage %.2f%% exceeds cap %.2f%% after new position", usagePct, ctx.MaxMarginUsagePct)
	}
	return nil
}

func validateCooldown(ctx *Context, d Decision) error {
	if ctx.CooldownAfterClose <= 0 || ctx.RecentlyClosed == nil {
		return nil
	}
	ts, ok := ctx.RecentlyClosed[d.Symbol]
	if !ok || ts.IsZero() {
		return nil
	}
	if elapsed := time.Since(ts); elapsed < ctx.CooldownAfterClose {
		return fmt.Errorf("%s in cooldown window (%s remaining)", d.Symbol, (ctx.CooldownAfterClose - elapsed).Truncate(time.Second))
	}
	return nil
}

// validateCloseDecision requires a matching open position on the side being
// closed; close decisions have no config-driven bounds of their own.
func validateCloseDecision(ctx *Context, d Decision, symbol, action string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if ctx == nil {
		return fmt.Errorf("context required to validate close action")
	}
	wantSide := "long"
	if action == "close_short" {
		wantSide = "short"
	}
	for _, p := range ctx.Positions {
		if strings.EqualFold(p.Symbol, d.Symbol) && strings.EqualFold(p.Side, wantSide) {
			return nil
		}
	}
	return fmt.Errorf("no matching %s position to close for %s", wantSide, d.Symbol)
}
