package hyperliquid

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// GetAssetIndex resolves the exchange asset index for the given coin.
func (c *Client) GetAssetIndex(ctx context.Context, coin string) (int, error) {
	key := canonicalAssetKey(coin)
	if key == "" {
		return 0, fmt.Errorf("hyperliquid: empty coin symbol")
	}

	if idx, ok := c.cachedAssetIndex(key); ok {
		return idx, nil
	}
	if err := c.refreshAssetDirectory(ctx); err != nil {
		return 0, err
	}
	if idx, ok := c.cachedAssetIndex(key); ok {
		return idx, nil
	}
	return 0, fmt.Errorf("hyperliquid: asset %s not found", coin)
}

// GetAssetInfo returns cached asset metadata.
func (c *Client) GetAssetInfo(ctx context.Context, coin string) (*AssetInfo, error) {
	key := canonicalAssetKey(coin)
	if key == "" {
		return nil, fmt.Errorf("hyperliquid: empty coin symbol")
	}
	if info, ok := c.cachedAssetInfo(key); ok {
		return &info, nil
	}
	if err := c.refreshAssetDirectory(ctx); err != nil {
		return nil, err
	}
	if info, ok := c.cachedAssetInfo(key); ok {
		return &info, nil
	}
	return nil, fmt.Errorf("hyperliquid: asset info %s not found", coin)
}

func (c *Client) cachedAssetIndex(key string) (int, bool) {
	c.assetMu.RLock()
	defer c.assetMu.RUnlock()
	idx, ok := c.assetIndex[key]
	return idx, ok
}

func (c *Client) cachedAssetInfo(key string) (AssetInfo, bool) {
	c.assetMu.RLock()
	defer c.assetMu.RUnlock()
	info, ok := c.assetInfo[key]
	return info, ok
}

func (c *Client) refreshAssetDirectory(ctx context.Context) error {
	var resp MetaAndAssetCtxsResponse
	if err := c.doInfoRequest(ctx, InfoRequest{Type: "metaAndAssetCtxs"}, &resp); err != nil {
		return err
	}
	if len(resp.Universe) == 0 {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs response contained no assets")
	}

	index := make(map[string]int, len(resp.Universe))
	info := make(map[string]AssetInfo, len(resp.Universe))
	for idx, entry := range resp.Universe {
		key := canonicalAssetKey(entry.Name)
		if key == "" {
			continue
		}
		var ctx AssetCtx
		if idx < len(resp.AssetCtxs) {
			ctx = resp.AssetCtxs[idx]
		}
		info[key] = AssetInfo{
			Name:         entry.Name,
			SzDecimals:   entry.SzDecimals,
			MaxLeverage:  entry.MaxLeverage,
			MarginTable:  entry.MarginTable,
			OnlyIsolated: entry.OnlyIsolated,
			IsDelisted:   entry.IsDelisted,
			Index:        idx,
			MarkPx:       ctx.MarkPx,
			MidPx:        ctx.MidPx,
			OraclePx:     ctx.OraclePx,
			ImpactPxs:    append([]string(nil), ctx.ImpactPxs...),
		}
		index[key] = idx
	}

	c.assetMu.Lock()
	c.assetIndex = index
	c.assetInfo = info
	c.assetMu.Unlock()
	return nil
}

func canonicalAssetKey(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// FormatPrice rounds price to the client's configured significant figures
// after verifying that coin exists in the asset directory.
func (c *Client) FormatPrice(ctx context.Context, coin string, price float64) (string, error) {
	if !isFinite(price) || price <= 0 {
		return "", fmt.Errorf("hyperliquid: invalid price %v", price)
	}
	if _, err := c.GetAssetIndex(ctx, coin); err != nil {
		return "", err
	}
	return RoundPriceToSigFigs(price, c.sigFigsOrDefault()), nil
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// RoundPriceToSigFigs rounds price to sigFigs significant digits and renders
// it as a plain decimal string (no scientific notation), matching
// HyperLiquid's requirement that submitted prices carry at most 5
// significant figures.
func RoundPriceToSigFigs(price float64, sigFigs int) string {
	if price == 0 {
		return "0"
	}
	if sigFigs <= 0 {
		sigFigs = 5
	}
	magnitude := math.Floor(math.Log10(math.Abs(price))) + 1
	scale := math.Pow(10, float64(sigFigs)-magnitude)
	rounded := math.Round(price*scale) / scale
	return trimTrailingZeros(strconv.FormatFloat(rounded, 'f', -1, 64))
}
