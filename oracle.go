package core

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type (
	// PriceSource is the external oracle. Freshness is the source's
	// responsibility; the engine takes one quote per asset per operation and
	// never caches across operations. LatestPrice must return a fresh quote
	// value on every call.
	PriceSource interface {
		LatestPrice(ctx context.Context, priceFeedId string) (*PriceQuote, error)
	}

	PriceQuote struct {
		AssetId   string          `json:"assetId"`
		FeedId    string          `json:"feedId"`
		Price     decimal.Decimal `json:"price"`
		UpdatedAt int64           `json:"updatedAt"`
	}
)

// OracleAdapter resolves assets to their feeds through the registry and
// refuses non-positive quotes before they reach any valuation.
type OracleAdapter struct {
	registry *CollateralRegistry
	source   PriceSource
}

func NewOracleAdapter(registry *CollateralRegistry, source PriceSource) *OracleAdapter {
	return &OracleAdapter{
		registry: registry,
		source:   source,
	}
}

func (o *OracleAdapter) Price(ctx context.Context, assetId string) (*PriceQuote, error) {
	asset, ok := o.registry.Asset(assetId)
	if !ok {
		return nil, AssetNotAllowed
	}

	quote, err := o.source.LatestPrice(ctx, asset.PriceFeedId)
	if err != nil {
		return nil, errors.Wrapf(err, "read price feed %s", asset.PriceFeedId)
	}
	if !quote.Price.IsPositive() {
		return nil, OraclePriceInvalid
	}

	quote.AssetId = assetId
	quote.FeedId = asset.PriceFeedId
	return quote, nil
}

// UsdValue prices amount at the current quote.
func (o *OracleAdapter) UsdValue(ctx context.Context, assetId string, amount decimal.Decimal) (decimal.Decimal, error) {
	quote, err := o.Price(ctx, assetId)
	if err != nil {
		return decimal.Zero, err
	}
	return CalcValue(amount, quote.Price), nil
}

// TokenAmountFromUsd converts a usd value into asset units at the current
// quote.
func (o *OracleAdapter) TokenAmountFromUsd(ctx context.Context, assetId string, usdAmount decimal.Decimal) (decimal.Decimal, error) {
	quote, err := o.Price(ctx, assetId)
	if err != nil {
		return decimal.Zero, err
	}
	return CalcAmount(usdAmount, quote.Price)
}

// CalcValue is the usd value of amount at price. The product is exact; no
// rounding happens before a later division.
func CalcValue(amount, price decimal.Decimal) decimal.Decimal {
	if amount.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(price)
}

// CalcAmount is the asset amount a usd value buys at price, floored toward
// zero at AMOUNT_PRECISION. The floor under-delivers, never over-delivers.
func CalcAmount(value, price decimal.Decimal) (decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, OraclePriceInvalid
	}
	amount, _ := value.QuoRem(price, AMOUNT_PRECISION)
	return amount, nil
}
