package core

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"strconv"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/PegVault/core/utils"
)

type (
	// LiquidationBalances captures the target's touched rows on one side of a
	// liquidation.
	LiquidationBalances struct {
		TargetCollateral *CollateralBalance `json:"targetCollateral"`
		TargetDebt       *DebtBalance       `json:"targetDebt"`
	}

	// LiquidateResult is the committed record of one liquidation. Pre and
	// post balances are deep copies taken around the seizure, so the row
	// doubles as an audit trail of what the engine saw.
	LiquidateResult struct {
		Id               uuid.UUID           `json:"id"`
		AssetId          string              `json:"assetId"`
		Liquidator       *Account            `json:"liquidator"`
		Target           *Account            `json:"target"`
		PreBalances      LiquidationBalances `json:"preBalances"`
		PostBalances     LiquidationBalances `json:"postBalances"`
		TargetPreHealth  decimal.Decimal     `json:"targetPreHealth"`
		TargetPostHealth decimal.Decimal     `json:"targetPostHealth"`
		DebtCovered      decimal.Decimal     `json:"debtCovered"`
		CollateralSeized decimal.Decimal     `json:"collateralSeized"`
		Bonus            decimal.Decimal     `json:"bonus"`
		Quote            *PriceQuote         `json:"quote"`
		Events           []*Event            `json:"-"`
		CreatedAt        int64               `json:"createdAt"`
	}
)

func (b LiquidationBalances) Value() (driver.Value, error) {
	return json.Marshal(b)
}

func (b *LiquidationBalances) Scan(input interface{}) error {
	switch v := input.(type) {
	case []byte:
		return json.Unmarshal(v, b)
	case string:
		return json.Unmarshal([]byte(v), b)
	default:
		return errors.Errorf("scan liquidation balances: unsupported type %T", input)
	}
}

// Liquidate lets any account repay debtToCover of an unhealthy target's debt
// and seize target collateral worth the covered debt plus
// LIQUIDATION_BONUS, all valued at a single oracle read per asset.
//
// The call settles only when every condition holds:
//  1. the target's health factor is below the minimum
//  2. the target owes at least debtToCover
//  3. the target holds enough of the asset to cover the seizure and bonus
//  4. the seizure strictly improves the target's health factor
//  5. the liquidator's own position stays healthy at the same quotes
//
// On success the liquidator has received the seized collateral, debtToCover
// of the pegged unit has been pulled from the liquidator and burned, and the
// result row plus a redemption event are committed atomically.
func (e *Engine) Liquidate(ctx context.Context, liquidatorPrincipal, targetPrincipal, assetId string, debtToCover decimal.Decimal) (result *LiquidateResult, err error) {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	defer func() { e.metrics.RecordOperation("liquidate", err == nil) }()

	if err := validateAmount(debtToCover); err != nil {
		return nil, err
	}
	if !e.registry.IsAllowed(assetId) {
		return nil, AssetNotAllowed
	}

	target, err := FindOrCreateAccount(ctx, e.clk, e.ledger, targetPrincipal)
	if err != nil {
		return nil, err
	}
	liquidator, err := FindOrCreateAccount(ctx, e.clk, e.ledger, liquidatorPrincipal)
	if err != nil {
		return nil, err
	}

	targetRisk, err := NewRiskEngine(ctx, e.ledger, e.oracle, target, nil, nil)
	if err != nil {
		return nil, err
	}
	preHealth, err := targetRisk.CheckLiquidatable()
	if err != nil {
		return nil, err
	}

	var seizeRow *CollateralBalance
	var quote *PriceQuote
	for _, c := range targetRisk.Collateral {
		if c.Balance.AssetId == assetId {
			seizeRow = c.Balance
			quote = c.Quote
			break
		}
	}
	if seizeRow == nil {
		return nil, InsufficientCollateral
	}
	// Liquidatable implies debt outstanding.
	debtRow := targetRisk.Debt

	seizeBase, err := CalcAmount(debtToCover, quote.Price)
	if err != nil {
		return nil, err
	}
	bonus, _ := seizeBase.Mul(LIQUIDATION_BONUS).QuoRem(LIQUIDATION_PRECISION, AMOUNT_PRECISION)
	seizeAmount := seizeBase.Add(bonus)

	pre := LiquidationBalances{
		TargetCollateral: seizeRow.Clone(),
		TargetDebt:       debtRow.Clone(),
	}

	// Stage the seizure on the live rows; the risk engine re-values the
	// target at the quotes it already holds.
	if err := debtRow.Sub(e.clk, debtToCover); err != nil {
		return nil, err
	}
	if err := seizeRow.Sub(e.clk, seizeAmount); err != nil {
		return nil, err
	}

	postHealth := targetRisk.HealthFactor()
	if postHealth.LessThanOrEqual(preHealth) {
		return nil, HealthFactorNotImproved
	}

	liquidatorRisk, err := newRiskEngineWithQuotes(ctx, e.ledger, e.oracle, liquidator, nil, nil, targetRisk.Quotes())
	if err != nil {
		return nil, err
	}
	if err := liquidatorRisk.CheckHealthy(); err != nil {
		return nil, err
	}

	ok, err := e.collateral.Transfer(ctx, assetId, liquidatorPrincipal, seizeAmount)
	if err != nil {
		return nil, errors.Wrap(err, "push seized collateral")
	}
	if !ok {
		return nil, TransferFailed
	}
	ok, err = e.pegged.TransferFrom(ctx, liquidatorPrincipal, e.vault, debtToCover)
	if err != nil {
		return nil, errors.Wrap(err, "pull pegged")
	}
	if !ok {
		return nil, TransferFailed
	}
	if err := e.pegged.Burn(ctx, debtToCover); err != nil {
		return nil, errors.Wrap(err, "burn pegged")
	}

	now := e.clk.Now().Unix()
	result = &LiquidateResult{
		Id:          liquidationId(liquidator, target, assetId, debtToCover, now),
		AssetId:     assetId,
		Liquidator:  liquidator,
		Target:      target,
		PreBalances: pre,
		PostBalances: LiquidationBalances{
			TargetCollateral: seizeRow.Clone(),
			TargetDebt:       debtRow.Clone(),
		},
		TargetPreHealth:  preHealth,
		TargetPostHealth: postHealth,
		DebtCovered:      debtToCover,
		CollateralSeized: seizeAmount,
		Bonus:            bonus,
		Quote:            quote,
		Events:           []*Event{NewRedeemEvent(e.clk, target.Id, liquidator.Id, assetId, seizeAmount)},
		CreatedAt:        now,
	}

	if err := e.ledger.SaveLiquidation(ctx, result); err != nil {
		e.log.Error().Msgf("liquidation commit failed for account %s after external settlement: %v", target.Id, err)
		return nil, errors.Wrap(err, "save liquidation")
	}

	e.metrics.RecordLiquidation(assetId, debtToCover.InexactFloat64(), seizeAmount.InexactFloat64())
	e.observeFactor(postHealth)
	e.log.Info().Msgf("liquidated %s: %s covered %s debt, seized %s %s (bonus %s)", targetPrincipal, liquidatorPrincipal, debtToCover, seizeAmount, assetId, bonus)
	return result, nil
}

func liquidationId(liquidator, target *Account, assetId string, debtToCover decimal.Decimal, createdAt int64) uuid.UUID {
	return uuid.Must(uuid.FromString(utils.DeriveUuid(
		liquidator.Id.String(),
		target.Id.String(),
		assetId,
		debtToCover.String(),
		strconv.FormatInt(createdAt, 10),
	)))
}
