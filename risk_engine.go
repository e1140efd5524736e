package core

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type (
	// CollateralWithPrice is one held collateral balance valued at the quote
	// read when the risk engine loaded.
	CollateralWithPrice struct {
		Balance *CollateralBalance
		Quote   *PriceQuote
	}

	// RiskEngine values one account's position. Balances passed as changed
	// overlay the stored rows by asset id, so checks see the effect of an
	// operation before anything is committed; the overlay entries stay live,
	// and mutating them re-values the position at the same quotes. Quotes are
	// read once at load, never per check.
	RiskEngine struct {
		Account    *Account
		Collateral []*CollateralWithPrice
		Debt       *DebtBalance
	}
)

func NewRiskEngine(ctx context.Context, svc LedgerService, oracle *OracleAdapter, account *Account, changedCollateral []*CollateralBalance, changedDebt *DebtBalance) (*RiskEngine, error) {
	return newRiskEngineWithQuotes(ctx, svc, oracle, account, changedCollateral, changedDebt, nil)
}

func newRiskEngineWithQuotes(ctx context.Context, svc LedgerService, oracle *OracleAdapter, account *Account, changedCollateral []*CollateralBalance, changedDebt *DebtBalance, quotes map[string]*PriceQuote) (*RiskEngine, error) {
	collateral, err := loadCollateralWithPrices(ctx, svc, oracle, account, changedCollateral, quotes)
	if err != nil {
		return nil, err
	}

	debt := changedDebt
	if debt == nil {
		stored, err := svc.FindDebt(ctx, account.Id)
		if err != nil && err != gorm.ErrRecordNotFound {
			return nil, err
		}
		debt = stored
	}

	return &RiskEngine{
		Account:    account,
		Collateral: collateral,
		Debt:       debt,
	}, nil
}

func loadCollateralWithPrices(ctx context.Context, svc LedgerService, oracle *OracleAdapter, account *Account, changed []*CollateralBalance, quotes map[string]*PriceQuote) ([]*CollateralWithPrice, error) {
	stored, err := svc.ListCollateral(ctx, account.Id)
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}

	merged := make([]*CollateralBalance, 0, len(stored)+len(changed))
	overlaid := make(map[string]bool, len(changed))
	for _, balance := range changed {
		if balance.AccountId != account.Id {
			continue
		}
		merged = append(merged, balance)
		overlaid[balance.AssetId] = true
	}
	for _, balance := range stored {
		if overlaid[balance.AssetId] {
			continue
		}
		merged = append(merged, balance)
	}

	out := make([]*CollateralWithPrice, 0, len(merged))
	for _, balance := range merged {
		quote, ok := quotes[balance.AssetId]
		if !ok {
			quote, err = oracle.Price(ctx, balance.AssetId)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, &CollateralWithPrice{Balance: balance, Quote: quote})
	}
	return out, nil
}

// Quote returns the quote read at load for one held asset.
func (r *RiskEngine) Quote(assetId string) (*PriceQuote, bool) {
	for _, c := range r.Collateral {
		if c.Balance.AssetId == assetId {
			return c.Quote, true
		}
	}
	return nil, false
}

// Quotes returns every quote read at load, keyed by asset id.
func (r *RiskEngine) Quotes() map[string]*PriceQuote {
	out := make(map[string]*PriceQuote, len(r.Collateral))
	for _, c := range r.Collateral {
		out[c.Balance.AssetId] = c.Quote
	}
	return out
}

// TotalCollateralValue sums the usd value of every held collateral asset.
func (r *RiskEngine) TotalCollateralValue() decimal.Decimal {
	total := decimal.Zero
	for _, c := range r.Collateral {
		total = total.Add(CalcValue(c.Balance.Amount, c.Quote.Price))
	}
	return total
}

func (r *RiskEngine) DebtMinted() decimal.Decimal {
	if r.Debt == nil {
		return decimal.Zero
	}
	return r.Debt.Minted
}

func (r *RiskEngine) HealthFactor() decimal.Decimal {
	return GetHealthFactor(r.TotalCollateralValue(), r.DebtMinted())
}

// CheckHealthy fails with the computed factor when the account sits below
// MIN_HEALTH_FACTOR.
func (r *RiskEngine) CheckHealthy() error {
	factor := r.HealthFactor()
	if factor.LessThan(MIN_HEALTH_FACTOR) {
		return HealthFactorBroken(factor)
	}
	return nil
}

// CheckLiquidatable returns the current factor when the account is below the
// minimum and may be liquidated, HealthFactorOk otherwise.
func (r *RiskEngine) CheckLiquidatable() (decimal.Decimal, error) {
	factor := r.HealthFactor()
	if factor.GreaterThanOrEqual(MIN_HEALTH_FACTOR) {
		return decimal.Zero, HealthFactorOk
	}
	return factor, nil
}

// GetHealthFactor haircuts the collateral value by LIQUIDATION_THRESHOLD out
// of LIQUIDATION_PRECISION and divides by debt, flooring the quotient so a
// borderline account never rounds up into solvency. Zero debt reads as
// MAX_HEALTH_FACTOR.
func GetHealthFactor(collateralValue, debt decimal.Decimal) decimal.Decimal {
	if debt.IsZero() {
		return MAX_HEALTH_FACTOR
	}

	adjusted := collateralValue.Mul(LIQUIDATION_THRESHOLD).Div(LIQUIDATION_PRECISION)
	factor, _ := adjusted.QuoRem(debt, AMOUNT_PRECISION)
	return factor
}
