package core

import (
	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type (
	// CollateralSnapshot is one collateral line of an account snapshot,
	// valued at the quote the snapshot was taken with.
	CollateralSnapshot struct {
		AssetId  string          `json:"assetId"`
		Amount   decimal.Decimal `json:"amount"`
		Price    decimal.Decimal `json:"price"`
		UsdValue decimal.Decimal `json:"usdValue"`
	}

	// AccountSnapshot is a point-in-time view of a full position. All lines
	// share the quotes of a single oracle read, so the totals are internally
	// consistent even while prices move.
	AccountSnapshot struct {
		AccountId    uuid.UUID             `json:"accountId"`
		Principal    string                `json:"principal"`
		Collateral   []*CollateralSnapshot `json:"collateral"`
		DebtMinted   decimal.Decimal       `json:"debtMinted"`
		TotalValue   decimal.Decimal       `json:"totalValue"`
		HealthFactor decimal.Decimal       `json:"healthFactor"`
		Timestamp    int64                 `json:"timestamp"`
	}
)

func NewAccountSnapshot(clk clock.Clock, risk *RiskEngine) *AccountSnapshot {
	collateral := make([]*CollateralSnapshot, 0, len(risk.Collateral))
	for _, c := range risk.Collateral {
		collateral = append(collateral, &CollateralSnapshot{
			AssetId:  c.Balance.AssetId,
			Amount:   c.Balance.Amount,
			Price:    c.Quote.Price,
			UsdValue: CalcValue(c.Balance.Amount, c.Quote.Price),
		})
	}

	return &AccountSnapshot{
		AccountId:    risk.Account.Id,
		Principal:    risk.Account.Principal,
		Collateral:   collateral,
		DebtMinted:   risk.DebtMinted(),
		TotalValue:   risk.TotalCollateralValue(),
		HealthFactor: risk.HealthFactor(),
		Timestamp:    clk.Now().Unix(),
	}
}
