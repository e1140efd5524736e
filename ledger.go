package core

import (
	"context"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type (
	CollateralStore interface {
		FindCollateral(ctx context.Context, accountId uuid.UUID, assetId string) (*CollateralBalance, error)
		ListCollateral(ctx context.Context, accountId uuid.UUID) ([]*CollateralBalance, error)
	}

	DebtStore interface {
		FindDebt(ctx context.Context, accountId uuid.UUID) (*DebtBalance, error)
	}

	// CollateralBalance is one account's holding of one collateral asset. A
	// missing row reads as a zero balance.
	CollateralBalance struct {
		AccountId  uuid.UUID       `json:"accountId"`
		AssetId    string          `json:"assetId"`
		Amount     decimal.Decimal `json:"amount"`
		LastUpdate int64           `json:"lastUpdate"`
	}

	// DebtBalance is one account's outstanding minted debt.
	DebtBalance struct {
		AccountId  uuid.UUID       `json:"accountId"`
		Minted     decimal.Decimal `json:"minted"`
		LastUpdate int64           `json:"lastUpdate"`
	}
)

// LedgerService is the authoritative state behind the engine, passed by
// reference into every component that reads or commits it.
type LedgerService struct {
	AccountStore
	CollateralStore
	DebtStore
	OperationStore
}

// PositionChange is the commit payload of one position operation: every row
// it touched plus the events it emitted, persisted in one atomic write.
type PositionChange struct {
	Account    *Account             `json:"account"`
	Collateral []*CollateralBalance `json:"collateral,omitempty"`
	Debt       *DebtBalance         `json:"debt,omitempty"`
	Events     []*Event             `json:"events,omitempty"`
}

func NewCollateralBalance(clk clock.Clock, accountId uuid.UUID, assetId string) *CollateralBalance {
	return &CollateralBalance{
		AccountId:  accountId,
		AssetId:    assetId,
		Amount:     decimal.Zero,
		LastUpdate: clk.Now().Unix(),
	}
}

func NewDebtBalance(clk clock.Clock, accountId uuid.UUID) *DebtBalance {
	return &DebtBalance{
		AccountId:  accountId,
		Minted:     decimal.Zero,
		LastUpdate: clk.Now().Unix(),
	}
}

// FindOrCreateCollateral loads a stored balance row or hands back a fresh
// zero row. Fresh rows stay unpersisted until the operation commits.
func FindOrCreateCollateral(ctx context.Context, clk clock.Clock, svc LedgerService, accountId uuid.UUID, assetId string) (*CollateralBalance, error) {
	balance, err := svc.FindCollateral(ctx, accountId, assetId)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return NewCollateralBalance(clk, accountId, assetId), nil
		}
		return nil, err
	}
	return balance, nil
}

func FindOrCreateDebt(ctx context.Context, clk clock.Clock, svc LedgerService, accountId uuid.UUID) (*DebtBalance, error) {
	debt, err := svc.FindDebt(ctx, accountId)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return NewDebtBalance(clk, accountId), nil
		}
		return nil, err
	}
	return debt, nil
}

func (b *CollateralBalance) Clone() *CollateralBalance {
	return &CollateralBalance{
		AccountId:  b.AccountId,
		AssetId:    b.AssetId,
		Amount:     b.Amount,
		LastUpdate: b.LastUpdate,
	}
}

// Add credits the balance.
func (b *CollateralBalance) Add(clk clock.Clock, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return InvalidAmount
	}
	b.Amount = b.Amount.Add(amount)
	b.LastUpdate = clk.Now().Unix()
	return nil
}

// Sub debits the balance, refusing to cross zero.
func (b *CollateralBalance) Sub(clk clock.Clock, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return InvalidAmount
	}
	if b.Amount.LessThan(amount) {
		return InsufficientCollateral
	}
	b.Amount = b.Amount.Sub(amount)
	b.LastUpdate = clk.Now().Unix()
	return nil
}

func (d *DebtBalance) Clone() *DebtBalance {
	return &DebtBalance{
		AccountId:  d.AccountId,
		Minted:     d.Minted,
		LastUpdate: d.LastUpdate,
	}
}

func (d *DebtBalance) Add(clk clock.Clock, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return InvalidAmount
	}
	d.Minted = d.Minted.Add(amount)
	d.LastUpdate = clk.Now().Unix()
	return nil
}

func (d *DebtBalance) Sub(clk clock.Clock, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return InvalidAmount
	}
	if d.Minted.LessThan(amount) {
		return InsufficientDebt
	}
	d.Minted = d.Minted.Sub(amount)
	d.LastUpdate = clk.Now().Unix()
	return nil
}
