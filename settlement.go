package core

import (
	"context"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type (
	SettlementStore interface {
		CreateSettlement(ctx context.Context, settlement *Settlement) error
		UpdateSettlementStatus(ctx context.Context, id string, status SettlementStatus) error
		GetSettlement(ctx context.Context, id string) (*Settlement, error)
	}

	// Settlement is one external token leg. Rows are written before the leg
	// runs and resolved after, outside the operation's commit: a leg that
	// settled while the engine aborted still shows up here. A row stuck
	// pending means the outcome was never recorded and reconciliation owns
	// it.
	Settlement struct {
		Id        string           `json:"id"`
		Leg       SettlementLeg    `json:"leg"`
		AssetId   string           `json:"assetId,omitempty"`
		Principal string           `json:"principal,omitempty"`
		Amount    decimal.Decimal  `json:"amount"`
		Status    SettlementStatus `json:"status"`

		CreatedAt int64 `json:"createdAt"`
		UpdatedAt int64 `json:"updatedAt"`
	}

	SettlementStatus string

	SettlementLeg string
)

const (
	SettlementStatusPending   SettlementStatus = "pending"
	SettlementStatusConfirmed SettlementStatus = "confirmed"
	SettlementStatusRefused   SettlementStatus = "refused"
	SettlementStatusFailed    SettlementStatus = "failed"
)

const (
	SettlementLegCollateralIn  SettlementLeg = "collateral_in"
	SettlementLegCollateralOut SettlementLeg = "collateral_out"
	SettlementLegPeggedMint    SettlementLeg = "pegged_mint"
	SettlementLegPeggedPull    SettlementLeg = "pegged_pull"
	SettlementLegPeggedBurn    SettlementLeg = "pegged_burn"
)

func newSettlement(clk clock.Clock, leg SettlementLeg, assetId, principal string, amount decimal.Decimal) *Settlement {
	return &Settlement{
		Id:        uuid.Must(uuid.NewV4()).String(),
		Leg:       leg,
		AssetId:   assetId,
		Principal: principal,
		Amount:    amount,
		Status:    SettlementStatusPending,
		CreatedAt: clk.Now().Unix(),
		UpdatedAt: clk.Now().Unix(),
	}
}

func settlementOutcome(ok bool, err error) SettlementStatus {
	switch {
	case err != nil:
		return SettlementStatusFailed
	case !ok:
		return SettlementStatusRefused
	default:
		return SettlementStatusConfirmed
	}
}

// JournaledCollateralToken wraps a CollateralToken and journals every leg.
// Failing to resolve a row never masks the leg's own outcome; the row stays
// pending instead.
type JournaledCollateralToken struct {
	clk   clock.Clock
	inner CollateralToken
	store SettlementStore
}

var _ CollateralToken = (*JournaledCollateralToken)(nil)

func NewJournaledCollateralToken(clk clock.Clock, inner CollateralToken, store SettlementStore) *JournaledCollateralToken {
	return &JournaledCollateralToken{clk: clk, inner: inner, store: store}
}

func (t *JournaledCollateralToken) TransferFrom(ctx context.Context, assetId, from, to string, amount decimal.Decimal) (bool, error) {
	settlement := newSettlement(t.clk, SettlementLegCollateralIn, assetId, from, amount)
	if err := t.store.CreateSettlement(ctx, settlement); err != nil {
		return false, err
	}
	ok, err := t.inner.TransferFrom(ctx, assetId, from, to, amount)
	_ = t.store.UpdateSettlementStatus(ctx, settlement.Id, settlementOutcome(ok, err))
	return ok, err
}

func (t *JournaledCollateralToken) Transfer(ctx context.Context, assetId, to string, amount decimal.Decimal) (bool, error) {
	settlement := newSettlement(t.clk, SettlementLegCollateralOut, assetId, to, amount)
	if err := t.store.CreateSettlement(ctx, settlement); err != nil {
		return false, err
	}
	ok, err := t.inner.Transfer(ctx, assetId, to, amount)
	_ = t.store.UpdateSettlementStatus(ctx, settlement.Id, settlementOutcome(ok, err))
	return ok, err
}

// JournaledPeggedToken wraps a PeggedToken the same way. Pegged legs carry no
// asset id; the leg name identifies the unit.
type JournaledPeggedToken struct {
	clk   clock.Clock
	inner PeggedToken
	store SettlementStore
}

var _ PeggedToken = (*JournaledPeggedToken)(nil)

func NewJournaledPeggedToken(clk clock.Clock, inner PeggedToken, store SettlementStore) *JournaledPeggedToken {
	return &JournaledPeggedToken{clk: clk, inner: inner, store: store}
}

func (t *JournaledPeggedToken) Mint(ctx context.Context, to string, amount decimal.Decimal) (bool, error) {
	settlement := newSettlement(t.clk, SettlementLegPeggedMint, "", to, amount)
	if err := t.store.CreateSettlement(ctx, settlement); err != nil {
		return false, err
	}
	ok, err := t.inner.Mint(ctx, to, amount)
	_ = t.store.UpdateSettlementStatus(ctx, settlement.Id, settlementOutcome(ok, err))
	return ok, err
}

func (t *JournaledPeggedToken) TransferFrom(ctx context.Context, from, to string, amount decimal.Decimal) (bool, error) {
	settlement := newSettlement(t.clk, SettlementLegPeggedPull, "", from, amount)
	if err := t.store.CreateSettlement(ctx, settlement); err != nil {
		return false, err
	}
	ok, err := t.inner.TransferFrom(ctx, from, to, amount)
	_ = t.store.UpdateSettlementStatus(ctx, settlement.Id, settlementOutcome(ok, err))
	return ok, err
}

func (t *JournaledPeggedToken) Burn(ctx context.Context, amount decimal.Decimal) error {
	settlement := newSettlement(t.clk, SettlementLegPeggedBurn, "", "", amount)
	if err := t.store.CreateSettlement(ctx, settlement); err != nil {
		return err
	}
	err := t.inner.Burn(ctx, amount)
	_ = t.store.UpdateSettlementStatus(ctx, settlement.Id, settlementOutcome(err == nil, err))
	return err
}
