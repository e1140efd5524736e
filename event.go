package core

import (
	"context"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type EventType uint8

const (
	EventCollateralDeposited EventType = iota + 1
	EventCollateralRedeemed
)

func (t EventType) String() string {
	switch t {
	case EventCollateralDeposited:
		return "CollateralDeposited"
	case EventCollateralRedeemed:
		return "CollateralRedeemed"
	default:
		return "Unknown"
	}
}

type (
	// OperationStore persists committed operations. Both save calls are
	// atomic: every row and event lands, or none do.
	OperationStore interface {
		SavePositionChange(ctx context.Context, change *PositionChange) error
		SaveLiquidation(ctx context.Context, result *LiquidateResult) error
		ListEvents(ctx context.Context, accountId uuid.UUID, createdBeforeAt, limit int64) ([]*Event, error)
	}

	// Event is a journal row for off-engine indexers; the engine never reads
	// it back. Redemptions carry the receiving account in PeerId: for a plain
	// withdrawal it equals AccountId, for a liquidation it is the liquidator.
	Event struct {
		Id        uuid.UUID       `json:"id"`
		Type      EventType       `json:"type"`
		AccountId uuid.UUID       `json:"accountId"`
		PeerId    uuid.UUID       `json:"peerId"`
		AssetId   string          `json:"assetId"`
		Amount    decimal.Decimal `json:"amount"`
		CreatedAt int64           `json:"createdAt"`
	}
)

func NewDepositEvent(clk clock.Clock, accountId uuid.UUID, assetId string, amount decimal.Decimal) *Event {
	return &Event{
		Id:        uuid.Must(uuid.NewV4()),
		Type:      EventCollateralDeposited,
		AccountId: accountId,
		PeerId:    accountId,
		AssetId:   assetId,
		Amount:    amount,
		CreatedAt: clk.Now().Unix(),
	}
}

func NewRedeemEvent(clk clock.Clock, fromAccountId, toAccountId uuid.UUID, assetId string, amount decimal.Decimal) *Event {
	return &Event{
		Id:        uuid.Must(uuid.NewV4()),
		Type:      EventCollateralRedeemed,
		AccountId: fromAccountId,
		PeerId:    toAccountId,
		AssetId:   assetId,
		Amount:    amount,
		CreatedAt: clk.Now().Unix(),
	}
}
