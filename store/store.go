// Package store persists the engine ledger with gorm. Row models stay local
// to the package; the exported surface speaks core types only.
package store

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/PegVault/core"
)

type Store struct {
	db *gorm.DB
}

var _ core.AccountStore = (*Store)(nil)
var _ core.CollateralStore = (*Store)(nil)
var _ core.DebtStore = (*Store)(nil)
var _ core.OperationStore = (*Store)(nil)
var _ core.AssetInfoStore = (*Store)(nil)
var _ core.SettlementStore = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// LedgerService bundles the store behind every ledger-facing interface the
// engine takes.
func (s *Store) LedgerService() core.LedgerService {
	return core.LedgerService{
		AccountStore:    s,
		CollateralStore: s,
		DebtStore:       s,
		OperationStore:  s,
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&Account{},
		&CollateralBalance{},
		&DebtBalance{},
		&Event{},
		&Liquidation{},
		&AssetInfo{},
		&Settlement{},
	)
}

type (
	Account struct {
		Id        string `gorm:"column:id;primaryKey;size:36"`
		Principal string `gorm:"column:principal;uniqueIndex;size:255"`
		CreatedAt int64  `gorm:"column:created_at"`
		UpdatedAt int64  `gorm:"column:updated_at"`
	}

	CollateralBalance struct {
		AccountId  string          `gorm:"column:account_id;primaryKey;size:36"`
		AssetId    string          `gorm:"column:asset_id;primaryKey;size:36"`
		Amount     decimal.Decimal `gorm:"column:amount;type:decimal(64,18)"`
		LastUpdate int64           `gorm:"column:last_update"`
	}

	DebtBalance struct {
		AccountId  string          `gorm:"column:account_id;primaryKey;size:36"`
		Minted     decimal.Decimal `gorm:"column:minted;type:decimal(64,18)"`
		LastUpdate int64           `gorm:"column:last_update"`
	}

	Event struct {
		Id        string          `gorm:"column:id;primaryKey;size:36"`
		Type      uint8           `gorm:"column:type"`
		AccountId string          `gorm:"column:account_id;size:36;index:idx_events_account,priority:1"`
		PeerId    string          `gorm:"column:peer_id;size:36"`
		AssetId   string          `gorm:"column:asset_id;size:36"`
		Amount    decimal.Decimal `gorm:"column:amount;type:decimal(64,18)"`
		CreatedAt int64           `gorm:"column:created_at;index:idx_events_account,priority:2"`
	}

	Liquidation struct {
		Id               string                   `gorm:"column:id;primaryKey;size:36"`
		AssetId          string                   `gorm:"column:asset_id;size:36"`
		LiquidatorId     string                   `gorm:"column:liquidator_id;size:36;index"`
		TargetId         string                   `gorm:"column:target_id;size:36;index"`
		PreBalances      core.LiquidationBalances `gorm:"column:pre_balances;type:text"`
		PostBalances     core.LiquidationBalances `gorm:"column:post_balances;type:text"`
		TargetPreHealth  decimal.Decimal          `gorm:"column:target_pre_health;type:decimal(64,18)"`
		TargetPostHealth decimal.Decimal          `gorm:"column:target_post_health;type:decimal(64,18)"`
		DebtCovered      decimal.Decimal          `gorm:"column:debt_covered;type:decimal(64,18)"`
		CollateralSeized decimal.Decimal          `gorm:"column:collateral_seized;type:decimal(64,18)"`
		Bonus            decimal.Decimal          `gorm:"column:bonus;type:decimal(64,18)"`
		PriceFeedId      string                   `gorm:"column:price_feed_id;size:36"`
		Price            decimal.Decimal          `gorm:"column:price;type:decimal(64,18)"`
		CreatedAt        int64                    `gorm:"column:created_at"`
	}

	AssetInfo struct {
		AssetId   string          `gorm:"column:asset_id;primaryKey;size:36"`
		ChainId   string          `gorm:"column:chain_id;size:36"`
		Symbol    string          `gorm:"column:symbol;size:32"`
		Name      string          `gorm:"column:name;size:128"`
		IconURL   string          `gorm:"column:icon_url;size:512"`
		Precision int32           `gorm:"column:precision"`
		Dust      decimal.Decimal `gorm:"column:dust;type:decimal(64,18)"`
	}

	Settlement struct {
		Id        string          `gorm:"column:id;primaryKey;size:36"`
		Leg       string          `gorm:"column:leg;size:32"`
		AssetId   string          `gorm:"column:asset_id;size:36"`
		Principal string          `gorm:"column:principal;size:255"`
		Amount    decimal.Decimal `gorm:"column:amount;type:decimal(64,18)"`
		Status    string          `gorm:"column:status;size:16;index"`
		CreatedAt int64           `gorm:"column:created_at"`
		UpdatedAt int64           `gorm:"column:updated_at"`
	}
)

func (Account) TableName() string           { return "accounts" }
func (CollateralBalance) TableName() string { return "collateral_balances" }
func (DebtBalance) TableName() string       { return "debt_balances" }
func (Event) TableName() string             { return "events" }
func (Liquidation) TableName() string       { return "liquidations" }
func (AssetInfo) TableName() string         { return "asset_infos" }
func (Settlement) TableName() string        { return "settlements" }

func (s *Store) GetAccountById(ctx context.Context, accountId uuid.UUID) (*core.Account, error) {
	var row Account
	if err := s.db.WithContext(ctx).Where("id = ?", accountId.String()).First(&row).Error; err != nil {
		return nil, err
	}
	return row.model(), nil
}

func (s *Store) GetAccountByPrincipal(ctx context.Context, principal string) (*core.Account, error) {
	var row Account
	if err := s.db.WithContext(ctx).Where("principal = ?", principal).First(&row).Error; err != nil {
		return nil, err
	}
	return row.model(), nil
}

func (s *Store) FindCollateral(ctx context.Context, accountId uuid.UUID, assetId string) (*core.CollateralBalance, error) {
	var row CollateralBalance
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND asset_id = ?", accountId.String(), assetId).
		First(&row).Error; err != nil {
		return nil, err
	}
	return row.model(), nil
}

func (s *Store) ListCollateral(ctx context.Context, accountId uuid.UUID) ([]*core.CollateralBalance, error) {
	var rows []*CollateralBalance
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountId.String()).
		Order("asset_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	balances := make([]*core.CollateralBalance, 0, len(rows))
	for _, row := range rows {
		balances = append(balances, row.model())
	}
	return balances, nil
}

func (s *Store) FindDebt(ctx context.Context, accountId uuid.UUID) (*core.DebtBalance, error) {
	var row DebtBalance
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountId.String()).First(&row).Error; err != nil {
		return nil, err
	}
	return row.model(), nil
}

func (s *Store) SavePositionChange(ctx context.Context, change *core.PositionChange) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertAccount(tx, change.Account); err != nil {
			return err
		}
		for _, balance := range change.Collateral {
			if err := upsertCollateral(tx, balance); err != nil {
				return err
			}
		}
		if change.Debt != nil {
			if err := upsertDebt(tx, change.Debt); err != nil {
				return err
			}
		}
		return createEvents(tx, change.Events)
	})
}

func (s *Store) SaveLiquidation(ctx context.Context, result *core.LiquidateResult) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertAccount(tx, result.Target); err != nil {
			return err
		}
		if err := upsertAccount(tx, result.Liquidator); err != nil {
			return err
		}
		if err := upsertCollateral(tx, result.PostBalances.TargetCollateral); err != nil {
			return err
		}
		if err := upsertDebt(tx, result.PostBalances.TargetDebt); err != nil {
			return err
		}
		if err := tx.Create(toLiquidationRow(result)).Error; err != nil {
			return err
		}
		return createEvents(tx, result.Events)
	})
}

func (s *Store) ListEvents(ctx context.Context, accountId uuid.UUID, createdBeforeAt, limit int64) ([]*core.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	db := s.db.WithContext(ctx).Where("account_id = ?", accountId.String())
	if createdBeforeAt > 0 {
		db = db.Where("created_at < ?", createdBeforeAt)
	}
	var rows []*Event
	if err := db.Order("created_at DESC, id DESC").Limit(int(limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	events := make([]*core.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.model())
	}
	return events, nil
}

func (s *Store) GetAssetInfo(ctx context.Context, assetId string) (*core.AssetInfo, error) {
	var row AssetInfo
	if err := s.db.WithContext(ctx).Where("asset_id = ?", assetId).First(&row).Error; err != nil {
		return nil, err
	}
	return row.model(), nil
}

func (s *Store) ListAssetInfos(ctx context.Context) ([]*core.AssetInfo, error) {
	var rows []*AssetInfo
	if err := s.db.WithContext(ctx).Order("asset_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	infos := make([]*core.AssetInfo, 0, len(rows))
	for _, row := range rows {
		infos = append(infos, row.model())
	}
	return infos, nil
}

func (s *Store) UpsertAssetInfo(ctx context.Context, info *core.AssetInfo) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset_id"}},
		UpdateAll: true,
	}).Create(toAssetInfoRow(info)).Error
}

func (s *Store) CreateSettlement(ctx context.Context, settlement *core.Settlement) error {
	return s.db.WithContext(ctx).Create(toSettlementRow(settlement)).Error
}

func (s *Store) UpdateSettlementStatus(ctx context.Context, id string, status core.SettlementStatus) error {
	return s.db.WithContext(ctx).
		Model(&Settlement{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     string(status),
			"updated_at": time.Now().Unix(),
		}).Error
}

func (s *Store) GetSettlement(ctx context.Context, id string) (*core.Settlement, error) {
	var row Settlement
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return row.model(), nil
}

func upsertAccount(tx *gorm.DB, account *core.Account) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(toAccountRow(account)).Error
}

func upsertCollateral(tx *gorm.DB, balance *core.CollateralBalance) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "asset_id"}},
		UpdateAll: true,
	}).Create(toCollateralRow(balance)).Error
}

func upsertDebt(tx *gorm.DB, debt *core.DebtBalance) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		UpdateAll: true,
	}).Create(toDebtRow(debt)).Error
}

func createEvents(tx *gorm.DB, events []*core.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]*Event, 0, len(events))
	for _, event := range events {
		rows = append(rows, toEventRow(event))
	}
	return tx.Create(&rows).Error
}

func toAccountRow(a *core.Account) *Account {
	return &Account{
		Id:        a.Id.String(),
		Principal: a.Principal,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func (r *Account) model() *core.Account {
	return &core.Account{
		Id:        uuid.FromStringOrNil(r.Id),
		Principal: r.Principal,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func toCollateralRow(b *core.CollateralBalance) *CollateralBalance {
	return &CollateralBalance{
		AccountId:  b.AccountId.String(),
		AssetId:    b.AssetId,
		Amount:     b.Amount,
		LastUpdate: b.LastUpdate,
	}
}

func (r *CollateralBalance) model() *core.CollateralBalance {
	return &core.CollateralBalance{
		AccountId:  uuid.FromStringOrNil(r.AccountId),
		AssetId:    r.AssetId,
		Amount:     r.Amount,
		LastUpdate: r.LastUpdate,
	}
}

func toDebtRow(d *core.DebtBalance) *DebtBalance {
	return &DebtBalance{
		AccountId:  d.AccountId.String(),
		Minted:     d.Minted,
		LastUpdate: d.LastUpdate,
	}
}

func (r *DebtBalance) model() *core.DebtBalance {
	return &core.DebtBalance{
		AccountId:  uuid.FromStringOrNil(r.AccountId),
		Minted:     r.Minted,
		LastUpdate: r.LastUpdate,
	}
}

func toEventRow(e *core.Event) *Event {
	return &Event{
		Id:        e.Id.String(),
		Type:      uint8(e.Type),
		AccountId: e.AccountId.String(),
		PeerId:    e.PeerId.String(),
		AssetId:   e.AssetId,
		Amount:    e.Amount,
		CreatedAt: e.CreatedAt,
	}
}

func (r *Event) model() *core.Event {
	return &core.Event{
		Id:        uuid.FromStringOrNil(r.Id),
		Type:      core.EventType(r.Type),
		AccountId: uuid.FromStringOrNil(r.AccountId),
		PeerId:    uuid.FromStringOrNil(r.PeerId),
		AssetId:   r.AssetId,
		Amount:    r.Amount,
		CreatedAt: r.CreatedAt,
	}
}

func toLiquidationRow(result *core.LiquidateResult) *Liquidation {
	return &Liquidation{
		Id:               result.Id.String(),
		AssetId:          result.AssetId,
		LiquidatorId:     result.Liquidator.Id.String(),
		TargetId:         result.Target.Id.String(),
		PreBalances:      result.PreBalances,
		PostBalances:     result.PostBalances,
		TargetPreHealth:  result.TargetPreHealth,
		TargetPostHealth: result.TargetPostHealth,
		DebtCovered:      result.DebtCovered,
		CollateralSeized: result.CollateralSeized,
		Bonus:            result.Bonus,
		PriceFeedId:      result.Quote.FeedId,
		Price:            result.Quote.Price,
		CreatedAt:        result.CreatedAt,
	}
}

func toAssetInfoRow(info *core.AssetInfo) *AssetInfo {
	return &AssetInfo{
		AssetId:   info.AssetId,
		ChainId:   info.ChainId,
		Symbol:    info.Symbol,
		Name:      info.Name,
		IconURL:   info.IconURL,
		Precision: info.Precision,
		Dust:      info.Dust,
	}
}

func (r *AssetInfo) model() *core.AssetInfo {
	return &core.AssetInfo{
		AssetId:   r.AssetId,
		ChainId:   r.ChainId,
		Symbol:    r.Symbol,
		Name:      r.Name,
		IconURL:   r.IconURL,
		Precision: r.Precision,
		Dust:      r.Dust,
	}
}

func toSettlementRow(s *core.Settlement) *Settlement {
	return &Settlement{
		Id:        s.Id,
		Leg:       string(s.Leg),
		AssetId:   s.AssetId,
		Principal: s.Principal,
		Amount:    s.Amount,
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (r *Settlement) model() *core.Settlement {
	return &core.Settlement{
		Id:        r.Id,
		Leg:       core.SettlementLeg(r.Leg),
		AssetId:   r.AssetId,
		Principal: r.Principal,
		Amount:    r.Amount,
		Status:    core.SettlementStatus(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
