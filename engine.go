package core

import (
	"context"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/PegVault/core/metrics"
	"github.com/PegVault/core/utils"
)

const defaultVaultPrincipal = "pegvault"

// Engine owns the position lifecycle: deposit and withdraw collateral, mint
// and burn the pegged unit, and liquidate accounts that fall below the
// minimum health factor. Mutators stage every ledger change in memory, run
// the solvency checks on the staged state, settle the external token legs,
// and persist the whole operation in one atomic commit; a failure at any
// point aborts with nothing persisted. Queries are read-only and see
// last-committed state.
type Engine struct {
	clk     clock.Clock
	log     Log
	ledger  LedgerService
	oracle  *OracleAdapter
	guard   ReentrancyGuard
	metrics *metrics.Collector

	registry   *CollateralRegistry
	collateral CollateralToken
	pegged     PeggedToken
	vault      string
}

type EngineOption func(e *Engine)

func WithClock(clk clock.Clock) EngineOption {
	return func(e *Engine) {
		e.clk = clk
	}
}

func WithMetrics(collector *metrics.Collector) EngineOption {
	return func(e *Engine) {
		e.metrics = collector
	}
}

// WithVaultPrincipal overrides the principal the engine custodies pulled
// funds under.
func WithVaultPrincipal(principal string) EngineOption {
	return func(e *Engine) {
		e.vault = principal
	}
}

func NewEngine(log Log, ledger LedgerService, registry *CollateralRegistry, source PriceSource, collateralToken CollateralToken, peggedToken PeggedToken, opts ...EngineOption) *Engine {
	e := &Engine{
		clk:        clock.New(),
		log:        log,
		ledger:     ledger,
		oracle:     NewOracleAdapter(registry, source),
		registry:   registry,
		collateral: collateralToken,
		pegged:     peggedToken,
		vault:      defaultVaultPrincipal,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DepositCollateral pulls amount of the asset from the caller into the vault
// and credits the caller's ledger balance. Deposits cannot worsen solvency,
// so no health check runs.
func (e *Engine) DepositCollateral(ctx context.Context, principal, assetId string, amount decimal.Decimal) (err error) {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	defer func() { e.metrics.RecordOperation("deposit", err == nil) }()

	if err := validateAmount(amount); err != nil {
		return err
	}
	if !e.registry.IsAllowed(assetId) {
		return AssetNotAllowed
	}

	account, err := FindOrCreateAccount(ctx, e.clk, e.ledger, principal)
	if err != nil {
		return err
	}
	balance, err := FindOrCreateCollateral(ctx, e.clk, e.ledger, account.Id, assetId)
	if err != nil {
		return err
	}
	if err := balance.Add(e.clk, amount); err != nil {
		return err
	}

	change := &PositionChange{
		Account:    account,
		Collateral: []*CollateralBalance{balance},
		Events:     []*Event{NewDepositEvent(e.clk, account.Id, assetId, amount)},
	}

	ok, err := e.collateral.TransferFrom(ctx, assetId, principal, e.vault, amount)
	if err != nil {
		return errors.Wrap(err, "pull collateral")
	}
	if !ok {
		return TransferFailed
	}

	if err := e.commitChange(ctx, change); err != nil {
		return err
	}

	e.metrics.RecordCollateralFlow(assetId, "in", amount.InexactFloat64())
	e.log.Info().Msgf("deposited %s %s for %s", amount, assetId, principal)
	return nil
}

// WithdrawCollateral debits the caller's ledger balance and pushes amount of
// the asset back to the caller. Withdrawal can only worsen solvency, so the
// staged position must still clear MIN_HEALTH_FACTOR before the push
// settles.
func (e *Engine) WithdrawCollateral(ctx context.Context, principal, assetId string, amount decimal.Decimal) (err error) {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	defer func() { e.metrics.RecordOperation("withdraw", err == nil) }()

	if err := validateAmount(amount); err != nil {
		return err
	}

	account, err := FindOrCreateAccount(ctx, e.clk, e.ledger, principal)
	if err != nil {
		return err
	}
	balance, err := FindOrCreateCollateral(ctx, e.clk, e.ledger, account.Id, assetId)
	if err != nil {
		return err
	}
	if err := balance.Sub(e.clk, amount); err != nil {
		return err
	}

	risk, err := NewRiskEngine(ctx, e.ledger, e.oracle, account, []*CollateralBalance{balance}, nil)
	if err != nil {
		return err
	}
	if err := risk.CheckHealthy(); err != nil {
		return err
	}
	e.observeFactor(risk.HealthFactor())

	change := &PositionChange{
		Account:    account,
		Collateral: []*CollateralBalance{balance},
		Events:     []*Event{NewRedeemEvent(e.clk, account.Id, account.Id, assetId, amount)},
	}

	ok, err := e.collateral.Transfer(ctx, assetId, principal, amount)
	if err != nil {
		return errors.Wrap(err, "push collateral")
	}
	if !ok {
		return TransferFailed
	}

	if err := e.commitChange(ctx, change); err != nil {
		return err
	}

	e.metrics.RecordCollateralFlow(assetId, "out", amount.InexactFloat64())
	e.log.Info().Msgf("withdrew %s %s for %s", amount, assetId, principal)
	return nil
}

// Mint credits debt against the caller's collateral and has the pegged token
// issue amount to the caller. Minting is the one operation that can break
// solvency purely through ledger state, so the health check runs before the
// external mint.
func (e *Engine) Mint(ctx context.Context, principal string, amount decimal.Decimal) (err error) {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	defer func() { e.metrics.RecordOperation("mint", err == nil) }()

	if err := validateAmount(amount); err != nil {
		return err
	}

	account, err := FindOrCreateAccount(ctx, e.clk, e.ledger, principal)
	if err != nil {
		return err
	}
	debt, err := FindOrCreateDebt(ctx, e.clk, e.ledger, account.Id)
	if err != nil {
		return err
	}
	if err := debt.Add(e.clk, amount); err != nil {
		return err
	}

	risk, err := NewRiskEngine(ctx, e.ledger, e.oracle, account, nil, debt)
	if err != nil {
		return err
	}
	if err := risk.CheckHealthy(); err != nil {
		return err
	}
	e.observeFactor(risk.HealthFactor())

	ok, err := e.pegged.Mint(ctx, principal, amount)
	if err != nil {
		return errors.Wrap(err, "mint pegged")
	}
	if !ok {
		return MintFailed
	}

	change := &PositionChange{
		Account: account,
		Debt:    debt,
	}
	if err := e.commitChange(ctx, change); err != nil {
		return err
	}

	e.metrics.RecordDebtFlow("minted", amount.InexactFloat64())
	e.log.Info().Msgf("minted %s for %s", amount, principal)
	return nil
}

// Burn pulls amount of the pegged unit from the caller into the vault, burns
// it and debits the caller's debt. Burning can only improve solvency; the
// staged position is still checked before commit.
func (e *Engine) Burn(ctx context.Context, principal string, amount decimal.Decimal) (err error) {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	defer func() { e.metrics.RecordOperation("burn", err == nil) }()

	if err := validateAmount(amount); err != nil {
		return err
	}

	account, err := FindOrCreateAccount(ctx, e.clk, e.ledger, principal)
	if err != nil {
		return err
	}
	debt, err := FindOrCreateDebt(ctx, e.clk, e.ledger, account.Id)
	if err != nil {
		return err
	}
	if err := debt.Sub(e.clk, amount); err != nil {
		return err
	}

	ok, err := e.pegged.TransferFrom(ctx, principal, e.vault, amount)
	if err != nil {
		return errors.Wrap(err, "pull pegged")
	}
	if !ok {
		return TransferFailed
	}
	if err := e.pegged.Burn(ctx, amount); err != nil {
		return errors.Wrap(err, "burn pegged")
	}

	risk, err := NewRiskEngine(ctx, e.ledger, e.oracle, account, nil, debt)
	if err != nil {
		return err
	}
	if err := risk.CheckHealthy(); err != nil {
		return err
	}

	change := &PositionChange{
		Account: account,
		Debt:    debt,
	}
	if err := e.commitChange(ctx, change); err != nil {
		return err
	}

	e.metrics.RecordDebtFlow("burned", amount.InexactFloat64())
	e.log.Info().Msgf("burned %s for %s", amount, principal)
	return nil
}

// DepositAndMint composes a deposit and a mint under one guard scope and one
// commit. The solvency check sees the combined staged effect; if either leg
// fails, neither persists.
func (e *Engine) DepositAndMint(ctx context.Context, principal, assetId string, collateralAmount, debtAmount decimal.Decimal) (err error) {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	defer func() { e.metrics.RecordOperation("deposit_and_mint", err == nil) }()

	if err := validateAmount(collateralAmount); err != nil {
		return err
	}
	if err := validateAmount(debtAmount); err != nil {
		return err
	}
	if !e.registry.IsAllowed(assetId) {
		return AssetNotAllowed
	}

	account, err := FindOrCreateAccount(ctx, e.clk, e.ledger, principal)
	if err != nil {
		return err
	}
	balance, err := FindOrCreateCollateral(ctx, e.clk, e.ledger, account.Id, assetId)
	if err != nil {
		return err
	}
	if err := balance.Add(e.clk, collateralAmount); err != nil {
		return err
	}
	debt, err := FindOrCreateDebt(ctx, e.clk, e.ledger, account.Id)
	if err != nil {
		return err
	}
	if err := debt.Add(e.clk, debtAmount); err != nil {
		return err
	}

	risk, err := NewRiskEngine(ctx, e.ledger, e.oracle, account, []*CollateralBalance{balance}, debt)
	if err != nil {
		return err
	}
	if err := risk.CheckHealthy(); err != nil {
		return err
	}
	e.observeFactor(risk.HealthFactor())

	change := &PositionChange{
		Account:    account,
		Collateral: []*CollateralBalance{balance},
		Debt:       debt,
		Events:     []*Event{NewDepositEvent(e.clk, account.Id, assetId, collateralAmount)},
	}

	ok, err := e.collateral.TransferFrom(ctx, assetId, principal, e.vault, collateralAmount)
	if err != nil {
		return errors.Wrap(err, "pull collateral")
	}
	if !ok {
		return TransferFailed
	}
	ok, err = e.pegged.Mint(ctx, principal, debtAmount)
	if err != nil {
		return errors.Wrap(err, "mint pegged")
	}
	if !ok {
		return MintFailed
	}

	if err := e.commitChange(ctx, change); err != nil {
		return err
	}

	e.metrics.RecordCollateralFlow(assetId, "in", collateralAmount.InexactFloat64())
	e.metrics.RecordDebtFlow("minted", debtAmount.InexactFloat64())
	e.log.Info().Msgf("deposited %s %s and minted %s for %s", collateralAmount, assetId, debtAmount, principal)
	return nil
}

// BurnAndWithdraw composes a burn and a withdrawal under one guard scope and
// one commit. The solvency check sees the combined staged effect.
func (e *Engine) BurnAndWithdraw(ctx context.Context, principal, assetId string, debtAmount, collateralAmount decimal.Decimal) (err error) {
	ctx, release, err := e.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	defer func() { e.metrics.RecordOperation("burn_and_withdraw", err == nil) }()

	if err := validateAmount(debtAmount); err != nil {
		return err
	}
	if err := validateAmount(collateralAmount); err != nil {
		return err
	}

	account, err := FindOrCreateAccount(ctx, e.clk, e.ledger, principal)
	if err != nil {
		return err
	}
	debt, err := FindOrCreateDebt(ctx, e.clk, e.ledger, account.Id)
	if err != nil {
		return err
	}
	if err := debt.Sub(e.clk, debtAmount); err != nil {
		return err
	}
	balance, err := FindOrCreateCollateral(ctx, e.clk, e.ledger, account.Id, assetId)
	if err != nil {
		return err
	}
	if err := balance.Sub(e.clk, collateralAmount); err != nil {
		return err
	}

	risk, err := NewRiskEngine(ctx, e.ledger, e.oracle, account, []*CollateralBalance{balance}, debt)
	if err != nil {
		return err
	}
	if err := risk.CheckHealthy(); err != nil {
		return err
	}
	e.observeFactor(risk.HealthFactor())

	change := &PositionChange{
		Account:    account,
		Collateral: []*CollateralBalance{balance},
		Debt:       debt,
		Events:     []*Event{NewRedeemEvent(e.clk, account.Id, account.Id, assetId, collateralAmount)},
	}

	ok, err := e.pegged.TransferFrom(ctx, principal, e.vault, debtAmount)
	if err != nil {
		return errors.Wrap(err, "pull pegged")
	}
	if !ok {
		return TransferFailed
	}
	if err := e.pegged.Burn(ctx, debtAmount); err != nil {
		return errors.Wrap(err, "burn pegged")
	}
	ok, err = e.collateral.Transfer(ctx, assetId, principal, collateralAmount)
	if err != nil {
		return errors.Wrap(err, "push collateral")
	}
	if !ok {
		return TransferFailed
	}

	if err := e.commitChange(ctx, change); err != nil {
		return err
	}

	e.metrics.RecordDebtFlow("burned", debtAmount.InexactFloat64())
	e.metrics.RecordCollateralFlow(assetId, "out", collateralAmount.InexactFloat64())
	e.log.Info().Msgf("burned %s and withdrew %s %s for %s", debtAmount, collateralAmount, assetId, principal)
	return nil
}

// HealthFactor reports the current factor for a principal. Unknown
// principals and zero-debt accounts read as MAX_HEALTH_FACTOR.
func (e *Engine) HealthFactor(ctx context.Context, principal string) (decimal.Decimal, error) {
	risk, err := e.loadRisk(ctx, principal)
	if err != nil {
		return decimal.Zero, err
	}
	return risk.HealthFactor(), nil
}

// TotalCollateralValue reports the usd value of everything a principal has
// deposited, at current prices.
func (e *Engine) TotalCollateralValue(ctx context.Context, principal string) (decimal.Decimal, error) {
	risk, err := e.loadRisk(ctx, principal)
	if err != nil {
		return decimal.Zero, err
	}
	return risk.TotalCollateralValue(), nil
}

// Snapshot reports a principal's full position. Unknown principals read as
// an empty position, indistinguishable from an account that never existed.
func (e *Engine) Snapshot(ctx context.Context, principal string) (*AccountSnapshot, error) {
	risk, err := e.loadRisk(ctx, principal)
	if err != nil {
		return nil, err
	}
	return NewAccountSnapshot(e.clk, risk), nil
}

func (e *Engine) UsdValue(ctx context.Context, assetId string, amount decimal.Decimal) (decimal.Decimal, error) {
	return e.oracle.UsdValue(ctx, assetId, amount)
}

func (e *Engine) TokenAmountFromUsd(ctx context.Context, assetId string, usdAmount decimal.Decimal) (decimal.Decimal, error) {
	return e.oracle.TokenAmountFromUsd(ctx, assetId, usdAmount)
}

func (e *Engine) ListAssets() []string {
	return e.registry.ListAssets()
}

// ListEvents pages a principal's journal, newest first.
func (e *Engine) ListEvents(ctx context.Context, principal string, createdBeforeAt, limit int64) ([]*Event, error) {
	accountId := uuid.Must(uuid.FromString(utils.DeriveUuid(principal)))
	return e.ledger.ListEvents(ctx, accountId, createdBeforeAt, limit)
}

func (e *Engine) loadRisk(ctx context.Context, principal string) (*RiskEngine, error) {
	account, err := FindOrCreateAccount(ctx, e.clk, e.ledger, principal)
	if err != nil {
		return nil, err
	}
	return NewRiskEngine(ctx, e.ledger, e.oracle, account, nil, nil)
}

func (e *Engine) commitChange(ctx context.Context, change *PositionChange) error {
	if err := e.ledger.SavePositionChange(ctx, change); err != nil {
		e.log.Error().Msgf("commit failed for account %s after external settlement: %v", change.Account.Id, err)
		return errors.Wrap(err, "save position change")
	}
	return nil
}

func (e *Engine) observeFactor(factor decimal.Decimal) {
	if factor.LessThan(MAX_HEALTH_FACTOR) {
		e.metrics.ObserveHealthFactor(factor.InexactFloat64())
	}
}

// validateAmount accepts positive amounts representable at the ledger
// precision.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return InvalidAmount
	}
	if !amount.Equal(amount.Truncate(AMOUNT_PRECISION)) {
		return InvalidAmount
	}
	return nil
}
