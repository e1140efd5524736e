package core

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/facebookgo/clock"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Account ids derive from the principal alone, so any clock works here.
func newTestAccountId(principal string) uuid.UUID {
	return NewAccount(clock.NewMock(), principal).Id
}

// memStore keeps ledger state in maps and hands out clones, so staged
// mutations on loaded rows never leak into stored state before a commit.
type memStore struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]*Account
	collateral   map[string]*CollateralBalance
	debts        map[uuid.UUID]*DebtBalance
	events       []*Event
	liquidations []*LiquidateResult
	settlements  map[string]*Settlement

	findErr       error
	saveErr       error
	settlementErr error
}

func newMemStore() *memStore {
	return &memStore{
		accounts:    make(map[uuid.UUID]*Account),
		collateral:  make(map[string]*CollateralBalance),
		debts:       make(map[uuid.UUID]*DebtBalance),
		settlements: make(map[string]*Settlement),
	}
}

func (s *memStore) ledgerService() LedgerService {
	return LedgerService{
		AccountStore:    s,
		CollateralStore: s,
		DebtStore:       s,
		OperationStore:  s,
	}
}

func collateralKey(accountId uuid.UUID, assetId string) string {
	return accountId.String() + "/" + assetId
}

func (s *memStore) GetAccountById(ctx context.Context, accountId uuid.UUID) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountId]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *account
	return &copied, nil
}

func (s *memStore) GetAccountByPrincipal(ctx context.Context, principal string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.accounts {
		if account.Principal == principal {
			copied := *account
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *memStore) FindCollateral(ctx context.Context, accountId uuid.UUID, assetId string) (*CollateralBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	balance, ok := s.collateral[collateralKey(accountId, assetId)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return balance.Clone(), nil
}

func (s *memStore) ListCollateral(ctx context.Context, accountId uuid.UUID) ([]*CollateralBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*CollateralBalance
	for _, balance := range s.collateral {
		if balance.AccountId == accountId {
			out = append(out, balance.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetId < out[j].AssetId })
	return out, nil
}

func (s *memStore) FindDebt(ctx context.Context, accountId uuid.UUID) (*DebtBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	debt, ok := s.debts[accountId]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return debt.Clone(), nil
}

func (s *memStore) SavePositionChange(ctx context.Context, change *PositionChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	account := *change.Account
	s.accounts[account.Id] = &account
	for _, balance := range change.Collateral {
		s.collateral[collateralKey(balance.AccountId, balance.AssetId)] = balance.Clone()
	}
	if change.Debt != nil {
		s.debts[change.Debt.AccountId] = change.Debt.Clone()
	}
	for _, event := range change.Events {
		copied := *event
		s.events = append(s.events, &copied)
	}
	return nil
}

func (s *memStore) SaveLiquidation(ctx context.Context, result *LiquidateResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	target := *result.Target
	liquidator := *result.Liquidator
	s.accounts[target.Id] = &target
	s.accounts[liquidator.Id] = &liquidator
	post := result.PostBalances
	s.collateral[collateralKey(post.TargetCollateral.AccountId, post.TargetCollateral.AssetId)] = post.TargetCollateral.Clone()
	s.debts[post.TargetDebt.AccountId] = post.TargetDebt.Clone()
	s.liquidations = append(s.liquidations, result)
	for _, event := range result.Events {
		copied := *event
		s.events = append(s.events, &copied)
	}
	return nil
}

func (s *memStore) ListEvents(ctx context.Context, accountId uuid.UUID, createdBeforeAt, limit int64) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*Event
	for i := len(s.events) - 1; i >= 0; i-- {
		event := s.events[i]
		if event.AccountId != accountId {
			continue
		}
		if createdBeforeAt > 0 && event.CreatedAt >= createdBeforeAt {
			continue
		}
		copied := *event
		out = append(out, &copied)
		if int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) CreateSettlement(ctx context.Context, settlement *Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settlementErr != nil {
		return s.settlementErr
	}
	copied := *settlement
	s.settlements[settlement.Id] = &copied
	return nil
}

func (s *memStore) UpdateSettlementStatus(ctx context.Context, id string, status SettlementStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settlement, ok := s.settlements[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	settlement.Status = status
	return nil
}

func (s *memStore) GetSettlement(ctx context.Context, id string) (*Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settlement, ok := s.settlements[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *settlement
	return &copied, nil
}

func (s *memStore) listSettlements() []*Settlement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Settlement, 0, len(s.settlements))
	for _, settlement := range s.settlements {
		copied := *settlement
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

func (s *memStore) collateralAmount(accountId uuid.UUID, assetId string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.collateral[collateralKey(accountId, assetId)]
	if !ok {
		return decimal.Zero
	}
	return balance.Amount
}

func (s *memStore) debtMinted(accountId uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	debt, ok := s.debts[accountId]
	if !ok {
		return decimal.Zero
	}
	return debt.Minted
}

func (s *memStore) accountCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

func (s *memStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type fakeSource struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
	calls  map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		prices: make(map[string]decimal.Decimal),
		calls:  make(map[string]int),
	}
}

func (s *fakeSource) LatestPrice(ctx context.Context, priceFeedId string) (*PriceQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[priceFeedId]++
	if s.err != nil {
		return nil, s.err
	}
	price, ok := s.prices[priceFeedId]
	if !ok {
		return nil, errors.Errorf("feed %s not found", priceFeedId)
	}
	return &PriceQuote{Price: price}, nil
}

func (s *fakeSource) setPrice(feedId string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[feedId] = price
}

func (s *fakeSource) callCount(feedId string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[feedId]
}

func (s *fakeSource) resetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
}

type tokenCall struct {
	method  string
	assetId string
	from    string
	to      string
	amount  decimal.Decimal
}

type fakeCollateralToken struct {
	calls    []tokenCall
	refuse   bool
	err      error
	callback func(ctx context.Context)
}

func (t *fakeCollateralToken) TransferFrom(ctx context.Context, assetId, from, to string, amount decimal.Decimal) (bool, error) {
	t.calls = append(t.calls, tokenCall{method: "TransferFrom", assetId: assetId, from: from, to: to, amount: amount})
	if t.callback != nil {
		t.callback(ctx)
	}
	if t.err != nil {
		return false, t.err
	}
	return !t.refuse, nil
}

func (t *fakeCollateralToken) Transfer(ctx context.Context, assetId, to string, amount decimal.Decimal) (bool, error) {
	t.calls = append(t.calls, tokenCall{method: "Transfer", assetId: assetId, to: to, amount: amount})
	if t.callback != nil {
		t.callback(ctx)
	}
	if t.err != nil {
		return false, t.err
	}
	return !t.refuse, nil
}

type fakePeggedToken struct {
	calls          []tokenCall
	mintRefuse     bool
	transferRefuse bool
	mintErr        error
	transferErr    error
	burnErr        error
	callback       func(ctx context.Context)
}

func (t *fakePeggedToken) Mint(ctx context.Context, to string, amount decimal.Decimal) (bool, error) {
	t.calls = append(t.calls, tokenCall{method: "Mint", to: to, amount: amount})
	if t.callback != nil {
		t.callback(ctx)
	}
	if t.mintErr != nil {
		return false, t.mintErr
	}
	return !t.mintRefuse, nil
}

func (t *fakePeggedToken) TransferFrom(ctx context.Context, from, to string, amount decimal.Decimal) (bool, error) {
	t.calls = append(t.calls, tokenCall{method: "TransferFrom", from: from, to: to, amount: amount})
	if t.callback != nil {
		t.callback(ctx)
	}
	if t.transferErr != nil {
		return false, t.transferErr
	}
	return !t.transferRefuse, nil
}

func (t *fakePeggedToken) Burn(ctx context.Context, amount decimal.Decimal) error {
	t.calls = append(t.calls, tokenCall{method: "Burn", amount: amount})
	if t.callback != nil {
		t.callback(ctx)
	}
	return t.burnErr
}

type testEnv struct {
	eng        *Engine
	store      *memStore
	source     *fakeSource
	collateral *fakeCollateralToken
	pegged     *fakePeggedToken
	clk        *clock.Mock
}

// newTestEngine wires an engine over in-memory fakes with two allowed
// assets: asset-a at 2000 usd and asset-b at 1000 usd.
func newTestEngine(t *testing.T, opts ...EngineOption) *testEnv {
	t.Helper()

	clk := clock.NewMock()
	store := newMemStore()
	source := newFakeSource()
	source.setPrice("feed-a", decimal.NewFromInt(2000))
	source.setPrice("feed-b", decimal.NewFromInt(1000))

	registry, err := NewCollateralRegistry(
		[]string{"asset-a", "asset-b"},
		[]string{"feed-a", "feed-b"},
	)
	require.NoError(t, err)

	collateralToken := &fakeCollateralToken{}
	peggedToken := &fakePeggedToken{}

	logger := zerolog.Nop()
	opts = append([]EngineOption{WithClock(clk)}, opts...)
	eng := NewEngine(&logger, store.ledgerService(), registry, source, collateralToken, peggedToken, opts...)

	return &testEnv{
		eng:        eng,
		store:      store,
		source:     source,
		collateral: collateralToken,
		pegged:     peggedToken,
		clk:        clk,
	}
}

func (env *testEnv) accountId(principal string) uuid.UUID {
	return NewAccount(env.clk, principal).Id
}

func (env *testEnv) mustDeposit(t *testing.T, principal, assetId string, amount decimal.Decimal) {
	t.Helper()
	require.NoError(t, env.eng.DepositCollateral(context.Background(), principal, assetId, amount))
}

func (env *testEnv) mustMint(t *testing.T, principal string, amount decimal.Decimal) {
	t.Helper()
	require.NoError(t, env.eng.Mint(context.Background(), principal, amount))
}
