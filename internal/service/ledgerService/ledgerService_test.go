package ledgerService

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/KotFed0t/portfolio_ledger_api/config"
	"github.com/KotFed0t/portfolio_ledger_api/data/repository"
	"github.com/KotFed0t/portfolio_ledger_api/internal/model"
	"github.com/KotFed0t/portfolio_ledger_api/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	mu         sync.Mutex
	users      map[string]int64
	cash       map[int64]decimal.Decimal
	portfolios map[int64]model.Portfolio
	txns       map[string]model.Transaction
	holdings   map[int64]map[string]model.Holding

	nextUserID      int64
	nextPortfolioID int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:      make(map[string]int64),
		cash:       make(map[int64]decimal.Decimal),
		portfolios: make(map[int64]model.Portfolio),
		txns:       make(map[string]model.Transaction),
		holdings:   make(map[int64]map[string]model.Holding),
	}
}

func (r *fakeRepo) WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error {
	return tFunc(ctx)
}

func (r *fakeRepo) RegUser(_ context.Context, authUID string, startingCash decimal.Decimal) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[authUID]; ok {
		return 0, repository.ErrAlreadyExists
	}
	r.nextUserID++
	r.users[authUID] = r.nextUserID
	r.cash[r.nextUserID] = startingCash
	return r.nextUserID, nil
}

func (r *fakeRepo) GetUserIDByAuthUID(_ context.Context, authUID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.users[authUID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return userID, nil
}

func (r *fakeRepo) CreatePortfolio(_ context.Context, userID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextPortfolioID++
	r.portfolios[r.nextPortfolioID] = model.Portfolio{PortfolioID: r.nextPortfolioID, UserID: userID}
	return r.nextPortfolioID, nil
}

func (r *fakeRepo) GetPortfolioByUser(_ context.Context, userID int64) (model.Portfolio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	best := model.Portfolio{}
	for _, p := range r.portfolios {
		if p.UserID == userID && (best.PortfolioID == 0 || p.PortfolioID < best.PortfolioID) {
			best = p
		}
	}
	if best.PortfolioID == 0 {
		return model.Portfolio{}, repository.ErrNotFound
	}
	return best, nil
}

func (r *fakeRepo) GetPortfolio(_ context.Context, portfolioID int64) (model.Portfolio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.portfolios[portfolioID]
	if !ok {
		return model.Portfolio{}, repository.ErrNotFound
	}
	return p, nil
}

func (r *fakeRepo) LockPortfolioTicker(context.Context, int64, string) error { return nil }

func (r *fakeRepo) InsertTransaction(_ context.Context, txn model.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txns[txn.ID] = txn
	return nil
}

func (r *fakeRepo) InsertTransactions(_ context.Context, _ int64, txns []model.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, txn := range txns {
		r.txns[txn.ID] = txn
	}
	return nil
}

func (r *fakeRepo) GetTransaction(_ context.Context, transactionID string) (model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.txns[transactionID]
	if !ok {
		return model.Transaction{}, repository.ErrNotFound
	}
	return txn, nil
}

func (r *fakeRepo) DeleteTransaction(_ context.Context, transactionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.txns[transactionID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.txns, transactionID)
	return nil
}

func (r *fakeRepo) transactionsWhere(match func(model.Transaction) bool) []model.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Transaction
	for _, txn := range r.txns {
		if match(txn) {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *fakeRepo) GetTickerTransactions(_ context.Context, portfolioID int64, ticker string) ([]model.Transaction, error) {
	return r.transactionsWhere(func(txn model.Transaction) bool {
		return txn.PortfolioID == portfolioID && txn.Ticker == ticker
	}), nil
}

func (r *fakeRepo) GetAllTransactions(_ context.Context, portfolioID int64) ([]model.Transaction, error) {
	return r.transactionsWhere(func(txn model.Transaction) bool {
		return txn.PortfolioID == portfolioID
	}), nil
}

func (r *fakeRepo) GetRecentTransactions(ctx context.Context, portfolioID int64, limit int) ([]model.Transaction, error) {
	txns, _ := r.GetAllTransactions(ctx, portfolioID)
	sort.Slice(txns, func(i, j int) bool { return txns[i].CreatedAt.After(txns[j].CreatedAt) })
	if len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}

func (r *fakeRepo) GetHolding(_ context.Context, portfolioID int64, ticker string) (model.Holding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	holding, ok := r.holdings[portfolioID][ticker]
	if !ok {
		return model.Holding{}, repository.ErrNotFound
	}
	return holding, nil
}

func (r *fakeRepo) GetHoldings(_ context.Context, portfolioID int64) ([]model.Holding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Holding
	for _, holding := range r.holdings[portfolioID] {
		out = append(out, holding)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, nil
}

func (r *fakeRepo) UpsertHolding(_ context.Context, holding model.Holding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holdings[holding.PortfolioID] == nil {
		r.holdings[holding.PortfolioID] = make(map[string]model.Holding)
	}
	holding.UpdatedAt = time.Now().UTC()
	r.holdings[holding.PortfolioID][holding.Ticker] = holding
	return nil
}

func (r *fakeRepo) DeleteHolding(_ context.Context, portfolioID int64, ticker string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.holdings[portfolioID], ticker)
	return nil
}

func (r *fakeRepo) GetCashBalanceForUpdate(_ context.Context, userID int64) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cash[userID], nil
}

func (r *fakeRepo) AdjustCashBalance(_ context.Context, userID int64, delta decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cash[userID] = r.cash[userID].Add(delta)
	return nil
}

func (r *fakeRepo) GetAllHeldTickers(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]struct{})
	for _, holdings := range r.holdings {
		for ticker := range holdings {
			seen[ticker] = struct{}{}
		}
	}
	var tickers []string
	for ticker := range seen {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)
	return tickers, nil
}

type fakeCache struct {
	mu       sync.Mutex
	holdings map[int64][]model.Holding
	prices   map[string]decimal.Decimal
	flushes  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		holdings: make(map[int64][]model.Holding),
		prices:   make(map[string]decimal.Decimal),
	}
}

func (c *fakeCache) GetHoldings(_ context.Context, portfolioID int64) ([]model.Holding, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	holdings, ok := c.holdings[portfolioID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return holdings, nil
}

func (c *fakeCache) SetHoldings(_ context.Context, portfolioID int64, holdings []model.Holding) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holdings[portfolioID] = holdings
	return nil
}

func (c *fakeCache) FlushHoldings(_ context.Context, portfolioID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.holdings, portfolioID)
	c.flushes++
	return nil
}

func (c *fakeCache) GetPrice(_ context.Context, ticker string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	price, ok := c.prices[ticker]
	if !ok {
		return decimal.Decimal{}, repository.ErrNotFound
	}
	return price, nil
}

func (c *fakeCache) SetPrices(_ context.Context, prices map[string]decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ticker, price := range prices {
		c.prices[ticker] = price
	}
	return nil
}

type fakeMarketdata struct {
	current map[string]decimal.Decimal
	ranges  map[string]map[time.Time]decimal.Decimal
}

func (m *fakeMarketdata) GetCurrentPrice(_ context.Context, ticker string) (decimal.Decimal, error) {
	price, ok := m.current[ticker]
	if !ok {
		return decimal.Decimal{}, repository.ErrNotFound
	}
	return price, nil
}

func (m *fakeMarketdata) GetCurrentPrices(_ context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, ticker := range tickers {
		if price, ok := m.current[ticker]; ok {
			out[ticker] = price
		}
	}
	return out, nil
}

func (m *fakeMarketdata) GetPriceRange(_ context.Context, ticker string, _, _ time.Time) (map[time.Time]decimal.Decimal, error) {
	prices, ok := m.ranges[ticker]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return prices, nil
}

type fakeReports struct{}

func (fakeReports) Generate(context.Context, []model.Holding, []model.Transaction) ([]byte, string, error) {
	return []byte("xlsx"), ".xlsx", nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Ledger.HistorySampleDays = 7
	cfg.Ledger.RecentTransactions = 15
	return cfg
}

type testEnv struct {
	svc         *LedgerService
	repo        *fakeRepo
	cache       *fakeCache
	marketdata  *fakeMarketdata
	cfg         *config.Config
	userID      int64
	portfolioID int64
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()

	repo := newFakeRepo()
	cache := newFakeCache()
	marketdata := &fakeMarketdata{
		current: make(map[string]decimal.Decimal),
		ranges:  make(map[string]map[time.Time]decimal.Decimal),
	}

	svc := New(cfg, repo, cache, marketdata, fakeReports{}, nil)

	userID, portfolioID, err := svc.RegisterUser(context.Background(), "uid-1", decimal.NewFromInt(100000))
	require.NoError(t, err)

	return &testEnv{
		svc:         svc,
		repo:        repo,
		cache:       cache,
		marketdata:  marketdata,
		cfg:         cfg,
		userID:      userID,
		portfolioID: portfolioID,
	}
}

func TestRecordTrade(t *testing.T) {
	ctx := context.Background()

	t.Run("buys average in and a sell keeps the average", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		holding, _, err := env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
			Ticker: "aapl", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), Kind: model.TradeBuy,
		})
		require.NoError(t, err)
		assert.Equal(t, "AAPL", holding.Ticker)
		assert.True(t, holding.Shares.Equal(decimal.NewFromInt(10)))
		assert.True(t, holding.AverageCost.Equal(decimal.NewFromInt(100)))
		assert.True(t, holding.BookValue.Equal(decimal.NewFromInt(1000)))

		holding, _, err = env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
			Ticker: "AAPL", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(200), Kind: model.TradeBuy,
		})
		require.NoError(t, err)
		assert.True(t, holding.Shares.Equal(decimal.NewFromInt(20)))
		assert.True(t, holding.AverageCost.Equal(decimal.NewFromInt(150)))
		assert.True(t, holding.BookValue.Equal(decimal.NewFromInt(3000)))

		holding, _, err = env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
			Ticker: "AAPL", Shares: decimal.NewFromInt(5), Price: decimal.NewFromInt(400), Kind: model.TradeSell,
		})
		require.NoError(t, err)
		assert.True(t, holding.Shares.Equal(decimal.NewFromInt(15)))
		assert.True(t, holding.AverageCost.Equal(decimal.NewFromInt(150)))
		assert.True(t, holding.BookValue.Equal(decimal.NewFromInt(2250)))
	})

	t.Run("oversell is rejected and leaves no transaction behind", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		_, _, err := env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
			Ticker: "AAPL", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), Kind: model.TradeBuy,
		})
		require.NoError(t, err)

		_, _, err = env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
			Ticker: "AAPL", Shares: decimal.NewFromInt(11), Price: decimal.NewFromInt(100), Kind: model.TradeSell,
		})
		assert.ErrorIs(t, err, service.ErrInsufficientShares)

		txns, err := env.repo.GetAllTransactions(ctx, env.portfolioID)
		require.NoError(t, err)
		assert.Len(t, txns, 1)
	})

	t.Run("selling an unknown ticker is an oversell", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		_, _, err := env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
			Ticker: "MSFT", Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), Kind: model.TradeSell,
		})
		assert.ErrorIs(t, err, service.ErrInsufficientShares)
	})

	t.Run("closing the position removes the holding", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		_, _, err := env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
			Ticker: "AAPL", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), Kind: model.TradeBuy,
		})
		require.NoError(t, err)

		holding, removed, err := env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
			Ticker: "AAPL", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(150), Kind: model.TradeSell,
		})
		require.NoError(t, err)
		assert.True(t, removed, "a closing sell must report the holding as removed")
		assert.True(t, holding.Shares.IsZero())

		_, err = env.repo.GetHolding(ctx, env.portfolioID, "AAPL")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("validation", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		cases := []model.TradeRequest{
			{Ticker: "", Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(1), Kind: model.TradeBuy},
			{Ticker: "AAPL", Shares: decimal.Zero, Price: decimal.NewFromInt(1), Kind: model.TradeBuy},
			{Ticker: "AAPL", Shares: decimal.NewFromInt(-1), Price: decimal.NewFromInt(1), Kind: model.TradeBuy},
			{Ticker: "AAPL", Shares: decimal.NewFromInt(1), Price: decimal.Zero, Kind: model.TradeBuy},
			{Ticker: "AAPL", Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(1), Kind: "hold"},
		}

		for _, req := range cases {
			_, _, err := env.svc.RecordTrade(ctx, env.userID, env.portfolioID, req)
			assert.ErrorIs(t, err, service.ErrValidation)
		}
	})

	t.Run("foreign portfolio looks like not found", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		otherUserID, otherPortfolioID, err := env.svc.RegisterUser(ctx, "uid-2", decimal.Zero)
		require.NoError(t, err)
		_ = otherUserID

		_, _, err = env.svc.RecordTrade(ctx, env.userID, otherPortfolioID, model.TradeRequest{
			Ticker: "AAPL", Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(1), Kind: model.TradeBuy,
		})
		assert.ErrorIs(t, err, service.ErrNotFound)
	})

	t.Run("trade flushes cached holdings", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		require.NoError(t, env.cache.SetHoldings(ctx, env.portfolioID, []model.Holding{{Ticker: "STALE"}}))

		_, _, err := env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
			Ticker: "AAPL", Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(1), Kind: model.TradeBuy,
		})
		require.NoError(t, err)

		_, err = env.cache.GetHoldings(ctx, env.portfolioID)
		assert.Error(t, err)
	})
}

func TestRecordTradeCashEnforcement(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.Ledger.EnforceCash = true
	env := newTestEnv(t, cfg)

	// starting cash is 100000
	_, _, err := env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
		Ticker: "AAPL", Shares: decimal.NewFromInt(100), Price: decimal.NewFromInt(2000), Kind: model.TradeBuy,
	})
	assert.ErrorIs(t, err, service.ErrInsufficientCash)

	_, _, err = env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
		Ticker: "AAPL", Shares: decimal.NewFromInt(100), Price: decimal.NewFromInt(1000), Kind: model.TradeBuy,
	})
	require.NoError(t, err)

	balance, err := env.repo.GetCashBalanceForUpdate(ctx, env.userID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	_, _, err = env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
		Ticker: "AAPL", Shares: decimal.NewFromInt(50), Price: decimal.NewFromInt(1200), Kind: model.TradeSell,
	})
	require.NoError(t, err)

	balance, err = env.repo.GetCashBalanceForUpdate(ctx, env.userID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(60000)))
}

func TestDeleteTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("deleting the last trade restores the prior state", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		_, _, err := env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
			Ticker: "AAPL", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), Kind: model.TradeBuy,
		})
		require.NoError(t, err)

		before, err := env.repo.GetHolding(ctx, env.portfolioID, "AAPL")
		require.NoError(t, err)

		_, _, err = env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
			Ticker: "AAPL", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(200), Kind: model.TradeBuy,
		})
		require.NoError(t, err)

		txns, err := env.repo.GetAllTransactions(ctx, env.portfolioID)
		require.NoError(t, err)
		require.Len(t, txns, 2)
		lastID := txns[len(txns)-1].ID

		holding, removed, err := env.svc.DeleteTransaction(ctx, env.userID, lastID)
		require.NoError(t, err)
		assert.False(t, removed)
		assert.True(t, holding.Shares.Equal(before.Shares))
		assert.True(t, holding.AverageCost.Equal(before.AverageCost))
		assert.True(t, holding.BookValue.Equal(before.BookValue))
	})

	t.Run("deleting the only trade removes the holding", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		_, _, err := env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
			Ticker: "AAPL", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), Kind: model.TradeBuy,
		})
		require.NoError(t, err)

		txns, err := env.repo.GetAllTransactions(ctx, env.portfolioID)
		require.NoError(t, err)
		require.Len(t, txns, 1)

		_, removed, err := env.svc.DeleteTransaction(ctx, env.userID, txns[0].ID)
		require.NoError(t, err)
		assert.True(t, removed)

		_, err = env.repo.GetHolding(ctx, env.portfolioID, "AAPL")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		_, _, err := env.svc.DeleteTransaction(ctx, env.userID, "0d4dca0a-4a4c-4f0c-8a5c-111111111111")
		assert.ErrorIs(t, err, service.ErrNotFound)
	})

	t.Run("someone else's transaction looks like not found", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		_, _, err := env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
			Ticker: "AAPL", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), Kind: model.TradeBuy,
		})
		require.NoError(t, err)

		txns, err := env.repo.GetAllTransactions(ctx, env.portfolioID)
		require.NoError(t, err)
		require.Len(t, txns, 1)

		otherUserID, _, err := env.svc.RegisterUser(ctx, "uid-2", decimal.Zero)
		require.NoError(t, err)

		_, _, err = env.svc.DeleteTransaction(ctx, otherUserID, txns[0].ID)
		assert.ErrorIs(t, err, service.ErrNotFound)
	})
}

func TestGetHoldings(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testConfig())

	_, _, err := env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
		Ticker: "AAPL", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), Kind: model.TradeBuy,
	})
	require.NoError(t, err)

	holdings, err := env.svc.GetHoldings(ctx, env.userID, env.portfolioID)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, "AAPL", holdings[0].Ticker)

	// a warm cache wins over the repo
	require.NoError(t, env.cache.SetHoldings(ctx, env.portfolioID, []model.Holding{{Ticker: "CACHED"}}))

	holdings, err = env.svc.GetHoldings(ctx, env.userID, env.portfolioID)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, "CACHED", holdings[0].Ticker)
}

func TestRegisterUser(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testConfig())

	t.Run("duplicate auth uid", func(t *testing.T) {
		_, _, err := env.svc.RegisterUser(ctx, "uid-1", decimal.Zero)
		assert.ErrorIs(t, err, service.ErrAlreadyExists)
	})

	t.Run("negative starting cash", func(t *testing.T) {
		_, _, err := env.svc.RegisterUser(ctx, "uid-3", decimal.NewFromInt(-1))
		assert.ErrorIs(t, err, service.ErrValidation)
	})

	t.Run("default portfolio is resolvable", func(t *testing.T) {
		userID, portfolioID, err := env.svc.RegisterUser(ctx, "uid-4", decimal.Zero)
		require.NoError(t, err)

		got, err := env.svc.GetPortfolioID(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, portfolioID, got)
	})
}

func TestWarmPriceCache(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, testConfig())

	_, _, err := env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
		Ticker: "AAPL", Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), Kind: model.TradeBuy,
	})
	require.NoError(t, err)

	env.marketdata.current["AAPL"] = decimal.NewFromInt(123)

	require.NoError(t, env.svc.WarmPriceCache(ctx))

	price, err := env.cache.GetPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(123)))
}
