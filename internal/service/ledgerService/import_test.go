package ledgerService

import (
	"context"
	"testing"
	"time"

	"github.com/KotFed0t/portfolio_ledger_api/data/repository"
	"github.com/KotFed0t/portfolio_ledger_api/internal/model"
	"github.com/KotFed0t/portfolio_ledger_api/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportTrades(t *testing.T) {
	ctx := context.Background()

	t.Run("valid rows apply, invalid rows are reported", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		records := []model.TradeRecord{
			{Ticker: "aapl", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), Kind: model.TradeBuy},
			{Ticker: "", Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(1), Kind: model.TradeBuy},
			{Ticker: "MSFT", Shares: decimal.NewFromInt(4), Price: decimal.NewFromInt(300), Kind: model.TradeBuy},
			{Ticker: "AAPL", Shares: decimal.NewFromInt(2), Price: decimal.Zero, Kind: model.TradeSell},
		}

		result, err := env.svc.ImportTrades(ctx, env.userID, env.portfolioID, records)
		require.NoError(t, err)

		assert.Equal(t, 2, result.Applied)
		require.Len(t, result.Errors, 2)
		assert.Contains(t, result.Errors[0], "row 2")
		assert.Contains(t, result.Errors[1], "row 4")

		aapl, err := env.repo.GetHolding(ctx, env.portfolioID, "AAPL")
		require.NoError(t, err)
		assert.True(t, aapl.Shares.Equal(decimal.NewFromInt(10)))

		msft, err := env.repo.GetHolding(ctx, env.portfolioID, "MSFT")
		require.NoError(t, err)
		assert.True(t, msft.Shares.Equal(decimal.NewFromInt(4)))
	})

	t.Run("a sell can consume shares bought earlier in the batch", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		records := []model.TradeRecord{
			{Ticker: "AAPL", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), Kind: model.TradeBuy},
			{Ticker: "AAPL", Shares: decimal.NewFromInt(4), Price: decimal.NewFromInt(150), Kind: model.TradeSell},
		}

		result, err := env.svc.ImportTrades(ctx, env.userID, env.portfolioID, records)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Applied)
		assert.Empty(t, result.Errors)

		holding, err := env.repo.GetHolding(ctx, env.portfolioID, "AAPL")
		require.NoError(t, err)
		assert.True(t, holding.Shares.Equal(decimal.NewFromInt(6)))
		assert.True(t, holding.AverageCost.Equal(decimal.NewFromInt(100)))
	})

	t.Run("oversell within the batch is rejected per row", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		records := []model.TradeRecord{
			{Ticker: "AAPL", Shares: decimal.NewFromInt(5), Price: decimal.NewFromInt(100), Kind: model.TradeBuy},
			{Ticker: "AAPL", Shares: decimal.NewFromInt(6), Price: decimal.NewFromInt(100), Kind: model.TradeSell},
			{Ticker: "AAPL", Shares: decimal.NewFromInt(5), Price: decimal.NewFromInt(100), Kind: model.TradeSell},
		}

		result, err := env.svc.ImportTrades(ctx, env.userID, env.portfolioID, records)
		require.NoError(t, err)

		assert.Equal(t, 2, result.Applied)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "row 2")

		// position fully closed by row 3, the holding row is gone
		_, err = env.repo.GetHolding(ctx, env.portfolioID, "AAPL")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("batch starts from existing holdings", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		_, _, err := env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
			Ticker: "AAPL", Shares: decimal.NewFromInt(3), Price: decimal.NewFromInt(100), Kind: model.TradeBuy,
		})
		require.NoError(t, err)

		result, err := env.svc.ImportTrades(ctx, env.userID, env.portfolioID, []model.TradeRecord{
			{Ticker: "AAPL", Shares: decimal.NewFromInt(3), Price: decimal.NewFromInt(120), Kind: model.TradeSell},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Applied)
		assert.Empty(t, result.Errors)
	})

	t.Run("backdated rows keep their timestamps", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		createdAt := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
		result, err := env.svc.ImportTrades(ctx, env.userID, env.portfolioID, []model.TradeRecord{
			{Ticker: "AAPL", Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), Kind: model.TradeBuy, CreatedAt: createdAt},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Applied)

		txns, err := env.repo.GetAllTransactions(ctx, env.portfolioID)
		require.NoError(t, err)
		require.Len(t, txns, 1)
		assert.True(t, txns[0].CreatedAt.Equal(createdAt))
	})

	t.Run("backdated sell preceding its shares is rejected", func(t *testing.T) {
		cfg := testConfig()
		cfg.Ledger.EnforceCash = true
		env := newTestEnv(t, cfg)

		// the buy exists only at "now", a sell stamped two days earlier
		// lands before it in the replay and would be silently skipped
		_, _, err := env.svc.RecordTrade(ctx, env.userID, env.portfolioID, model.TradeRequest{
			Ticker: "AAPL", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), Kind: model.TradeBuy,
		})
		require.NoError(t, err)

		balanceBefore, err := env.repo.GetCashBalanceForUpdate(ctx, env.userID)
		require.NoError(t, err)

		result, err := env.svc.ImportTrades(ctx, env.userID, env.portfolioID, []model.TradeRecord{
			{Ticker: "AAPL", Shares: decimal.NewFromInt(5), Price: decimal.NewFromInt(100), Kind: model.TradeSell, CreatedAt: time.Now().UTC().Add(-48 * time.Hour)},
		})
		require.NoError(t, err)

		assert.Equal(t, 0, result.Applied)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "row 1")

		holding, err := env.repo.GetHolding(ctx, env.portfolioID, "AAPL")
		require.NoError(t, err)
		assert.True(t, holding.Shares.Equal(decimal.NewFromInt(10)))

		balanceAfter, err := env.repo.GetCashBalanceForUpdate(ctx, env.userID)
		require.NoError(t, err)
		assert.True(t, balanceAfter.Equal(balanceBefore), "no cash credit for a sell that never applies")
	})

	t.Run("backdated sell after a backdated buy applies", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		now := time.Now().UTC()
		result, err := env.svc.ImportTrades(ctx, env.userID, env.portfolioID, []model.TradeRecord{
			{Ticker: "AAPL", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), Kind: model.TradeBuy, CreatedAt: now.Add(-72 * time.Hour)},
			{Ticker: "AAPL", Shares: decimal.NewFromInt(5), Price: decimal.NewFromInt(120), Kind: model.TradeSell, CreatedAt: now.Add(-48 * time.Hour)},
		})
		require.NoError(t, err)

		assert.Equal(t, 2, result.Applied)
		assert.Empty(t, result.Errors)

		holding, err := env.repo.GetHolding(ctx, env.portfolioID, "AAPL")
		require.NoError(t, err)
		assert.True(t, holding.Shares.Equal(decimal.NewFromInt(5)))
	})

	t.Run("backdated sell that would starve an accepted sell is rejected", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		now := time.Now().UTC()
		result, err := env.svc.ImportTrades(ctx, env.userID, env.portfolioID, []model.TradeRecord{
			{Ticker: "AAPL", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), Kind: model.TradeBuy, CreatedAt: now.Add(-72 * time.Hour)},
			{Ticker: "AAPL", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(120), Kind: model.TradeSell, CreatedAt: now},
			// accepting this one would leave row 2 with nothing to sell
			{Ticker: "AAPL", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(110), Kind: model.TradeSell, CreatedAt: now.Add(-48 * time.Hour)},
		})
		require.NoError(t, err)

		assert.Equal(t, 2, result.Applied)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "row 3")

		// position fully closed by the accepted pair
		_, err = env.repo.GetHolding(ctx, env.portfolioID, "AAPL")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("cash is tracked across the batch when enforced", func(t *testing.T) {
		cfg := testConfig()
		cfg.Ledger.EnforceCash = true
		env := newTestEnv(t, cfg)

		// starting cash is 100000
		records := []model.TradeRecord{
			{Ticker: "AAPL", Shares: decimal.NewFromInt(500), Price: decimal.NewFromInt(150), Kind: model.TradeBuy},
			{Ticker: "MSFT", Shares: decimal.NewFromInt(100), Price: decimal.NewFromInt(300), Kind: model.TradeBuy},
			{Ticker: "AAPL", Shares: decimal.NewFromInt(100), Price: decimal.NewFromInt(150), Kind: model.TradeSell},
			{Ticker: "MSFT", Shares: decimal.NewFromInt(50), Price: decimal.NewFromInt(300), Kind: model.TradeBuy},
		}

		result, err := env.svc.ImportTrades(ctx, env.userID, env.portfolioID, records)
		require.NoError(t, err)

		// row 2 exceeds the remaining 25000, rows 1, 3 and 4 apply
		assert.Equal(t, 3, result.Applied)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "row 2")

		balance, err := env.repo.GetCashBalanceForUpdate(ctx, env.userID)
		require.NoError(t, err)
		assert.True(t, balance.Equal(decimal.NewFromInt(25000)), "got %s", balance)
	})

	t.Run("foreign portfolio looks like not found", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		_, otherPortfolioID, err := env.svc.RegisterUser(ctx, "uid-2", decimal.Zero)
		require.NoError(t, err)

		_, err = env.svc.ImportTrades(ctx, env.userID, otherPortfolioID, []model.TradeRecord{
			{Ticker: "AAPL", Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(1), Kind: model.TradeBuy},
		})
		assert.ErrorIs(t, err, service.ErrNotFound)
	})
}
