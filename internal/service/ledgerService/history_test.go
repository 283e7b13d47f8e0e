package ledgerService

import (
	"context"
	"testing"
	"time"

	"github.com/KotFed0t/portfolio_ledger_api/internal/model"
	"github.com/KotFed0t/portfolio_ledger_api/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("empty portfolio yields an empty history", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		history, err := env.svc.GetHistory(ctx, env.userID, env.portfolioID)
		require.NoError(t, err)
		assert.Empty(t, history.Points)
		assert.True(t, history.TotalValue.IsZero())
	})

	t.Run("weekly points plus a live-priced final point", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		today := dateOnly(time.Now())
		d0 := today.AddDate(0, 0, -21)

		_, err := env.svc.ImportTrades(ctx, env.userID, env.portfolioID, []model.TradeRecord{
			{Ticker: "AAPL", Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), Kind: model.TradeBuy, CreatedAt: d0.Add(10 * time.Hour)},
			{Ticker: "MSFT", Shares: decimal.NewFromInt(2), Price: decimal.NewFromInt(300), Kind: model.TradeBuy, CreatedAt: d0.AddDate(0, 0, 1).Add(10 * time.Hour)},
		})
		require.NoError(t, err)

		// AAPL has a real close range, with a gap at d0+7 covered by the
		// nearest prior day. MSFT has neither closes nor a live price and
		// falls back to its last transaction price.
		env.marketdata.ranges["AAPL"] = map[time.Time]decimal.Decimal{
			d0:                   decimal.NewFromInt(100),
			d0.AddDate(0, 0, 6):  decimal.NewFromInt(110),
			d0.AddDate(0, 0, 14): decimal.NewFromInt(120),
		}
		env.marketdata.current["AAPL"] = decimal.NewFromInt(130)

		history, err := env.svc.GetHistory(ctx, env.userID, env.portfolioID)
		require.NoError(t, err)

		require.Len(t, history.Points, 4)

		assert.Equal(t, d0, history.Points[0].Date)
		assert.Equal(t, d0.AddDate(0, 0, 7), history.Points[1].Date)
		assert.Equal(t, d0.AddDate(0, 0, 14), history.Points[2].Date)
		assert.Equal(t, today, history.Points[3].Date)

		// d0: only AAPL is held yet
		assert.True(t, history.Points[0].Value.Equal(decimal.NewFromInt(1000)), "got %s", history.Points[0].Value)
		// d0+7: AAPL priced off d0+6, MSFT off its buy price
		assert.True(t, history.Points[1].Value.Equal(decimal.NewFromInt(1700)), "got %s", history.Points[1].Value)
		assert.True(t, history.Points[2].Value.Equal(decimal.NewFromInt(1800)), "got %s", history.Points[2].Value)
		// today: AAPL at the live price
		assert.True(t, history.Points[3].Value.Equal(decimal.NewFromInt(1900)), "got %s", history.Points[3].Value)

		assert.True(t, history.TotalValue.Equal(history.Points[3].Value))
	})

	t.Run("dates are strictly increasing", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		d0 := dateOnly(time.Now()).AddDate(0, 0, -60)
		_, err := env.svc.ImportTrades(ctx, env.userID, env.portfolioID, []model.TradeRecord{
			{Ticker: "AAPL", Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), Kind: model.TradeBuy, CreatedAt: d0.Add(time.Hour)},
		})
		require.NoError(t, err)

		history, err := env.svc.GetHistory(ctx, env.userID, env.portfolioID)
		require.NoError(t, err)

		require.NotEmpty(t, history.Points)
		for i := 1; i < len(history.Points); i++ {
			assert.True(t, history.Points[i].Date.After(history.Points[i-1].Date))
		}
	})

	t.Run("a ticker with no price at all undercounts instead of failing", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		d0 := dateOnly(time.Now()).AddDate(0, 0, -7)
		_, err := env.svc.ImportTrades(ctx, env.userID, env.portfolioID, []model.TradeRecord{
			{Ticker: "AAPL", Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), Kind: model.TradeBuy, CreatedAt: d0.Add(time.Hour)},
		})
		require.NoError(t, err)

		history, err := env.svc.GetHistory(ctx, env.userID, env.portfolioID)
		require.NoError(t, err)

		// every fallback ends at the transaction price
		require.NotEmpty(t, history.Points)
		for _, p := range history.Points {
			assert.True(t, p.Value.Equal(decimal.NewFromInt(100)), "got %s at %s", p.Value, p.Date)
		}
	})

	t.Run("foreign portfolio looks like not found", func(t *testing.T) {
		env := newTestEnv(t, testConfig())

		_, otherPortfolioID, err := env.svc.RegisterUser(ctx, "uid-2", decimal.Zero)
		require.NoError(t, err)

		_, err = env.svc.GetHistory(ctx, env.userID, otherPortfolioID)
		assert.ErrorIs(t, err, service.ErrNotFound)
	})
}
