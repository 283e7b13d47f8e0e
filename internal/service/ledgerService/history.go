package ledgerService

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/KotFed0t/portfolio_ledger_api/internal/model"
	"github.com/KotFed0t/portfolio_ledger_api/utils"
	"github.com/shopspring/decimal"
)

// GetHistory rebuilds the portfolio's market value over time: weekly
// samples from the first transaction's date up to today, priced with
// historical closes, plus a final point for today on live prices.
//
// Missing prices never abort the reconstruction, the affected ticker is
// skipped for that point and logged, so a point can undercount.
func (s *LedgerService) GetHistory(ctx context.Context, userID, portfolioID int64) (model.PortfolioHistory, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.GetHistory"

	slog.Debug("GetHistory start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID))
	defer func() {
		slog.Debug("GetHistory finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID))
	}()

	err := s.checkPortfolioOwner(ctx, userID, portfolioID)
	if err != nil {
		return model.PortfolioHistory{}, err
	}

	txns, err := s.repo.GetAllTransactions(ctx, portfolioID)
	if err != nil {
		slog.Error("got error from repo.GetAllTransactions", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.PortfolioHistory{}, err
	}

	if len(txns) == 0 {
		return model.PortfolioHistory{TotalValue: decimal.Zero}, nil
	}

	start := dateOnly(txns[0].CreatedAt)
	today := dateOnly(time.Now())

	tickers := distinctTickers(txns)
	priceRanges := s.fetchPriceRanges(ctx, tickers, start, today)

	points := make([]model.ValuePoint, 0, len(txns))
	for _, date := range sampleDates(start, today, s.cfg.Ledger.HistorySampleDays) {
		value := decimal.Zero
		for ticker, shares := range sharesAsOf(txns, date) {
			if !shares.IsPositive() {
				continue
			}

			price, ok := priceOnOrBefore(priceRanges[ticker], date, start)
			if !ok {
				price, ok = lastTransactionPrice(txns, ticker, date)
			}
			if !ok {
				slog.Warn(
					"no price for ticker at sample date, point will undercount",
					slog.String("rqID", rqID),
					slog.String("op", op),
					slog.String("ticker", ticker),
					slog.String("date", date.Format("2006-01-02")),
				)
				continue
			}

			value = value.Add(shares.Mul(price))
		}

		points = append(points, model.ValuePoint{Date: date, Value: value})
	}

	// final point for today on live prices
	todayValue := decimal.Zero
	for ticker, shares := range sharesAsOf(txns, today) {
		if !shares.IsPositive() {
			continue
		}

		price, ok := s.livePrice(ctx, ticker, priceRanges[ticker], today, start)
		if !ok {
			price, ok = lastTransactionPrice(txns, ticker, today)
		}
		if !ok {
			slog.Warn(
				"no live price for ticker, final point will undercount",
				slog.String("rqID", rqID),
				slog.String("op", op),
				slog.String("ticker", ticker),
			)
			continue
		}

		todayValue = todayValue.Add(shares.Mul(price))
	}

	points = append(points, model.ValuePoint{Date: today, Value: todayValue})

	return model.PortfolioHistory{Points: points, TotalValue: todayValue}, nil
}

// fetchPriceRanges pulls the whole daily close range once per ticker,
// pacing calls so the marketdata rate limit is respected. A failed ticker
// just yields no range, the fallback chain covers it later.
func (s *LedgerService) fetchPriceRanges(ctx context.Context, tickers []string, from, to time.Time) map[string]map[time.Time]decimal.Decimal {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.fetchPriceRanges"

	ranges := make(map[string]map[time.Time]decimal.Decimal, len(tickers))
	for i, ticker := range tickers {
		if i > 0 && s.cfg.API.MarketdataApi.RateDelay > 0 {
			time.Sleep(s.cfg.API.MarketdataApi.RateDelay)
		}

		prices, err := s.marketdata.GetPriceRange(ctx, ticker, from, to)
		if err != nil {
			slog.Warn(
				"can't get price range",
				slog.String("rqID", rqID),
				slog.String("op", op),
				slog.String("ticker", ticker),
				slog.String("err", err.Error()),
			)
			continue
		}
		ranges[ticker] = prices
	}

	return ranges
}

// livePrice resolves today's price: cache, then marketdata, then the most
// recent historical close.
func (s *LedgerService) livePrice(ctx context.Context, ticker string, prices map[time.Time]decimal.Decimal, today, start time.Time) (decimal.Decimal, bool) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.livePrice"

	price, err := s.cache.GetPrice(ctx, ticker)
	if err == nil {
		return price, true
	}

	price, err = s.marketdata.GetCurrentPrice(ctx, ticker)
	if err == nil {
		return price, true
	}

	slog.Warn(
		"can't get current price, falling back to last close",
		slog.String("rqID", rqID),
		slog.String("op", op),
		slog.String("ticker", ticker),
		slog.String("err", err.Error()),
	)

	return priceOnOrBefore(prices, today, start)
}

// priceOnOrBefore returns the close for the date, or the nearest prior
// trading day within the fetched range.
func priceOnOrBefore(prices map[time.Time]decimal.Decimal, date, earliest time.Time) (decimal.Decimal, bool) {
	if len(prices) == 0 {
		return decimal.Decimal{}, false
	}

	for d := date; !d.Before(earliest); d = d.AddDate(0, 0, -1) {
		if price, ok := prices[d]; ok {
			return price, true
		}
	}

	return decimal.Decimal{}, false
}

// lastTransactionPrice is the terminal fallback: the price of the ticker's
// most recent transaction at or before the date.
func lastTransactionPrice(txns []model.Transaction, ticker string, date time.Time) (decimal.Decimal, bool) {
	price := decimal.Decimal{}
	found := false

	for _, txn := range txns {
		if txn.Ticker != ticker || dateOnly(txn.CreatedAt).After(date) {
			continue
		}
		price = txn.Price
		found = true
	}

	return price, found
}

func distinctTickers(txns []model.Transaction) []string {
	seen := make(map[string]struct{})
	var tickers []string
	for _, txn := range txns {
		if _, ok := seen[txn.Ticker]; !ok {
			seen[txn.Ticker] = struct{}{}
			tickers = append(tickers, txn.Ticker)
		}
	}

	sort.Strings(tickers)
	return tickers
}
