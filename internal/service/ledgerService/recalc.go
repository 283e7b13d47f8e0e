package ledgerService

import (
	"time"

	"github.com/KotFed0t/portfolio_ledger_api/internal/model"
	"github.com/shopspring/decimal"
)

type position struct {
	Shares      decimal.Decimal
	AverageCost decimal.Decimal
	BookValue   decimal.Decimal
}

// replayPosition accumulates a ticker's transactions (already in ascending
// creation order) into the weighted-average-cost position.
//
// Buys grow the cost basis by the full trade value. Sells remove cost
// proportionally at the average cost of the moment, so a sell never moves
// the average cost of what remains. A sell larger than the running position
// is skipped: entry validation rejects those, the guard here only protects
// the replay from a log that predates it.
func replayPosition(txns []model.Transaction) position {
	totalShares := decimal.Zero
	totalCost := decimal.Zero

	for _, txn := range txns {
		switch txn.Kind {
		case model.TradeBuy:
			totalShares = totalShares.Add(txn.Shares)
			totalCost = totalCost.Add(txn.Shares.Mul(txn.Price))
		case model.TradeSell:
			if totalShares.GreaterThanOrEqual(txn.Shares) {
				avgCost := decimal.Zero
				if totalShares.IsPositive() {
					avgCost = totalCost.Div(totalShares)
				}
				totalShares = totalShares.Sub(txn.Shares)
				totalCost = totalCost.Sub(txn.Shares.Mul(avgCost))
			}
		}
	}

	// floor against rounding drift
	bookValue := totalCost
	if bookValue.IsNegative() {
		bookValue = decimal.Zero
	}

	avgCost := decimal.Zero
	if totalShares.IsPositive() {
		avgCost = bookValue.Div(totalShares)
	}

	return position{
		Shares:      totalShares,
		AverageCost: avgCost,
		BookValue:   bookValue,
	}
}

// sharesAsOf replays net share counts per ticker over transactions whose
// creation date is on or before the sample date. Only share counts matter
// here, the cost basis is irrelevant to market value.
func sharesAsOf(txns []model.Transaction, date time.Time) map[string]decimal.Decimal {
	shares := make(map[string]decimal.Decimal)

	for _, txn := range txns {
		if dateOnly(txn.CreatedAt).After(date) {
			continue
		}

		current := shares[txn.Ticker]
		switch txn.Kind {
		case model.TradeBuy:
			shares[txn.Ticker] = current.Add(txn.Shares)
		case model.TradeSell:
			if current.GreaterThanOrEqual(txn.Shares) {
				shares[txn.Ticker] = current.Sub(txn.Shares)
			}
		}
	}

	return shares
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// sampleDates enumerates dates every stepDays from start up to but not
// including end. The end date gets its own live-priced point.
func sampleDates(start, end time.Time, stepDays int) []time.Time {
	if stepDays <= 0 {
		stepDays = 7
	}

	var dates []time.Time
	for d := start; d.Before(end); d = d.AddDate(0, 0, stepDays) {
		dates = append(dates, d)
	}
	return dates
}
