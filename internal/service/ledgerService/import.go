package ledgerService

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/KotFed0t/portfolio_ledger_api/internal/model"
	"github.com/KotFed0t/portfolio_ledger_api/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ImportTrades applies pre-parsed trade rows in one unit of work. Invalid
// rows are reported back instead of aborting the batch, and every affected
// ticker is recalculated exactly once after the bulk insert, not once per
// row.
func (s *LedgerService) ImportTrades(ctx context.Context, userID, portfolioID int64, records []model.TradeRecord) (model.ImportResult, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.ImportTrades"

	slog.Debug("ImportTrades start", slog.String("rqID", rqID), slog.String("op", op), slog.Int("records", len(records)))
	defer func() {
		slog.Debug("ImportTrades finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int("records", len(records)))
	}()

	err := s.checkPortfolioOwner(ctx, userID, portfolioID)
	if err != nil {
		return model.ImportResult{}, err
	}

	result := model.ImportResult{}

	err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		txns, importErrors, tickers, err := s.prepareImport(ctx, userID, portfolioID, records)
		if err != nil {
			return err
		}

		result.Errors = importErrors

		if len(txns) == 0 {
			return nil
		}

		if err := s.repo.InsertTransactions(ctx, portfolioID, txns); err != nil {
			return err
		}

		// one recalculation per affected ticker, not one per row
		for _, ticker := range tickers {
			if _, _, err := s.recalcHolding(ctx, portfolioID, ticker); err != nil {
				return err
			}
		}

		result.Applied = len(txns)

		return nil
	})
	if err != nil {
		slog.Error("ImportTrades failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.ImportResult{}, err
	}

	if err := s.cache.FlushHoldings(ctx, portfolioID); err != nil {
		slog.Error("got error from cache.FlushHoldings", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	return result, nil
}

// prepareImport validates rows against the same rules as single trades.
// Sells are gated against a timestamp-ordered replay of the existing log
// plus the batch, so a sell can consume shares bought earlier in the same
// file and a backdated sell can't slip past a gate the recalculation
// would disagree with. Locks are taken in sorted ticker order to keep
// concurrent imports deadlock free.
func (s *LedgerService) prepareImport(
	ctx context.Context,
	userID, portfolioID int64,
	records []model.TradeRecord,
) (txns []model.Transaction, importErrors []string, tickers []string, err error) {
	tickerSet := make(map[string]struct{})
	for _, record := range records {
		req, vErr := validateTrade(model.TradeRequest{
			Ticker: record.Ticker,
			Shares: record.Shares,
			Price:  record.Price,
			Kind:   record.Kind,
		})
		if vErr == nil {
			tickerSet[req.Ticker] = struct{}{}
		}
	}

	tickers = make([]string, 0, len(tickerSet))
	for ticker := range tickerSet {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	for _, ticker := range tickers {
		if err := s.repo.LockPortfolioTicker(ctx, portfolioID, ticker); err != nil {
			return nil, nil, nil, err
		}
	}

	existing := make(map[string][]model.Transaction, len(tickers))
	for _, ticker := range tickers {
		log, err := s.repo.GetTickerTransactions(ctx, portfolioID, ticker)
		if err != nil {
			return nil, nil, nil, err
		}
		existing[ticker] = log
	}

	accepted := make(map[string][]model.Transaction, len(tickers))

	var cash decimal.Decimal
	if s.cfg.Ledger.EnforceCash {
		cash, err = s.repo.GetCashBalanceForUpdate(ctx, userID)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	cashDelta := decimal.Zero

	for i, record := range records {
		req, vErr := validateTrade(model.TradeRequest{
			Ticker: record.Ticker,
			Shares: record.Shares,
			Price:  record.Price,
			Kind:   record.Kind,
		})
		if vErr != nil {
			importErrors = append(importErrors, fmt.Sprintf("row %d: %s", i+1, vErr.Error()))
			continue
		}

		total := req.Shares.Mul(req.Price)

		createdAt := record.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		txn := model.Transaction{
			ID:          uuid.NewString(),
			PortfolioID: portfolioID,
			Ticker:      req.Ticker,
			Shares:      req.Shares,
			Price:       req.Price,
			Kind:        req.Kind,
			CreatedAt:   createdAt,
		}

		if req.Kind == model.TradeSell && !sellApplies(existing[req.Ticker], accepted[req.Ticker], txn) {
			importErrors = append(importErrors, fmt.Sprintf("row %d: insufficient shares of %s", i+1, req.Ticker))
			continue
		}

		if s.cfg.Ledger.EnforceCash && req.Kind == model.TradeBuy && cash.Add(cashDelta).LessThan(total) {
			importErrors = append(importErrors, fmt.Sprintf("row %d: insufficient cash for %s", i+1, req.Ticker))
			continue
		}

		switch req.Kind {
		case model.TradeBuy:
			cashDelta = cashDelta.Sub(total)
		case model.TradeSell:
			cashDelta = cashDelta.Add(total)
		}

		accepted[req.Ticker] = append(accepted[req.Ticker], txn)
		txns = append(txns, txn)
	}

	if s.cfg.Ledger.EnforceCash && !cashDelta.IsZero() {
		if err := s.repo.AdjustCashBalance(ctx, userID, cashDelta); err != nil {
			return nil, nil, nil, err
		}
	}

	// only recalc tickers that actually got rows
	applied := make(map[string]struct{}, len(txns))
	for _, txn := range txns {
		applied[txn.Ticker] = struct{}{}
	}
	tickers = tickers[:0]
	for ticker := range applied {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	return txns, importErrors, tickers, nil
}

// sellApplies reports whether adding the sell keeps every batch sell
// applied in a timestamp-ordered replay of the existing log plus the rows
// accepted so far. A sell the replay would skip must not be accepted: it
// would count as applied and move cash without ever touching the holding.
func sellApplies(existing, accepted []model.Transaction, candidate model.Transaction) bool {
	batchSells := map[string]struct{}{candidate.ID: {}}
	for _, txn := range accepted {
		if txn.Kind == model.TradeSell {
			batchSells[txn.ID] = struct{}{}
		}
	}

	merged := make([]model.Transaction, 0, len(existing)+len(accepted)+1)
	merged = append(merged, existing...)
	merged = append(merged, accepted...)
	merged = append(merged, candidate)

	// same ordering the recalculation reads the log in
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.Before(merged[j].CreatedAt)
		}
		return merged[i].ID < merged[j].ID
	})

	totalShares := decimal.Zero
	for _, txn := range merged {
		switch txn.Kind {
		case model.TradeBuy:
			totalShares = totalShares.Add(txn.Shares)
		case model.TradeSell:
			if totalShares.LessThan(txn.Shares) {
				if _, ok := batchSells[txn.ID]; ok {
					return false
				}
				continue
			}
			totalShares = totalShares.Sub(txn.Shares)
		}
	}

	return true
}
