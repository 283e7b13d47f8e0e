package ledgerService

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/KotFed0t/portfolio_ledger_api/config"
	"github.com/KotFed0t/portfolio_ledger_api/data/repository"
	"github.com/KotFed0t/portfolio_ledger_api/internal/model"
	"github.com/KotFed0t/portfolio_ledger_api/internal/service"
	"github.com/KotFed0t/portfolio_ledger_api/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Repository interface {
	WithinTransaction(ctx context.Context, tFunc func(ctx context.Context) error) error

	RegUser(ctx context.Context, authUID string, startingCash decimal.Decimal) (userID int64, err error)
	GetUserIDByAuthUID(ctx context.Context, authUID string) (userID int64, err error)
	CreatePortfolio(ctx context.Context, userID int64) (portfolioID int64, err error)
	GetPortfolioByUser(ctx context.Context, userID int64) (model.Portfolio, error)
	GetPortfolio(ctx context.Context, portfolioID int64) (model.Portfolio, error)

	LockPortfolioTicker(ctx context.Context, portfolioID int64, ticker string) error
	InsertTransaction(ctx context.Context, txn model.Transaction) error
	InsertTransactions(ctx context.Context, portfolioID int64, txns []model.Transaction) error
	GetTransaction(ctx context.Context, transactionID string) (model.Transaction, error)
	DeleteTransaction(ctx context.Context, transactionID string) error
	GetTickerTransactions(ctx context.Context, portfolioID int64, ticker string) ([]model.Transaction, error)
	GetAllTransactions(ctx context.Context, portfolioID int64) ([]model.Transaction, error)
	GetRecentTransactions(ctx context.Context, portfolioID int64, limit int) ([]model.Transaction, error)

	GetHolding(ctx context.Context, portfolioID int64, ticker string) (model.Holding, error)
	GetHoldings(ctx context.Context, portfolioID int64) ([]model.Holding, error)
	UpsertHolding(ctx context.Context, holding model.Holding) error
	DeleteHolding(ctx context.Context, portfolioID int64, ticker string) error

	GetCashBalanceForUpdate(ctx context.Context, userID int64) (decimal.Decimal, error)
	AdjustCashBalance(ctx context.Context, userID int64, delta decimal.Decimal) error

	GetAllHeldTickers(ctx context.Context) ([]string, error)
}

type Cache interface {
	GetHoldings(ctx context.Context, portfolioID int64) ([]model.Holding, error)
	SetHoldings(ctx context.Context, portfolioID int64, holdings []model.Holding) error
	FlushHoldings(ctx context.Context, portfolioID int64) error
	GetPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
	SetPrices(ctx context.Context, prices map[string]decimal.Decimal) error
}

type MarketdataApi interface {
	GetCurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
	GetCurrentPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error)
	GetPriceRange(ctx context.Context, ticker string, from, to time.Time) (map[time.Time]decimal.Decimal, error)
}

type ReportGenerator interface {
	Generate(ctx context.Context, holdings []model.Holding, txns []model.Transaction) (fileBytes []byte, fileExtension string, err error)
}

type CloudStorage interface {
	UploadFile(ctx context.Context, reader io.Reader, filename string) (downloadLink string, err error)
}

type LedgerService struct {
	cfg        *config.Config
	repo       Repository
	cache      Cache
	marketdata MarketdataApi
	reports    ReportGenerator
	storage    CloudStorage
}

func New(
	cfg *config.Config,
	repo Repository,
	cache Cache,
	marketdata MarketdataApi,
	reports ReportGenerator,
	storage CloudStorage,
) *LedgerService {
	return &LedgerService{
		cfg:        cfg,
		repo:       repo,
		cache:      cache,
		marketdata: marketdata,
		reports:    reports,
		storage:    storage,
	}
}

func validateTrade(req model.TradeRequest) (model.TradeRequest, error) {
	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	if req.Ticker == "" {
		return req, fmt.Errorf("%w: ticker is required", service.ErrValidation)
	}
	if !req.Shares.IsPositive() {
		return req, fmt.Errorf("%w: shares must be positive", service.ErrValidation)
	}
	if !req.Price.IsPositive() {
		return req, fmt.Errorf("%w: price must be positive", service.ErrValidation)
	}
	if !req.Kind.Valid() {
		return req, fmt.Errorf("%w: kind must be buy or sell", service.ErrValidation)
	}
	return req, nil
}

// checkPortfolioOwner resolves the portfolio and hides its existence from
// non-owners.
func (s *LedgerService) checkPortfolioOwner(ctx context.Context, userID, portfolioID int64) error {
	portfolio, err := s.repo.GetPortfolio(ctx, portfolioID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return service.ErrNotFound
		}
		return err
	}

	if portfolio.UserID != userID {
		return service.ErrNotFound
	}

	return nil
}

// recalcHolding rederives the holding for one ticker by full replay of its
// transaction log. Must run inside the same DB transaction as the write
// that triggered it. Returns the new holding and whether the row was
// removed (position closed).
func (s *LedgerService) recalcHolding(ctx context.Context, portfolioID int64, ticker string) (model.Holding, bool, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.recalcHolding"

	txns, err := s.repo.GetTickerTransactions(ctx, portfolioID, ticker)
	if err != nil {
		slog.Error("got error from repo.GetTickerTransactions", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Holding{}, false, err
	}

	pos := replayPosition(txns)

	if !pos.Shares.IsPositive() {
		err = s.repo.DeleteHolding(ctx, portfolioID, ticker)
		if err != nil {
			slog.Error("got error from repo.DeleteHolding", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
			return model.Holding{}, false, err
		}
		return model.Holding{}, true, nil
	}

	holding := model.Holding{
		PortfolioID: portfolioID,
		Ticker:      ticker,
		Shares:      pos.Shares,
		AverageCost: pos.AverageCost,
		BookValue:   pos.BookValue,
	}

	err = s.repo.UpsertHolding(ctx, holding)
	if err != nil {
		slog.Error("got error from repo.UpsertHolding", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Holding{}, false, err
	}

	return holding, false, nil
}

// RecordTrade appends one trade and returns the recomputed holding.
// removed reports that the trade closed the position and the holding row
// is gone.
func (s *LedgerService) RecordTrade(ctx context.Context, userID, portfolioID int64, req model.TradeRequest) (holding model.Holding, removed bool, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.RecordTrade"

	slog.Debug("RecordTrade start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", req.Ticker), slog.String("kind", string(req.Kind)))
	defer func() {
		slog.Debug("RecordTrade finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", req.Ticker))
	}()

	req, err = validateTrade(req)
	if err != nil {
		return model.Holding{}, false, err
	}

	err = s.checkPortfolioOwner(ctx, userID, portfolioID)
	if err != nil {
		return model.Holding{}, false, err
	}

	err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.LockPortfolioTicker(ctx, portfolioID, req.Ticker); err != nil {
			return err
		}

		if req.Kind == model.TradeSell {
			current, err := s.repo.GetHolding(ctx, portfolioID, req.Ticker)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			if errors.Is(err, repository.ErrNotFound) || current.Shares.LessThan(req.Shares) {
				return service.ErrInsufficientShares
			}
		}

		if s.cfg.Ledger.EnforceCash {
			if err := s.applyCash(ctx, userID, req.Kind, req.Shares.Mul(req.Price)); err != nil {
				return err
			}
		}

		txn := model.Transaction{
			ID:          uuid.NewString(),
			PortfolioID: portfolioID,
			Ticker:      req.Ticker,
			Shares:      req.Shares,
			Price:       req.Price,
			Kind:        req.Kind,
			CreatedAt:   time.Now().UTC(),
		}

		if err := s.repo.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		holding, removed, err = s.recalcHolding(ctx, portfolioID, req.Ticker)
		return err
	})
	if err != nil {
		slog.Error("RecordTrade failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Holding{}, false, err
	}

	// synchronous flush, a concurrent read must not see the stale snapshot
	if err := s.cache.FlushHoldings(ctx, portfolioID); err != nil {
		slog.Error("got error from cache.FlushHoldings", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	return holding, removed, nil
}

// applyCash debits buys (after a sufficiency check on the locked row) and
// credits sells.
func (s *LedgerService) applyCash(ctx context.Context, userID int64, kind model.TradeKind, total decimal.Decimal) error {
	if kind == model.TradeBuy {
		balance, err := s.repo.GetCashBalanceForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if balance.LessThan(total) {
			return service.ErrInsufficientCash
		}
		return s.repo.AdjustCashBalance(ctx, userID, total.Neg())
	}
	return s.repo.AdjustCashBalance(ctx, userID, total)
}

// DeleteTransaction reverses a trade: the row is removed and the holding is
// recomputed from the remaining log, never patched in place.
func (s *LedgerService) DeleteTransaction(ctx context.Context, userID int64, transactionID string) (holding model.Holding, removed bool, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.DeleteTransaction"

	slog.Debug("DeleteTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.String("transactionID", transactionID))
	defer func() {
		slog.Debug("DeleteTransaction finished", slog.String("rqID", rqID), slog.String("op", op), slog.String("transactionID", transactionID))
	}()

	var portfolioID int64

	err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		txn, err := s.repo.GetTransaction(ctx, transactionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return service.ErrNotFound
			}
			return err
		}

		if err := s.checkPortfolioOwner(ctx, userID, txn.PortfolioID); err != nil {
			return err
		}

		portfolioID = txn.PortfolioID

		if err := s.repo.LockPortfolioTicker(ctx, txn.PortfolioID, txn.Ticker); err != nil {
			return err
		}

		if err := s.repo.DeleteTransaction(ctx, transactionID); err != nil {
			return err
		}

		if s.cfg.Ledger.EnforceCash {
			// reversing a buy returns the cash, reversing a sell takes it back
			total := txn.Shares.Mul(txn.Price)
			if txn.Kind == model.TradeSell {
				total = total.Neg()
			}
			if err := s.repo.AdjustCashBalance(ctx, userID, total); err != nil {
				return err
			}
		}

		holding, removed, err = s.recalcHolding(ctx, txn.PortfolioID, txn.Ticker)
		return err
	})
	if err != nil {
		slog.Error("DeleteTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Holding{}, false, err
	}

	if err := s.cache.FlushHoldings(ctx, portfolioID); err != nil {
		slog.Error("got error from cache.FlushHoldings", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	return holding, removed, nil
}

func (s *LedgerService) GetHoldings(ctx context.Context, userID, portfolioID int64) ([]model.Holding, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.GetHoldings"

	slog.Debug("GetHoldings start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID))
	defer func() {
		slog.Debug("GetHoldings finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID))
	}()

	err := s.checkPortfolioOwner(ctx, userID, portfolioID)
	if err != nil {
		return nil, err
	}

	holdings, err := s.cache.GetHoldings(ctx, portfolioID)
	if err == nil {
		return holdings, nil
	}

	slog.Warn("can't get holdings from cache", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))

	holdings, err = s.repo.GetHoldings(ctx, portfolioID)
	if err != nil {
		slog.Error("got error from repo.GetHoldings", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	go s.cache.SetHoldings(context.WithoutCancel(ctx), portfolioID, holdings)

	return holdings, nil
}

func (s *LedgerService) GetTransactions(ctx context.Context, userID, portfolioID int64) ([]model.Transaction, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.GetTransactions"

	slog.Debug("GetTransactions start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID))
	defer func() {
		slog.Debug("GetTransactions finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID))
	}()

	err := s.checkPortfolioOwner(ctx, userID, portfolioID)
	if err != nil {
		return nil, err
	}

	txns, err := s.repo.GetRecentTransactions(ctx, portfolioID, s.cfg.Ledger.RecentTransactions)
	if err != nil {
		slog.Error("got error from repo.GetRecentTransactions", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	return txns, nil
}

func (s *LedgerService) GetPortfolioID(ctx context.Context, userID int64) (int64, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.GetPortfolioID"

	slog.Debug("GetPortfolioID start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID))
	defer func() {
		slog.Debug("GetPortfolioID finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("userID", userID))
	}()

	portfolio, err := s.repo.GetPortfolioByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, service.ErrNotFound
		}
		slog.Error("got error from repo.GetPortfolioByUser", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return 0, err
	}

	return portfolio.PortfolioID, nil
}

// RegisterUser creates the user row together with their default portfolio.
func (s *LedgerService) RegisterUser(ctx context.Context, authUID string, startingCash decimal.Decimal) (userID, portfolioID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.RegisterUser"

	slog.Debug("RegisterUser start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		slog.Debug("RegisterUser finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	if authUID == "" {
		return 0, 0, fmt.Errorf("%w: auth uid is required", service.ErrValidation)
	}
	if startingCash.IsNegative() {
		return 0, 0, fmt.Errorf("%w: starting cash can't be negative", service.ErrValidation)
	}

	err = s.repo.WithinTransaction(ctx, func(ctx context.Context) error {
		userID, err = s.repo.RegUser(ctx, authUID, startingCash)
		if err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				return service.ErrAlreadyExists
			}
			return err
		}

		portfolioID, err = s.repo.CreatePortfolio(ctx, userID)
		return err
	})
	if err != nil {
		slog.Error("RegisterUser failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return 0, 0, err
	}

	return userID, portfolioID, nil
}

func (s *LedgerService) ResolveUser(ctx context.Context, authUID string) (int64, error) {
	userID, err := s.repo.GetUserIDByAuthUID(ctx, authUID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, service.ErrNotFound
		}
		return 0, err
	}
	return userID, nil
}

// WarmPriceCache refreshes cached live prices for every held ticker, runs
// as a periodic job.
func (s *LedgerService) WarmPriceCache(ctx context.Context) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.WarmPriceCache"

	tickers, err := s.repo.GetAllHeldTickers(ctx)
	if err != nil {
		slog.Error("got error from repo.GetAllHeldTickers", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	if len(tickers) == 0 {
		return nil
	}

	prices, err := s.marketdata.GetCurrentPrices(ctx, tickers)
	if err != nil {
		slog.Error("got error from marketdata.GetCurrentPrices", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	return s.cache.SetPrices(ctx, prices)
}
