package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/KotFed0t/portfolio_ledger_api/data/repository"
	"github.com/KotFed0t/portfolio_ledger_api/internal/converter/dbConverter"
	"github.com/KotFed0t/portfolio_ledger_api/internal/model"
	"github.com/KotFed0t/portfolio_ledger_api/internal/model/dbModel"
	"github.com/KotFed0t/portfolio_ledger_api/utils"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

func (r *Postgres) RegUser(ctx context.Context, authUID string, startingCash decimal.Decimal) (userID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.RegUser"
	query := `INSERT INTO users(auth_uid, cash_balance) VALUES($1, $2) RETURNING user_id`

	slog.Debug("RegUser start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("RegUser failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("RegUser completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, authUID, startingCash).Scan(&userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" { // unique_violation
				return 0, repository.ErrAlreadyExists
			}
		}
		return 0, err
	}

	return userID, nil
}

func (r *Postgres) GetUserIDByAuthUID(ctx context.Context, authUID string) (userID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetUserIDByAuthUID"
	query := `SELECT user_id FROM users WHERE auth_uid = $1`

	slog.Debug("GetUserIDByAuthUID start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetUserIDByAuthUID failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetUserIDByAuthUID completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, authUID).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, err
	}

	return userID, nil
}

func (r *Postgres) CreatePortfolio(ctx context.Context, userID int64) (portfolioID int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.CreatePortfolio"
	query := `INSERT INTO portfolios(user_id) VALUES($1) RETURNING portfolio_id`

	slog.Debug("CreatePortfolio start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("CreatePortfolio failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("CreatePortfolio completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, userID).Scan(&portfolioID)
	if err != nil {
		return 0, err
	}

	return portfolioID, nil
}

func (r *Postgres) GetPortfolioByUser(ctx context.Context, userID int64) (portfolio model.Portfolio, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetPortfolioByUser"
	query := `
		SELECT portfolio_id, user_id
		FROM portfolios
		WHERE user_id = $1
		ORDER BY portfolio_id
		LIMIT 1
		`

	slog.Debug("GetPortfolioByUser start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetPortfolioByUser failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetPortfolioByUser completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbPortfolio := dbModel.Portfolio{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, userID).StructScan(&dbPortfolio)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Portfolio{}, repository.ErrNotFound
		}
		return model.Portfolio{}, err
	}

	return dbConverter.ConvertPortfolio(dbPortfolio), nil
}

func (r *Postgres) GetPortfolio(ctx context.Context, portfolioID int64) (portfolio model.Portfolio, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetPortfolio"
	query := `SELECT portfolio_id, user_id FROM portfolios WHERE portfolio_id = $1`

	slog.Debug("GetPortfolio start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetPortfolio failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetPortfolio completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbPortfolio := dbModel.Portfolio{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, portfolioID).StructScan(&dbPortfolio)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Portfolio{}, repository.ErrNotFound
		}
		return model.Portfolio{}, err
	}

	return dbConverter.ConvertPortfolio(dbPortfolio), nil
}

// LockPortfolioTicker serializes concurrent recalculations for one
// (portfolio, ticker) pair. The lock is transaction scoped and released
// on commit/rollback, so it must be called inside WithinTransaction.
func (r *Postgres) LockPortfolioTicker(ctx context.Context, portfolioID int64, ticker string) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.LockPortfolioTicker"
	query := `SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2, 0))`

	slog.Debug("LockPortfolioTicker start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("LockPortfolioTicker failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("LockPortfolioTicker completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, portfolioID, ticker)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) InsertTransaction(ctx context.Context, txn model.Transaction) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertTransaction"
	query := `
		INSERT INTO transactions(transaction_id, portfolio_id, ticker, shares, price, kind, dt_create)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		`

	slog.Debug(
		"InsertTransaction start",
		slog.String("rqID", rqID),
		slog.String("op", op),
		slog.Int64("portfolioID", txn.PortfolioID),
		slog.String("ticker", txn.Ticker),
		slog.String("query", query),
	)
	defer func() {
		if err != nil {
			slog.Error("InsertTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertTransaction completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(
		ctx,
		query,
		txn.ID,
		txn.PortfolioID,
		txn.Ticker,
		txn.Shares,
		txn.Price,
		string(txn.Kind),
		txn.CreatedAt,
	)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) InsertTransactions(ctx context.Context, portfolioID int64, txns []model.Transaction) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertTransactions"
	query := `
		INSERT INTO transactions(
			transaction_id, portfolio_id, ticker, shares, price, kind, dt_create
		)
		SELECT
			u.transaction_id,
			$1, -- portfolio_id
			u.ticker,
			u.shares,
			u.price,
			u.kind,
			u.dt_create
		FROM UNNEST(
			$2::uuid[],
			$3::text[],
			$4::decimal[],
			$5::decimal[],
			$6::text[],
			$7::timestamptz[]
		) AS u(transaction_id, ticker, shares, price, kind, dt_create)`

	ids := make([]string, 0, len(txns))
	tickers := make([]string, 0, len(txns))
	shares := make([]decimal.Decimal, 0, len(txns))
	prices := make([]decimal.Decimal, 0, len(txns))
	kinds := make([]string, 0, len(txns))
	dtCreates := make([]time.Time, 0, len(txns))

	for _, txn := range txns {
		ids = append(ids, txn.ID)
		tickers = append(tickers, txn.Ticker)
		shares = append(shares, txn.Shares)
		prices = append(prices, txn.Price)
		kinds = append(kinds, string(txn.Kind))
		dtCreates = append(dtCreates, txn.CreatedAt)
	}

	slog.Debug(
		"InsertTransactions start",
		slog.String("rqID", rqID),
		slog.String("op", op),
		slog.Int64("portfolioID", portfolioID),
		slog.Int("count", len(txns)),
		slog.String("query", query),
	)
	defer func() {
		if err != nil {
			slog.Error("InsertTransactions failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertTransactions completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(
		ctx,
		query,
		portfolioID,
		ids,
		tickers,
		shares,
		prices,
		kinds,
		dtCreates,
	)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) GetTransaction(ctx context.Context, transactionID string) (txn model.Transaction, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetTransaction"
	query := `
		SELECT transaction_id, portfolio_id, ticker, shares, price, kind, dt_create
		FROM transactions
		WHERE transaction_id = $1
		`

	slog.Debug("GetTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetTransaction completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbTxn := dbModel.Transaction{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, transactionID).StructScan(&dbTxn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Transaction{}, repository.ErrNotFound
		}
		return model.Transaction{}, err
	}

	return dbConverter.ConvertTransaction(dbTxn), nil
}

func (r *Postgres) DeleteTransaction(ctx context.Context, transactionID string) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.DeleteTransaction"
	query := `DELETE FROM transactions WHERE transaction_id = $1`

	slog.Debug("DeleteTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("DeleteTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("DeleteTransaction completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.txOrDb(ctx).ExecContext(ctx, query, transactionID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *Postgres) getTransactions(ctx context.Context, query string, args ...any) (txns []model.Transaction, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.getTransactions"

	slog.Debug("getTransactions start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("getTransactions failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("getTransactions completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var dbTxn dbModel.Transaction
		err = rows.StructScan(&dbTxn)
		if err != nil {
			return nil, err
		}
		txns = append(txns, dbConverter.ConvertTransaction(dbTxn))
	}

	return txns, nil
}

// GetTickerTransactions returns the full transaction log of one ticker in
// ascending creation order, ready for replay.
func (r *Postgres) GetTickerTransactions(ctx context.Context, portfolioID int64, ticker string) ([]model.Transaction, error) {
	query := `
		SELECT transaction_id, portfolio_id, ticker, shares, price, kind, dt_create
		FROM transactions
		WHERE portfolio_id = $1
		AND ticker = $2
		ORDER BY dt_create, transaction_id
		`

	return r.getTransactions(ctx, query, portfolioID, ticker)
}

func (r *Postgres) GetAllTransactions(ctx context.Context, portfolioID int64) ([]model.Transaction, error) {
	query := `
		SELECT transaction_id, portfolio_id, ticker, shares, price, kind, dt_create
		FROM transactions
		WHERE portfolio_id = $1
		ORDER BY dt_create, transaction_id
		`

	return r.getTransactions(ctx, query, portfolioID)
}

func (r *Postgres) GetRecentTransactions(ctx context.Context, portfolioID int64, limit int) ([]model.Transaction, error) {
	query := `
		SELECT transaction_id, portfolio_id, ticker, shares, price, kind, dt_create
		FROM transactions
		WHERE portfolio_id = $1
		ORDER BY dt_create DESC, transaction_id DESC
		LIMIT $2
		`

	return r.getTransactions(ctx, query, portfolioID, limit)
}

func (r *Postgres) GetHolding(ctx context.Context, portfolioID int64, ticker string) (holding model.Holding, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetHolding"
	query := `
		SELECT portfolio_id, ticker, shares, average_cost, book_value, dt_update
		FROM holdings
		WHERE portfolio_id = $1
		AND ticker = $2
		`

	slog.Debug("GetHolding start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetHolding failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetHolding completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	dbHolding := dbModel.Holding{}
	err = r.txOrDb(ctx).QueryRowxContext(ctx, query, portfolioID, ticker).StructScan(&dbHolding)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Holding{}, repository.ErrNotFound
		}
		return model.Holding{}, err
	}

	return dbConverter.ConvertHolding(dbHolding), nil
}

func (r *Postgres) GetHoldings(ctx context.Context, portfolioID int64) (holdings []model.Holding, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetHoldings"
	query := `
		SELECT portfolio_id, ticker, shares, average_cost, book_value, dt_update
		FROM holdings
		WHERE portfolio_id = $1
		ORDER BY ticker
		`

	slog.Debug("GetHoldings start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetHoldings failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetHoldings completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.txOrDb(ctx).QueryxContext(ctx, query, portfolioID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var dbHolding dbModel.Holding
		err = rows.StructScan(&dbHolding)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, dbConverter.ConvertHolding(dbHolding))
	}

	return holdings, nil
}

func (r *Postgres) UpsertHolding(ctx context.Context, holding model.Holding) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.UpsertHolding"
	query := `
		INSERT INTO holdings(portfolio_id, ticker, shares, average_cost, book_value, dt_update)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (portfolio_id, ticker) DO UPDATE SET
			shares = EXCLUDED.shares,
			average_cost = EXCLUDED.average_cost,
			book_value = EXCLUDED.book_value,
			dt_update = now()
		`

	slog.Debug(
		"UpsertHolding start",
		slog.String("rqID", rqID),
		slog.String("op", op),
		slog.Int64("portfolioID", holding.PortfolioID),
		slog.String("ticker", holding.Ticker),
		slog.String("query", query),
	)
	defer func() {
		if err != nil {
			slog.Error("UpsertHolding failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("UpsertHolding completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(
		ctx,
		query,
		holding.PortfolioID,
		holding.Ticker,
		holding.Shares,
		holding.AverageCost,
		holding.BookValue,
	)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) DeleteHolding(ctx context.Context, portfolioID int64, ticker string) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.DeleteHolding"
	query := `
		DELETE FROM holdings
		WHERE portfolio_id = $1
		AND ticker = $2
		`

	slog.Debug("DeleteHolding start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("DeleteHolding failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("DeleteHolding completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, portfolioID, ticker)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) GetCashBalanceForUpdate(ctx context.Context, userID int64) (balance decimal.Decimal, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetCashBalanceForUpdate"
	query := `SELECT cash_balance FROM users WHERE user_id = $1 FOR UPDATE`

	slog.Debug("GetCashBalanceForUpdate start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetCashBalanceForUpdate failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetCashBalanceForUpdate completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).QueryRowContext(ctx, query, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Decimal{}, repository.ErrNotFound
		}
		return decimal.Decimal{}, err
	}

	return balance, nil
}

func (r *Postgres) AdjustCashBalance(ctx context.Context, userID int64, delta decimal.Decimal) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.AdjustCashBalance"
	query := `UPDATE users SET cash_balance = cash_balance + $1 WHERE user_id = $2`

	slog.Debug("AdjustCashBalance start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("AdjustCashBalance failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("AdjustCashBalance completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	_, err = r.txOrDb(ctx).ExecContext(ctx, query, delta, userID)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) GetAllHeldTickers(ctx context.Context) (tickers []string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.GetAllHeldTickers"
	query := `SELECT DISTINCT ticker FROM holdings ORDER BY ticker`

	slog.Debug("GetAllHeldTickers start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("GetAllHeldTickers failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("GetAllHeldTickers completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.txOrDb(ctx).SelectContext(ctx, &tickers, query)
	if err != nil {
		return nil, err
	}

	return tickers, nil
}
