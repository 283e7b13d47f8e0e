package dbModel

import (
	"time"

	"github.com/shopspring/decimal"
)

type Transaction struct {
	ID          string          `db:"transaction_id"`
	PortfolioID int64           `db:"portfolio_id"`
	Ticker      string          `db:"ticker"`
	Shares      decimal.Decimal `db:"shares"`
	Price       decimal.Decimal `db:"price"`
	Kind        string          `db:"kind"`
	CreatedAt   time.Time       `db:"dt_create"`
}

type Holding struct {
	PortfolioID int64           `db:"portfolio_id"`
	Ticker      string          `db:"ticker"`
	Shares      decimal.Decimal `db:"shares"`
	AverageCost decimal.Decimal `db:"average_cost"`
	BookValue   decimal.Decimal `db:"book_value"`
	UpdatedAt   time.Time       `db:"dt_update"`
}

type Portfolio struct {
	PortfolioID int64 `db:"portfolio_id"`
	UserID      int64 `db:"user_id"`
}
