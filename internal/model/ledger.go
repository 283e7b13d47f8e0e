package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeKind string

const (
	TradeBuy  TradeKind = "buy"
	TradeSell TradeKind = "sell"
)

func (k TradeKind) Valid() bool {
	return k == TradeBuy || k == TradeSell
}

type Transaction struct {
	ID          string
	PortfolioID int64
	Ticker      string
	Shares      decimal.Decimal
	Price       decimal.Decimal
	Kind        TradeKind
	CreatedAt   time.Time
}

// Holding is a materialized view over a ticker's transactions, it is
// always recomputed by replay and never edited field by field.
type Holding struct {
	PortfolioID int64
	Ticker      string
	Shares      decimal.Decimal
	AverageCost decimal.Decimal
	BookValue   decimal.Decimal
	UpdatedAt   time.Time
}

type Portfolio struct {
	PortfolioID int64
	UserID      int64
}

type TradeRequest struct {
	Ticker string
	Shares decimal.Decimal
	Price  decimal.Decimal
	Kind   TradeKind
}

// TradeRecord is one pre-parsed bulk import row. CreatedAt is optional,
// zero means "now".
type TradeRecord struct {
	Ticker    string
	Shares    decimal.Decimal
	Price     decimal.Decimal
	Kind      TradeKind
	CreatedAt time.Time
}

type ImportResult struct {
	Applied int
	Errors  []string
}
