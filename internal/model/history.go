package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ValuePoint is one sample of total portfolio market value.
type ValuePoint struct {
	Date  time.Time
	Value decimal.Decimal
}

type PortfolioHistory struct {
	Points     []ValuePoint
	TotalValue decimal.Decimal
}
