package dbConverter

import (
	"github.com/KotFed0t/portfolio_ledger_api/internal/model"
	"github.com/KotFed0t/portfolio_ledger_api/internal/model/dbModel"
)

func ConvertTransaction(dbTxn dbModel.Transaction) model.Transaction {
	return model.Transaction{
		ID:          dbTxn.ID,
		PortfolioID: dbTxn.PortfolioID,
		Ticker:      dbTxn.Ticker,
		Shares:      dbTxn.Shares,
		Price:       dbTxn.Price,
		Kind:        model.TradeKind(dbTxn.Kind),
		CreatedAt:   dbTxn.CreatedAt,
	}
}

func ConvertHolding(dbHolding dbModel.Holding) model.Holding {
	return model.Holding{
		PortfolioID: dbHolding.PortfolioID,
		Ticker:      dbHolding.Ticker,
		Shares:      dbHolding.Shares,
		AverageCost: dbHolding.AverageCost,
		BookValue:   dbHolding.BookValue,
		UpdatedAt:   dbHolding.UpdatedAt,
	}
}

func ConvertPortfolio(dbPortfolio dbModel.Portfolio) model.Portfolio {
	return model.Portfolio{
		PortfolioID: dbPortfolio.PortfolioID,
		UserID:      dbPortfolio.UserID,
	}
}
