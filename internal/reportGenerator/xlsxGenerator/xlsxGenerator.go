package xlsxGenerator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KotFed0t/portfolio_ledger_api/internal/model"
	"github.com/KotFed0t/portfolio_ledger_api/utils"
	"github.com/xuri/excelize/v2"
)

type XLSXGenerator struct{}

func New() *XLSXGenerator {
	return &XLSXGenerator{}
}

func (g *XLSXGenerator) Generate(ctx context.Context, holdings []model.Holding, txns []model.Transaction) (fileBytes []byte, fileExtension string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "XLSXGenerator.Generate"

	slog.Debug("Generate start", slog.String("rqID", rqID), slog.String("op", op))

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("got error while closing file", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
	}()

	if err := g.fillHoldingsSheet(f, holdings); err != nil {
		return nil, "", err
	}

	if err := g.fillTransactionsSheet(f, txns); err != nil {
		return nil, "", err
	}

	// drop the default "Sheet1"
	if err := f.DeleteSheet("Sheet1"); err != nil {
		slog.Error("got error while deleting Sheet1", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		slog.Error("got error while saving file to bytes buffer", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, "", err
	}

	slog.Debug("Generate completed", slog.String("rqID", rqID), slog.String("op", op))

	return buf.Bytes(), ".xlsx", nil
}

func (g *XLSXGenerator) headerStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Font: &excelize.Font{
			Bold: true,
			Size: 11,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{"#cfe2f3"},
		},
	})
}

func (g *XLSXGenerator) fillHoldingsSheet(f *excelize.File, holdings []model.Holding) error {
	sheetName := "Holdings"
	_, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}

	styleID, err := g.headerStyle(f)
	if err != nil {
		return err
	}

	headers := []string{"ticker", "shares", "average cost", "book value", "updated"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		_ = f.SetCellStr(sheetName, cell, header)
		if err := f.SetCellStyle(sheetName, cell, cell, styleID); err != nil {
			return err
		}
	}

	for i, holding := range holdings {
		row := i + 2
		_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", row), holding.Ticker)
		_ = f.SetCellStr(sheetName, fmt.Sprintf("B%d", row), holding.Shares.String())
		_ = f.SetCellStr(sheetName, fmt.Sprintf("C%d", row), holding.AverageCost.StringFixed(2))
		_ = f.SetCellStr(sheetName, fmt.Sprintf("D%d", row), holding.BookValue.StringFixed(2))
		_ = f.SetCellStr(sheetName, fmt.Sprintf("E%d", row), holding.UpdatedAt.Format("2006-01-02 15:04"))
	}

	return nil
}

func (g *XLSXGenerator) fillTransactionsSheet(f *excelize.File, txns []model.Transaction) error {
	sheetName := "Transactions"
	_, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}

	styleID, err := g.headerStyle(f)
	if err != nil {
		return err
	}

	headers := []string{"date", "ticker", "kind", "shares", "price", "total"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		_ = f.SetCellStr(sheetName, cell, header)
		if err := f.SetCellStyle(sheetName, cell, cell, styleID); err != nil {
			return err
		}
	}

	for i, txn := range txns {
		row := i + 2
		_ = f.SetCellStr(sheetName, fmt.Sprintf("A%d", row), txn.CreatedAt.Format("2006-01-02 15:04"))
		_ = f.SetCellStr(sheetName, fmt.Sprintf("B%d", row), txn.Ticker)
		_ = f.SetCellStr(sheetName, fmt.Sprintf("C%d", row), string(txn.Kind))
		_ = f.SetCellStr(sheetName, fmt.Sprintf("D%d", row), txn.Shares.String())
		_ = f.SetCellStr(sheetName, fmt.Sprintf("E%d", row), txn.Price.StringFixed(2))
		_ = f.SetCellStr(sheetName, fmt.Sprintf("F%d", row), txn.Shares.Mul(txn.Price).StringFixed(2))
	}

	return nil
}
