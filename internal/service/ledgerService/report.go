package ledgerService

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/KotFed0t/portfolio_ledger_api/utils"
)

// GenerateReport exports the portfolio's holdings and full transaction log
// to a workbook and uploads it, returning the download link.
func (s *LedgerService) GenerateReport(ctx context.Context, userID, portfolioID int64) (downloadLink string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "LedgerService.GenerateReport"

	slog.Debug("GenerateReport start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID))
	defer func() {
		slog.Debug("GenerateReport finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("portfolioID", portfolioID))
	}()

	err = s.checkPortfolioOwner(ctx, userID, portfolioID)
	if err != nil {
		return "", err
	}

	holdings, err := s.repo.GetHoldings(ctx, portfolioID)
	if err != nil {
		slog.Error("got error from repo.GetHoldings", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return "", err
	}

	txns, err := s.repo.GetAllTransactions(ctx, portfolioID)
	if err != nil {
		slog.Error("got error from repo.GetAllTransactions", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return "", err
	}

	fileBytes, fileExtension, err := s.reports.Generate(ctx, holdings, txns)
	if err != nil {
		slog.Error("got error from reports.Generate", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return "", err
	}

	filename := fmt.Sprintf("portfolio_%d_%s%s", portfolioID, time.Now().Format("2006-01-02"), fileExtension)

	downloadLink, err = s.storage.UploadFile(ctx, bytes.NewReader(fileBytes), filename)
	if err != nil {
		slog.Error("got error from storage.UploadFile", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return "", err
	}

	return downloadLink, nil
}
