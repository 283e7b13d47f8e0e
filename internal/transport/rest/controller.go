package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/KotFed0t/portfolio_ledger_api/internal/model"
	"github.com/KotFed0t/portfolio_ledger_api/internal/service"
	"github.com/KotFed0t/portfolio_ledger_api/internal/transport/rest/middleware"
	"github.com/KotFed0t/portfolio_ledger_api/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LedgerService interface {
	RegisterUser(ctx context.Context, authUID string, startingCash decimal.Decimal) (userID, portfolioID int64, err error)
	ResolveUser(ctx context.Context, authUID string) (userID int64, err error)
	GetPortfolioID(ctx context.Context, userID int64) (int64, error)
	RecordTrade(ctx context.Context, userID, portfolioID int64, req model.TradeRequest) (holding model.Holding, removed bool, err error)
	DeleteTransaction(ctx context.Context, userID int64, transactionID string) (holding model.Holding, removed bool, err error)
	GetHoldings(ctx context.Context, userID, portfolioID int64) ([]model.Holding, error)
	GetTransactions(ctx context.Context, userID, portfolioID int64) ([]model.Transaction, error)
	GetHistory(ctx context.Context, userID, portfolioID int64) (model.PortfolioHistory, error)
	ImportTrades(ctx context.Context, userID, portfolioID int64, records []model.TradeRecord) (model.ImportResult, error)
	GenerateReport(ctx context.Context, userID, portfolioID int64) (downloadLink string, err error)
}

type Session interface {
	Set(ctx context.Context, token string, userID int64) error
	Delete(ctx context.Context, token string) error
}

type Controller struct {
	ledgerService LedgerService
	session       Session
}

func NewController(ledgerService LedgerService, session Session) *Controller {
	return &Controller{
		ledgerService: ledgerService,
		session:       session,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps the service error kinds onto status codes,
// everything unexpected becomes an opaque 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrInsufficientShares):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "not enough shares to sell"})
	case errors.Is(err, service.ErrInsufficientCash):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "not enough cash"})
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, service.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "already exists"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func userIDOrAbort(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
	}
	return userID, ok
}

type registerUserRequest struct {
	AuthUID      string          `json:"auth_uid"`
	StartingCash decimal.Decimal `json:"starting_cash"`
}

type registerUserResponse struct {
	UserID      int64  `json:"user_id"`
	PortfolioID int64  `json:"portfolio_id"`
	Token       string `json:"token"`
}

// RegisterUser creates the user with their default portfolio and issues a
// session token right away, no separate login round trip needed.
func (ctrl *Controller) RegisterUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rqID := utils.GetRequestIDFromCtx(ctx)

	var req registerUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}

	userID, portfolioID, err := ctrl.ledgerService.RegisterUser(ctx, req.AuthUID, req.StartingCash)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	token := uuid.NewString()
	if err := ctrl.session.Set(ctx, token, userID); err != nil {
		slog.Error("got error from session.Set", slog.String("rqID", rqID), slog.String("err", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusCreated, registerUserResponse{UserID: userID, PortfolioID: portfolioID, Token: token})
}

type loginRequest struct {
	AuthUID string `json:"auth_uid"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges an already verified external identity for a session
// token. Verifying the identity itself is the gateway's job.
func (ctrl *Controller) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rqID := utils.GetRequestIDFromCtx(ctx)

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}

	userID, err := ctrl.ledgerService.ResolveUser(ctx, req.AuthUID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	token := uuid.NewString()
	if err := ctrl.session.Set(ctx, token, userID); err != nil {
		slog.Error("got error from session.Set", slog.String("rqID", rqID), slog.String("err", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

func (ctrl *Controller) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rqID := utils.GetRequestIDFromCtx(ctx)

	token := middleware.BearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
		return
	}

	if err := ctrl.session.Delete(ctx, token); err != nil {
		slog.Error("got error from session.Delete", slog.String("rqID", rqID), slog.String("err", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type portfolioIDResponse struct {
	PortfolioID int64 `json:"portfolio_id"`
}

func (ctrl *Controller) GetPortfolioID(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	portfolioID, err := ctrl.ledgerService.GetPortfolioID(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, portfolioIDResponse{PortfolioID: portfolioID})
}

type holdingResponse struct {
	Ticker      string          `json:"ticker"`
	Shares      decimal.Decimal `json:"shares"`
	AverageCost decimal.Decimal `json:"average_cost"`
	BookValue   decimal.Decimal `json:"book_value"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func toHoldingResponse(h model.Holding) holdingResponse {
	return holdingResponse{
		Ticker:      h.Ticker,
		Shares:      h.Shares,
		AverageCost: h.AverageCost,
		BookValue:   h.BookValue,
		UpdatedAt:   h.UpdatedAt,
	}
}

type holdingsResponse struct {
	Holdings []holdingResponse `json:"holdings"`
}

func (ctrl *Controller) GetHoldings(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	portfolioID, err := portfolioIDFromURL(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid portfolio id"})
		return
	}

	holdings, err := ctrl.ledgerService.GetHoldings(r.Context(), userID, portfolioID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := holdingsResponse{Holdings: make([]holdingResponse, 0, len(holdings))}
	for _, h := range holdings {
		resp.Holdings = append(resp.Holdings, toHoldingResponse(h))
	}

	writeJSON(w, http.StatusOK, resp)
}

type tradeRequest struct {
	Ticker string          `json:"ticker"`
	Shares decimal.Decimal `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Kind   string          `json:"kind"`
}

// tradeResponse mirrors deleteTransactionResponse: a trade that closes
// the position has no holding left to report.
type tradeResponse struct {
	Holding        *holdingResponse `json:"holding,omitempty"`
	HoldingRemoved bool             `json:"holding_removed"`
}

func (ctrl *Controller) RecordTrade(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	portfolioID, err := portfolioIDFromURL(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid portfolio id"})
		return
	}

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}

	holding, removed, err := ctrl.ledgerService.RecordTrade(r.Context(), userID, portfolioID, model.TradeRequest{
		Ticker: req.Ticker,
		Shares: req.Shares,
		Price:  req.Price,
		Kind:   model.TradeKind(req.Kind),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := tradeResponse{HoldingRemoved: removed}
	if !removed {
		h := toHoldingResponse(holding)
		resp.Holding = &h
	}

	writeJSON(w, http.StatusCreated, resp)
}

type deleteTransactionResponse struct {
	Holding        *holdingResponse `json:"holding,omitempty"`
	HoldingRemoved bool             `json:"holding_removed"`
}

func (ctrl *Controller) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	transactionID := chi.URLParam(r, "transactionID")
	if _, err := uuid.Parse(transactionID); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid transaction id"})
		return
	}

	holding, removed, err := ctrl.ledgerService.DeleteTransaction(r.Context(), userID, transactionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := deleteTransactionResponse{HoldingRemoved: removed}
	if !removed {
		h := toHoldingResponse(holding)
		resp.Holding = &h
	}

	writeJSON(w, http.StatusOK, resp)
}

type transactionResponse struct {
	ID        string          `json:"id"`
	Ticker    string          `json:"ticker"`
	Shares    decimal.Decimal `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	Kind      string          `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
}

type transactionsResponse struct {
	Transactions []transactionResponse `json:"transactions"`
}

func (ctrl *Controller) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	portfolioID, err := portfolioIDFromURL(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid portfolio id"})
		return
	}

	txns, err := ctrl.ledgerService.GetTransactions(r.Context(), userID, portfolioID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := transactionsResponse{Transactions: make([]transactionResponse, 0, len(txns))}
	for _, txn := range txns {
		resp.Transactions = append(resp.Transactions, transactionResponse{
			ID:        txn.ID,
			Ticker:    txn.Ticker,
			Shares:    txn.Shares,
			Price:     txn.Price,
			Kind:      string(txn.Kind),
			CreatedAt: txn.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type valuePointResponse struct {
	Date  string          `json:"date"`
	Value decimal.Decimal `json:"value"`
}

type historyResponse struct {
	Points     []valuePointResponse `json:"points"`
	TotalValue decimal.Decimal      `json:"total_value"`
}

func (ctrl *Controller) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	portfolioID, err := portfolioIDFromURL(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid portfolio id"})
		return
	}

	history, err := ctrl.ledgerService.GetHistory(r.Context(), userID, portfolioID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := historyResponse{
		Points:     make([]valuePointResponse, 0, len(history.Points)),
		TotalValue: history.TotalValue,
	}
	for _, p := range history.Points {
		resp.Points = append(resp.Points, valuePointResponse{Date: p.Date.Format("2006-01-02"), Value: p.Value})
	}

	writeJSON(w, http.StatusOK, resp)
}

type importTradeRow struct {
	Ticker    string          `json:"ticker"`
	Shares    decimal.Decimal `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	Kind      string          `json:"kind"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
}

type importRequest struct {
	Trades []importTradeRow `json:"trades"`
}

type importResponse struct {
	Applied int      `json:"applied"`
	Errors  []string `json:"errors"`
}

func (ctrl *Controller) ImportTrades(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	portfolioID, err := portfolioIDFromURL(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid portfolio id"})
		return
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}

	if len(req.Trades) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "trades is empty"})
		return
	}

	records := make([]model.TradeRecord, 0, len(req.Trades))
	for _, row := range req.Trades {
		record := model.TradeRecord{
			Ticker: row.Ticker,
			Shares: row.Shares,
			Price:  row.Price,
			Kind:   model.TradeKind(row.Kind),
		}
		if row.CreatedAt != nil {
			record.CreatedAt = *row.CreatedAt
		}
		records = append(records, record)
	}

	result, err := ctrl.ledgerService.ImportTrades(r.Context(), userID, portfolioID, records)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := importResponse{Applied: result.Applied, Errors: result.Errors}
	if resp.Errors == nil {
		resp.Errors = []string{}
	}

	writeJSON(w, http.StatusOK, resp)
}

type reportResponse struct {
	DownloadLink string `json:"download_link"`
}

func (ctrl *Controller) GenerateReport(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDOrAbort(w, r)
	if !ok {
		return
	}

	portfolioID, err := portfolioIDFromURL(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid portfolio id"})
		return
	}

	downloadLink, err := ctrl.ledgerService.GenerateReport(r.Context(), userID, portfolioID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reportResponse{DownloadLink: downloadLink})
}
