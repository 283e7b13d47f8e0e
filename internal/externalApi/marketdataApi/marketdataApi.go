package marketdataApi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/KotFed0t/portfolio_ledger_api/config"
	"github.com/KotFed0t/portfolio_ledger_api/internal/externalApi"
	"github.com/KotFed0t/portfolio_ledger_api/utils"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type MarketdataApi struct {
	client *resty.Client
}

type quoteResponse struct {
	Symbol string   `json:"symbol"`
	Price  *float64 `json:"price"`
}

type candlesResponse struct {
	Symbol  string `json:"symbol"`
	Candles []struct {
		Date  string  `json:"date"`
		Close float64 `json:"close"`
	} `json:"candles"`
}

func New(cfg *config.Config) *MarketdataApi {
	client := resty.New().
		SetDebug(cfg.API.Debug).
		SetTimeout(cfg.API.Timeout).
		SetBaseURL(cfg.API.MarketdataApi.Url).
		SetQueryParam("apikey", cfg.API.MarketdataApi.ApiKey)
	return &MarketdataApi{client: client}
}

func (a *MarketdataApi) GetCurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "MarketdataApi.GetCurrentPrice"
	url := "/v1/quote"

	slog.Debug("GetCurrentPrice start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker))

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParam("symbol", ticker).
		Get(url)

	if err != nil {
		slog.Error("error while dialing marketdata api", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return decimal.Decimal{}, err
	}

	if resp.StatusCode() == http.StatusNotFound {
		return decimal.Decimal{}, externalApi.ErrNotFound
	}

	if resp.IsError() {
		return decimal.Decimal{}, fmt.Errorf("marketdata api status %d", resp.StatusCode())
	}

	quote := quoteResponse{}
	err = json.Unmarshal(resp.Body(), &quote)
	if err != nil {
		slog.Error("can't unmarshall response into quoteResponse", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return decimal.Decimal{}, err
	}

	if quote.Price == nil {
		return decimal.Decimal{}, externalApi.ErrNotFound
	}

	slog.Debug("GetCurrentPrice completed", slog.String("rqID", rqID), slog.String("op", op))

	return decimal.NewFromFloat(*quote.Price), nil
}

// GetPriceRange returns daily closes keyed by date (truncated to day, UTC)
// for [from, to]. Dates without trading are simply absent from the map.
func (a *MarketdataApi) GetPriceRange(ctx context.Context, ticker string, from, to time.Time) (map[time.Time]decimal.Decimal, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "MarketdataApi.GetPriceRange"
	url := "/v1/history"
	params := map[string]string{
		"symbol":   ticker,
		"from":     from.Format(dateLayout),
		"to":       to.Format(dateLayout),
		"interval": "1d",
	}

	slog.Debug("GetPriceRange start", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker))

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(params).
		Get(url)

	if err != nil {
		slog.Error("error while dialing marketdata api", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	if resp.StatusCode() == http.StatusNotFound {
		return nil, externalApi.ErrNotFound
	}

	if resp.IsError() {
		return nil, fmt.Errorf("marketdata api status %d", resp.StatusCode())
	}

	candles := candlesResponse{}
	err = json.Unmarshal(resp.Body(), &candles)
	if err != nil {
		slog.Error("can't unmarshall response into candlesResponse", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, err
	}

	res := make(map[time.Time]decimal.Decimal, len(candles.Candles))
	for _, candle := range candles.Candles {
		date, err := time.ParseInLocation(dateLayout, candle.Date, time.UTC)
		if err != nil {
			slog.Error(
				"can't parse candle date",
				slog.String("rqID", rqID),
				slog.String("op", op),
				slog.String("date", candle.Date),
				slog.String("err", err.Error()),
			)
			continue
		}
		res[date] = decimal.NewFromFloat(candle.Close)
	}

	slog.Debug("GetPriceRange completed", slog.String("rqID", rqID), slog.String("op", op), slog.Int("candles", len(res)))

	return res, nil
}

func (a *MarketdataApi) GetCurrentPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "MarketdataApi.GetCurrentPrices"

	slog.Debug("GetCurrentPrices start", slog.String("rqID", rqID), slog.String("op", op), slog.Int("tickers", len(tickers)))

	res := make(map[string]decimal.Decimal, len(tickers))
	for _, ticker := range tickers {
		price, err := a.GetCurrentPrice(ctx, ticker)
		if err != nil {
			slog.Warn(
				"skipping ticker in GetCurrentPrices",
				slog.String("rqID", rqID),
				slog.String("op", op),
				slog.String("ticker", ticker),
				slog.String("err", err.Error()),
			)
			continue
		}
		res[ticker] = price
	}

	slog.Debug("GetCurrentPrices completed", slog.String("rqID", rqID), slog.String("op", op))

	return res, nil
}
