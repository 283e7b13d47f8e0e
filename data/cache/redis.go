package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/KotFed0t/portfolio_ledger_api/config"
	"github.com/KotFed0t/portfolio_ledger_api/internal/model"
	"github.com/KotFed0t/portfolio_ledger_api/utils"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type RedisCache struct {
	redis *redis.Client
	cfg   *config.Config
}

func NewRedisCache(redisClient *redis.Client, cfg *config.Config) *RedisCache {
	return &RedisCache{redis: redisClient, cfg: cfg}
}

func holdingsKey(portfolioID int64) string {
	return fmt.Sprintf("holdings:%d", portfolioID)
}

func priceKey(ticker string) string {
	return fmt.Sprintf("price:%s", ticker)
}

func (r *RedisCache) SetHoldings(ctx context.Context, portfolioID int64, holdings []model.Holding) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("SetHoldings start", slog.String("rqID", rqID))

	holdingsJson, err := json.Marshal(holdings)
	if err != nil {
		slog.Error(
			"can't marshall holdings in SetHoldings",
			slog.String("rqID", rqID),
			slog.String("err", err.Error()),
		)
		return errors.New("can't marshall holdings")
	}

	_, err = r.redis.Set(ctx, holdingsKey(portfolioID), holdingsJson, r.cfg.Cache.HoldingsExpiration).Result()
	if err != nil {
		slog.Error("failed on redis.Set", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return err
	}

	slog.Debug("SetHoldings completed", slog.String("rqID", rqID))

	return nil
}

func (r *RedisCache) GetHoldings(ctx context.Context, portfolioID int64) ([]model.Holding, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("GetHoldings start", slog.String("rqID", rqID))

	res, err := r.redis.Get(ctx, holdingsKey(portfolioID)).Result()
	if err != nil {
		return nil, err
	}

	var holdings []model.Holding
	err = json.Unmarshal([]byte(res), &holdings)
	if err != nil {
		slog.Error(
			"can't unmarshall holdings in GetHoldings",
			slog.String("rqID", rqID),
			slog.String("err", err.Error()),
			slog.String("resultFromRedis", res),
		)
		return nil, errors.New("can't unmarshall holdings")
	}

	slog.Debug("GetHoldings finished", slog.String("rqID", rqID))

	return holdings, nil
}

// FlushHoldings drops the holdings snapshot after a mutation. Called
// synchronously so a subsequent read can't see the stale snapshot.
func (r *RedisCache) FlushHoldings(ctx context.Context, portfolioID int64) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("FlushHoldings start", slog.String("rqID", rqID))

	_, err := r.redis.Del(ctx, holdingsKey(portfolioID)).Result()
	if err != nil {
		slog.Error("failed on redis.Del", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return err
	}

	slog.Debug("FlushHoldings completed", slog.String("rqID", rqID))

	return nil
}

func (r *RedisCache) SetPrices(ctx context.Context, prices map[string]decimal.Decimal) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("SetPrices start", slog.String("rqID", rqID))

	pipe := r.redis.Pipeline()
	for ticker, price := range prices {
		_, err := pipe.Set(ctx, priceKey(ticker), price.String(), r.cfg.Cache.PricesExpiration).Result()
		if err != nil {
			slog.Error(
				"failed on pipe.Set",
				slog.String("rqID", rqID),
				slog.String("err", err.Error()),
				slog.String("ticker", ticker),
			)
			return err
		}
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		slog.Error("failed on pipe.Exec", slog.String("rqID", rqID), slog.String("err", err.Error()))
	}

	slog.Debug("SetPrices completed", slog.String("rqID", rqID))

	return nil
}

func (r *RedisCache) GetPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("GetPrice start", slog.String("rqID", rqID))

	res, err := r.redis.Get(ctx, priceKey(ticker)).Result()
	if err != nil {
		return decimal.Decimal{}, err
	}

	price, err := decimal.NewFromString(res)
	if err != nil {
		slog.Error(
			"can't parse price in GetPrice",
			slog.String("rqID", rqID),
			slog.String("err", err.Error()),
			slog.String("resultFromRedis", res),
		)
		return decimal.Decimal{}, errors.New("can't parse cached price")
	}

	slog.Debug("GetPrice finished", slog.String("rqID", rqID))

	return price, nil
}
