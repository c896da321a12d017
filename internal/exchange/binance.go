package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/jpillora/backoff"
	"github.com/skalibog/predtrade/internal/config"
	"github.com/skalibog/predtrade/pkg/logger"
	"github.com/skalibog/predtrade/pkg/models"
	"go.uber.org/zap"
)

// BinanceClient клиент рыночных данных Binance (спот)
type BinanceClient struct {
	spot *binance.Client
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig) (*BinanceClient, error) {
	spotClient := binance.NewClient(cfg.APIKey, cfg.APISecret)

	if cfg.Testnet {
		spotClient.BaseURL = "https://testnet.binance.vision"
	}

	return &BinanceClient{
		spot: spotClient,
	}, nil
}

// GetKlines получает исторические свечи
func (c *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	klines, err := c.spot.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения свечей: %w", err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		open, err := strconv.ParseFloat(k.Open, 64)
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора свечи: %w", err)
		}
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		candles = append(candles, models.Candle{
			Symbol:   symbol,
			Interval: interval,
			OpenTime: time.Unix(k.OpenTime/1000, 0).UTC(),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   volume,
		})
	}

	return candles, nil
}

// GetMarkPrice получает текущую цену символа
func (c *BinanceClient) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.spot.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения цены: %w", err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("не найдена цена для %s", symbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("ошибка разбора цены: %w", err)
	}
	return price, nil
}

// GetKlinesWithRetry получает свечи с повторами и экспоненциальной задержкой
func (c *BinanceClient) GetKlinesWithRetry(ctx context.Context, symbol, interval string, limit, attempts int) ([]models.Candle, error) {
	b := &backoff.Backoff{
		Min:    250 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		candles, err := c.GetKlines(ctx, symbol, interval, limit)
		if err == nil {
			return candles, nil
		}
		lastErr = err

		delay := b.Duration()
		logger.Warn("Повтор запроса свечей",
			zap.String("symbol", symbol), zap.Duration("delay", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// GetMarkPriceWithRetry получает цену с повторами
func (c *BinanceClient) GetMarkPriceWithRetry(ctx context.Context, symbol string, attempts int) (float64, error) {
	b := &backoff.Backoff{
		Min:    250 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		price, err := c.GetMarkPrice(ctx, symbol)
		if err == nil {
			return price, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return 0, lastErr
}
