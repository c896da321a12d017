package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/skalibog/predtrade/internal/config"
	"github.com/skalibog/predtrade/internal/engine"
	"github.com/skalibog/predtrade/internal/exchange"
	"github.com/skalibog/predtrade/internal/position"
	"github.com/skalibog/predtrade/internal/storage"
	"github.com/skalibog/predtrade/pkg/logger"
	"github.com/skalibog/predtrade/pkg/models"
	"go.uber.org/zap"
)

const fetchAttempts = 3

func main() {
	logger.Init()
	defer logger.GetLogger().Sync()

	// Переменные окружения из .env, если файл есть
	_ = godotenv.Load()

	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	// Загружаем конфигурацию; при ошибке валидации не стартуем
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}
	if cfg.Binance.APIKey == "" {
		cfg.Binance.APIKey = os.Getenv("BINANCE_API_KEY")
		cfg.Binance.APISecret = os.Getenv("BINANCE_API_SECRET")
	}
	logger.Info("Загружена конфигурация", zap.Any("assets", cfg.Trading.Assets))

	// Контекст с отменой по сигналу завершения
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Завершение работы...")
		cancel()
	}()

	// Инициализируем клиент биржи
	client, err := exchange.NewBinanceClient(cfg.Binance)
	if err != nil {
		logger.Fatal("Ошибка инициализации клиента биржи", zap.Error(err))
	}

	// Инициализируем хранилище истории
	var store storage.Storage = storage.NoopStorage{}
	if cfg.Storage.Type == "influxdb" {
		influx, err := storage.NewInfluxDBStorage(cfg.Storage)
		if err != nil {
			logger.Fatal("Ошибка инициализации хранилища", zap.Error(err))
		}
		store = influx
	}
	defer store.Close()

	// Хранилище позиций и движок
	positions := position.NewMemoryStore()
	eng := engine.New(cfg, positions)

	// Накопленная статистика живет у вызывающей стороны:
	// движок состояния между тиками не держит
	stats := models.NewStats()

	ticker := time.NewTicker(time.Duration(cfg.Trading.TickSeconds) * time.Second)
	defer ticker.Stop()

	logger.Info("Симуляция запущена",
		zap.Int("tick_seconds", cfg.Trading.TickSeconds),
		zap.Float64("bankroll_usd", cfg.Sizing.BankrollUSD))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Симуляция остановлена",
				zap.Int("total_trades", stats.TotalTrades),
				zap.String("total_pnl_usd", stats.TotalPnlUSD.StringFixed(2)))
			return
		case <-ticker.C:
			stats = runTick(ctx, cfg, client, store, eng, stats)
		}
	}
}

// runTick собирает рыночные данные, прогоняет движок и пишет историю
func runTick(ctx context.Context, cfg *config.Config, client *exchange.BinanceClient, store storage.Storage, eng *engine.Engine, stats models.Stats) models.Stats {
	now := time.Now().UTC()
	assets := make(map[string]engine.AssetData, len(cfg.Trading.Assets))

	intervals := map[string]struct{}{
		cfg.Strategies.Binary.Interval:    {},
		cfg.Strategies.Leveraged.Interval: {},
	}

	for _, asset := range cfg.Trading.Assets {
		series := make(map[string][]models.Candle, len(intervals))
		ok := true
		for interval := range intervals {
			candles, err := client.GetKlinesWithRetry(ctx, asset, interval, cfg.Trading.CandleLimit, fetchAttempts)
			if err != nil {
				logger.Warn("Пропуск актива: не удалось получить свечи",
					zap.String("asset", asset), zap.Error(err))
				ok = false
				break
			}
			series[interval] = candles
		}
		if !ok {
			continue
		}

		price, err := client.GetMarkPriceWithRetry(ctx, asset, fetchAttempts)
		if err != nil {
			logger.Warn("Пропуск актива: не удалось получить цену",
				zap.String("asset", asset), zap.Error(err))
			continue
		}

		assets[asset] = engine.AssetData{
			Series:    series,
			MarkPrice: price,
			// Живого снимка котировок бинарного рынка нет:
			// используется значение из конфигурации
			UpOdds: cfg.Trading.DefaultOdds,
		}
	}

	if len(assets) == 0 {
		logger.Warn("Тик пропущен: нет данных ни по одному активу")
		return stats
	}

	result := eng.Tick(ctx, engine.TickInput{Assets: assets, Stats: stats, Now: now})

	for _, assetErr := range result.Errors {
		logger.Error("Сбой обработки актива", zap.String("asset", assetErr.Asset), zap.Error(assetErr.Err))
	}
	for _, sig := range result.Signals {
		if sig.Direction == models.DirectionNeutral {
			continue
		}
		if err := store.SaveSignal(ctx, sig); err != nil {
			logger.Warn("Не удалось сохранить сигнал", zap.Error(err))
		}
	}
	for _, pos := range result.Opened {
		if err := store.SavePosition(ctx, pos); err != nil {
			logger.Warn("Не удалось сохранить позицию", zap.Error(err))
		}
	}
	for _, pos := range result.Closed {
		if err := store.SavePosition(ctx, pos); err != nil {
			logger.Warn("Не удалось сохранить позицию", zap.Error(err))
		}
	}
	if len(result.Closed) > 0 {
		if err := store.SaveStats(ctx, result.Stats, now); err != nil {
			logger.Warn("Не удалось сохранить статистику", zap.Error(err))
		}
	}

	logger.Info("Тик завершен",
		zap.Int("assets", len(assets)),
		zap.Int("opened", len(result.Opened)),
		zap.Int("closed", len(result.Closed)),
		zap.Int("errors", len(result.Errors)),
		zap.Int("total_trades", result.Stats.TotalTrades),
		zap.Float64("win_rate", result.Stats.WinRate),
		zap.String("total_pnl_usd", result.Stats.TotalPnlUSD.StringFixed(2)))

	return result.Stats
}
