package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skalibog/predtrade/internal/config"
	"github.com/skalibog/predtrade/internal/indicator"
	"github.com/skalibog/predtrade/internal/ledger"
	"github.com/skalibog/predtrade/internal/position"
	"github.com/skalibog/predtrade/internal/signal"
	"github.com/skalibog/predtrade/internal/sizing"
	"github.com/skalibog/predtrade/pkg/logger"
	"github.com/skalibog/predtrade/pkg/models"
	"go.uber.org/zap"
)

// AssetData входные рыночные данные одного актива на тик
type AssetData struct {
	// Series окна свечей по таймфреймам, в хронологическом порядке
	Series map[string][]models.Candle
	// MarkPrice текущая отметочная цена
	MarkPrice float64
	// UpOdds цена UP-исхода бинарного рынка; 0 — использовать значение по умолчанию
	UpOdds float64
}

// TickInput полный вход одного тика. Движок не хранит состояния
// между тиками: открытые позиции живут в хранилище, накопленная
// статистика передается и возвращается явно.
type TickInput struct {
	Assets map[string]AssetData
	Stats  models.Stats
	Now    time.Time
}

// AssetError сбой обработки одного актива; остальные активы
// обрабатываются независимо
type AssetError struct {
	Asset string
	Err   error
}

func (e AssetError) Error() string {
	return fmt.Sprintf("актив %s: %v", e.Asset, e.Err)
}

// TickResult результат одного тика
type TickResult struct {
	Opened  []models.Position
	Closed  []models.Position
	Signals []models.Signal
	Errors  []AssetError
	Stats   models.Stats
}

// Engine оркестратор одного тика: индикаторы -> сигнал -> выходы ->
// открытие -> статистика, по каждому активу независимо.
type Engine struct {
	config     *config.Config
	indicators *indicator.Engine
	generator  *signal.Generator
	manager    *position.Manager
	accountant *ledger.Accountant
	store      position.Store
}

// New создает движок со всеми компонентами
func New(cfg *config.Config, store position.Store) *Engine {
	acct := ledger.NewAccountant(cfg.Fees)
	sizer := sizing.NewSizer(cfg.Sizing, cfg.Risk)
	return &Engine{
		config:     cfg,
		indicators: indicator.NewEngine(cfg.Indicators),
		generator:  signal.NewGenerator(cfg.Strategies),
		manager:    position.NewManager(store, sizer, acct, cfg.Strategies, cfg.Risk),
		accountant: acct,
		store:      store,
	}
}

// Tick обрабатывает один внешний тик. Активы обрабатываются
// параллельно; сбой одного актива не прерывает остальные.
func (e *Engine) Tick(ctx context.Context, in TickInput) TickResult {
	result := TickResult{}
	var wg sync.WaitGroup
	var mutex sync.Mutex

	for asset, data := range in.Assets {
		wg.Add(1)
		go func(asset string, data AssetData) {
			defer wg.Done()

			opened, closed, signals, err := e.processAsset(asset, data, in.Now)

			mutex.Lock()
			defer mutex.Unlock()
			if err != nil {
				// Ошибка изолируется: тик продолжает остальные активы
				logger.Warn("Ошибка обработки актива", zap.String("asset", asset), zap.Error(err))
				result.Errors = append(result.Errors, AssetError{Asset: asset, Err: err})
				return
			}
			result.Opened = append(result.Opened, opened...)
			result.Closed = append(result.Closed, closed...)
			result.Signals = append(result.Signals, signals...)
		}(asset, data)
	}

	wg.Wait()

	result.Stats = e.accountant.Reduce(in.Stats, result.Closed)
	return result
}

// processAsset прогоняет оба варианта стратегии для одного актива
func (e *Engine) processAsset(asset string, data AssetData, now time.Time) ([]models.Position, []models.Position, []models.Signal, error) {
	if data.MarkPrice <= 0 {
		return nil, nil, nil, fmt.Errorf("некорректная отметочная цена: %f", data.MarkPrice)
	}

	hourUTC := now.UTC().Hour()
	upOdds := data.UpOdds
	if upOdds <= 0 {
		upOdds = e.config.Trading.DefaultOdds
	}

	var opened, closed []models.Position
	var signals []models.Signal

	for _, variant := range []models.StrategyVariant{models.VariantBinary, models.VariantLeveraged} {
		vc := e.config.Strategies.Variant(variant == models.VariantBinary)

		series := data.Series[vc.Interval]
		if err := validateSeries(series); err != nil {
			return nil, nil, nil, fmt.Errorf("серия %s: %w", vc.Interval, err)
		}

		// Нехватка данных подавляет сигнал, но не считается сбоем актива
		var snapPtr *models.IndicatorSnapshot
		var sig models.Signal
		snap, err := e.indicators.Compute(series)
		switch {
		case err == nil:
			snapPtr = &snap
			sig = e.generator.Generate(asset, variant, snap, hourUTC, now)
		case errors.Is(err, indicator.ErrInsufficientData):
			logger.Debug("Сигнал подавлен: недостаточно данных",
				zap.String("asset", asset), zap.String("variant", string(variant)), zap.Error(err))
			sig = e.generator.Neutral(asset, variant, hourUTC, now, err.Error())
		default:
			return nil, nil, nil, err
		}
		signals = append(signals, sig)

		// Сначала выходы по открытой позиции
		if pos, ok := e.store.Get(asset, variant); ok {
			if closedPos, done := e.manager.EvaluateExits(pos, data.MarkPrice, snapPtr, now); done {
				closed = append(closed, closedPos)
			}
		}

		// Затем попытка открытия по свежему сигналу
		if sig.Direction != models.DirectionNeutral {
			if pos, ok := e.manager.MaybeOpen(sig, data.MarkPrice, upOdds, now); ok {
				opened = append(opened, pos)
			}
		}
	}

	return opened, closed, signals, nil
}

// validateSeries проверяет хронологический порядок и корректность цен.
// Ошибка формата данных — сбой актива, в отличие от короткого окна.
func validateSeries(series []models.Candle) error {
	for i, c := range series {
		if c.Close <= 0 || c.High < c.Low {
			return fmt.Errorf("некорректная свеча на позиции %d", i)
		}
		if i > 0 && !series[i-1].OpenTime.Before(c.OpenTime) {
			return fmt.Errorf("нарушен порядок свечей на позиции %d", i)
		}
	}
	return nil
}
