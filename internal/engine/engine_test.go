package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/predtrade/internal/config"
	"github.com/skalibog/predtrade/internal/position"
	"github.com/skalibog/predtrade/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tickNow час 9 UTC: удачный час, вето убыточных часов не срабатывает
var tickNow = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

func makeSeries(closes []float64) []models.Candle {
	start := tickNow.Add(-time.Duration(len(closes)) * time.Minute)
	series := make([]models.Candle, len(closes))
	for i, c := range closes {
		series[i] = models.Candle{
			Interval: "1m",
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     c,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			Volume:   10,
		}
	}
	return series
}

// downtrend монотонно падающая серия: RSI у нуля, оба варианта дают UP
func downtrend(n int) []models.Candle {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 200 - float64(i)
	}
	return makeSeries(closes)
}

func TestTickOpensOnExtremeSignal(t *testing.T) {
	store := position.NewMemoryStore()
	eng := New(config.Default(), store)

	in := TickInput{
		Assets: map[string]AssetData{
			"BTCUSDT": {Series: map[string][]models.Candle{"1m": downtrend(30)}, MarkPrice: 170},
		},
		Stats: models.NewStats(),
		Now:   tickNow,
	}
	result := eng.Tick(context.Background(), in)

	require.Empty(t, result.Errors)
	// Перепроданность открывает позицию в обоих вариантах стратегии
	assert.Len(t, result.Opened, 2)
	assert.Len(t, result.Signals, 2)
	for _, sig := range result.Signals {
		assert.Equal(t, models.DirectionUp, sig.Direction)
	}
	assert.Equal(t, 2, store.OpenCount())
	assert.Empty(t, result.Closed)
	assert.Zero(t, result.Stats.TotalTrades)
}

func TestTickAssetErrorIsolation(t *testing.T) {
	store := position.NewMemoryStore()
	eng := New(config.Default(), store)

	// Нарушенный порядок свечей у одного актива
	broken := downtrend(30)
	broken[10].OpenTime = broken[20].OpenTime

	in := TickInput{
		Assets: map[string]AssetData{
			"BTCUSDT": {Series: map[string][]models.Candle{"1m": downtrend(30)}, MarkPrice: 170},
			"BADUSDT": {Series: map[string][]models.Candle{"1m": broken}, MarkPrice: 10},
		},
		Stats: models.NewStats(),
		Now:   tickNow,
	}
	result := eng.Tick(context.Background(), in)

	// Сбойный актив изолирован, здоровый обработан полностью
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "BADUSDT", result.Errors[0].Asset)
	assert.Len(t, result.Opened, 2)
	for _, pos := range result.Opened {
		assert.Equal(t, "BTCUSDT", pos.Asset)
	}
}

func TestTickInvalidMarkPrice(t *testing.T) {
	store := position.NewMemoryStore()
	eng := New(config.Default(), store)

	in := TickInput{
		Assets: map[string]AssetData{
			"BTCUSDT": {Series: map[string][]models.Candle{"1m": downtrend(30)}, MarkPrice: 0},
		},
		Stats: models.NewStats(),
		Now:   tickNow,
	}
	result := eng.Tick(context.Background(), in)

	require.Len(t, result.Errors, 1)
	assert.Empty(t, result.Opened)
}

func TestTickInsufficientDataSuppressesSignal(t *testing.T) {
	store := position.NewMemoryStore()
	eng := New(config.Default(), store)

	in := TickInput{
		Assets: map[string]AssetData{
			"ETHUSDT": {Series: map[string][]models.Candle{"1m": downtrend(5)}, MarkPrice: 195},
		},
		Stats: models.NewStats(),
		Now:   tickNow,
	}
	result := eng.Tick(context.Background(), in)

	// Короткое окно — не сбой: нейтральные сигналы, без открытий
	require.Empty(t, result.Errors)
	assert.Empty(t, result.Opened)
	require.Len(t, result.Signals, 2)
	for _, sig := range result.Signals {
		assert.Equal(t, models.DirectionNeutral, sig.Direction)
		assert.NotEmpty(t, sig.Reasoning)
	}
}

func TestTickClosesBeforeOpens(t *testing.T) {
	store := position.NewMemoryStore()
	eng := New(config.Default(), store)

	// Открытая бинарная позиция с истекшим окном
	expired := models.Position{
		ID:         "bin-1",
		Asset:      "BTCUSDT",
		Variant:    models.VariantBinary,
		Direction:  models.DirectionUp,
		EntryPrice: 160,
		EntryTime:  tickNow.Add(-20 * time.Minute),
		SizeUSD:    50,
		Leverage:   1,
		Odds:       0.5,
		Status:     models.StatusOpen,
	}
	require.NoError(t, store.Insert(expired))

	in := TickInput{
		Assets: map[string]AssetData{
			"BTCUSDT": {Series: map[string][]models.Candle{"1m": downtrend(30)}, MarkPrice: 170},
		},
		Stats: models.NewStats(),
		Now:   tickNow,
	}
	result := eng.Tick(context.Background(), in)

	require.Empty(t, result.Errors)
	require.Len(t, result.Closed, 1)
	closed := result.Closed[0]
	assert.Equal(t, models.ExitBinaryExpiry, closed.ExitReason)
	require.NotNil(t, closed.Won)
	assert.True(t, *closed.Won) // 170 > 160, направление UP реализовалось

	// Ключ освободился на этом же тике: по бинарному варианту открыта новая
	assert.Len(t, result.Opened, 2)
	assert.Equal(t, 2, store.OpenCount())

	// Закрытие свернуто в статистику
	assert.Equal(t, 1, result.Stats.TotalTrades)
	assert.Equal(t, 1, result.Stats.Wins)
	assert.Equal(t, 1, result.Stats.ExitReasons[models.ExitBinaryExpiry])
}

func TestTickAccumulatesStats(t *testing.T) {
	store := position.NewMemoryStore()
	eng := New(config.Default(), store)

	prior := models.NewStats()
	prior.TotalTrades = 3
	prior.Wins = 2
	prior.Losses = 1
	prior.TotalPnlUSD = decimal.NewFromInt(40)

	in := TickInput{
		Assets: map[string]AssetData{},
		Stats:  prior,
		Now:    tickNow,
	}
	result := eng.Tick(context.Background(), in)

	// Без закрытий статистика проходит насквозь без изменений
	assert.Equal(t, 3, result.Stats.TotalTrades)
	assert.True(t, result.Stats.TotalPnlUSD.Equal(decimal.NewFromInt(40)))
}
