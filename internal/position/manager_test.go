package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/predtrade/internal/config"
	"github.com/skalibog/predtrade/internal/ledger"
	"github.com/skalibog/predtrade/internal/sizing"
	"github.com/skalibog/predtrade/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entryTime = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

func newTestManager(cfg *config.Config) (*Manager, *MemoryStore) {
	store := NewMemoryStore()
	sizer := sizing.NewSizer(cfg.Sizing, cfg.Risk)
	acct := ledger.NewAccountant(cfg.Fees)
	return NewManager(store, sizer, acct, cfg.Strategies, cfg.Risk), store
}

func upSignal(asset string, variant models.StrategyVariant) models.Signal {
	return models.Signal{
		Asset:            asset,
		Variant:          variant,
		Direction:        models.DirectionUp,
		Confidence:       0.80,
		AccuracyEstimate: 0.60,
		GeneratedAt:      entryTime,
	}
}

func snapRSI(rsi float64) *models.IndicatorSnapshot {
	return &models.IndicatorSnapshot{RSI: rsi, VolatilityRatio: 1}
}

func TestMaybeOpen(t *testing.T) {
	manager, store := newTestManager(config.Default())

	pos, ok := manager.MaybeOpen(upSignal("BTCUSDT", models.VariantLeveraged), 100, 0.5, entryTime)
	require.True(t, ok)

	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, models.StatusOpen, pos.Status)
	assert.InDelta(t, 100.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 2.0, pos.Leverage, 1e-9)
	assert.Positive(t, pos.SizeUSD)
	assert.Zero(t, pos.Odds) // цена исхода только у бинарного варианта
	assert.Equal(t, 1, store.OpenCount())
}

func TestMaybeOpenBinaryOdds(t *testing.T) {
	manager, _ := newTestManager(config.Default())

	pos, ok := manager.MaybeOpen(upSignal("BTCUSDT", models.VariantBinary), 100, 0.4, entryTime)
	require.True(t, ok)
	assert.InDelta(t, 0.4, pos.Odds, 1e-9)
	assert.InDelta(t, 1.0, pos.Leverage, 1e-9)

	// Для DOWN берется цена противоположного исхода
	down := upSignal("ETHUSDT", models.VariantBinary)
	down.Direction = models.DirectionDown
	pos, ok = manager.MaybeOpen(down, 100, 0.4, entryTime)
	require.True(t, ok)
	assert.InDelta(t, 0.6, pos.Odds, 1e-9)
}

func TestMaybeOpenDuplicateRejected(t *testing.T) {
	manager, store := newTestManager(config.Default())

	first, ok := manager.MaybeOpen(upSignal("BTCUSDT", models.VariantLeveraged), 100, 0.5, entryTime)
	require.True(t, ok)

	_, ok = manager.MaybeOpen(upSignal("BTCUSDT", models.VariantLeveraged), 105, 0.5, entryTime.Add(time.Minute))
	assert.False(t, ok)

	// Существующая позиция не затронута
	current, found := store.Get("BTCUSDT", models.VariantLeveraged)
	require.True(t, found)
	assert.Equal(t, first.ID, current.ID)
	assert.InDelta(t, 100.0, current.EntryPrice, 1e-9)
	assert.Equal(t, 1, store.OpenCount())
}

func TestMaybeOpenRiskGates(t *testing.T) {
	manager, store := newTestManager(config.Default())

	neutral := upSignal("BTCUSDT", models.VariantLeveraged)
	neutral.Direction = models.DirectionNeutral
	_, ok := manager.MaybeOpen(neutral, 100, 0.5, entryTime)
	assert.False(t, ok)

	lowConf := upSignal("BTCUSDT", models.VariantLeveraged)
	lowConf.Confidence = 0.40
	_, ok = manager.MaybeOpen(lowConf, 100, 0.5, entryTime)
	assert.False(t, ok)

	lowAcc := upSignal("BTCUSDT", models.VariantLeveraged)
	lowAcc.AccuracyEstimate = 0.50
	_, ok = manager.MaybeOpen(lowAcc, 100, 0.5, entryTime)
	assert.False(t, ok)

	_, ok = manager.MaybeOpen(upSignal("BTCUSDT", models.VariantLeveraged), 0, 0.5, entryTime)
	assert.False(t, ok)

	assert.Zero(t, store.OpenCount())
}

func TestMaybeOpenConcurrentLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Risk.MaxConcurrentPositions = 1
	manager, store := newTestManager(cfg)

	_, ok := manager.MaybeOpen(upSignal("BTCUSDT", models.VariantLeveraged), 100, 0.5, entryTime)
	require.True(t, ok)

	_, ok = manager.MaybeOpen(upSignal("ETHUSDT", models.VariantLeveraged), 2000, 0.5, entryTime)
	assert.False(t, ok)
	assert.Equal(t, 1, store.OpenCount())
}

func TestMaybeOpenPerAssetLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Risk.MaxPositionsPerAsset = 1
	manager, store := newTestManager(cfg)

	_, ok := manager.MaybeOpen(upSignal("BTCUSDT", models.VariantBinary), 100, 0.5, entryTime)
	require.True(t, ok)

	// Другой вариант, но тот же актив
	_, ok = manager.MaybeOpen(upSignal("BTCUSDT", models.VariantLeveraged), 100, 0.5, entryTime)
	assert.False(t, ok)

	// Другой актив проходит
	_, ok = manager.MaybeOpen(upSignal("ETHUSDT", models.VariantLeveraged), 2000, 0.5, entryTime)
	assert.True(t, ok)
	assert.Equal(t, 2, store.OpenCount())
}

func TestBinaryExpiry(t *testing.T) {
	manager, _ := newTestManager(config.Default())
	acct := ledger.NewAccountant(config.Default().Fees)

	pos, ok := manager.MaybeOpen(upSignal("BTCUSDT", models.VariantBinary), 100, 0.4, entryTime)
	require.True(t, ok)

	// До истечения окна выхода нет
	_, closed := manager.EvaluateExits(pos, 105, nil, entryTime.Add(10*time.Minute))
	assert.False(t, closed)

	final, closed := manager.EvaluateExits(pos, 101, nil, entryTime.Add(15*time.Minute))
	require.True(t, closed)
	assert.Equal(t, models.ExitBinaryExpiry, final.ExitReason)
	assert.Equal(t, "binary_expiry", final.ExitDetail)
	require.NotNil(t, final.Won)
	assert.True(t, *final.Won)

	expected := acct.BinaryPnl(pos.SizeUSD, 0.4, true)
	assert.True(t, final.PnlUSD.Equal(expected), "PnL: %s", final.PnlUSD)
	assert.InDelta(t, 147.0, final.PnlPct, 1e-9)
}

func TestBinaryExpiryLoss(t *testing.T) {
	manager, _ := newTestManager(config.Default())

	pos, ok := manager.MaybeOpen(upSignal("BTCUSDT", models.VariantBinary), 100, 0.4, entryTime)
	require.True(t, ok)

	final, closed := manager.EvaluateExits(pos, 99.5, nil, entryTime.Add(15*time.Minute))
	require.True(t, closed)
	require.NotNil(t, final.Won)
	assert.False(t, *final.Won)
	assert.True(t, final.PnlUSD.Equal(decimal.NewFromInt(-pos.SizeUSD)))
	assert.InDelta(t, -100.0, final.PnlPct, 1e-9)
}

func TestBinaryExpiryFlatPriceLosesUp(t *testing.T) {
	manager, _ := newTestManager(config.Default())

	pos, ok := manager.MaybeOpen(upSignal("BTCUSDT", models.VariantBinary), 100, 0.5, entryTime)
	require.True(t, ok)

	// Цена не выросла — UP не реализовался
	final, closed := manager.EvaluateExits(pos, 100, nil, entryTime.Add(15*time.Minute))
	require.True(t, closed)
	require.NotNil(t, final.Won)
	assert.False(t, *final.Won)
}

func TestLeveragedTrailingStop(t *testing.T) {
	manager, store := newTestManager(config.Default())

	pos, ok := manager.MaybeOpen(upSignal("BTCUSDT", models.VariantLeveraged), 100, 0.5, entryTime)
	require.True(t, ok)

	// Рост до 103: gross +6% при плече 2, пик активирует трейлинг
	_, closed := manager.EvaluateExits(pos, 103, snapRSI(20), entryTime.Add(5*time.Minute))
	assert.False(t, closed)

	current, found := store.Get("BTCUSDT", models.VariantLeveraged)
	require.True(t, found)
	assert.InDelta(t, 6.0, current.PeakPnlPct, 1e-9)

	// Откат до 101.5: gross +3% <= пик 6% - дельта 1.5%
	final, closed := manager.EvaluateExits(current, 101.5, snapRSI(20), entryTime.Add(10*time.Minute))
	require.True(t, closed)
	assert.Equal(t, models.ExitTrailingStop, final.ExitReason)
	assert.Equal(t, "trailing_stop_peak6.0%", final.ExitDetail)
	assert.InDelta(t, 2.75, final.PnlPct, 1e-9)
	require.NotNil(t, final.Won)
	assert.True(t, *final.Won)
	assert.Zero(t, store.OpenCount())
}

func TestLeveragedStopLossPriority(t *testing.T) {
	manager, store := newTestManager(config.Default())

	pos := openPosition("sl", "BTCUSDT", models.VariantLeveraged)
	require.NoError(t, store.Insert(pos))

	// Одновременно выполнены stop_loss, signal_exit (RSI 50) и max_hold:
	// побеждает стоп-лосс
	final, closed := manager.EvaluateExits(pos, 94, snapRSI(50), entryTime.Add(2*time.Hour))
	require.True(t, closed)
	assert.Equal(t, models.ExitStopLoss, final.ExitReason)
	assert.Equal(t, "stop_loss_-12.0%", final.ExitDetail)
	require.NotNil(t, final.Won)
	assert.False(t, *final.Won)
}

func TestLeveragedSignalExit(t *testing.T) {
	manager, store := newTestManager(config.Default())

	pos := openPosition("se", "BTCUSDT", models.VariantLeveraged)
	require.NoError(t, store.Insert(pos))

	// RSI вернулся в нейтральную полосу, позиция в небольшом плюсе
	final, closed := manager.EvaluateExits(pos, 100.5, snapRSI(50), entryTime.Add(20*time.Minute))
	require.True(t, closed)
	assert.Equal(t, models.ExitSignalExit, final.ExitReason)
	assert.Equal(t, "signal_exit_rsi50.0", final.ExitDetail)
	assert.InDelta(t, 0.75, final.PnlPct, 1e-9)
}

func TestLeveragedSignalExitSkippedWithoutRSI(t *testing.T) {
	manager, store := newTestManager(config.Default())

	pos := openPosition("nr", "BTCUSDT", models.VariantLeveraged)
	require.NoError(t, store.Insert(pos))

	// Индикаторы недоступны: неизвестный RSI не трактуется как нейтральный
	_, closed := manager.EvaluateExits(pos, 100.5, nil, entryTime.Add(20*time.Minute))
	assert.False(t, closed)
	assert.Equal(t, 1, store.OpenCount())
}

func TestLeveragedMaxHold(t *testing.T) {
	manager, store := newTestManager(config.Default())

	pos := openPosition("mh", "BTCUSDT", models.VariantLeveraged)
	require.NoError(t, store.Insert(pos))

	final, closed := manager.EvaluateExits(pos, 100.5, snapRSI(20), entryTime.Add(60*time.Minute))
	require.True(t, closed)
	assert.Equal(t, models.ExitMaxHold, final.ExitReason)
	assert.Equal(t, "max_hold_60m", final.ExitDetail)
	assert.InDelta(t, 0.75, final.PnlPct, 1e-9)
}

func TestEvaluateExitsIdempotent(t *testing.T) {
	manager, store := newTestManager(config.Default())

	pos := openPosition("id1", "BTCUSDT", models.VariantLeveraged)
	require.NoError(t, store.Insert(pos))

	final, closed := manager.EvaluateExits(pos, 94, snapRSI(20), entryTime.Add(time.Minute))
	require.True(t, closed)

	// Повтор на закрытой позиции — no-op
	_, closed = manager.EvaluateExits(final, 90, snapRSI(20), entryTime.Add(2*time.Minute))
	assert.False(t, closed)

	// И на устаревшей открытой копии тоже: хранилище уже закрыло позицию
	_, closed = manager.EvaluateExits(pos, 90, snapRSI(20), entryTime.Add(2*time.Minute))
	assert.False(t, closed)
	assert.Len(t, store.ClosedPositions(), 1)
}

func TestLeveragedGrossPnlPct(t *testing.T) {
	up := openPosition("g1", "BTCUSDT", models.VariantLeveraged)
	assert.InDelta(t, 6.0, LeveragedGrossPnlPct(up, 103), 1e-9)
	assert.InDelta(t, -6.0, LeveragedGrossPnlPct(up, 97), 1e-9)

	down := up
	down.Direction = models.DirectionDown
	assert.InDelta(t, -6.0, LeveragedGrossPnlPct(down, 103), 1e-9)
	assert.InDelta(t, 6.0, LeveragedGrossPnlPct(down, 97), 1e-9)
}
