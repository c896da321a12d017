package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/skalibog/predtrade/internal/config"
	"github.com/skalibog/predtrade/internal/ledger"
	"github.com/skalibog/predtrade/internal/sizing"
	"github.com/skalibog/predtrade/pkg/logger"
	"github.com/skalibog/predtrade/pkg/models"
	"go.uber.org/zap"
)

// Manager владеет жизненным циклом позиций: открывает по сигналу
// и закрывает по упорядоченным правилам выхода. Единственная точка
// создания и закрытия позиций.
type Manager struct {
	store      Store
	sizer      *sizing.Sizer
	accountant *ledger.Accountant
	strategies config.StrategiesConfig
	risk       config.RiskConfig
}

// NewManager создает новый менеджер позиций
func NewManager(store Store, sizer *sizing.Sizer, acct *ledger.Accountant, strategies config.StrategiesConfig, risk config.RiskConfig) *Manager {
	return &Manager{
		store:      store,
		sizer:      sizer,
		accountant: acct,
		strategies: strategies,
		risk:       risk,
	}
}

// MaybeOpen открывает позицию по сигналу, если проходят риск-гейты
// и по ключу (актив, вариант) нет открытой позиции.
// Отказ — ожидаемое событие: логируется и пропускается.
func (m *Manager) MaybeOpen(sig models.Signal, markPrice, odds float64, now time.Time) (models.Position, bool) {
	if sig.Direction == models.DirectionNeutral {
		return models.Position{}, false
	}
	if markPrice <= 0 {
		logger.Warn("Открытие отклонено: некорректная цена",
			zap.String("asset", sig.Asset), zap.Float64("price", markPrice))
		return models.Position{}, false
	}
	if sig.Confidence < m.risk.MinConfidence {
		logger.Debug("Открытие отклонено: низкая уверенность",
			zap.String("asset", sig.Asset), zap.Float64("confidence", sig.Confidence))
		return models.Position{}, false
	}
	if sig.AccuracyEstimate < m.risk.MinAccuracy {
		logger.Debug("Открытие отклонено: низкая ожидаемая точность",
			zap.String("asset", sig.Asset), zap.Float64("accuracy", sig.AccuracyEstimate))
		return models.Position{}, false
	}
	if m.store.OpenCount() >= m.risk.MaxConcurrentPositions {
		logger.Info("Открытие отклонено: достигнут лимит одновременных позиций",
			zap.Int("limit", m.risk.MaxConcurrentPositions))
		return models.Position{}, false
	}
	if m.store.OpenCountForAsset(sig.Asset) >= m.risk.MaxPositionsPerAsset {
		logger.Info("Открытие отклонено: достигнут лимит позиций по активу",
			zap.String("asset", sig.Asset), zap.Int("limit", m.risk.MaxPositionsPerAsset))
		return models.Position{}, false
	}

	vc := m.strategies.Variant(sig.Variant == models.VariantBinary)
	pos := models.Position{
		ID:         uuid.NewString(),
		Asset:      sig.Asset,
		Variant:    sig.Variant,
		Direction:  sig.Direction,
		EntryPrice: markPrice,
		EntryTime:  now,
		SizeUSD:    m.sizer.Size(sig.Confidence),
		Leverage:   vc.Leverage,
		Confidence: sig.Confidence,
		Status:     models.StatusOpen,
	}
	if sig.Variant == models.VariantBinary {
		pos.Odds = oddsFor(sig.Direction, odds)
	}

	if err := m.store.Insert(pos); err != nil {
		if errors.Is(err, ErrDuplicateOpen) {
			logger.Info("Открытие отклонено: позиция по ключу уже открыта",
				zap.String("asset", sig.Asset), zap.String("variant", string(sig.Variant)))
			return models.Position{}, false
		}
		logger.Error("Ошибка вставки позиции", zap.Error(err))
		return models.Position{}, false
	}

	logger.Info("Открыта позиция",
		zap.String("id", pos.ID),
		zap.String("asset", pos.Asset),
		zap.String("variant", string(pos.Variant)),
		zap.String("direction", string(pos.Direction)),
		zap.Float64("entry_price", pos.EntryPrice),
		zap.Int64("size_usd", pos.SizeUSD),
		zap.Float64("confidence", pos.Confidence))
	return pos, true
}

// EvaluateExits проверяет условия выхода открытой позиции.
// Для закрытой позиции — no-op. Возвращает закрытую позицию и true,
// если выход сработал на этом тике.
func (m *Manager) EvaluateExits(pos models.Position, markPrice float64, snap *models.IndicatorSnapshot, now time.Time) (models.Position, bool) {
	if pos.Status != models.StatusOpen {
		return pos, false
	}

	switch pos.Variant {
	case models.VariantBinary:
		return m.evaluateBinary(pos, markPrice, now)
	case models.VariantLeveraged:
		return m.evaluateLeveraged(pos, markPrice, snap, now)
	default:
		logger.Warn("Неизвестный вариант стратегии", zap.String("variant", string(pos.Variant)))
		return pos, false
	}
}

// evaluateBinary единственное условие: истекло фиксированное окно
func (m *Manager) evaluateBinary(pos models.Position, markPrice float64, now time.Time) (models.Position, bool) {
	window := time.Duration(m.strategies.Binary.FixedWindowMinutes) * time.Minute
	if now.Sub(pos.EntryTime) < window {
		return pos, false
	}

	// Расчет исхода: цена выше входа — реализовалось направление UP
	realized := models.DirectionDown
	if markPrice > pos.EntryPrice {
		realized = models.DirectionUp
	}
	won := realized == pos.Direction

	pnlUSD := m.accountant.BinaryPnl(pos.SizeUSD, pos.Odds, won)
	pnlPct := 0.0
	if pos.SizeUSD > 0 {
		pnlPct, _ = pnlUSD.Div(decimal.NewFromInt(pos.SizeUSD)).Mul(decimal.NewFromInt(100)).Float64()
	}

	return m.close(pos, CloseRequest{
		ExitPrice: markPrice,
		ExitTime:  now,
		Reason:    models.ExitBinaryExpiry,
		Detail:    string(models.ExitBinaryExpiry),
		PnlPct:    pnlPct,
		PnlUSD:    pnlUSD,
		Won:       won,
	})
}

// exitState входные данные для правил выхода маржинальной позиции
type exitState struct {
	pnlPct  float64
	peakPct float64
	rsi     float64
	hasRSI  bool
	elapsed time.Duration
}

// exitRule декларативное правило выхода; правила проверяются
// в порядке объявления, срабатывает первое подошедшее
type exitRule struct {
	reason models.ExitReason
	match  func(st exitState) (bool, string)
}

// leveragedRules упорядоченный список правил выхода.
// Приоритет фиксирован: stop_loss > trailing_stop > signal_exit > max_hold.
func (m *Manager) leveragedRules() []exitRule {
	vc := m.strategies.Leveraged
	maxHold := time.Duration(vc.MaxHoldMinutes) * time.Minute

	return []exitRule{
		{
			reason: models.ExitStopLoss,
			match: func(st exitState) (bool, string) {
				if st.pnlPct <= -vc.StopLossPct {
					return true, fmt.Sprintf("stop_loss_%.1f%%", st.pnlPct)
				}
				return false, ""
			},
		},
		{
			reason: models.ExitTrailingStop,
			match: func(st exitState) (bool, string) {
				if st.peakPct >= vc.TrailingActivationPct && st.pnlPct <= st.peakPct-vc.TrailingDeltaPct {
					return true, fmt.Sprintf("trailing_stop_peak%.1f%%", st.peakPct)
				}
				return false, ""
			},
		},
		{
			reason: models.ExitSignalExit,
			match: func(st exitState) (bool, string) {
				if st.hasRSI && st.rsi >= vc.NeutralBandLow && st.rsi <= vc.NeutralBandHigh {
					return true, fmt.Sprintf("signal_exit_rsi%.1f", st.rsi)
				}
				return false, ""
			},
		},
		{
			reason: models.ExitMaxHold,
			match: func(st exitState) (bool, string) {
				if st.elapsed >= maxHold {
					return true, fmt.Sprintf("max_hold_%dm", vc.MaxHoldMinutes)
				}
				return false, ""
			},
		},
	}
}

func (m *Manager) evaluateLeveraged(pos models.Position, markPrice float64, snap *models.IndicatorSnapshot, now time.Time) (models.Position, bool) {
	gross := LeveragedGrossPnlPct(pos, markPrice)

	// Пик обновляется до проверки правил — в том числе на том же тике,
	// на котором сработает выход
	peak := pos.PeakPnlPct
	if gross > peak {
		peak = gross
	}
	m.store.UpdatePeak(pos.ID, peak)

	st := exitState{
		pnlPct:  gross,
		peakPct: peak,
		elapsed: now.Sub(pos.EntryTime),
	}
	if snap != nil {
		st.rsi = snap.RSI
		st.hasRSI = true
	}

	for _, rule := range m.leveragedRules() {
		matched, detail := rule.match(st)
		if !matched {
			continue
		}

		netPct, pnlUSD := m.accountant.LeveragedNet(pos.SizeUSD, gross)
		return m.close(pos, CloseRequest{
			ExitPrice: markPrice,
			ExitTime:  now,
			Reason:    rule.reason,
			Detail:    detail,
			PnlPct:    netPct,
			PnlUSD:    pnlUSD,
			Won:       netPct > 0,
		})
	}

	// Выход не сработал: позиция остается открытой, мутирован только пик
	return pos, false
}

func (m *Manager) close(pos models.Position, req CloseRequest) (models.Position, bool) {
	closed, ok := m.store.Close(pos.ID, req)
	if !ok {
		// Позиция уже закрыта параллельным вызовом — идемпотентный no-op
		return pos, false
	}

	logger.Info("Закрыта позиция",
		zap.String("id", closed.ID),
		zap.String("asset", closed.Asset),
		zap.String("variant", string(closed.Variant)),
		zap.String("exit_reason", string(closed.ExitReason)),
		zap.String("exit_detail", closed.ExitDetail),
		zap.Float64("pnl_pct", closed.PnlPct),
		zap.String("pnl_usd", closed.PnlUSD.StringFixed(2)),
		zap.Bool("won", closed.Won != nil && *closed.Won))
	return closed, true
}

// LeveragedGrossPnlPct PnL с плечом без учета комиссий, в процентах
func LeveragedGrossPnlPct(pos models.Position, markPrice float64) float64 {
	if pos.EntryPrice <= 0 {
		return 0
	}
	change := (markPrice - pos.EntryPrice) / pos.EntryPrice * 100
	if pos.Direction == models.DirectionDown {
		change = -change
	}
	return change * pos.Leverage
}

// oddsFor цена выбранного исхода: вход задает цену UP-исхода
func oddsFor(direction models.Direction, upOdds float64) float64 {
	if upOdds <= 0 || upOdds >= 1 {
		upOdds = 0.5
	}
	if direction == models.DirectionDown {
		return 1 - upOdds
	}
	return upOdds
}
