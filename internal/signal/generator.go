package signal

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/skalibog/predtrade/internal/config"
	"github.com/skalibog/predtrade/pkg/models"
)

// Вклад компонентов в уверенность и ожидаемую точность.
// Функция детерминирована: одинаковые входы дают одинаковый сигнал.
const (
	rsiDepthScale = 15.0 // глубина за порогом RSI, дающая максимальный вклад

	confRSIWeight = 0.20
	confEMABonus  = 0.10
	confVolBonus  = 0.08
	confHourBonus = 0.07
	accBase       = 0.50
	accRSIWeight  = 0.04
	accEMABonus   = 0.03
	accVolBonus   = 0.03
	accHourBonus  = 0.02
)

// Generator преобразует снимок индикаторов в направленный сигнал
type Generator struct {
	config config.StrategiesConfig
}

// NewGenerator создает новый генератор сигналов
func NewGenerator(cfg config.StrategiesConfig) *Generator {
	return &Generator{
		config: cfg,
	}
}

// Generate строит сигнал для актива и варианта стратегии.
// Чистая функция без побочных эффектов.
func (g *Generator) Generate(asset string, variant models.StrategyVariant, snap models.IndicatorSnapshot, hourUTC int, now time.Time) models.Signal {
	vc := g.config.Variant(variant == models.VariantBinary)

	// Убыточные часы полностью исключаются
	if containsHour(g.config.WorstHours, hourUTC) {
		return g.neutral(asset, variant, snap, hourUTC, now,
			fmt.Sprintf("час %d UTC исторически убыточен", hourUTC))
	}

	var direction models.Direction
	var depth float64
	switch {
	case snap.RSI < vc.Oversold:
		direction = models.DirectionUp
		depth = vc.Oversold - snap.RSI
	case snap.RSI > vc.Overbought:
		direction = models.DirectionDown
		depth = snap.RSI - vc.Overbought
	default:
		return g.neutral(asset, variant, snap, hourUTC, now,
			fmt.Sprintf("нет экстремальных условий (RSI %.1f, EMA dist %.2f%%)", snap.RSI, snap.EMADistancePct))
	}

	flags := models.SignalFlags{
		RSIExtreme:     true,
		EMAExtended:    math.Abs(snap.EMADistancePct) > g.config.EMADistanceThresholdPct,
		HighVolatility: snap.VolatilityRatio > g.config.VolatilityThreshold,
		GoodHour:       containsHour(g.config.GoodHours, hourUTC),
	}

	rsiNorm := clamp(depth/rsiDepthScale, 0, 1)

	confidence := g.config.ConfidenceMin + confRSIWeight*rsiNorm
	accuracy := accBase + accRSIWeight*rsiNorm
	if flags.EMAExtended {
		confidence += confEMABonus
		accuracy += accEMABonus
	}
	if flags.HighVolatility {
		confidence += confVolBonus
		accuracy += accVolBonus
	}
	if flags.GoodHour {
		confidence += confHourBonus
		accuracy += accHourBonus
	}
	confidence = clamp(confidence, g.config.ConfidenceMin, g.config.ConfidenceMax)
	accuracy = clamp(accuracy, g.config.AccuracyMin, g.config.AccuracyMax)

	return models.Signal{
		Asset:            asset,
		Variant:          variant,
		Direction:        direction,
		Confidence:       confidence,
		AccuracyEstimate: accuracy,
		RSI:              snap.RSI,
		EMADistancePct:   snap.EMADistancePct,
		VolatilityRatio:  snap.VolatilityRatio,
		HourUTC:          hourUTC,
		Flags:            flags,
		Reasoning:        reasoning(direction, snap, flags, hourUTC),
		GeneratedAt:      now,
	}
}

// Neutral возвращает нейтральный сигнал, например при нехватке данных
func (g *Generator) Neutral(asset string, variant models.StrategyVariant, hourUTC int, now time.Time, reason string) models.Signal {
	return g.neutral(asset, variant, models.IndicatorSnapshot{RSI: 50, VolatilityRatio: 1}, hourUTC, now, reason)
}

func (g *Generator) neutral(asset string, variant models.StrategyVariant, snap models.IndicatorSnapshot, hourUTC int, now time.Time, reason string) models.Signal {
	return models.Signal{
		Asset:            asset,
		Variant:          variant,
		Direction:        models.DirectionNeutral,
		Confidence:       0,
		AccuracyEstimate: accBase,
		RSI:              snap.RSI,
		EMADistancePct:   snap.EMADistancePct,
		VolatilityRatio:  snap.VolatilityRatio,
		HourUTC:          hourUTC,
		Reasoning:        reason,
		GeneratedAt:      now,
	}
}

func reasoning(direction models.Direction, snap models.IndicatorSnapshot, flags models.SignalFlags, hourUTC int) string {
	parts := make([]string, 0, 4)
	if direction == models.DirectionUp {
		parts = append(parts, fmt.Sprintf("RSI перепродан (%.1f)", snap.RSI))
	} else {
		parts = append(parts, fmt.Sprintf("RSI перекуплен (%.1f)", snap.RSI))
	}
	if flags.EMAExtended {
		side := "выше"
		if snap.EMADistancePct < 0 {
			side = "ниже"
		}
		parts = append(parts, fmt.Sprintf("цена %.2f%% %s EMA", math.Abs(snap.EMADistancePct), side))
	}
	if flags.HighVolatility {
		parts = append(parts, fmt.Sprintf("высокая волатильность (%.1fx ATR)", snap.VolatilityRatio))
	}
	if flags.GoodHour {
		parts = append(parts, fmt.Sprintf("удачный час (%d UTC)", hourUTC))
	}
	return strings.Join(parts, " | ")
}

func containsHour(hours []int, h int) bool {
	for _, v := range hours {
		if v == h {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
