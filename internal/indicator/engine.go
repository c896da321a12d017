package indicator

import (
	"errors"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/skalibog/predtrade/internal/config"
	"github.com/skalibog/predtrade/pkg/models"
)

// ErrInsufficientData окно свечей короче требуемого lookback.
// Вызывающая сторона трактует это как "сигнал невозможен", а не как сбой.
var ErrInsufficientData = errors.New("недостаточно данных для расчета индикаторов")

// Engine рассчитывает технические индикаторы по окну свечей
type Engine struct {
	config config.IndicatorConfig
}

// NewEngine создает новый движок индикаторов
func NewEngine(cfg config.IndicatorConfig) *Engine {
	return &Engine{
		config: cfg,
	}
}

// Required минимальная длина окна свечей
func (e *Engine) Required() int {
	required := e.config.RSIPeriod
	if e.config.EMAPeriod > required {
		required = e.config.EMAPeriod
	}
	if e.config.VolLookback > required {
		required = e.config.VolLookback
	}
	// +1: для RSI и TR нужна предыдущая свеча
	return required + 1
}

// Compute рассчитывает снимок индикаторов по окну свечей.
// Свечи должны идти в хронологическом порядке, последняя — самая свежая.
func (e *Engine) Compute(candles []models.Candle) (models.IndicatorSnapshot, error) {
	required := e.Required()
	if len(candles) < required {
		return models.IndicatorSnapshot{}, fmt.Errorf("%w: %d свечей, требуется %d",
			ErrInsufficientData, len(candles), required)
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}
	last := len(candles) - 1

	// RSI со сглаживанием Уайлдера
	rsi := talib.Rsi(closes, e.config.RSIPeriod)
	lastRSI := rsi[last]

	// EMA и отклонение цены от нее в процентах
	ema := talib.Ema(closes, e.config.EMAPeriod)
	lastEMA := ema[last]
	distancePct := 0.0
	if lastEMA > 0 {
		distancePct = (closes[last] - lastEMA) / lastEMA * 100
	}

	// Отношение текущего истинного диапазона к ATR
	atr := talib.Atr(highs, lows, closes, e.config.VolLookback)
	lastATR := atr[last]
	tr := trueRange(candles[last], candles[last-1])
	volatilityRatio := 1.0
	if lastATR > 0 {
		volatilityRatio = tr / lastATR
	}

	return models.IndicatorSnapshot{
		RSI:             lastRSI,
		EMA:             lastEMA,
		EMADistancePct:  distancePct,
		VolatilityRatio: volatilityRatio,
		ComputedAt:      candles[last].OpenTime,
	}, nil
}

// trueRange истинный диапазон свечи с учетом гэпа от предыдущего закрытия
func trueRange(cur, prev models.Candle) float64 {
	return math.Max(cur.High-cur.Low,
		math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
}
