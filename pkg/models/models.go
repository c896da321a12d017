package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction направление прогноза
type Direction string

const (
	DirectionUp      Direction = "UP"
	DirectionDown    Direction = "DOWN"
	DirectionNeutral Direction = "NEUTRAL"
)

// StrategyVariant вариант стратегии
type StrategyVariant string

const (
	// VariantBinary бинарная ставка с фиксированным окном расчета
	VariantBinary StrategyVariant = "binary_timeboxed"
	// VariantLeveraged маржинальная позиция на возврат к среднему
	VariantLeveraged StrategyVariant = "leveraged_meanreversion"
)

// PositionStatus статус позиции
type PositionStatus string

const (
	StatusOpen   PositionStatus = "OPEN"
	StatusClosed PositionStatus = "CLOSED"
)

// ExitReason причина закрытия позиции (фиксированная таксономия)
type ExitReason string

const (
	ExitBinaryExpiry ExitReason = "binary_expiry"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitSignalExit   ExitReason = "signal_exit"
	ExitMaxHold      ExitReason = "max_hold"
)

// Candle представляет свечу
type Candle struct {
	Symbol   string
	Interval string
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// IndicatorSnapshot рассчитанные индикаторы по одному окну свечей
type IndicatorSnapshot struct {
	RSI             float64 // 0..100
	EMA             float64
	EMADistancePct  float64 // (close - EMA) / EMA * 100
	VolatilityRatio float64 // текущий TR / ATR
	ComputedAt      time.Time
}

// SignalFlags компоненты сигнала, вошедшие в оценку уверенности
type SignalFlags struct {
	RSIExtreme     bool
	EMAExtended    bool
	HighVolatility bool
	GoodHour       bool
}

// Signal торговый сигнал для одного актива и варианта стратегии
type Signal struct {
	Asset            string
	Variant          StrategyVariant
	Direction        Direction
	Confidence       float64 // 0..1, имеет смысл только при Direction != NEUTRAL
	AccuracyEstimate float64 // ожидаемая точность, 0..1
	RSI              float64
	EMADistancePct   float64
	VolatilityRatio  float64
	HourUTC          int
	Flags            SignalFlags
	Reasoning        string
	GeneratedAt      time.Time
}

// Position симулируемая позиция.
// Терминальные поля (Exit*, Pnl*, Won) заполняются только при Status = CLOSED.
type Position struct {
	ID         string
	Asset      string
	Variant    StrategyVariant
	Direction  Direction
	EntryPrice float64
	EntryTime  time.Time
	SizeUSD    int64
	Leverage   float64
	Confidence float64
	Odds       float64 // цена выбранного исхода на входе, только для бинарного варианта
	PeakPnlPct float64 // максимум PnL с плечом за время жизни, только для маржинального варианта
	Status     PositionStatus

	ExitPrice  float64
	ExitTime   time.Time
	ExitReason ExitReason
	ExitDetail string // причина с численным параметром, например trailing_stop_peak6.0%
	PnlPct     float64
	PnlUSD     decimal.Decimal
	Won        *bool
}

// IsOpen сообщает, открыта ли позиция
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// Key ключ уникальности: на пару (актив, вариант) допускается
// не более одной открытой позиции
func (p *Position) Key() string {
	return PositionKey(p.Asset, p.Variant)
}

// PositionKey собирает ключ открытой позиции
func PositionKey(asset string, variant StrategyVariant) string {
	return asset + "|" + string(variant)
}

// VariantStats статистика по одному варианту стратегии
type VariantStats struct {
	Trades int
	Wins   int
	PnlUSD decimal.Decimal
}

// Stats агрегированная статистика по закрытым позициям.
// Все поля выводимы повторным проходом по полной истории закрытий.
type Stats struct {
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64
	TotalPnlUSD decimal.Decimal
	BestTrade   decimal.Decimal
	WorstTrade  decimal.Decimal
	ByVariant   map[StrategyVariant]VariantStats
	ExitReasons map[ExitReason]int
}

// NewStats создает пустую статистику с инициализированными картами
func NewStats() Stats {
	return Stats{
		TotalPnlUSD: decimal.Zero,
		BestTrade:   decimal.Zero,
		WorstTrade:  decimal.Zero,
		ByVariant:   make(map[StrategyVariant]VariantStats),
		ExitReasons: make(map[ExitReason]int),
	}
}
