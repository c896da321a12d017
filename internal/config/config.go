package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// ErrInvalidConfig ошибка валидации конфигурации, приложение не стартует
var ErrInvalidConfig = errors.New("некорректная конфигурация")

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance    BinanceConfig    `yaml:"binance"`
	Trading    TradingConfig    `yaml:"trading"`
	Indicators IndicatorConfig  `yaml:"indicators"`
	Strategies StrategiesConfig `yaml:"strategies"`
	Sizing     SizingConfig     `yaml:"sizing"`
	Risk       RiskConfig       `yaml:"risk"`
	Fees       FeeConfig        `yaml:"fees"`
	Storage    StorageConfig    `yaml:"storage"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// TradingConfig содержит настройки симуляции
type TradingConfig struct {
	Assets      []string `yaml:"assets"`
	TickSeconds int      `yaml:"tick_seconds"`
	CandleLimit int      `yaml:"candle_limit"`
	DefaultOdds float64  `yaml:"default_odds"` // цена UP-исхода при отсутствии живого снимка
}

// IndicatorConfig настройки расчета индикаторов
type IndicatorConfig struct {
	RSIPeriod   int `yaml:"rsi_period"`
	EMAPeriod   int `yaml:"ema_period"`
	VolLookback int `yaml:"vol_lookback"`
}

// VariantConfig пороговые значения для одного варианта стратегии.
// Пороги RSI настраиваются независимо: варианты работают
// на разных таймфреймах.
type VariantConfig struct {
	Interval              string  `yaml:"interval"`
	Oversold              float64 `yaml:"oversold_threshold"`
	Overbought            float64 `yaml:"overbought_threshold"`
	Leverage              float64 `yaml:"leverage"`
	FixedWindowMinutes    int     `yaml:"fixed_window_minutes"` // только бинарный вариант
	StopLossPct           float64 `yaml:"stop_loss_pct"`        // дальше — только маржинальный
	TrailingActivationPct float64 `yaml:"trailing_activation_pct"`
	TrailingDeltaPct      float64 `yaml:"trailing_delta_pct"`
	NeutralBandLow        float64 `yaml:"neutral_band_low"`
	NeutralBandHigh       float64 `yaml:"neutral_band_high"`
	MaxHoldMinutes        int     `yaml:"max_hold_minutes"`
}

// StrategiesConfig настройки генерации сигналов
type StrategiesConfig struct {
	Binary                  VariantConfig `yaml:"binary"`
	Leveraged               VariantConfig `yaml:"leveraged"`
	EMADistanceThresholdPct float64       `yaml:"ema_distance_threshold_pct"`
	VolatilityThreshold     float64       `yaml:"volatility_threshold"`
	GoodHours               []int         `yaml:"good_hours"`
	WorstHours              []int         `yaml:"worst_hours"`
	ConfidenceMin           float64       `yaml:"confidence_min"`
	ConfidenceMax           float64       `yaml:"confidence_max"`
	AccuracyMin             float64       `yaml:"accuracy_min"`
	AccuracyMax             float64       `yaml:"accuracy_max"`
}

// Variant возвращает настройки запрошенного варианта
func (s StrategiesConfig) Variant(binary bool) VariantConfig {
	if binary {
		return s.Binary
	}
	return s.Leveraged
}

// SizingConfig настройки расчета размера позиции
type SizingConfig struct {
	BankrollUSD float64 `yaml:"bankroll_usd"`
	BasePct     float64 `yaml:"base_pct"`
	MaxPct      float64 `yaml:"max_pct"`
	MinSizeUSD  int64   `yaml:"min_size_usd"`
	MaxSizeUSD  int64   `yaml:"max_size_usd"`
}

// RiskConfig риск-лимиты перед открытием позиции
type RiskConfig struct {
	MinConfidence          float64 `yaml:"min_confidence"`
	MaxConfidence          float64 `yaml:"max_confidence"`
	MinAccuracy            float64 `yaml:"min_accuracy"`
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions"`
	MaxPositionsPerAsset   int     `yaml:"max_positions_per_asset"`
}

// FeeConfig комиссии и проскальзывание
type FeeConfig struct {
	PerTradeFeePct float64 `yaml:"per_trade_fee_pct"`
	SlippagePct    float64 `yaml:"slippage_pct"`
	WinFeePct      float64 `yaml:"win_fee_pct"` // доля от выигрыша бинарной ставки, напр. 0.02
}

// StorageConfig настройки хранения истории сделок
type StorageConfig struct {
	Type         string `yaml:"type"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// Default возвращает конфигурацию по умолчанию.
// Пороги RSI 35/65 для бинарного и 25/75 для маржинального варианта —
// значения зафиксированы здесь, а не в коде стратегий.
func Default() *Config {
	return &Config{
		Trading: TradingConfig{
			Assets:      []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
			TickSeconds: 60,
			CandleLimit: 100,
			DefaultOdds: 0.5,
		},
		Indicators: IndicatorConfig{
			RSIPeriod:   14,
			EMAPeriod:   8,
			VolLookback: 14,
		},
		Strategies: StrategiesConfig{
			Binary: VariantConfig{
				Interval:           "1m",
				Oversold:           35,
				Overbought:         65,
				Leverage:           1,
				FixedWindowMinutes: 15,
			},
			Leveraged: VariantConfig{
				Interval:              "1m",
				Oversold:              25,
				Overbought:            75,
				Leverage:              2,
				StopLossPct:           10.0,
				TrailingActivationPct: 5.0,
				TrailingDeltaPct:      1.5,
				NeutralBandLow:        45,
				NeutralBandHigh:       55,
				MaxHoldMinutes:        60,
			},
			EMADistanceThresholdPct: 0.4,
			VolatilityThreshold:     1.3,
			GoodHours:               []int{0, 4, 9, 11, 12, 15, 16, 19, 20, 21, 23},
			WorstHours:              []int{2, 5, 6, 14},
			ConfidenceMin:           0.50,
			ConfidenceMax:           0.95,
			AccuracyMin:             0.50,
			AccuracyMax:             0.70,
		},
		Sizing: SizingConfig{
			BankrollUSD: 1000,
			BasePct:     0.01,
			MaxPct:      0.05,
			MinSizeUSD:  5,
			MaxSizeUSD:  100,
		},
		Risk: RiskConfig{
			MinConfidence:          0.50,
			MaxConfidence:          0.95,
			MinAccuracy:            0.54,
			MaxConcurrentPositions: 5,
			MaxPositionsPerAsset:   2,
		},
		Fees: FeeConfig{
			PerTradeFeePct: 0.1,
			SlippagePct:    0.05,
			WinFeePct:      0.02,
		},
		Storage: StorageConfig{
			Type: "none",
		},
	}
}

// Load загружает конфигурацию из файла поверх значений по умолчанию
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate проверяет конфигурацию до первого тика
func (c *Config) Validate() error {
	if len(c.Trading.Assets) == 0 {
		return fmt.Errorf("%w: не задан список активов", ErrInvalidConfig)
	}
	if c.Trading.CandleLimit <= 0 {
		return fmt.Errorf("%w: candle_limit должен быть положительным", ErrInvalidConfig)
	}
	if c.Trading.DefaultOdds <= 0 || c.Trading.DefaultOdds >= 1 {
		return fmt.Errorf("%w: default_odds должен лежать в (0, 1)", ErrInvalidConfig)
	}
	if c.Indicators.RSIPeriod <= 0 || c.Indicators.EMAPeriod <= 0 || c.Indicators.VolLookback <= 0 {
		return fmt.Errorf("%w: периоды индикаторов должны быть положительными", ErrInvalidConfig)
	}

	if err := validateVariant("binary", c.Strategies.Binary); err != nil {
		return err
	}
	if err := validateVariant("leveraged", c.Strategies.Leveraged); err != nil {
		return err
	}
	if c.Strategies.Binary.FixedWindowMinutes <= 0 {
		return fmt.Errorf("%w: fixed_window_minutes должен быть положительным", ErrInvalidConfig)
	}
	lev := c.Strategies.Leveraged
	if lev.StopLossPct <= 0 || lev.TrailingDeltaPct <= 0 || lev.TrailingActivationPct < 0 {
		return fmt.Errorf("%w: параметры стопов маржинальной стратегии должны быть положительными", ErrInvalidConfig)
	}
	if lev.NeutralBandLow >= lev.NeutralBandHigh {
		return fmt.Errorf("%w: neutral_band_low должен быть меньше neutral_band_high", ErrInvalidConfig)
	}
	if lev.MaxHoldMinutes <= 0 {
		return fmt.Errorf("%w: max_hold_minutes должен быть положительным", ErrInvalidConfig)
	}
	if c.Strategies.ConfidenceMin >= c.Strategies.ConfidenceMax {
		return fmt.Errorf("%w: confidence_min должен быть меньше confidence_max", ErrInvalidConfig)
	}
	if c.Strategies.AccuracyMin >= c.Strategies.AccuracyMax {
		return fmt.Errorf("%w: accuracy_min должен быть меньше accuracy_max", ErrInvalidConfig)
	}

	if c.Sizing.BankrollUSD <= 0 {
		return fmt.Errorf("%w: bankroll_usd должен быть положительным", ErrInvalidConfig)
	}
	if c.Sizing.BasePct <= 0 || c.Sizing.MaxPct < c.Sizing.BasePct {
		return fmt.Errorf("%w: должно выполняться 0 < base_pct <= max_pct", ErrInvalidConfig)
	}
	if c.Sizing.MinSizeUSD <= 0 || c.Sizing.MaxSizeUSD < c.Sizing.MinSizeUSD {
		return fmt.Errorf("%w: должно выполняться 0 < min_size_usd <= max_size_usd", ErrInvalidConfig)
	}

	if c.Risk.MinConfidence >= c.Risk.MaxConfidence {
		return fmt.Errorf("%w: min_confidence должен быть меньше max_confidence", ErrInvalidConfig)
	}
	if c.Risk.MaxConcurrentPositions <= 0 || c.Risk.MaxPositionsPerAsset <= 0 {
		return fmt.Errorf("%w: лимиты позиций должны быть положительными", ErrInvalidConfig)
	}

	if c.Fees.PerTradeFeePct < 0 || c.Fees.SlippagePct < 0 || c.Fees.WinFeePct < 0 || c.Fees.WinFeePct >= 1 {
		return fmt.Errorf("%w: некорректные комиссии", ErrInvalidConfig)
	}

	return nil
}

func validateVariant(name string, v VariantConfig) error {
	if v.Oversold >= v.Overbought {
		return fmt.Errorf("%w: %s: oversold_threshold должен быть меньше overbought_threshold", ErrInvalidConfig, name)
	}
	if v.Oversold < 0 || v.Overbought > 100 {
		return fmt.Errorf("%w: %s: пороги RSI должны лежать в [0, 100]", ErrInvalidConfig, name)
	}
	if v.Leverage < 1 {
		return fmt.Errorf("%w: %s: leverage должен быть не меньше 1", ErrInvalidConfig, name)
	}
	if v.Interval == "" {
		return fmt.Errorf("%w: %s: не задан интервал свечей", ErrInvalidConfig, name)
	}
	return nil
}
