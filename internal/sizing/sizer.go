package sizing

import (
	"math"

	"github.com/skalibog/predtrade/internal/config"
)

// Sizer переводит уверенность сигнала в размер позиции в долларах.
// Аллокация в духе Келли: линейная интерполяция между базовой
// и максимальной долей банкролла.
type Sizer struct {
	config  config.SizingConfig
	minConf float64
	maxConf float64
}

// NewSizer создает новый калькулятор размера позиции
func NewSizer(cfg config.SizingConfig, risk config.RiskConfig) *Sizer {
	return &Sizer{
		config:  cfg,
		minConf: risk.MinConfidence,
		maxConf: risk.MaxConfidence,
	}
}

// Size возвращает размер позиции в целых долларах.
// Чистая функция, монотонно неубывающая по уверенности.
func (s *Sizer) Size(confidence float64) int64 {
	confNorm := 0.0
	if span := s.maxConf - s.minConf; span > 0 {
		confNorm = (confidence - s.minConf) / span
	}
	if confNorm < 0 {
		confNorm = 0
	}
	if confNorm > 1 {
		confNorm = 1
	}

	sizePct := s.config.BasePct + confNorm*(s.config.MaxPct-s.config.BasePct)
	size := int64(math.Round(s.config.BankrollUSD * sizePct))

	if size < s.config.MinSizeUSD {
		size = s.config.MinSizeUSD
	}
	if size > s.config.MaxSizeUSD {
		size = s.config.MaxSizeUSD
	}
	return size
}
