package ledger

import (
	"github.com/shopspring/decimal"
	"github.com/skalibog/predtrade/internal/config"
	"github.com/skalibog/predtrade/pkg/models"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Accountant рассчитывает реализованный PnL с учетом комиссий
// и агрегирует статистику. Денежная арифметика на decimal:
// результат должен воспроизводиться бит в бит при повторном расчете.
type Accountant struct {
	fees config.FeeConfig
}

// NewAccountant создает новый бухгалтерский модуль
func NewAccountant(cfg config.FeeConfig) *Accountant {
	return &Accountant{
		fees: cfg,
	}
}

// BinaryPnl выплата по бинарной ставке.
// Выигрыш: stake * ((1/odds - 1) * (1 - winFee)), проигрыш: -stake.
func (a *Accountant) BinaryPnl(sizeUSD int64, odds float64, won bool) decimal.Decimal {
	stake := decimal.NewFromInt(sizeUSD)
	if !won {
		return stake.Neg()
	}
	oddsDec := decimal.NewFromFloat(odds)
	winFee := decimal.NewFromFloat(a.fees.WinFeePct)
	return stake.Mul(one.Div(oddsDec).Sub(one).Mul(one.Sub(winFee)))
}

// TotalFeesPct суммарные издержки маржинальной сделки в процентах.
// Комиссия берется один раз за полный круг: вход + выход + проскальзывание.
func (a *Accountant) TotalFeesPct() float64 {
	return 2*a.fees.PerTradeFeePct + a.fees.SlippagePct
}

// LeveragedNet чистый PnL маржинальной сделки: процент и сумма в долларах
func (a *Accountant) LeveragedNet(sizeUSD int64, grossPnlPct float64) (float64, decimal.Decimal) {
	netPct := grossPnlPct - a.TotalFeesPct()
	pnlUSD := decimal.NewFromInt(sizeUSD).Mul(decimal.NewFromFloat(netPct)).Div(hundred)
	return netPct, pnlUSD
}

// Reduce сворачивает закрытые за тик позиции в накопленную статистику.
// Ассоциативна: Reduce(Reduce(s, a), b) == Reduce(s, a++b).
func (a *Accountant) Reduce(stats models.Stats, closed []models.Position) models.Stats {
	next := cloneStats(stats)

	for _, pos := range closed {
		if pos.Status != models.StatusClosed {
			continue
		}
		next.TotalTrades++
		won := pos.Won != nil && *pos.Won
		if won {
			next.Wins++
		} else {
			next.Losses++
		}
		next.TotalPnlUSD = next.TotalPnlUSD.Add(pos.PnlUSD)
		if next.TotalTrades == 1 {
			next.BestTrade = pos.PnlUSD
			next.WorstTrade = pos.PnlUSD
		} else {
			if pos.PnlUSD.GreaterThan(next.BestTrade) {
				next.BestTrade = pos.PnlUSD
			}
			if pos.PnlUSD.LessThan(next.WorstTrade) {
				next.WorstTrade = pos.PnlUSD
			}
		}

		vs := next.ByVariant[pos.Variant]
		vs.Trades++
		if won {
			vs.Wins++
		}
		vs.PnlUSD = vs.PnlUSD.Add(pos.PnlUSD)
		next.ByVariant[pos.Variant] = vs

		if pos.ExitReason != "" {
			next.ExitReasons[pos.ExitReason]++
		}
	}

	if next.TotalTrades > 0 {
		next.WinRate = float64(next.Wins) / float64(next.TotalTrades)
	}
	return next
}

// Replay восстанавливает статистику по полной истории закрытий.
// Скрытого состояния нет: Replay(история) совпадает с цепочкой Reduce.
func (a *Accountant) Replay(closed []models.Position) models.Stats {
	return a.Reduce(models.NewStats(), closed)
}

func cloneStats(stats models.Stats) models.Stats {
	next := stats
	next.ByVariant = make(map[models.StrategyVariant]models.VariantStats, len(stats.ByVariant))
	for k, v := range stats.ByVariant {
		next.ByVariant[k] = v
	}
	next.ExitReasons = make(map[models.ExitReason]int, len(stats.ExitReasons))
	for k, v := range stats.ExitReasons {
		next.ExitReasons[k] = v
	}
	return next
}
