package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/skalibog/predtrade/internal/config"
	"github.com/skalibog/predtrade/pkg/models"
)

// Storage интерфейс записи истории симуляции.
// Движок сам не пишет: запись выполняет вызывающая сторона после тика.
type Storage interface {
	SavePosition(ctx context.Context, pos models.Position) error
	SaveSignal(ctx context.Context, sig models.Signal) error
	SaveStats(ctx context.Context, stats models.Stats, ts time.Time) error
	Close()
}

// InfluxDBStorage реализует интерфейс Storage с использованием InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	return &InfluxDBStorage{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Organization, cfg.Bucket),
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() {
	s.writeAPI.Flush()
	s.client.Close()
}

// SavePosition сохраняет позицию (открытую или закрытую)
func (s *InfluxDBStorage) SavePosition(ctx context.Context, pos models.Position) error {
	fields := map[string]interface{}{
		"entry_price": pos.EntryPrice,
		"size_usd":    pos.SizeUSD,
		"leverage":    pos.Leverage,
		"confidence":  pos.Confidence,
	}
	ts := pos.EntryTime

	if pos.Status == models.StatusClosed {
		pnlUSD, _ := pos.PnlUSD.Float64()
		fields["exit_price"] = pos.ExitPrice
		fields["pnl_pct"] = pos.PnlPct
		fields["pnl_usd"] = pnlUSD
		fields["exit_detail"] = pos.ExitDetail
		fields["won"] = pos.Won != nil && *pos.Won
		ts = pos.ExitTime
	}

	point := influxdb2.NewPoint(
		"positions",
		map[string]string{
			"id":          pos.ID,
			"asset":       pos.Asset,
			"variant":     string(pos.Variant),
			"direction":   string(pos.Direction),
			"status":      string(pos.Status),
			"exit_reason": string(pos.ExitReason),
		},
		fields,
		ts,
	)

	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()
	return nil
}

// SaveSignal сохраняет сигнал
func (s *InfluxDBStorage) SaveSignal(ctx context.Context, sig models.Signal) error {
	point := influxdb2.NewPoint(
		"signals",
		map[string]string{
			"asset":     sig.Asset,
			"variant":   string(sig.Variant),
			"direction": string(sig.Direction),
		},
		map[string]interface{}{
			"confidence":       sig.Confidence,
			"accuracy":         sig.AccuracyEstimate,
			"rsi":              sig.RSI,
			"ema_distance_pct": sig.EMADistancePct,
			"volatility":       sig.VolatilityRatio,
			"reasoning":        sig.Reasoning,
		},
		sig.GeneratedAt,
	)

	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()
	return nil
}

// SaveStats сохраняет снимок агрегированной статистики
func (s *InfluxDBStorage) SaveStats(ctx context.Context, stats models.Stats, ts time.Time) error {
	totalPnl, _ := stats.TotalPnlUSD.Float64()
	fields := map[string]interface{}{
		"total_trades":  stats.TotalTrades,
		"wins":          stats.Wins,
		"losses":        stats.Losses,
		"win_rate":      stats.WinRate,
		"total_pnl_usd": totalPnl,
	}
	for variant, vs := range stats.ByVariant {
		pnl, _ := vs.PnlUSD.Float64()
		fields["trades_"+string(variant)] = vs.Trades
		fields["pnl_"+string(variant)] = pnl
	}
	for reason, count := range stats.ExitReasons {
		fields["exits_"+string(reason)] = count
	}

	point := influxdb2.NewPoint("stats", nil, fields, ts)
	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()
	return nil
}

// NoopStorage заглушка при отключенном хранилище
type NoopStorage struct{}

func (NoopStorage) SavePosition(ctx context.Context, pos models.Position) error { return nil }
func (NoopStorage) SaveSignal(ctx context.Context, sig models.Signal) error     { return nil }
func (NoopStorage) SaveStats(ctx context.Context, stats models.Stats, ts time.Time) error {
	return nil
}
func (NoopStorage) Close() {}
