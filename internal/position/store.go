package position

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skalibog/predtrade/pkg/models"
)

// ErrDuplicateOpen по ключу (актив, вариант) уже есть открытая позиция.
// Ожидаемая частая ситуация, не сбой.
var ErrDuplicateOpen = errors.New("открытая позиция по ключу уже существует")

// CloseRequest терминальные поля закрываемой позиции
type CloseRequest struct {
	ExitPrice float64
	ExitTime  time.Time
	Reason    models.ExitReason
	Detail    string
	PnlPct    float64
	PnlUSD    decimal.Decimal
	Won       bool
}

// Store хранилище позиций. Insert и Close атомарны: инвариант
// "не более одной открытой позиции на ключ" держится даже при
// перекрывающихся тиках.
type Store interface {
	// Insert вставляет открытую позицию; ErrDuplicateOpen при занятом ключе
	Insert(pos models.Position) error
	// Get возвращает открытую позицию по ключу
	Get(asset string, variant models.StrategyVariant) (models.Position, bool)
	// UpdatePeak поднимает peakPnlPct открытой позиции; пик не убывает
	UpdatePeak(id string, peak float64)
	// Close переводит позицию в CLOSED; повторный вызов — no-op (false)
	Close(id string, req CloseRequest) (models.Position, bool)
	// OpenCount число открытых позиций
	OpenCount() int
	// OpenCountForAsset число открытых позиций по активу
	OpenCountForAsset(asset string) int
	// OpenPositions снимок открытых позиций
	OpenPositions() []models.Position
	// ClosedPositions полная история закрытий в порядке закрытия
	ClosedPositions() []models.Position
}

// MemoryStore потокобезопасное хранилище в памяти
type MemoryStore struct {
	mu     sync.Mutex
	open   map[string]*models.Position // ключ: asset|variant
	byID   map[string]*models.Position
	closed []models.Position
}

// NewMemoryStore создает новое хранилище позиций
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		open: make(map[string]*models.Position),
		byID: make(map[string]*models.Position),
	}
}

// Insert атомарный check-and-insert по ключу (актив, вариант)
func (s *MemoryStore) Insert(pos models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pos.Key()
	if _, exists := s.open[key]; exists {
		return ErrDuplicateOpen
	}
	stored := pos
	s.open[key] = &stored
	s.byID[stored.ID] = &stored
	return nil
}

// Get возвращает копию открытой позиции по ключу
func (s *MemoryStore) Get(asset string, variant models.StrategyVariant) (models.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.open[models.PositionKey(asset, variant)]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// UpdatePeak поднимает пик открытой позиции, никогда не опуская его
func (s *MemoryStore) UpdatePeak(id string, peak float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.byID[id]
	if !ok || pos.Status != models.StatusOpen {
		return
	}
	if peak > pos.PeakPnlPct {
		pos.PeakPnlPct = peak
	}
}

// Close атомарный перевод в CLOSED; закрытая позиция неизменяема
func (s *MemoryStore) Close(id string, req CloseRequest) (models.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.byID[id]
	if !ok || pos.Status != models.StatusOpen {
		return models.Position{}, false
	}

	pos.Status = models.StatusClosed
	pos.ExitPrice = req.ExitPrice
	pos.ExitTime = req.ExitTime
	pos.ExitReason = req.Reason
	pos.ExitDetail = req.Detail
	pos.PnlPct = req.PnlPct
	pos.PnlUSD = req.PnlUSD
	won := req.Won
	pos.Won = &won

	delete(s.open, pos.Key())
	s.closed = append(s.closed, *pos)
	return *pos, true
}

// OpenCount число открытых позиций
func (s *MemoryStore) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// OpenCountForAsset число открытых позиций по активу
func (s *MemoryStore) OpenCountForAsset(asset string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, pos := range s.open {
		if pos.Asset == asset {
			count++
		}
	}
	return count
}

// OpenPositions снимок открытых позиций
func (s *MemoryStore) OpenPositions() []models.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Position, 0, len(s.open))
	for _, pos := range s.open {
		out = append(out, *pos)
	}
	return out
}

// ClosedPositions полная история закрытий
func (s *MemoryStore) ClosedPositions() []models.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Position, len(s.closed))
	copy(out, s.closed)
	return out
}
