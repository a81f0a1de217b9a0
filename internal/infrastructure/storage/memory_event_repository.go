package storage

import (
	"context"
	"sync"

	"qc-vision/internal/domain/entity"
	"qc-vision/internal/domain/port"
)

// MemoryEventRepository in-memory журнал событий фиксированной ёмкости.
// При переполнении вытесняются самые старые записи.
type MemoryEventRepository struct {
	mu     sync.RWMutex
	events []entity.InspectionEvent
	next   int // позиция следующей записи
	total  int
}

// NewMemoryEventRepository создаёт журнал на capacity событий
func NewMemoryEventRepository(capacity int) *MemoryEventRepository {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryEventRepository{
		events: make([]entity.InspectionEvent, 0, capacity),
	}
}

// Append добавляет событие в журнал
func (r *MemoryEventRepository) Append(ctx context.Context, event entity.InspectionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.events) < cap(r.events) {
		r.events = append(r.events, event)
	} else {
		r.events[r.next] = event
	}
	r.next = (r.next + 1) % cap(r.events)
	r.total++

	return nil
}

// Recent возвращает до n последних событий, новые первыми
func (r *MemoryEventRepository) Recent(ctx context.Context, n int) ([]entity.InspectionEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > len(r.events) {
		n = len(r.events)
	}

	out := make([]entity.InspectionEvent, 0, n)
	idx := r.next
	for i := 0; i < n; i++ {
		idx = (idx - 1 + len(r.events)) % len(r.events)
		out = append(out, r.events[idx])
	}
	return out, nil
}

// Len число событий, добавленных за всё время
func (r *MemoryEventRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Проверка реализации интерфейса
var _ port.EventRepository = (*MemoryEventRepository)(nil)
