package app

import (
	"sync"
	"time"

	"qc-vision/internal/domain/entity"
)

// Counter подавляет повторный учёт одного изделия и ведёт счётчики.
// Окно подавления общее для всех классов: станция видит один объект за раз.
type Counter struct {
	window time.Duration

	mu           sync.Mutex
	stats        entity.RunningStats
	lastAccepted time.Time
	hasAccepted  bool
}

// NewCounter создаёт счётчик с окном подавления window
func NewCounter(window time.Duration) *Counter {
	return &Counter{window: window}
}

// Accept учитывает решение, принятое в момент at.
// Возвращает событие и true, если решение учтено; false, если подавлено.
func (c *Counter) Accept(d entity.Decision, at time.Time) (entity.InspectionEvent, bool) {
	if d.Waiting() {
		return entity.InspectionEvent{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasAccepted && at.Sub(c.lastAccepted) < c.window {
		return entity.InspectionEvent{}, false
	}

	c.lastAccepted = at
	c.hasAccepted = true

	c.stats.Total++
	if d.Verdict == entity.VerdictNG {
		c.stats.NG++
	} else {
		c.stats.OK++
	}

	return entity.NewInspectionEvent(d, at, c.stats), true
}

// Snapshot возвращает копию текущих счётчиков
func (c *Counter) Snapshot() entity.RunningStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
