package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Verdict итог проверки одного кадра
type Verdict int

const (
	VerdictWaiting Verdict = iota // объектов в кадре нет
	VerdictOK                     // годное изделие
	VerdictNG                     // брак
)

// String возвращает обозначение вердикта для интерфейса и логов
func (v Verdict) String() string {
	switch v {
	case VerdictOK:
		return "OK"
	case VerdictNG:
		return "NG"
	default:
		return "WAITING"
	}
}

// MarshalText позволяет сериализовать вердикт строкой в JSON
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Decision вердикт вместе с классом главной детекции
type Decision struct {
	Verdict Verdict
	Label   string // пусто для WAITING
}

// Waiting сообщает, что решение не требует учёта
func (d Decision) Waiting() bool {
	return d.Verdict == VerdictWaiting
}

// RunningStats счётчики проверок за время работы процесса
type RunningStats struct {
	Total uint64 `json:"total"`
	OK    uint64 `json:"ok"`
	NG    uint64 `json:"ng"`
}

// YieldRate процент годных изделий, 0 если проверок ещё не было
func (s RunningStats) YieldRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.OK) / float64(s.Total) * 100
}

// InspectionEvent учтённая проверка. После создания не изменяется.
type InspectionEvent struct {
	ID      uuid.UUID    `json:"id"`
	Verdict Verdict      `json:"verdict"`
	Label   string       `json:"label"`
	At      time.Time    `json:"at"`
	Stats   RunningStats `json:"stats"`
}

// NewInspectionEvent создаёт событие с новым идентификатором
func NewInspectionEvent(d Decision, at time.Time, stats RunningStats) InspectionEvent {
	return InspectionEvent{
		ID:      uuid.New(),
		Verdict: d.Verdict,
		Label:   d.Label,
		At:      at,
		Stats:   stats,
	}
}

// LogLine строка для панели журнала, например "[15:04:05] NG (scissors)"
func (e InspectionEvent) LogLine() string {
	return fmt.Sprintf("[%s] %s (%s)", e.At.Format("15:04:05"), e.Verdict, e.Label)
}

// StationState состояние станции контроля
type StationState string

const (
	StateIdle    StationState = "idle"    // ещё не запускалась
	StateRunning StationState = "running" // цикл захвата работает
	StateStopped StationState = "stopped" // остановлена
)
