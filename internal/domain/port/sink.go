package port

import (
	"context"

	"qc-vision/internal/domain/entity"
)

// PresentationSink получатель кадров и статистики (панель оператора).
// Вызовы не должны блокировать отправителя надолго.
type PresentationSink interface {
	OnFrame(frame *entity.Frame)
	OnStats(event entity.InspectionEvent)
	OnState(state entity.StationState)
}

// EventPublisher внешняя точка выгрузки учтённых событий (MQTT, Telegram)
type EventPublisher interface {
	Publish(ctx context.Context, event entity.InspectionEvent) error
}

// EventRepository журнал событий текущего запуска
type EventRepository interface {
	// Append добавляет событие в журнал
	Append(ctx context.Context, event entity.InspectionEvent) error

	// Recent возвращает последние n событий, новые первыми
	Recent(ctx context.Context, n int) ([]entity.InspectionEvent, error)

	// Len общее число добавленных событий
	Len() int
}
