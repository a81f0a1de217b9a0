package port

import (
	"context"

	"qc-vision/internal/domain/entity"
)

// Detector интерфейс движка инференса
type Detector interface {
	// Detect находит объекты на кадре. Порядок результатов задаёт движок.
	Detect(ctx context.Context, frame *entity.Frame) ([]entity.Detection, error)

	// Close освобождает ресурсы модели
	Close() error
}

// Annotator рисует рамки и крупный вердикт поверх кадра
type Annotator interface {
	// Annotate возвращает новый кадр, исходный не изменяется
	Annotate(frame *entity.Frame, detections []entity.Detection, decision entity.Decision) *entity.Frame
}
