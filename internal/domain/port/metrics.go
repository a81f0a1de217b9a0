package port

import (
	"time"

	"qc-vision/internal/domain/entity"
)

// PipelineMetrics счётчики конвейера захвата и учёта
type PipelineMetrics interface {
	FrameCaptured()
	FrameDropped()
	CaptureFailed()
	InferenceFailed()
	ObserveInference(d time.Duration)
	EventAccepted(event entity.InspectionEvent)
	EventSuppressed(verdict entity.Verdict)
	PublishFailed(publisher string)
	StationState(state entity.StationState)
}
