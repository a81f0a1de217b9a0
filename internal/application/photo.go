package app

import (
	"context"
	"errors"
	"image"
	"time"

	"qc-vision/internal/domain/entity"
	"qc-vision/internal/domain/port"
)

// PhotoReport результат проверки присланной фотографии
type PhotoReport struct {
	Decision   entity.Decision
	Detections []entity.Detection
	Annotated  *entity.Frame
}

// PhotoInspector проверяет отдельные снимки тем же движком и правилами, что и станция.
// Результаты в счётчики не попадают.
type PhotoInspector struct {
	detector  port.Detector
	classify  *Classifier
	annotator port.Annotator
}

func NewPhotoInspector(detector port.Detector, classify *Classifier, annotator port.Annotator) *PhotoInspector {
	if classify == nil {
		classify = NewClassifier(nil)
	}
	return &PhotoInspector{
		detector:  detector,
		classify:  classify,
		annotator: annotator,
	}
}

// Inspect прогоняет снимок через детектор и классификатор
func (p *PhotoInspector) Inspect(ctx context.Context, img image.Image) (*PhotoReport, error) {
	if p.detector == nil {
		return nil, entity.ErrEngineUnavailable
	}
	if img == nil {
		return nil, errors.New("empty image")
	}

	frame := &entity.Frame{Image: img, CapturedAt: time.Now()}
	detections, err := p.detector.Detect(ctx, frame)
	if err != nil {
		return nil, &entity.InferenceError{Err: err}
	}

	report := &PhotoReport{
		Decision:   p.classify.Classify(detections),
		Detections: detections,
		Annotated:  frame,
	}
	if p.annotator != nil {
		report.Annotated = p.annotator.Annotate(frame, detections, report.Decision)
	}
	return report, nil
}
