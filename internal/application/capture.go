package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"qc-vision/internal/domain/entity"
	"qc-vision/internal/domain/port"
)

// reopenAfterFailures число подряд неудачных чтений, после которого камера переоткрывается
const reopenAfterFailures = 10

// CaptureLoop цикл захвата: кадр, инференс, разметка, вердикт.
// Камера принадлежит циклу с первого открытия до выхода из Run.
type CaptureLoop struct {
	source    port.CameraSource
	deviceID  int
	detector  port.Detector
	annotator port.Annotator
	classify  *Classifier
	throttle  time.Duration
	metrics   port.PipelineMetrics
	log       *slog.Logger
	now       func() time.Time

	onFrame    func(*entity.Frame)
	onDecision func(entity.Decision, time.Time)

	camera       port.Camera
	seq          uint64
	readFailures int
}

// LoopOutputs получатели результатов цикла. Оба вызова не должны блокироваться.
type LoopOutputs struct {
	Frame    func(*entity.Frame)
	Decision func(entity.Decision, time.Time)
}

// NewCaptureLoop собирает цикл захвата
func NewCaptureLoop(cfg StationConfig, deps StationDeps, classify *Classifier, out LoopOutputs) *CaptureLoop {
	return &CaptureLoop{
		source:     deps.Camera,
		deviceID:   cfg.DeviceID,
		detector:   deps.Detector,
		annotator:  deps.Annotator,
		classify:   classify,
		throttle:   cfg.ThrottleDelay,
		metrics:    deps.Metrics,
		log:        deps.Logger,
		now:        deps.clock(),
		onFrame:    out.Frame,
		onDecision: out.Decision,
	}
}

// Run крутит цикл до отмены ctx. Отмена проверяется раз за итерацию,
// начатый инференс дорабатывает до конца. Перед возвратом камера освобождается.
func (l *CaptureLoop) Run(ctx context.Context) {
	defer l.release()

	for ctx.Err() == nil {
		started := time.Now()
		l.iterate(ctx)

		// Минимальный интервал между итерациями; если итерация дольше, пауза не нужна
		if !sleepCtx(ctx, l.throttle-time.Since(started)) {
			return
		}
	}
}

func (l *CaptureLoop) iterate(ctx context.Context) {
	if l.camera == nil {
		cam, err := l.source.Open(ctx, l.deviceID)
		if err != nil {
			l.captureFailed(&entity.CaptureError{Op: "open", Err: err})
			return
		}
		l.camera = cam
		l.log.Info("camera opened", "device", l.deviceID)
	}

	frame, err := l.camera.Read()
	if err != nil {
		l.readFailures++
		l.captureFailed(&entity.CaptureError{Op: "read", Err: err})
		if l.readFailures >= reopenAfterFailures {
			l.log.Warn("too many read failures, reopening camera", "failures", l.readFailures)
			l.release()
		}
		return
	}
	l.readFailures = 0

	l.seq++
	frame.Seq = l.seq
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = l.now()
	}
	l.metrics.FrameCaptured()

	detections := l.detect(ctx, frame)
	decision := l.classify.Classify(detections)

	annotated := frame
	if l.annotator != nil {
		annotated = l.annotator.Annotate(frame, detections, decision)
	}

	l.onFrame(annotated)
	if !decision.Waiting() {
		l.onDecision(decision, frame.CapturedAt)
	}
}

// detect при ошибке движка возвращает пустой список: кадр получает WAITING
func (l *CaptureLoop) detect(ctx context.Context, frame *entity.Frame) []entity.Detection {
	started := time.Now()
	detections, err := l.detector.Detect(ctx, frame)
	l.metrics.ObserveInference(time.Since(started))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		l.metrics.InferenceFailed()
		l.log.Warn("inference failed, frame treated as empty",
			"error", &entity.InferenceError{Seq: frame.Seq, Err: err})
		return nil
	}
	return detections
}

func (l *CaptureLoop) captureFailed(err error) {
	l.metrics.CaptureFailed()
	l.log.Warn("capture iteration skipped", "error", err)
}

func (l *CaptureLoop) release() {
	if l.camera == nil {
		return
	}
	if err := l.camera.Release(); err != nil {
		l.log.Error("camera release failed", "device", l.deviceID, "error", err)
	} else {
		l.log.Info("camera released", "device", l.deviceID)
	}
	l.camera = nil
	l.readFailures = 0
}

// sleepCtx ждёт d или отмены ctx. Возвращает false, если ctx отменён.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
