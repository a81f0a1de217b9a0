package entity

import (
	"errors"
	"fmt"
)

var (
	ErrCapture           = errors.New("capture failed")
	ErrInference         = errors.New("inference failed")
	ErrAlreadyRunning    = errors.New("station is already running")
	ErrEngineUnavailable = errors.New("inference engine is not available")
)

// CaptureError ошибка открытия или чтения камеры
type CaptureError struct {
	Op  string // open | read
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("camera %s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Is позволяет сравнивать через errors.Is(err, ErrCapture)
func (e *CaptureError) Is(target error) bool { return target == ErrCapture }

// InferenceError ошибка детектора на конкретном кадре
type InferenceError struct {
	Seq uint64
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference on frame %d: %v", e.Seq, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

func (e *InferenceError) Is(target error) bool { return target == ErrInference }
