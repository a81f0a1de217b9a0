//go:build !gocv
// +build !gocv

package vision

import (
	"context"
	"errors"

	"qc-vision/internal/domain/port"
)

// GoCVSource заглушка для сборки без OpenCV
type GoCVSource struct {
	Width  int
	Height int
}

// NewGoCVSource создаёт источник-заглушку (без OpenCV).
func NewGoCVSource(width, height int) *GoCVSource {
	return &GoCVSource{Width: width, Height: height}
}

// Open возвращает ошибку, если сборка без тега gocv.
func (s *GoCVSource) Open(ctx context.Context, deviceID int) (port.Camera, error) {
	_ = ctx
	_ = deviceID
	return nil, errors.New("gocv build tag is not enabled")
}

var _ port.CameraSource = (*GoCVSource)(nil)
