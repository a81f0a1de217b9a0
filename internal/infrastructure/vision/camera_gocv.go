//go:build gocv
// +build gocv

package vision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"qc-vision/internal/domain/entity"
	"qc-vision/internal/domain/port"
)

// GoCVSource открывает USB-камеры через OpenCV
type GoCVSource struct {
	Width  int
	Height int
}

// NewGoCVSource создаёт источник; нулевой размер оставляет настройки камеры по умолчанию.
func NewGoCVSource(width, height int) *GoCVSource {
	return &GoCVSource{Width: width, Height: height}
}

// Open захватывает устройство. Пока камера не освобождена, повторно её не открыть.
func (s *GoCVSource) Open(ctx context.Context, deviceID int) (port.Camera, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	capture, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("open device %d: %w", deviceID, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("device %d is not available", deviceID)
	}
	if s.Width > 0 && s.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(s.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(s.Height))
	}

	return &gocvCamera{capture: capture, mat: gocv.NewMat()}, nil
}

type gocvCamera struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

// Read читает кадр и переводит его из BGR Mat в image.Image
func (c *gocvCamera) Read() (*entity.Frame, error) {
	if ok := c.capture.Read(&c.mat); !ok {
		return nil, errors.New("read failed")
	}
	if c.mat.Empty() {
		return nil, errors.New("empty frame")
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return &entity.Frame{Image: img, CapturedAt: time.Now()}, nil
}

func (c *gocvCamera) Release() error {
	if err := c.mat.Close(); err != nil {
		_ = c.capture.Close()
		return err
	}
	return c.capture.Close()
}

var _ port.CameraSource = (*GoCVSource)(nil)
