package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"qc-vision/internal/domain/entity"
	"qc-vision/internal/domain/port"
)

var errAlreadyReleased = errors.New("camera already released")

// SyntheticSource генерирует кадры конвейера без реальной камеры: по ленте едет деталь.
// Как и настоящее устройство, каждый номер можно открыть только один раз.
type SyntheticSource struct {
	Width  int
	Height int
	FPS    int

	mu   sync.Mutex
	busy map[int]bool
}

func NewSyntheticSource(width, height, fps int) *SyntheticSource {
	if fps <= 0 {
		fps = 30
	}
	return &SyntheticSource{Width: width, Height: height, FPS: fps, busy: make(map[int]bool)}
}

func (s *SyntheticSource) Open(ctx context.Context, deviceID int) (port.Camera, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[deviceID] {
		return nil, fmt.Errorf("device %d is busy", deviceID)
	}
	s.busy[deviceID] = true

	return &syntheticCamera{
		src:      s,
		deviceID: deviceID,
		interval: time.Second / time.Duration(s.FPS),
	}, nil
}

// InUse сообщает, открыто ли устройство
func (s *SyntheticSource) InUse(deviceID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy[deviceID]
}

type syntheticCamera struct {
	src      *SyntheticSource
	deviceID int
	interval time.Duration

	mu       sync.Mutex
	n        int
	last     time.Time
	released bool
}

// Read выдаёт кадры не чаще FPS
func (c *syntheticCamera) Read() (*entity.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil, errAlreadyReleased
	}
	if !c.last.IsZero() {
		if wait := c.interval - time.Since(c.last); wait > 0 {
			time.Sleep(wait)
		}
	}
	c.last = time.Now()
	c.n++

	return &entity.Frame{Image: c.render(), CapturedAt: c.last}, nil
}

func (c *syntheticCamera) render() image.Image {
	w, h := c.src.Width, c.src.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 60, G: 60, B: 60, A: 255}), image.Point{}, draw.Src)

	// лента
	belt := image.Rect(0, h/3, w, 2*h/3)
	draw.Draw(img, belt, image.NewUniform(color.RGBA{R: 30, G: 30, B: 30, A: 255}), image.Point{}, draw.Src)

	// деталь проходит кадр слева направо примерно за 3 секунды
	size := h / 4
	span := w + size
	x := (c.n*span/(3*c.src.FPS))%span - size
	part := image.Rect(x, h/2-size/2, x+size, h/2+size/2).Intersect(img.Bounds())
	draw.Draw(img, part, image.NewUniform(color.RGBA{R: 200, G: 170, B: 90, A: 255}), image.Point{}, draw.Src)

	return img
}

func (c *syntheticCamera) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return errAlreadyReleased
	}
	c.released = true

	c.src.mu.Lock()
	delete(c.src.busy, c.deviceID)
	c.src.mu.Unlock()
	return nil
}

var _ port.CameraSource = (*SyntheticSource)(nil)
