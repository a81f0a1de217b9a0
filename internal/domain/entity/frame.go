package entity

import (
	"image"
	"time"
)

// Frame кадр с камеры вместе с моментом захвата
type Frame struct {
	Image      image.Image // растровое изображение
	CapturedAt time.Time   // момент захвата
	Seq        uint64      // порядковый номер кадра в сессии
}

// Width возвращает ширину кадра в пикселях
func (f *Frame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height возвращает высоту кадра в пикселях
func (f *Frame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// WithImage возвращает копию кадра с другим изображением (метаданные сохраняются)
func (f *Frame) WithImage(img image.Image) *Frame {
	return &Frame{Image: img, CapturedAt: f.CapturedAt, Seq: f.Seq}
}
