package vision

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/nfnt/resize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"qc-vision/internal/domain/entity"
	"qc-vision/internal/domain/port"
)

var (
	colorOK    = color.RGBA{G: 200, A: 255}
	colorNG    = color.RGBA{R: 230, A: 255}
	colorLabel = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const (
	boxThickness = 2
	verdictScale = 4 // во сколько раз увеличивается надпись вердикта
)

// Annotator рисует рамки детекций и крупную надпись OK/NG поверх кадра
type Annotator struct {
	isNG func(label string) bool
}

// NewAnnotator создаёт разметчик; рамки меток, для которых isNG возвращает true, рисуются красным.
// Обычно сюда передаётся Classifier.IsNG станции.
func NewAnnotator(isNG func(label string) bool) *Annotator {
	if isNG == nil {
		isNG = func(string) bool { return false }
	}
	return &Annotator{isNG: isNG}
}

// Annotate возвращает новый кадр, исходный не изменяется.
// Для WAITING кадр копируется без надписей.
func (a *Annotator) Annotate(frame *entity.Frame, detections []entity.Detection, decision entity.Decision) *entity.Frame {
	if frame == nil || frame.Image == nil {
		return frame
	}

	src := frame.Image.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, src.Dx(), src.Dy()))
	draw.Draw(dst, dst.Bounds(), frame.Image, src.Min, draw.Src)

	if decision.Waiting() {
		return frame.WithImage(dst)
	}

	for _, d := range detections {
		c := colorOK
		if a.isNG(d.Label) {
			c = colorNG
		}
		drawBox(dst, d.Box.Rect(), c)
		drawLabel(dst, d.Box.Rect().Min, fmt.Sprintf("%s %.2f", d.Label, d.Confidence), c)
	}

	c := colorOK
	if decision.Verdict == entity.VerdictNG {
		c = colorNG
	}
	drawVerdict(dst, decision.Verdict.String(), c)

	return frame.WithImage(dst)
}

func drawBox(dst *image.RGBA, r image.Rectangle, c color.Color) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	fill := image.NewUniform(c)
	t := boxThickness
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), fill, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), fill, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), fill, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), fill, image.Point{}, draw.Src)
}

// drawLabel пишет подпись на цветной плашке над рамкой (или внутри, если над ней нет места)
func drawLabel(dst *image.RGBA, at image.Point, text string, bg color.Color) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil() + 4
	height := face.Height + 2

	top := at.Y - height
	if top < 0 {
		top = at.Y
	}
	plate := image.Rect(at.X, top, at.X+width, top+height).Intersect(dst.Bounds())
	draw.Draw(dst, plate, image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(colorLabel),
		Face: face,
		Dot:  fixed.P(at.X+2, top+face.Ascent+1),
	}
	d.DrawString(text)
}

// drawVerdict рисует крупную надпись в левом верхнем углу.
// Растровый шрифт увеличивается без сглаживания.
func drawVerdict(dst *image.RGBA, text string, c color.Color) {
	face := basicfont.Face7x13
	small := image.NewRGBA(image.Rect(0, 0, font.MeasureString(face, text).Ceil(), face.Height))
	d := &font.Drawer{
		Dst:  small,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(text)

	b := small.Bounds()
	big := resize.Resize(uint(b.Dx()*verdictScale), uint(b.Dy()*verdictScale), small, resize.NearestNeighbor)

	origin := image.Pt(50, 50)
	if origin.X+big.Bounds().Dx() > dst.Bounds().Dx() || origin.Y+big.Bounds().Dy() > dst.Bounds().Dy() {
		origin = image.Point{}
	}
	target := big.Bounds().Sub(big.Bounds().Min).Add(origin)
	draw.Draw(dst, target, big, big.Bounds().Min, draw.Over)
}

var _ port.Annotator = (*Annotator)(nil)
