package vision

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/require"

	"qc-vision/internal/domain/entity"
)

// rawOutput собирает выход модели [4+nc, boxes] из списка строк-анкеров
func rawOutput(anchors [][]float32) []float32 {
	rows := len(anchors[0])
	out := make([]float32, rows*len(anchors))
	for idx, a := range anchors {
		for r, v := range a {
			out[r*len(anchors)+idx] = v
		}
	}
	return out
}

func TestDecodeOutput(t *testing.T) {
	classes := []string{"cup", "scissors"}
	output := rawOutput([][]float32{
		{320, 320, 64, 64, 0.9, 0.1},
		{322, 320, 64, 64, 0.6, 0.2},
		{100, 100, 20, 20, 0.1, 0.3},
	})

	got := decodeOutput(output, classes, 0.5, 1280, 640)
	require.Len(t, got, 2)
	require.Equal(t, "cup", got[0].Label)
	require.InDelta(t, 0.9, got[0].Confidence, 1e-6)
	require.Equal(t, entity.BoundingBox{X1: 576, Y1: 288, X2: 704, Y2: 352}, got[0].Box)
}

func TestDecodeOutput_ClampsToFrame(t *testing.T) {
	output := rawOutput([][]float32{{5, 5, 40, 40, 0.8}})

	got := decodeOutput(output, []string{"cup"}, 0.5, 640, 640)
	require.Len(t, got, 1)
	require.Equal(t, 0, got[0].Box.X1)
	require.Equal(t, 0, got[0].Box.Y1)
	require.Equal(t, 25, got[0].Box.X2)
}

func TestSuppress_RemovesOverlapsAndSortsByConfidence(t *testing.T) {
	a := entity.Detection{Label: "cup", Confidence: 0.6, Box: entity.BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}}
	b := entity.Detection{Label: "cup", Confidence: 0.9, Box: entity.BoundingBox{X1: 5, Y1: 5, X2: 100, Y2: 100}}
	c := entity.Detection{Label: "scissors", Confidence: 0.7, Box: entity.BoundingBox{X1: 200, Y1: 200, X2: 260, Y2: 260}}

	got := suppress([]entity.Detection{a, b, c}, 0.7)
	require.Equal(t, []entity.Detection{b, c}, got)
}

func TestSuppress_Empty(t *testing.T) {
	require.Empty(t, suppress(nil, 0.7))
}

func TestFillInput(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 16))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 255, A: 255}), image.Point{}, draw.Src)

	data := make([]float32, 3*inputSize*inputSize)
	require.NoError(t, fillInput(data, img))

	channel := inputSize * inputSize
	require.InDelta(t, 1.0, data[0], 1e-6)
	require.InDelta(t, 1.0, data[channel-1], 1e-6)
	require.InDelta(t, 0.0, data[channel], 1e-6)
	require.InDelta(t, 0.0, data[2*channel], 1e-6)
}

func TestFillInput_ShortTensor(t *testing.T) {
	err := fillInput(make([]float32, 10), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.Error(t, err)
}
