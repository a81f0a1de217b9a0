package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"

	"qc-vision/internal/domain/entity"
	"qc-vision/internal/domain/port"
)

// DefaultClasses классы COCO, на которых обучены стандартные веса YOLOv8
var DefaultClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
	"cake", "chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

const (
	inputSize = 640
	numBoxes  = 8400 // число анкеров YOLOv8 для входа 640x640
)

type modelSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func (m *modelSession) destroy() {
	m.session.Destroy()
	m.input.Destroy()
	m.output.Destroy()
}

// Yolo детектор YOLOv8, экспортированный в ONNX
type Yolo struct {
	modelPath   string
	libraryPath string
	classes     []string
	confidence  float32
	iou         float32

	mu      sync.Mutex // сессия и её тензоры не потокобезопасны
	session *modelSession
}

type YoloOption func(*Yolo) error

func WithModelPath(path string) YoloOption {
	return func(y *Yolo) error {
		if path == "" {
			return errors.New("empty model path")
		}
		y.modelPath = path
		return nil
	}
}

func WithLibraryPath(path string) YoloOption {
	return func(y *Yolo) error {
		y.libraryPath = path
		return nil
	}
}

// WithClasses задаёт имена классов в порядке индексов модели
func WithClasses(classes []string) YoloOption {
	return func(y *Yolo) error {
		if len(classes) == 0 {
			return errors.New("class list is empty")
		}
		y.classes = classes
		return nil
	}
}

func WithThresholds(confidence, iou float64) YoloOption {
	return func(y *Yolo) error {
		y.confidence = float32(confidence)
		y.iou = float32(iou)
		return nil
	}
}

// NewYolo загружает модель. Ошибка означает, что движок недоступен.
func NewYolo(opts ...YoloOption) (*Yolo, error) {
	y := &Yolo{
		modelPath:   "yolov8s.onnx",
		libraryPath: "libonnxruntime.so",
		classes:     DefaultClasses,
		confidence:  0.5,
		iou:         0.7,
	}
	for _, opt := range opts {
		if err := opt(y); err != nil {
			return nil, err
		}
	}
	if err := y.initSession(); err != nil {
		return nil, err
	}
	return y, nil
}

func (y *Yolo) initSession() error {
	ort.SetSharedLibraryPath(y.libraryPath)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, inputSize, inputSize))
	if err != nil {
		return fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+len(y.classes)), numBoxes))
	if err != nil {
		input.Destroy()
		return fmt.Errorf("create output tensor: %w", err)
	}
	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(y.modelPath,
		[]string{"images"}, []string{"output0"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return fmt.Errorf("load model %s: %w", y.modelPath, err)
	}

	y.session = &modelSession{session: session, input: input, output: output}
	return nil
}

// Classes имена классов модели
func (y *Yolo) Classes() []string {
	return y.classes
}

// Detect возвращает детекции, отсортированные по убыванию уверенности
func (y *Yolo) Detect(ctx context.Context, frame *entity.Frame) ([]entity.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame == nil || frame.Image == nil {
		return nil, errors.New("empty frame")
	}

	y.mu.Lock()
	defer y.mu.Unlock()

	if y.session == nil {
		return nil, errors.New("detector is closed")
	}
	if err := fillInput(y.session.input.GetData(), frame.Image); err != nil {
		return nil, err
	}
	if err := y.session.session.Run(); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}

	candidates := decodeOutput(y.session.output.GetData(), y.classes, y.confidence, frame.Width(), frame.Height())
	return suppress(candidates, float64(y.iou)), nil
}

// Close освобождает сессию onnxruntime
func (y *Yolo) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()

	if y.session == nil {
		return nil
	}
	y.session.destroy()
	y.session = nil
	return ort.DestroyEnvironment()
}

// fillInput масштабирует кадр до входа модели и раскладывает его по каналам RGB (NCHW)
func fillInput(data []float32, img image.Image) error {
	channelSize := inputSize * inputSize
	if len(data) < channelSize*3 {
		return fmt.Errorf("input tensor holds %d floats, need %d", len(data), channelSize*3)
	}
	red := data[0:channelSize]
	green := data[channelSize : channelSize*2]
	blue := data[channelSize*2 : channelSize*3]

	scaled := resize.Resize(inputSize, inputSize, img, resize.Bilinear)
	b := scaled.Bounds()
	i := 0
	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			r, g, bl, _ := scaled.At(b.Min.X+x, b.Min.Y+y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(bl>>8) / 255.0
			i++
		}
	}
	return nil
}

// decodeOutput разбирает выход формы [1, 4+nc, 8400] и переводит рамки в координаты кадра
func decodeOutput(output []float32, classes []string, threshold float32, width, height int) []entity.Detection {
	boxes := len(output) / (4 + len(classes))
	result := make([]entity.Detection, 0, 16)

	for idx := 0; idx < boxes; idx++ {
		classID := -1
		best := float32(-1e9)
		for c := range classes {
			if p := output[boxes*(c+4)+idx]; p > best {
				best = p
				classID = c
			}
		}
		if classID < 0 || best < threshold {
			continue
		}

		xc, yc := output[idx], output[boxes+idx]
		w, h := output[2*boxes+idx], output[3*boxes+idx]
		sx := float32(width) / inputSize
		sy := float32(height) / inputSize

		result = append(result, entity.Detection{
			Label:      classes[classID],
			Confidence: float64(best),
			Box: entity.BoundingBox{
				X1: clamp(int((xc-w/2)*sx), width),
				Y1: clamp(int((yc-h/2)*sy), height),
				X2: clamp(int((xc+w/2)*sx), width),
				Y2: clamp(int((yc+h/2)*sy), height),
			},
		})
	}
	return result
}

// suppress оставляет самые уверенные рамки, убирая перекрытия сильнее порога IoU.
// Результат упорядочен по убыванию уверенности.
func suppress(candidates []entity.Detection, iou float64) []entity.Detection {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	kept := make([]entity.Detection, 0, len(candidates))
	for _, c := range candidates {
		overlaps := false
		for _, k := range kept {
			if c.Box.IoU(k.Box) > iou {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, c)
		}
	}
	return kept
}

func clamp(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

var _ port.Detector = (*Yolo)(nil)
