package trainer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"qc-vision/internal/infrastructure/vision"
)

// Options параметры дообучения детектора через CLI ultralytics
type Options struct {
	Executable string // по умолчанию yolo
	BaseModel  string
	Data       string // data.yaml набора данных
	Epochs     int
	ImgSize    int // кратно 32
	Batch      int // -1: подбор по памяти
	Project    string
	Name       string
	Device     string // 0 для первой видеокарты или cpu
	Patience   int    // остановка, если точность не растёт столько эпох
	Cache      bool
}

func DefaultOptions() Options {
	return Options{
		Executable: "yolo",
		BaseModel:  "yolov8s.pt",
		Data:       "dataset/data.yaml",
		Epochs:     100,
		ImgSize:    640,
		Batch:      16,
		Project:    "runs/qc",
		Name:       "defect_detection",
		Device:     "0",
		Patience:   20,
	}
}

// Validate проверяет параметры и набор данных. Возвращает имена классов набора.
func (o Options) Validate() ([]string, error) {
	var errs []error
	if o.Executable == "" {
		errs = append(errs, errors.New("executable is required"))
	}
	if o.BaseModel == "" {
		errs = append(errs, errors.New("base model is required"))
	}
	if o.Epochs <= 0 {
		errs = append(errs, fmt.Errorf("epochs must be positive, got %d", o.Epochs))
	}
	if o.ImgSize <= 0 || o.ImgSize%32 != 0 {
		errs = append(errs, fmt.Errorf("imgsz must be a positive multiple of 32, got %d", o.ImgSize))
	}
	if o.Batch == 0 || o.Batch < -1 {
		errs = append(errs, fmt.Errorf("batch must be positive or -1, got %d", o.Batch))
	}
	if o.Patience < 0 {
		errs = append(errs, fmt.Errorf("patience must be >= 0, got %d", o.Patience))
	}
	if o.Project == "" || o.Name == "" {
		errs = append(errs, errors.New("project and name are required"))
	}

	classes, err := vision.LoadClassNames(o.Data)
	if err != nil {
		errs = append(errs, fmt.Errorf("dataset: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return classes, nil
}

// TrainArgs аргументы команды yolo detect train
func (o Options) TrainArgs() []string {
	return []string{
		"detect", "train",
		"data=" + o.Data,
		"model=" + o.BaseModel,
		"epochs=" + strconv.Itoa(o.Epochs),
		"imgsz=" + strconv.Itoa(o.ImgSize),
		"batch=" + strconv.Itoa(o.Batch),
		"project=" + o.Project,
		"name=" + o.Name,
		"device=" + o.Device,
		"patience=" + strconv.Itoa(o.Patience),
		"save=True",
		"cache=" + pyBool(o.Cache),
		"exist_ok=True",
	}
}

// ExportArgs аргументы экспорта лучших весов в ONNX для станции
func (o Options) ExportArgs() []string {
	return []string{
		"export",
		"model=" + o.BestWeights(),
		"format=onnx",
		"imgsz=" + strconv.Itoa(o.ImgSize),
	}
}

// BestWeights путь к лучшим весам после обучения
func (o Options) BestWeights() string {
	return filepath.Join(o.Project, o.Name, "weights", "best.pt")
}

// BestONNX путь к экспортированной модели
func (o Options) BestONNX() string {
	return filepath.Join(o.Project, o.Name, "weights", "best.onnx")
}

// Trainer запускает внешний процесс обучения и передаёт его вывод построчно
type Trainer struct {
	opts Options
}

func New(opts Options) *Trainer {
	return &Trainer{opts: opts}
}

// Train обучает модель; строки вывода уходят в lines, канал закрывается по завершении
func (t *Trainer) Train(ctx context.Context, lines chan<- string) error {
	return RunCommandCh(ctx, lines, t.opts.Executable, t.opts.TrainArgs()...)
}

// Export переводит best.pt в ONNX
func (t *Trainer) Export(ctx context.Context, lines chan<- string) error {
	return RunCommandCh(ctx, lines, t.opts.Executable, t.opts.ExportArgs()...)
}

// RunCommandCh запускает команду и построчно отправляет stdout и stderr в канал.
// Прогресс-бары ultralytics перерисовываются через \r, такие обновления тоже считаются строками.
func RunCommandCh(ctx context.Context, lines chan<- string, command string, args ...string) error {
	defer close(lines)

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = append(os.Environ(), "KMP_DUPLICATE_LIB_OK=TRUE")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", command, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go forward(&wg, stdout, lines)
	go forward(&wg, stderr, lines)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}

func forward(wg *sync.WaitGroup, r io.Reader, lines chan<- string) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLinesOrCR)
	for scanner.Scan() {
		if text := bytes.TrimSpace(scanner.Bytes()); len(text) > 0 {
			lines <- string(text)
		}
	}
}

// scanLinesOrCR делит поток по \n и по \r
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func pyBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}
