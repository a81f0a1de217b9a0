package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"qc-vision/config"
	"qc-vision/internal/infrastructure/trainer"
)

func main() {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	def := trainer.DefaultOptions()
	opts := trainer.Options{}
	flag.StringVar(&opts.Executable, "yolo", def.Executable, "ultralytics CLI executable")
	flag.StringVar(&opts.BaseModel, "model", def.BaseModel, "base weights: yolov8n.pt is faster, yolov8s.pt is more accurate")
	flag.StringVar(&opts.Data, "data", def.Data, "dataset description (data.yaml)")
	flag.IntVar(&opts.Epochs, "epochs", def.Epochs, "training epochs")
	flag.IntVar(&opts.ImgSize, "imgsz", def.ImgSize, "input size, multiple of 32")
	flag.IntVar(&opts.Batch, "batch", def.Batch, "batch size, -1 picks by GPU memory")
	flag.StringVar(&opts.Project, "project", def.Project, "output directory")
	flag.StringVar(&opts.Name, "name", def.Name, "experiment name")
	flag.StringVar(&opts.Device, "device", def.Device, "0 for the first GPU or cpu")
	flag.IntVar(&opts.Patience, "patience", def.Patience, "early stop after this many epochs without improvement")
	flag.BoolVar(&opts.Cache, "cache", def.Cache, "cache images in RAM")
	export := flag.Bool("export", true, "export best.pt to ONNX for the station")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	logger := (&config.Config{LogLevel: *logLevel}).NewLogger()

	classes, err := opts.Validate()
	if err != nil {
		logger.Error("invalid training options", "error", err)
		os.Exit(2)
	}
	logger.Info("dataset loaded", "data", opts.Data, "classes", classes)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := trainer.New(opts)

	logger.Info("training started", "model", opts.BaseModel, "epochs", opts.Epochs, "device", opts.Device)
	if err := run(ctx, t.Train); err != nil {
		logger.Error("training failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Training complete. Best weights: %s\n", opts.BestWeights())

	if *export {
		if err := run(ctx, t.Export); err != nil {
			logger.Error("onnx export failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("ONNX model: %s (set QC_MODEL and QC_CLASSES=%s)\n", opts.BestONNX(), opts.Data)
	}
}

// run печатает вывод процесса по мере поступления
func run(ctx context.Context, step func(context.Context, chan<- string) error) error {
	lines := make(chan string, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- step(ctx, lines) }()

	for line := range lines {
		fmt.Println(line)
	}
	return <-errCh
}
