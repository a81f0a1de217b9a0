package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"qc-vision/config"
	"qc-vision/internal/api/telegram"
	"qc-vision/internal/api/web"
	app "qc-vision/internal/application"
	"qc-vision/internal/domain/port"
	"qc-vision/internal/infrastructure/metrics"
	"qc-vision/internal/infrastructure/mqtt"
	"qc-vision/internal/infrastructure/storage"
	"qc-vision/internal/infrastructure/vision"
)

const shutdownTimeout = 5 * time.Second

// Container собранное приложение станции
type Container struct {
	Station  *app.Station
	Web      *web.Server
	HTTP     *http.Server
	Bot      *telegram.Bot
	MQTT     *mqtt.Publisher
	Control  *mqtt.ControlHandler
	Detector port.Detector
	Metrics  *metrics.Metrics

	log *slog.Logger
}

// New собирает зависимости по конфигурации. Недоступная модель не мешает запуску
// процесса: станция остаётся в IDLE и отказывает в старте.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{Metrics: metrics.New(), log: logger}

	events := storage.NewMemoryEventRepository(cfg.EventLogSize)

	var source port.CameraSource
	switch cfg.Camera {
	case "synthetic":
		source = vision.NewSyntheticSource(640, 480, 30)
	default:
		source = vision.NewGoCVSource(0, 0)
	}

	detector, engineErr := newDetector(cfg)
	if engineErr == nil {
		c.Detector = detector
		logger.Info("inference engine loaded", "model", cfg.ModelPath)
	}
	classifier := app.NewClassifier(cfg.NGLabels)
	annotator := vision.NewAnnotator(classifier.IsNG)

	c.Web = web.NewServer(web.Config{
		PreviewWidth: cfg.PreviewWidth,
		Metrics:      c.Metrics.Handler(),
		Events:       events,
		Logger:       logger.With("component", "web"),
	})

	publishers := map[string]port.EventPublisher{}

	if cfg.MQTTBroker != "" {
		pub, err := mqtt.Connect(ctx, mqtt.Config{
			Broker:   cfg.MQTTBroker,
			Topic:    cfg.MQTTTopic,
			ClientID: cfg.MQTTClientID,
		}, logger.With("component", "mqtt"))
		if err != nil {
			logger.Warn("mqtt disabled", "broker", cfg.MQTTBroker, "error", err)
		} else {
			c.MQTT = pub
			publishers["mqtt"] = pub
		}
	}

	c.Station = app.NewStation(app.StationConfig{
		DeviceID:       cfg.DeviceID,
		NGLabels:       cfg.NGLabels,
		DebounceWindow: cfg.DebounceWindow,
		ThrottleDelay:  cfg.ThrottleDelay,
	}, app.StationDeps{
		Camera:     source,
		Classifier: classifier,
		Detector:   c.Detector,
		EngineErr:  engineErr,
		Annotator:  annotator,
		Sink:       c.Web,
		Events:     events,
		Publishers: publishers,
		Metrics:    c.Metrics,
		Logger:     logger.With("component", "station"),
	})
	c.Web.Bind(c.Station)

	if cfg.TelegramToken != "" {
		bot, err := telegram.NewBot(
			cfg.TelegramToken,
			cfg.TelegramChatID,
			telegram.NewCommands(c.Station, events),
			app.NewPhotoInspector(c.Detector, classifier, annotator),
			logger.With("component", "telegram"),
		)
		if err != nil {
			logger.Warn("telegram bot disabled", "error", err)
		} else {
			c.Bot = bot
			// издатели читаются только после первого учтённого события, станция ещё не запущена
			publishers["telegram"] = bot.Notifier()
		}
	}

	if c.MQTT != nil {
		c.Control = mqtt.NewControlHandler(c.MQTT.Conn(), c.Station, cfg.MQTTTopic, logger.With("component", "control"))
	}

	c.HTTP = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           c.Web.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return c, nil
}

func newDetector(cfg *config.Config) (port.Detector, error) {
	classes := vision.DefaultClasses
	if cfg.ClassesPath != "" {
		names, err := vision.LoadClassNames(cfg.ClassesPath)
		if err != nil {
			return nil, err
		}
		classes = names
	}

	yolo, err := vision.NewYolo(
		vision.WithModelPath(cfg.ModelPath),
		vision.WithLibraryPath(cfg.ORTLibraryPath),
		vision.WithClasses(classes),
		vision.WithThresholds(cfg.ConfidenceThreshold, cfg.IoUThreshold),
	)
	if err != nil {
		return nil, err
	}
	return yolo, nil
}

// Run запускает HTTP-сервер, бота и плоскость управления; возвращается после отмены ctx
func (c *Container) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		c.log.Info("dashboard listening", "addr", c.HTTP.Addr)
		if err := c.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if c.Bot != nil {
		go func() {
			if err := c.Bot.Run(ctx); err != nil {
				c.log.Error("telegram bot stopped", "error", err)
			}
		}()
	}

	if c.Control != nil {
		if err := c.Control.Start(ctx); err != nil {
			c.log.Warn("mqtt control plane disabled", "error", err)
		}
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown останавливает станцию (камера освобождается до возврата Stop), затем внешние подключения
func (c *Container) Shutdown() error {
	var errs []error

	if err := c.Station.Close(); err != nil {
		errs = append(errs, fmt.Errorf("station: %w", err))
	}

	c.Web.Close()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.HTTP.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}

	if c.Control != nil {
		c.Control.Stop()
	}
	if c.MQTT != nil {
		c.MQTT.Disconnect()
	}
	if c.Detector != nil {
		if err := c.Detector.Close(); err != nil {
			errs = append(errs, fmt.Errorf("detector: %w", err))
		}
	}

	return errors.Join(errs...)
}
