package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	NGLabels       []string      `yaml:"ng_labels"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	ThrottleDelay  time.Duration `yaml:"throttle_delay"`
	DeviceID       int           `yaml:"device_id"`
	Camera         string        `yaml:"camera"` // gocv | synthetic

	ModelPath           string  `yaml:"model_path"`
	ClassesPath         string  `yaml:"classes_path"`
	ORTLibraryPath      string  `yaml:"ort_library_path"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	IoUThreshold        float64 `yaml:"iou_threshold"`

	HTTPAddr     string `yaml:"http_addr"`
	LogLevel     string `yaml:"log_level"`
	EventLogSize int    `yaml:"event_log_size"`
	PreviewWidth int    `yaml:"preview_width"`

	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`

	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTTopic    string `yaml:"mqtt_topic"`
	MQTTClientID string `yaml:"mqtt_client_id"`
}

// Default возвращает настройки демо-стенда
func Default() *Config {
	return &Config{
		NGLabels:            []string{"cell phone", "scissors"},
		DebounceWindow:      1500 * time.Millisecond,
		ThrottleDelay:       30 * time.Millisecond,
		DeviceID:            0,
		Camera:              "gocv",
		ModelPath:           "yolov8s.onnx",
		ORTLibraryPath:      "libonnxruntime.so",
		ConfidenceThreshold: 0.5,
		IoUThreshold:        0.7,
		HTTPAddr:            ":8080",
		LogLevel:            "info",
		EventLogSize:        200,
		PreviewWidth:        800,
		MQTTTopic:           "qc/inspections",
		MQTTClientID:        "qc-vision",
	}
}

// Load собирает конфигурацию: значения по умолчанию, затем YAML-файл (если задан), затем окружение.
func Load(path string) (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv("QC_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("QC_NG_LABELS"); v != "" {
		c.NGLabels = splitList(v)
	}
	if err := envDuration("QC_DEBOUNCE", &c.DebounceWindow); err != nil {
		return err
	}
	if err := envDuration("QC_THROTTLE", &c.ThrottleDelay); err != nil {
		return err
	}
	if err := envInt("QC_DEVICE", &c.DeviceID); err != nil {
		return err
	}
	envString("QC_CAMERA", &c.Camera)
	envString("QC_MODEL", &c.ModelPath)
	envString("QC_CLASSES", &c.ClassesPath)
	envString("QC_ORT_LIB", &c.ORTLibraryPath)
	if err := envFloat("QC_CONFIDENCE", &c.ConfidenceThreshold); err != nil {
		return err
	}
	if err := envFloat("QC_IOU", &c.IoUThreshold); err != nil {
		return err
	}
	envString("QC_HTTP_ADDR", &c.HTTPAddr)
	envString("QC_LOG_LEVEL", &c.LogLevel)
	if err := envInt("QC_EVENT_LOG", &c.EventLogSize); err != nil {
		return err
	}
	if err := envInt("QC_PREVIEW_WIDTH", &c.PreviewWidth); err != nil {
		return err
	}

	envString("TELEGRAM_TOKEN", &c.TelegramToken)
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		c.TelegramChatID = id
	}

	envString("MQTT_BROKER", &c.MQTTBroker)
	envString("MQTT_TOPIC", &c.MQTTTopic)
	envString("MQTT_CLIENT_ID", &c.MQTTClientID)
	return nil
}

// Validate проверяет значения, без которых станция не может работать
func (c *Config) Validate() error {
	var errs []error

	if c.DebounceWindow <= 0 {
		errs = append(errs, errors.New("debounce_window must be positive"))
	}
	if c.ThrottleDelay <= 0 {
		errs = append(errs, errors.New("throttle_delay must be positive"))
	}
	if c.DeviceID < 0 {
		errs = append(errs, errors.New("device_id must be >= 0"))
	}
	if c.Camera != "gocv" && c.Camera != "synthetic" {
		errs = append(errs, fmt.Errorf("camera must be gocv or synthetic, got %q", c.Camera))
	}
	if strings.TrimSpace(c.ModelPath) == "" {
		errs = append(errs, errors.New("model_path is required"))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence_threshold must be in [0,1], got %v", c.ConfidenceThreshold))
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		errs = append(errs, fmt.Errorf("iou_threshold must be in [0,1], got %v", c.IoUThreshold))
	}
	if c.EventLogSize <= 0 {
		errs = append(errs, errors.New("event_log_size must be positive"))
	}
	if c.PreviewWidth <= 0 {
		errs = append(errs, errors.New("preview_width must be positive"))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ParseLogLevel разбирает уровень логирования
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
}

// NewLogger создаёт текстовый slog-логгер в stderr с уровнем из конфигурации
func (c *Config) NewLogger() *slog.Logger {
	level, _ := ParseLogLevel(c.LogLevel)
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
