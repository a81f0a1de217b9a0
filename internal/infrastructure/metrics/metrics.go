package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qc-vision/internal/domain/entity"
	"qc-vision/internal/domain/port"
)

// Metrics метрики станции контроля в собственном реестре Prometheus
type Metrics struct {
	registry *prometheus.Registry

	framesCaptured  prometheus.Counter
	framesDropped   prometheus.Counter
	captureErrors   prometheus.Counter
	inferenceErrors prometheus.Counter
	inferenceTime   prometheus.Histogram
	inspections     *prometheus.CounterVec
	suppressed      *prometheus.CounterVec
	publishErrors   *prometheus.CounterVec
	yieldRate       prometheus.Gauge
	running         prometheus.Gauge
}

// New создаёт и регистрирует все метрики
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qc_frames_captured_total",
			Help: "Frames read from the camera",
		}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qc_frames_dropped_total",
			Help: "Annotated frames replaced before the display consumed them",
		}),
		captureErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qc_capture_errors_total",
			Help: "Camera open or read failures",
		}),
		inferenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qc_inference_errors_total",
			Help: "Frames the engine failed on, treated as empty",
		}),
		inferenceTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qc_inference_duration_seconds",
			Help:    "Time spent in object detection per frame",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}),
		inspections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qc_inspections_total",
			Help: "Counted inspections by verdict",
		}, []string{"verdict"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qc_inspections_suppressed_total",
			Help: "Verdicts dropped by the debounce window",
		}, []string{"verdict"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qc_publish_errors_total",
			Help: "Failed event uploads by publisher",
		}, []string{"publisher"}),
		yieldRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qc_yield_rate_percent",
			Help: "Share of OK inspections since process start",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "qc_station_running",
			Help: "1 while the capture loop is running",
		}),
	}

	m.registry.MustRegister(
		m.framesCaptured,
		m.framesDropped,
		m.captureErrors,
		m.inferenceErrors,
		m.inferenceTime,
		m.inspections,
		m.suppressed,
		m.publishErrors,
		m.yieldRate,
		m.running,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) FrameCaptured()   { m.framesCaptured.Inc() }
func (m *Metrics) FrameDropped()    { m.framesDropped.Inc() }
func (m *Metrics) CaptureFailed()   { m.captureErrors.Inc() }
func (m *Metrics) InferenceFailed() { m.inferenceErrors.Inc() }

func (m *Metrics) ObserveInference(d time.Duration) {
	m.inferenceTime.Observe(d.Seconds())
}

// EventAccepted учитывает событие и обновляет процент годных
func (m *Metrics) EventAccepted(event entity.InspectionEvent) {
	m.inspections.WithLabelValues(event.Verdict.String()).Inc()
	m.yieldRate.Set(event.Stats.YieldRate())
}

func (m *Metrics) EventSuppressed(verdict entity.Verdict) {
	m.suppressed.WithLabelValues(verdict.String()).Inc()
}

func (m *Metrics) PublishFailed(publisher string) {
	m.publishErrors.WithLabelValues(publisher).Inc()
}

func (m *Metrics) StationState(state entity.StationState) {
	if state == entity.StateRunning {
		m.running.Set(1)
		return
	}
	m.running.Set(0)
}

// Gatherer реестр для тестов и встраивания
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler возвращает HTTP-обработчик Prometheus
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

var _ port.PipelineMetrics = (*Metrics)(nil)
