package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nfnt/resize"

	"qc-vision/internal/domain/entity"
	"qc-vision/internal/domain/port"
)

const (
	recentEvents = 20
	keepAlive    = 5 * time.Second
	frameBuffer  = 2
	updateBuffer = 32
	jpegQuality  = 75
)

// Controller управление станцией, которое нужно панели
type Controller interface {
	Start() error
	Stop() error
	State() entity.StationState
	Stats() entity.RunningStats
}

// Config параметры панели оператора
type Config struct {
	PreviewWidth int          // кадры шире масштабируются до этой ширины
	Metrics      http.Handler // nil отключает /metrics
	Events       port.EventRepository
	Logger       *slog.Logger
}

// Server веб-панель оператора: поток кадров, счётчики, журнал и кнопки запуска/остановки.
// Реализует port.PresentationSink.
type Server struct {
	cfg  Config
	log  *slog.Logger
	ctrl Controller

	frames  *hub[[]byte]
	updates *hub[update]

	mu    sync.RWMutex
	state entity.StationState
	last  *entity.InspectionEvent
}

// update сообщение SSE-потока /api/events/stream
type update struct {
	Type  string              `json:"type"` // inspection | state
	State entity.StationState `json:"state,omitempty"`
	Event *eventView          `json:"event,omitempty"`
}

type eventView struct {
	entity.InspectionEvent
	Line      string  `json:"line"`
	YieldRate float64 `json:"yield_rate"`
}

func newEventView(e entity.InspectionEvent) *eventView {
	return &eventView{InspectionEvent: e, Line: e.LogLine(), YieldRate: e.Stats.YieldRate()}
}

type statusView struct {
	State     entity.StationState `json:"state"`
	Stats     entity.RunningStats `json:"stats"`
	YieldRate float64             `json:"yield_rate"`
	Last      *eventView          `json:"last,omitempty"`
	Recent    []*eventView        `json:"recent"`
	Timestamp time.Time           `json:"timestamp"`
}

func NewServer(cfg Config) *Server {
	if cfg.PreviewWidth <= 0 {
		cfg.PreviewWidth = 800
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		frames:  newHub[[]byte](frameBuffer),
		updates: newHub[update](updateBuffer),
		state:   entity.StateIdle,
	}
}

// Bind подключает станцию, которой управляют кнопки панели
func (s *Server) Bind(ctrl Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl = ctrl
}

func (s *Server) controller() Controller {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctrl
}

// OnFrame кодирует кадр в JPEG, только если кто-то смотрит поток
func (s *Server) OnFrame(frame *entity.Frame) {
	if frame == nil || frame.Image == nil || s.frames.Len() == 0 {
		return
	}

	img := frame.Image
	if frame.Width() > s.cfg.PreviewWidth {
		img = resize.Resize(uint(s.cfg.PreviewWidth), 0, img, resize.Bilinear)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		s.log.Warn("preview encode failed", "seq", frame.Seq, "error", err)
		return
	}
	if dropped := s.frames.Publish(buf.Bytes()); dropped > 0 {
		s.log.Debug("preview frame dropped for slow clients", "clients", dropped)
	}
}

func (s *Server) OnStats(event entity.InspectionEvent) {
	s.mu.Lock()
	s.last = &event
	s.mu.Unlock()

	s.updates.Publish(update{Type: "inspection", Event: newEventView(event)})
}

func (s *Server) OnState(state entity.StationState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.updates.Publish(update{Type: "state", State: state})
}

// Close отключает все потоковые подключения
func (s *Server) Close() {
	s.frames.Close()
	s.updates.Close()
}

// Handler маршруты панели
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/events/stream", s.handleEventsStream)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.cfg.Metrics != nil {
		mux.Handle("GET /metrics", s.cfg.Metrics)
	}

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, ch := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEG(r.Context(), w, ch)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status(r.Context()))
}

func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	id, ch := s.updates.Subscribe()
	defer s.updates.Unsubscribe(id)
	streamSSE(r.Context(), w, ch)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controller()
	if ctrl == nil {
		writeJSONWithStatus(w, errorBody("station is not attached"), http.StatusServiceUnavailable)
		return
	}

	if err := ctrl.Start(); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, entity.ErrAlreadyRunning):
			status = http.StatusConflict
		case errors.Is(err, entity.ErrEngineUnavailable):
			status = http.StatusServiceUnavailable
		}
		s.log.Warn("start requested from dashboard failed", "error", err)
		writeJSONWithStatus(w, errorBody(err.Error()), status)
		return
	}
	writeJSON(w, s.status(r.Context()))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctrl := s.controller()
	if ctrl == nil {
		writeJSONWithStatus(w, errorBody("station is not attached"), http.StatusServiceUnavailable)
		return
	}

	if err := ctrl.Stop(); err != nil {
		writeJSONWithStatus(w, errorBody(err.Error()), http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.status(r.Context()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) status(ctx context.Context) statusView {
	s.mu.RLock()
	view := statusView{State: s.state, Timestamp: time.Now(), Recent: []*eventView{}}
	if s.last != nil {
		view.Last = newEventView(*s.last)
		view.Stats = s.last.Stats
	}
	ctrl := s.ctrl
	s.mu.RUnlock()

	if ctrl != nil {
		view.State = ctrl.State()
		view.Stats = ctrl.Stats()
	}
	view.YieldRate = view.Stats.YieldRate()

	if s.cfg.Events != nil {
		recent, err := s.cfg.Events.Recent(ctx, recentEvents)
		if err != nil {
			s.log.Warn("event log read failed", "error", err)
		}
		for _, e := range recent {
			view.Recent = append(view.Recent, newEventView(e))
		}
	}
	return view
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}

var _ port.PresentationSink = (*Server)(nil)
