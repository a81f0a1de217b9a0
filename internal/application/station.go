package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"qc-vision/internal/domain/entity"
	"qc-vision/internal/domain/port"
)

// publishBuffer ёмкость очереди внешней выгрузки событий
const publishBuffer = 64

var errStationClosed = errors.New("station is closed")

// StationConfig неизменяемые параметры станции
type StationConfig struct {
	DeviceID       int
	NGLabels       []string
	DebounceWindow time.Duration
	ThrottleDelay  time.Duration
}

// StationDeps внешние зависимости станции
type StationDeps struct {
	Camera     port.CameraSource
	Classifier *Classifier   // по умолчанию строится из StationConfig.NGLabels
	Detector   port.Detector // nil, если движок не удалось создать
	EngineErr  error         // причина отсутствия движка
	Annotator  port.Annotator
	Sink       port.PresentationSink
	Events     port.EventRepository
	Publishers map[string]port.EventPublisher
	Metrics    port.PipelineMetrics
	Logger     *slog.Logger
	Clock      func() time.Time
}

func (d StationDeps) clock() func() time.Time {
	if d.Clock != nil {
		return d.Clock
	}
	return time.Now
}

type stamped struct {
	decision entity.Decision
	at       time.Time
}

// session один запуск цикла захвата
type session struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Station управляет жизненным циклом: IDLE -> RUNNING -> STOPPED.
// Одновременно камеру читает не больше одного цикла захвата.
type Station struct {
	cfg      StationConfig
	deps     StationDeps
	classify *Classifier
	counter  *Counter
	log      *slog.Logger

	mu      sync.Mutex // сериализует Start/Stop
	state   atomic.Value
	current *session

	publishCh   chan entity.InspectionEvent
	publishDone chan struct{}
	closed      bool
	closeOnce   sync.Once
}

// NewStation создаёт станцию в состоянии IDLE. Счётчики живут всё время процесса.
func NewStation(cfg StationConfig, deps StationDeps) *Station {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Detector == nil {
		if deps.EngineErr == nil {
			deps.EngineErr = entity.ErrEngineUnavailable
		}
		deps.Logger.Error("inference engine unavailable, station cannot start", "error", deps.EngineErr)
	}

	classify := deps.Classifier
	if classify == nil {
		classify = NewClassifier(cfg.NGLabels)
	}

	s := &Station{
		cfg:         cfg,
		deps:        deps,
		classify:    classify,
		counter:     NewCounter(cfg.DebounceWindow),
		log:         deps.Logger,
		publishCh:   make(chan entity.InspectionEvent, publishBuffer),
		publishDone: make(chan struct{}),
	}
	s.state.Store(entity.StateIdle)

	go s.publishLoop()
	return s
}

// State текущее состояние станции
func (s *Station) State() entity.StationState {
	return s.state.Load().(entity.StationState)
}

// Stats снимок счётчиков
func (s *Station) Stats() entity.RunningStats {
	return s.counter.Snapshot()
}

// Start запускает новый цикл захвата
func (s *Station) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStationClosed
	}
	if s.State() == entity.StateRunning {
		return entity.ErrAlreadyRunning
	}
	if s.deps.Detector == nil {
		return fmt.Errorf("%w: %v", entity.ErrEngineUnavailable, s.deps.EngineErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{cancel: cancel}

	frames := newMailbox[*entity.Frame]()
	decisions := newQueue[stamped]()

	loop := NewCaptureLoop(s.cfg, s.deps, s.classify, LoopOutputs{
		Frame: func(f *entity.Frame) {
			if frames.Put(f) {
				s.deps.Metrics.FrameDropped()
			}
		},
		Decision: func(d entity.Decision, at time.Time) {
			decisions.Push(stamped{decision: d, at: at})
		},
	})

	sess.wg.Add(3)
	go func() {
		defer sess.wg.Done()
		defer decisions.Close()
		defer frames.Close()
		loop.Run(ctx)
	}()
	go func() {
		defer sess.wg.Done()
		s.pumpFrames(frames)
	}()
	go func() {
		defer sess.wg.Done()
		s.consumeDecisions(decisions)
	}()

	s.current = sess
	s.setState(entity.StateRunning)
	s.log.Info("station started", "device", s.cfg.DeviceID, "ng_labels", s.cfg.NGLabels)
	return nil
}

// Stop останавливает цикл и ждёт, пока камера освобождена и горутины завершились.
// В состояниях IDLE и STOPPED ничего не делает.
func (s *Station) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

// stopLocked вызывается под s.mu
func (s *Station) stopLocked() error {
	if s.State() != entity.StateRunning || s.current == nil {
		return nil
	}

	started := time.Now()
	s.current.cancel()
	s.current.wg.Wait()
	s.current = nil

	s.setState(entity.StateStopped)
	s.log.Info("station stopped", "took", time.Since(started), "stats", s.counter.Snapshot())
	return nil
}

// Close останавливает станцию и дожидается выгрузки оставшихся событий.
// Start после Close невозможен: остановка и пометка closed идут под одной блокировкой.
func (s *Station) Close() error {
	s.mu.Lock()
	err := s.stopLocked()
	s.closed = true
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.publishCh)
		<-s.publishDone
	})
	return err
}

func (s *Station) setState(state entity.StationState) {
	s.state.Store(state)
	s.deps.Metrics.StationState(state)
	if s.deps.Sink != nil {
		s.deps.Sink.OnState(state)
	}
}

func (s *Station) pumpFrames(frames *mailbox[*entity.Frame]) {
	for {
		f, ok := frames.Take()
		if !ok {
			return
		}
		if s.deps.Sink != nil {
			s.deps.Sink.OnFrame(f)
		}
	}
}

// consumeDecisions единственный писатель счётчика: решения учитываются строго в порядке поступления
func (s *Station) consumeDecisions(decisions *queue[stamped]) {
	ctx := context.Background()
	for {
		d, ok := decisions.Pop()
		if !ok {
			return
		}

		event, accepted := s.counter.Accept(d.decision, d.at)
		if !accepted {
			s.deps.Metrics.EventSuppressed(d.decision.Verdict)
			continue
		}

		s.deps.Metrics.EventAccepted(event)
		s.log.Info("inspection counted",
			"verdict", event.Verdict.String(),
			"label", event.Label,
			"total", event.Stats.Total,
			"yield", fmt.Sprintf("%.1f", event.Stats.YieldRate()))

		if s.deps.Events != nil {
			if err := s.deps.Events.Append(ctx, event); err != nil {
				s.log.Warn("event log append failed", "error", err)
			}
		}
		if s.deps.Sink != nil {
			s.deps.Sink.OnStats(event)
		}

		select {
		case s.publishCh <- event:
		default:
			s.log.Warn("publish queue full, event not uploaded", "id", event.ID)
			s.deps.Metrics.PublishFailed("queue")
		}
	}
}

func (s *Station) publishLoop() {
	defer close(s.publishDone)

	for event := range s.publishCh {
		for name, p := range s.deps.Publishers {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.Publish(ctx, event); err != nil {
				s.deps.Metrics.PublishFailed(name)
				s.log.Warn("event publish failed", "publisher", name, "error", err)
			}
			cancel()
		}
	}
}

type nopMetrics struct{}

func (nopMetrics) FrameCaptured()                       {}
func (nopMetrics) FrameDropped()                        {}
func (nopMetrics) CaptureFailed()                       {}
func (nopMetrics) InferenceFailed()                     {}
func (nopMetrics) ObserveInference(time.Duration)       {}
func (nopMetrics) EventAccepted(entity.InspectionEvent) {}
func (nopMetrics) EventSuppressed(entity.Verdict)       {}
func (nopMetrics) PublishFailed(string)                 {}
func (nopMetrics) StationState(entity.StationState)     {}

var _ port.PipelineMetrics = nopMetrics{}
