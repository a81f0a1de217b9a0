package app

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qc-vision/internal/domain/entity"
	"qc-vision/internal/domain/port"
)

var errDeviceBusy = errors.New("device busy")

// fakeSource эмулирует устройство, которое нельзя открыть дважды
type fakeSource struct {
	mu        sync.Mutex
	open      bool
	opens     int
	releases  int
	maxOpen   int
	step      time.Duration
	failReads int32 // сколько первых чтений завершатся ошибкой
	reads     int64 // общий счётчик кадров, время кадров растёт и между сессиями
	openErr   error
}

func (s *fakeSource) Open(ctx context.Context, deviceID int) (port.Camera, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	if s.open {
		return nil, errDeviceBusy
	}
	s.open = true
	s.opens++
	if s.opens-s.releases > s.maxOpen {
		s.maxOpen = s.opens - s.releases
	}
	return &fakeCamera{src: s}, nil
}

func (s *fakeSource) snapshot() (open bool, opens, releases, maxOpen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open, s.opens, s.releases, s.maxOpen
}

var fakeEpoch = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

type fakeCamera struct {
	src *fakeSource
}

func (c *fakeCamera) Read() (*entity.Frame, error) {
	if atomic.AddInt32(&c.src.failReads, -1) >= 0 {
		return nil, errors.New("usb glitch")
	}
	n := atomic.AddInt64(&c.src.reads, 1)
	step := c.src.step
	if step == 0 {
		step = 2 * time.Second
	}
	return &entity.Frame{
		Image:      image.NewRGBA(image.Rect(0, 0, 4, 4)),
		CapturedAt: fakeEpoch.Add(time.Duration(n) * step),
	}, nil
}

func (c *fakeCamera) Release() error {
	c.src.mu.Lock()
	defer c.src.mu.Unlock()
	c.src.open = false
	c.src.releases++
	return nil
}

type fakeDetector struct {
	detect func(frame *entity.Frame) ([]entity.Detection, error)
}

func (d *fakeDetector) Detect(ctx context.Context, frame *entity.Frame) ([]entity.Detection, error) {
	return d.detect(frame)
}

func (d *fakeDetector) Close() error { return nil }

func alwaysDetect(label string) *fakeDetector {
	return &fakeDetector{detect: func(*entity.Frame) ([]entity.Detection, error) {
		return []entity.Detection{{Label: label, Confidence: 0.9}}, nil
	}}
}

type recordingSink struct {
	frameDelay time.Duration

	mu     sync.Mutex
	frames int
	events []entity.InspectionEvent
	states []entity.StationState
}

func (s *recordingSink) OnFrame(*entity.Frame) {
	time.Sleep(s.frameDelay)
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

func (s *recordingSink) OnStats(e entity.InspectionEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) OnState(st entity.StationState) {
	s.mu.Lock()
	s.states = append(s.states, st)
	s.mu.Unlock()
}

func (s *recordingSink) counts() (frames, events int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, len(s.events)
}

func testConfig() StationConfig {
	return StationConfig{
		DeviceID:       0,
		NGLabels:       []string{"cell phone", "scissors"},
		DebounceWindow: 1500 * time.Millisecond,
		ThrottleDelay:  time.Millisecond,
	}
}

func newTestStation(t *testing.T, src *fakeSource, det port.Detector, sink *recordingSink) *Station {
	t.Helper()
	st := NewStation(testConfig(), StationDeps{
		Camera:   src,
		Detector: det,
		Sink:     sink,
	})
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStation_StopWhenIdleIsNoop(t *testing.T) {
	st := newTestStation(t, &fakeSource{}, alwaysDetect("cup"), &recordingSink{})
	require.NoError(t, st.Stop())
	require.Equal(t, entity.StateIdle, st.State())
}

func TestStation_DoubleStartIsRejected(t *testing.T) {
	src := &fakeSource{}
	st := newTestStation(t, src, alwaysDetect("cup"), &recordingSink{})

	require.NoError(t, st.Start())
	err := st.Start()
	require.ErrorIs(t, err, entity.ErrAlreadyRunning)
	require.Equal(t, entity.StateRunning, st.State())

	require.Eventually(t, func() bool {
		_, opens, _, _ := src.snapshot()
		return opens == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, st.Stop())
	_, opens, releases, maxOpen := src.snapshot()
	require.Equal(t, 1, opens)
	require.Equal(t, 1, releases)
	require.Equal(t, 1, maxOpen)
}

func TestStation_StopReleasesCameraForRestart(t *testing.T) {
	src := &fakeSource{}
	sink := &recordingSink{}
	st := newTestStation(t, src, alwaysDetect("cup"), sink)

	for i := 0; i < 3; i++ {
		require.NoError(t, st.Start())
		require.Eventually(t, func() bool {
			open, _, _, _ := src.snapshot()
			return open
		}, time.Second, time.Millisecond)

		require.NoError(t, st.Stop())
		open, _, _, _ := src.snapshot()
		require.False(t, open, "camera must be released when Stop returns")
		require.Equal(t, entity.StateStopped, st.State())
	}

	_, opens, releases, maxOpen := src.snapshot()
	require.Equal(t, 3, opens)
	require.Equal(t, 3, releases)
	require.Equal(t, 1, maxOpen)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, entity.StateRunning, sink.states[0])
	require.Equal(t, entity.StateStopped, sink.states[len(sink.states)-1])
}

func TestStation_EngineUnavailable(t *testing.T) {
	st := NewStation(testConfig(), StationDeps{
		Camera:    &fakeSource{},
		EngineErr: errors.New("model.onnx: no such file"),
	})
	defer st.Close()

	err := st.Start()
	require.ErrorIs(t, err, entity.ErrEngineUnavailable)
	require.Contains(t, err.Error(), "model.onnx")
	require.Equal(t, entity.StateIdle, st.State())
}

func TestStation_CountsAcrossSessions(t *testing.T) {
	src := &fakeSource{}
	sink := &recordingSink{}
	st := newTestStation(t, src, alwaysDetect("scissors"), sink)

	require.NoError(t, st.Start())
	require.Eventually(t, func() bool { return st.Stats().NG >= 3 }, 2*time.Second, time.Millisecond)
	require.NoError(t, st.Stop())

	before := st.Stats()
	require.Equal(t, before.Total, before.OK+before.NG)

	require.NoError(t, st.Start())
	require.Eventually(t, func() bool { return st.Stats().Total > before.Total }, 2*time.Second, time.Millisecond)
	require.NoError(t, st.Stop())

	after := st.Stats()
	require.Equal(t, after.Total, after.OK+after.NG)
	require.Zero(t, after.OK)
}

func TestStation_WaitingStreamProducesNoEvents(t *testing.T) {
	src := &fakeSource{}
	sink := &recordingSink{}
	det := &fakeDetector{detect: func(*entity.Frame) ([]entity.Detection, error) { return nil, nil }}
	st := newTestStation(t, src, det, sink)

	require.NoError(t, st.Start())
	require.Eventually(t, func() bool {
		frames, _ := sink.counts()
		return frames >= 10
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, st.Stop())

	_, events := sink.counts()
	require.Zero(t, events)
	require.Equal(t, entity.RunningStats{}, st.Stats())
}

func TestStation_InferenceErrorDegradesToWaiting(t *testing.T) {
	src := &fakeSource{}
	sink := &recordingSink{}
	det := &fakeDetector{detect: func(*entity.Frame) ([]entity.Detection, error) {
		return nil, errors.New("onnx session crashed")
	}}
	st := newTestStation(t, src, det, sink)

	require.NoError(t, st.Start())
	require.Eventually(t, func() bool {
		frames, _ := sink.counts()
		return frames >= 5
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, st.Stop())
	require.Zero(t, st.Stats().Total)
}

func TestStation_CaptureErrorsDoNotStopLoop(t *testing.T) {
	src := &fakeSource{failReads: 5}
	sink := &recordingSink{}
	st := newTestStation(t, src, alwaysDetect("cup"), sink)

	require.NoError(t, st.Start())
	require.Eventually(t, func() bool { return st.Stats().OK >= 2 }, 2*time.Second, time.Millisecond)
	require.NoError(t, st.Stop())
}

func TestStation_OpenFailureIsRetried(t *testing.T) {
	src := &fakeSource{openErr: errors.New("no camera")}
	st := newTestStation(t, src, alwaysDetect("cup"), &recordingSink{})

	require.NoError(t, st.Start())
	time.Sleep(20 * time.Millisecond)

	src.mu.Lock()
	src.openErr = nil
	src.mu.Unlock()

	require.Eventually(t, func() bool { return st.Stats().OK >= 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, st.Stop())
}

func TestStation_SlowSinkDoesNotStallCounting(t *testing.T) {
	src := &fakeSource{}
	sink := &recordingSink{frameDelay: 200 * time.Millisecond}
	st := newTestStation(t, src, alwaysDetect("cup"), sink)

	require.NoError(t, st.Start())
	require.Eventually(t, func() bool { return st.Stats().OK >= 20 }, 2*time.Second, time.Millisecond)
	require.NoError(t, st.Stop())

	frames, events := sink.counts()
	require.Less(t, frames, 20, "frames must be dropped for a slow consumer")
	require.GreaterOrEqual(t, events, 20)
}

func TestStation_CloseRejectsFurtherStarts(t *testing.T) {
	st := NewStation(testConfig(), StationDeps{Camera: &fakeSource{}, Detector: alwaysDetect("cup")})
	require.NoError(t, st.Start())
	require.NoError(t, st.Close())
	require.Equal(t, entity.StateStopped, st.State())
	require.Error(t, st.Start())
	require.NoError(t, st.Close())
}

func TestStation_CloseRacingStartLeavesCameraReleased(t *testing.T) {
	for i := 0; i < 50; i++ {
		src := &fakeSource{}
		st := NewStation(testConfig(), StationDeps{Camera: src, Detector: alwaysDetect("cup")})
		require.NoError(t, st.Start())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = st.Stop()
			_ = st.Start()
		}()
		go func() {
			defer wg.Done()
			_ = st.Close()
		}()
		wg.Wait()

		require.Error(t, st.Start())
		require.Equal(t, entity.StateStopped, st.State())
		require.Eventually(t, func() bool {
			open, _, _, _ := src.snapshot()
			return !open
		}, time.Second, time.Millisecond)
		open, opens, releases, _ := src.snapshot()
		require.False(t, open)
		require.Equal(t, opens, releases)
	}
}

func TestStation_UsesSharedClassifier(t *testing.T) {
	src := &fakeSource{}
	cfg := testConfig()
	cfg.NGLabels = nil
	st := NewStation(cfg, StationDeps{
		Camera:     src,
		Classifier: NewClassifier([]string{"cup"}),
		Detector:   alwaysDetect("cup"),
	})
	defer st.Close()

	require.NoError(t, st.Start())
	require.Eventually(t, func() bool { return st.Stats().NG >= 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, st.Stop())
	require.Zero(t, st.Stats().OK)
}
