package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"qc-vision/internal/domain/entity"
	"qc-vision/internal/infrastructure/storage"
)

type fakeController struct {
	mu       sync.Mutex
	state    entity.StationState
	stats    entity.RunningStats
	startErr error
	starts   int
	stops    int
}

func (c *fakeController) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.startErr != nil {
		return c.startErr
	}
	c.state = entity.StateRunning
	return nil
}

func (c *fakeController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	c.state = entity.StateStopped
	return nil
}

func (c *fakeController) State() entity.StationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeController) Stats() entity.RunningStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func newTestServer(t *testing.T, ctrl Controller) (*Server, *storage.MemoryEventRepository) {
	t.Helper()
	events := storage.NewMemoryEventRepository(10)
	srv := NewServer(Config{
		PreviewWidth: 64,
		Events:       events,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("qc_frames_captured_total 1\n"))
		}),
	})
	if ctrl != nil {
		srv.Bind(ctrl)
	}
	t.Cleanup(srv.Close)
	return srv, events
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestServer_Status(t *testing.T) {
	ctrl := &fakeController{state: entity.StateRunning, stats: entity.RunningStats{Total: 4, OK: 3, NG: 1}}
	srv, events := newTestServer(t, ctrl)

	event := entity.NewInspectionEvent(
		entity.Decision{Verdict: entity.VerdictNG, Label: "scissors"},
		time.Date(2024, 1, 1, 15, 4, 5, 0, time.Local),
		ctrl.stats,
	)
	require.NoError(t, events.Append(context.Background(), event))
	srv.OnStats(event)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	require.Equal(t, "running", body["state"])
	require.Equal(t, 75.0, body["yield_rate"])

	recent := body["recent"].([]any)
	require.Len(t, recent, 1)
	first := recent[0].(map[string]any)
	require.Equal(t, "NG", first["verdict"])
	require.Equal(t, "[15:04:05] NG (scissors)", first["line"])
}

func TestServer_StatusWithoutController(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	body := decode(t, rec)
	require.Equal(t, "idle", body["state"])
	require.Equal(t, 0.0, body["yield_rate"])
	require.Empty(t, body["recent"])
}

func TestServer_StartStop(t *testing.T) {
	ctrl := &fakeController{state: entity.StateIdle}
	srv, _ := newTestServer(t, ctrl)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/start", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "running", decode(t, rec)["state"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stop", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "stopped", decode(t, rec)["state"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/start", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_StartErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"already running", entity.ErrAlreadyRunning, http.StatusConflict},
		{"engine unavailable", fmt.Errorf("%w: no model", entity.ErrEngineUnavailable), http.StatusServiceUnavailable},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &fakeController{startErr: tt.err})

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/start", nil))
			require.Equal(t, tt.status, rec.Code)
			require.Contains(t, decode(t, rec)["error"], tt.err.Error())
		})
	}
}

func TestServer_StartWithoutController(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/start", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_IndexHealthMetrics(t *testing.T) {
	srv, _ := newTestServer(t, &fakeController{})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "/api/events/stream")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, "ok", decode(t, rec)["status"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), "qc_frames_captured_total")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_OnFrameWithoutViewersIsSkipped(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	srv.OnFrame(&entity.Frame{Image: image.NewRGBA(image.Rect(0, 0, 8, 8))})
	require.Zero(t, srv.frames.Len())
}

func TestServer_MJPEGStream(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Contains(t, resp.Header.Get("Content-Type"), "multipart/x-mixed-replace")

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(5 * time.Millisecond):
				srv.OnFrame(&entity.Frame{Image: image.NewRGBA(image.Rect(0, 0, 128, 64))})
			}
		}
	}()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "--frame\r\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "Content-Type: image/jpeg\r\n", line)
}

func TestServer_EventsStream(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return srv.updates.Len() == 1 }, time.Second, time.Millisecond)
	srv.OnState(entity.StateRunning)

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var u map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &u))
	require.Equal(t, "state", u["type"])
	require.Equal(t, "running", u["state"])
}

func TestHub_DropsForSlowClient(t *testing.T) {
	h := newHub[int](1)
	id, ch := h.Subscribe()

	require.Zero(t, h.Publish(1))
	require.Equal(t, 1, h.Publish(2))
	require.Equal(t, 1, <-ch)

	h.Unsubscribe(id)
	_, open := <-ch
	require.False(t, open)
	require.Zero(t, h.Len())
}
