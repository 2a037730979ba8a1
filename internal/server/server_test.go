package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audiolibrelab/dailycapture/internal/event"
	"github.com/audiolibrelab/dailycapture/internal/media"
	"github.com/audiolibrelab/dailycapture/internal/schedule"
	"github.com/audiolibrelab/dailycapture/internal/session"
	"github.com/audiolibrelab/dailycapture/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeController struct {
	info  session.Info
	err   error
	calls []string
}

func (f *fakeController) call(name string) (session.Info, error) {
	f.calls = append(f.calls, name)
	return f.info, f.err
}

func (f *fakeController) Start(context.Context) (session.Info, error)       { return f.call("start") }
func (f *fakeController) TogglePause(context.Context) (session.Info, error) { return f.call("pause") }
func (f *fakeController) Cancel(context.Context) (session.Info, error)      { return f.call("cancel") }
func (f *fakeController) Stop(context.Context) (session.Info, error)        { return f.call("stop") }
func (f *fakeController) QueryInfo(context.Context) (session.Info, error)   { return f.call("query") }
func (f *fakeController) StopAmplitudeUpdates(context.Context) (session.Info, error) {
	return f.call("amplitude")
}

type fakeSchedule struct{ next time.Time }

func (f fakeSchedule) Next() time.Time               { return f.next }
func (f fakeSchedule) TimeOfDay() schedule.TimeOfDay { return schedule.DefaultTime }

type fakeMarks struct {
	mark time.Time
	err  error
}

func (f fakeMarks) LastRecordDate(context.Context) (time.Time, error) { return f.mark, f.err }

type fakeLister struct{ entries []media.Entry }

func (f fakeLister) List(_ context.Context, limit int) ([]media.Entry, error) {
	if limit > 0 && limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f fakeLister) Lookup(_ context.Context, ref string) (media.Entry, error) {
	for _, e := range f.entries {
		if e.Ref() == ref {
			return e, nil
		}
	}
	return media.Entry{}, media.ErrNotFound
}

func newTestServer(ctrl *fakeController, opts ...Option) (*Server, *event.Bus) {
	bus := event.NewBus()
	s := New("127.0.0.1:0", ctrl, fakeSchedule{}, fakeMarks{}, bus, opts...)
	return s, bus
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCommands_RouteToController(t *testing.T) {
	started := time.Date(2026, 5, 10, 6, 0, 0, 0, time.UTC)
	ctrl := &fakeController{info: session.Info{
		ID:        "s1",
		Status:    session.StatusRunning,
		Duration:  65,
		Mode:      storage.ModeStandard,
		Path:      "/music/a.m4a",
		StartedAt: started,
	}}
	s, _ := newTestServer(ctrl)

	routes := []struct {
		method, path, call string
	}{
		{http.MethodPost, "/start", "start"},
		{http.MethodPost, "/pause", "pause"},
		{http.MethodPost, "/cancel", "cancel"},
		{http.MethodPost, "/stop", "stop"},
		{http.MethodPost, "/amplitude/stop", "amplitude"},
		{http.MethodGet, "/status", "query"},
	}
	for _, r := range routes {
		w := do(t, s.Handler(), r.method, r.path)
		if w.Code != http.StatusOK {
			t.Errorf("%s %s: expected 200, got %d", r.method, r.path, w.Code)
			continue
		}
		var resp SessionResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: %v", r.path, err)
		}
		if !resp.Success || resp.Session.Status != "RUNNING" || resp.Session.Mode != "standard" {
			t.Errorf("%s: unexpected body %+v", r.path, resp)
		}
		if resp.Session.DurationHuman != "1m5s" || !resp.Session.StartedAt.Equal(started) {
			t.Errorf("%s: unexpected session fields %+v", r.path, resp.Session)
		}
		if got := ctrl.calls[len(ctrl.calls)-1]; got != r.call {
			t.Errorf("%s: expected %s, got %s", r.path, r.call, got)
		}
	}

	if w := do(t, s.Handler(), http.MethodGet, "/start"); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for GET /start, got %d", w.Code)
	}
}

func TestCommands_ErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrNotRecording, http.StatusConflict},
		{fmt.Errorf("%w: disk full", session.ErrStartFailed), http.StatusServiceUnavailable},
		{session.ErrClosed, http.StatusServiceUnavailable},
		{errors.New("engine pause failed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		s, _ := newTestServer(&fakeController{err: tt.err})
		w := do(t, s.Handler(), http.MethodPost, "/pause")
		if w.Code != tt.want {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.want, w.Code)
		}
		var body map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &body)
		if body["success"] != false || body["error"] != tt.err.Error() {
			t.Errorf("%v: unexpected body %v", tt.err, body)
		}
	}
}

func TestSchedule(t *testing.T) {
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	next := time.Date(2026, 5, 11, 6, 0, 0, 0, time.UTC)
	bus := event.NewBus()
	s := New("", &fakeController{}, fakeSchedule{next: next},
		fakeMarks{mark: now.Add(-10 * time.Minute)}, bus,
		WithClock(func() time.Time { return now }))

	w := do(t, s.Handler(), http.MethodGet, "/schedule")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp ScheduleResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TimeOfDay != "06:00" || resp.NextTrigger == nil || !resp.NextTrigger.Equal(next) {
		t.Errorf("Unexpected schedule %+v", resp)
	}
	if !resp.RecordedToday || resp.LastRecord == nil {
		t.Errorf("Expected recorded today, got %+v", resp)
	}

	s = New("", &fakeController{}, fakeSchedule{}, fakeMarks{err: errors.New("gone")}, bus)
	w = do(t, s.Handler(), http.MethodGet, "/schedule")
	resp = ScheduleResponse{}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.RecordedToday || resp.LastRecord != nil || resp.NextTrigger != nil {
		t.Errorf("Expected empty schedule on unreadable mark, got %+v", resp)
	}
}

func TestRecordings(t *testing.T) {
	s, _ := newTestServer(&fakeController{})
	if w := do(t, s.Handler(), http.MethodGet, "/recordings"); w.Code != http.StatusNotImplemented {
		t.Errorf("Expected 501 without an index, got %d", w.Code)
	}

	lister := fakeLister{entries: []media.Entry{
		{ID: "a", Path: "/m/a.wav", MIME: "audio/wav", Size: 2048},
		{ID: "b", Path: "/m/b.wav", MIME: "audio/wav", Size: 10},
	}}
	s, _ = newTestServer(&fakeController{}, WithRecordings(lister))

	w := do(t, s.Handler(), http.MethodGet, "/recordings?limit=1")
	var body struct {
		Recordings []RecordingInfo `json:"recordings"`
		TotalCount int             `json:"total_count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.TotalCount != 1 || body.Recordings[0].Ref != "media://a" || body.Recordings[0].SizeHuman != "2.0 KB" {
		t.Errorf("Unexpected recordings %+v", body)
	}

	if w := do(t, s.Handler(), http.MethodGet, "/recordings?limit=x"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad limit, got %d", w.Code)
	}
}

func TestRecording_ResolvesReference(t *testing.T) {
	lister := fakeLister{entries: []media.Entry{{ID: "b", Path: "/m/b.wav", MIME: "audio/wav", Size: 10}}}
	s, _ := newTestServer(&fakeController{}, WithRecordings(lister))

	w := do(t, s.Handler(), http.MethodGet, "/recordings/b")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var got RecordingInfo
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Ref != "media://b" || got.Path != "/m/b.wav" {
		t.Errorf("Unexpected recording %+v", got)
	}

	if w := do(t, s.Handler(), http.MethodGet, "/recordings/missing"); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown id, got %d", w.Code)
	}
}

func TestEvents_StreamsPublishedEvents(t *testing.T) {
	s, bus := newTestServer(&fakeController{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Headers are only flushed with the first event, so publish until one lands.
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				bus.Publish(event.Event{Type: event.TypeStatus, Status: "RUNNING"})
			}
		}
	}()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Expected event stream, got %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	var gotEvent, gotData bool
	for !(gotEvent && gotData) && sc.Scan() {
		line := sc.Text()
		if line == "event:status" {
			gotEvent = true
		}
		if strings.HasPrefix(line, "data:") && strings.Contains(line, `"status":"RUNNING"`) {
			gotData = true
		}
	}
	if !gotEvent || !gotData {
		t.Errorf("Expected a status event, got event=%v data=%v (%v)", gotEvent, gotData, sc.Err())
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(&fakeController{info: session.Info{Status: session.StatusStopped}})
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{0: "0 B", 1023: "1023 B", 1024: "1.0 KB", 5 * 1024 * 1024: "5.0 MB"}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
