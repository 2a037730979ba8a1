// Package server exposes the session commands and the event stream over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"

	"github.com/audiolibrelab/dailycapture/internal/catchup"
	"github.com/audiolibrelab/dailycapture/internal/event"
	"github.com/audiolibrelab/dailycapture/internal/media"
	"github.com/audiolibrelab/dailycapture/internal/schedule"
	"github.com/audiolibrelab/dailycapture/internal/session"
)

const shutdownTimeout = 5 * time.Second

// Controller is the command table of the session manager.
type Controller interface {
	Start(ctx context.Context) (session.Info, error)
	TogglePause(ctx context.Context) (session.Info, error)
	Cancel(ctx context.Context) (session.Info, error)
	Stop(ctx context.Context) (session.Info, error)
	QueryInfo(ctx context.Context) (session.Info, error)
	StopAmplitudeUpdates(ctx context.Context) (session.Info, error)
}

type ScheduleView interface {
	Next() time.Time
	TimeOfDay() schedule.TimeOfDay
}

type MarkReader interface {
	LastRecordDate(ctx context.Context) (time.Time, error)
}

type Subscriber interface {
	Subscribe(buffer int) (<-chan event.Event, func())
}

// RecordingLister lists indexed recordings and resolves their references.
type RecordingLister interface {
	List(ctx context.Context, limit int) ([]media.Entry, error)
	Lookup(ctx context.Context, ref string) (media.Entry, error)
}

// Server represents the daemon's control API
type Server struct {
	ctrl       Controller
	schedule   ScheduleView
	marks      MarkReader
	events     Subscriber
	recordings RecordingLister
	listen     string
	now        func() time.Time

	router  *gin.Engine
	closing chan struct{}
}

type Option func(*Server)

func WithRecordings(l RecordingLister) Option { return func(s *Server) { s.recordings = l } }
func WithClock(now func() time.Time) Option   { return func(s *Server) { s.now = now } }

// SessionResponse is the JSON body of every command endpoint
type SessionResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Session SessionInfo `json:"session"`
}

// SessionInfo is the public view of a session.
type SessionInfo struct {
	ID            string    `json:"id,omitempty"`
	Status        string    `json:"status"`
	Duration      int64     `json:"duration"`
	DurationHuman string    `json:"duration_human"`
	Mode          string    `json:"mode,omitempty"`
	Path          string    `json:"path,omitempty"`
	StartedAt     time.Time `json:"started_at,omitzero"`
}

// ScheduleResponse describes the armed trigger and the last recording.
type ScheduleResponse struct {
	TimeOfDay     string     `json:"time_of_day"`
	NextTrigger   *time.Time `json:"next_trigger,omitempty"`
	LastRecord    *time.Time `json:"last_record,omitempty"`
	RecordedToday bool       `json:"recorded_today"`
}

// RecordingInfo contains information about an indexed recording
type RecordingInfo struct {
	Ref       string    `json:"ref"`
	Path      string    `json:"path"`
	MIME      string    `json:"mime"`
	Size      int64     `json:"size"`
	SizeHuman string    `json:"size_human"`
	IndexedAt time.Time `json:"indexed_at"`
}

func New(listen string, ctrl Controller, sched ScheduleView, marks MarkReader, events Subscriber, opts ...Option) *Server {
	s := &Server{
		ctrl:     ctrl,
		schedule: sched,
		marks:    marks,
		events:   events,
		listen:   listen,
		now:      time.Now,
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(
		gin.CustomRecovery(func(c *gin.Context, err any) {
			slog.ErrorContext(c.Request.Context(), "panic", "err", err, "stack", string(debug.Stack()))
			c.AbortWithStatus(http.StatusInternalServerError)
		}),
		requestLogger(),
		cors.New(cors.Config{
			AllowMethods:    []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:    []string{"Accept", "Content-Type", "Cache-Control", "Origin"},
			AllowAllOrigins: true,
			MaxAge:          12 * time.Hour,
		}),
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/events"})),
	)

	r.POST("/start", s.command("start", s.ctrl.Start))
	r.POST("/pause", s.command("pause", s.ctrl.TogglePause))
	r.POST("/cancel", s.command("cancel", s.ctrl.Cancel))
	r.POST("/stop", s.command("stop", s.ctrl.Stop))
	r.POST("/amplitude/stop", s.command("amplitude stop", s.ctrl.StopAmplitudeUpdates))
	r.GET("/status", s.command("status", s.ctrl.QueryInfo))
	r.GET("/schedule", s.handleSchedule)
	r.GET("/events", s.handleEvents)
	r.GET("/recordings", s.handleRecordings)
	r.GET("/recordings/:id", s.handleRecording)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not found"})
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.listen, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	slog.Info("Control API listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	close(s.closing)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown control API: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) command(name string, fn func(context.Context) (session.Info, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := fn(c.Request.Context())
		if err != nil {
			s.sendErrorResponse(c, statusFor(err), err.Error(), "command", name)
			return
		}
		c.JSON(http.StatusOK, SessionResponse{
			Success: true,
			Message: statusMessage(info),
			Session: toSessionInfo(info),
		})
	}
}

func (s *Server) handleSchedule(c *gin.Context) {
	ctx := c.Request.Context()
	resp := ScheduleResponse{TimeOfDay: s.schedule.TimeOfDay().String()}
	if next := s.schedule.Next(); !next.IsZero() {
		resp.NextTrigger = &next
	}
	last, err := s.marks.LastRecordDate(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read last record date", "error", err)
	} else if !last.IsZero() {
		resp.LastRecord = &last
	}
	resp.RecordedToday = catchup.HasRecordedToday(last, s.now())
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEvents(c *gin.Context) {
	ch, unsubscribe := s.events.Subscribe(64)
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(e.Type), e)
			return true
		case <-c.Request.Context().Done():
			return false
		case <-s.closing:
			return false
		}
	})
}

func (s *Server) handleRecordings(c *gin.Context) {
	if s.recordings == nil {
		s.sendErrorResponse(c, http.StatusNotImplemented, "media index disabled")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		s.sendErrorResponse(c, http.StatusBadRequest, "invalid limit")
		return
	}
	entries, err := s.recordings.List(c.Request.Context(), limit)
	if err != nil {
		s.sendErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]RecordingInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, toRecordingInfo(e))
	}
	c.JSON(http.StatusOK, gin.H{"recordings": out, "total_count": len(out)})
}

// handleRecording resolves the media reference whose id is in the path.
func (s *Server) handleRecording(c *gin.Context) {
	if s.recordings == nil {
		s.sendErrorResponse(c, http.StatusNotImplemented, "media index disabled")
		return
	}
	e, err := s.recordings.Lookup(c.Request.Context(), media.RefScheme+c.Param("id"))
	if errors.Is(err, media.ErrNotFound) {
		s.sendErrorResponse(c, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.sendErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, toRecordingInfo(e))
}

func toRecordingInfo(e media.Entry) RecordingInfo {
	return RecordingInfo{
		Ref:       e.Ref(),
		Path:      e.Path,
		MIME:      e.MIME,
		Size:      e.Size,
		SizeHuman: formatBytes(e.Size),
		IndexedAt: e.IndexedAt,
	}
}

func toSessionInfo(info session.Info) SessionInfo {
	var out SessionInfo
	if err := copier.Copy(&out, &info); err != nil {
		slog.Warn("Failed to copy session info", "error", err)
	}
	out.DurationHuman = (time.Duration(info.Duration) * time.Second).String()
	return out
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, session.ErrStartFailed), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func statusMessage(info session.Info) string {
	switch info.Status {
	case session.StatusRunning:
		return fmt.Sprintf("Recording in progress - %s", info.Path)
	case session.StatusPaused:
		return "Recording paused"
	default:
		return ""
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(c *gin.Context, statusCode int, errorMsg string, logContext ...any) {
	logFields := []any{"error_message", errorMsg, "status_code", statusCode}
	logFields = append(logFields, logContext...)
	slog.ErrorContext(c.Request.Context(), "Sending error response to client", logFields...)

	c.AbortWithStatusJSON(statusCode, gin.H{
		"success": false,
		"error":   errorMsg,
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/events" {
			return
		}
		slog.DebugContext(c.Request.Context(), "HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
