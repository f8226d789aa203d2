package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"postcal/internal/alarm"
	"postcal/internal/config"
	"postcal/internal/ics"
	appLog "postcal/internal/log"
	"postcal/internal/model"
	"postcal/internal/posts"
	"postcal/internal/recurrence"
	"postcal/internal/store"
)

const maxBodyBytes = 10 << 20

var errBadRequest = errors.New("bad request")

// Deps are the components the API serves. Metrics and Importer are optional.
type Deps struct {
	Store     store.Store
	Loop      *alarm.Loop
	Scheduler *posts.Service
	Importer  *ics.Importer
	Metrics   http.Handler
}

// Server provides the HTTP API for schedules, posts and alarms.
type Server struct {
	cfg    *config.Config
	deps   Deps
	router chi.Router
	now    func() time.Time
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		now:  time.Now,
	}
	s.router = s.routes()
	return s
}

// Handler returns the router, wrapped in basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password leaves auth off.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="postcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/schedule/preview", s.handleSchedulePreview)
		r.Post("/schedule", s.handleSchedule)
		r.Get("/schedule/best-times", s.handleBestTimes)

		r.Get("/posts", s.handleListPosts)
		r.Post("/posts/import", s.handleImportPosts)
		r.Get("/calendar.ics", s.handleCalendar)

		r.Get("/alarms", s.handleListAlarms)
		r.Post("/alarms", s.handleCreateAlarm)
		r.Get("/alarms/ringing", s.handleRinging)
		r.Delete("/alarms/{id}", s.handleDeleteAlarm)
		r.Post("/alarms/{id}/dismiss", s.handleDismissAlarm)
	})

	return r
}

// StartServer serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, deps Deps) error {
	s := NewServer(cfg, deps)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		appLog.Info("HTTP server stopped")
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// scheduleRequest is the body of both schedule endpoints.
type scheduleRequest struct {
	StartDate    string   `json:"start_date"`
	Frequency    string   `json:"frequency"`
	PreferredDay string   `json:"preferred_day"`
	Count        int      `json:"count"`
	Time         string   `json:"time"`
	Platforms    []string `json:"platforms"`
}

func (s *Server) parseSchedule(r *http.Request) (recurrence.Request, scheduleRequest, error) {
	var body scheduleRequest
	if err := decodeJSON(r, &body); err != nil {
		return recurrence.Request{}, body, err
	}
	if body.Time == "" {
		body.Time = s.cfg.Schedule.DefaultTime
	}
	if len(body.Platforms) == 0 {
		body.Platforms = s.cfg.Schedule.Platforms
	}
	req, err := recurrence.ParseRequest(body.StartDate, body.Frequency, body.PreferredDay, body.Count, s.cfg.Location())
	return req, body, err
}

type previewResponse struct {
	Dates  []string `json:"dates"`
	Labels []string `json:"labels"`
	Span   string   `json:"span"`
	RRule  string   `json:"rrule"`
}

// handleSchedulePreview returns the dates a schedule would produce
// without storing anything.
//
// POST /api/schedule/preview
func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	req, body, err := s.parseSchedule(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	hhmm, err := posts.ParseTime(body.Time)
	if err != nil {
		s.fail(w, err)
		return
	}
	dates, err := req.Generate()
	if err != nil {
		s.fail(w, err)
		return
	}
	rule, err := req.RRule()
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{
		Dates:  recurrence.FormatDates(dates),
		Labels: recurrence.FormatPreview(dates, hhmm),
		Span:   recurrence.EstimateSpan(req.Frequency, req.Count),
		RRule:  rule,
	})
}

// handleSchedule creates one draft post per generated date.
//
// POST /api/schedule
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	req, body, err := s.parseSchedule(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	stored, err := s.deps.Scheduler.Schedule(r.Context(), posts.PlanRequest{
		Rule:      req,
		Time:      body.Time,
		Platforms: body.Platforms,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"posts": stored, "count": len(stored)})
}

func (s *Server) handleBestTimes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, recurrence.BestTimes())
}

// handleListPosts returns scheduled posts ordered by date.
//
// GET /api/posts?limit=N (0 or absent returns all)
func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Store.ListPosts(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if limit := parseIntDefault(r.URL.Query().Get("limit"), 0); limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	writeJSON(w, http.StatusOK, list)
}

// handleImportPosts imports an ICS calendar as draft posts. The calendar
// is either the request body or fetched from ?url=.
//
// POST /api/posts/import
func (s *Server) handleImportPosts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Importer == nil {
		writeError(w, http.StatusNotImplemented, "calendar import disabled")
		return
	}

	var (
		imported []model.ScheduledPost
		err      error
	)
	if u := r.URL.Query().Get("url"); u != "" {
		imported, err = s.deps.Importer.ImportURL(r.Context(), u)
	} else {
		body, rerr := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if rerr != nil {
			s.fail(w, fmt.Errorf("%w: %v", errBadRequest, rerr))
			return
		}
		imported, err = s.deps.Importer.ImportBody(r.Context(), body)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"posts": imported, "count": len(imported)})
}

// handleCalendar exports posts and active alarms as iCalendar.
//
// GET /api/calendar.ics
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := s.deps.Store.ListPosts(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}
	alarms, err := s.deps.Store.ListAlarms(ctx)
	if err != nil {
		s.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="postcal.ics"`)
	if err := ics.Export(w, list, alarms, s.now()); err != nil {
		appLog.Error("calendar export failed", err)
	}
}

// alarmView adds display fields to an alarm.
type alarmView struct {
	model.Alarm
	TimeUntil string `json:"time_until"`
	Triggered bool   `json:"triggered"`
}

// handleListAlarms returns all alarms ordered by time with a countdown.
//
// GET /api/alarms
func (s *Server) handleListAlarms(w http.ResponseWriter, r *http.Request) {
	alarms, err := s.deps.Store.ListAlarms(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	now := s.now()
	out := make([]alarmView, 0, len(alarms))
	for _, a := range alarms {
		out = append(out, alarmView{
			Alarm:     a,
			TimeUntil: alarm.TimeUntil(a.At, now),
			Triggered: s.deps.Loop.Triggered(a.ID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type createAlarmRequest struct {
	Title               string `json:"title"`
	Notes               string `json:"notes"`
	AlarmDatetime       string `json:"alarm_datetime"`
	SoundEnabled        *bool  `json:"sound_enabled"`
	NotificationEnabled *bool  `json:"notification_enabled"`
	ScheduledPostID     string `json:"scheduled_post_id"`
	PlannedPostID       string `json:"planned_post_id"`
}

// handleCreateAlarm stores a new active alarm and refreshes the trigger
// loop's snapshot so it is picked up on the next tick.
//
// POST /api/alarms
func (s *Server) handleCreateAlarm(w http.ResponseWriter, r *http.Request) {
	var body createAlarmRequest
	if err := decodeJSON(r, &body); err != nil {
		s.fail(w, err)
		return
	}
	title := strings.TrimSpace(body.Title)
	if title == "" {
		s.fail(w, fmt.Errorf("%w: title is required", errBadRequest))
		return
	}
	at, err := parseDatetime(body.AlarmDatetime, s.cfg.Location())
	if err != nil {
		s.fail(w, err)
		return
	}

	a, err := s.deps.Store.CreateAlarm(r.Context(), model.NewAlarm{
		Title:               title,
		Notes:               body.Notes,
		At:                  at,
		SoundEnabled:        boolDefault(body.SoundEnabled, true),
		NotificationEnabled: boolDefault(body.NotificationEnabled, true),
		ScheduledPostID:     body.ScheduledPostID,
		PlannedPostID:       body.PlannedPostID,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.deps.Loop.Refresh(r.Context())

	appLog.Info("alarm created", "id", a.ID, "at", a.At.Format(time.RFC3339))
	writeJSON(w, http.StatusCreated, alarmView{Alarm: a, TimeUntil: alarm.TimeUntil(a.At, s.now())})
}

// DELETE /api/alarms/{id}
func (s *Server) handleDeleteAlarm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.DeleteAlarm(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	s.deps.Loop.Refresh(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// handleDismissAlarm is idempotent: unknown or already dismissed ids
// still answer 204.
//
// POST /api/alarms/{id}/dismiss
func (s *Server) handleDismissAlarm(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Loop.Dismiss(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ringingResponse struct {
	alarm.Ringing
	Title string `json:"title"`
	Body  string `json:"body"`
}

// handleRinging returns the alarm currently ringing, or 204 when none is.
//
// GET /api/alarms/ringing
func (s *Server) handleRinging(w http.ResponseWriter, _ *http.Request) {
	rg, ok := s.deps.Loop.Ringing()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	title, body := alarm.Content(rg.Alarm)
	writeJSON(w, http.StatusOK, ringingResponse{Ringing: rg, Title: title, Body: body})
}

// fail maps err to a status code and writes it as a JSON error.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		appLog.Error("api request failed", err, "status", status)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, recurrence.ErrInvalidDate),
		errors.Is(err, recurrence.ErrInvalidFrequency),
		errors.Is(err, recurrence.ErrInvalidWeekday),
		errors.Is(err, recurrence.ErrInvalidCount),
		errors.Is(err, posts.ErrInvalidTime),
		errors.Is(err, ics.ErrInvalidCalendar):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ics.ErrFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

// parseDatetime accepts RFC 3339 or a zone-less "2006-01-02T15:04" read in loc.
func parseDatetime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: alarm_datetime is required", errBadRequest)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid alarm_datetime %q", errBadRequest, s)
}

func boolDefault(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
