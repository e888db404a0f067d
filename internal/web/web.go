// Package web serves the schedule API consumed by the dashboard's
// notification badge and schedule-list dialog. The UI itself is an external
// collaborator; this process only exposes JSON (and an ICS feed).
package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	ical "github.com/arran4/golang-ical"

	"postsched/internal/config"
	appLog "postsched/internal/log"
	"postsched/internal/model"
	"postsched/internal/notify"
	"postsched/internal/session"
)

// Server provides HTTP APIs for schedule access and session control.
type Server struct {
	cfg       *config.Config
	sess      *session.Session
	presenter *notify.Presenter
	mux       *http.ServeMux
}

// NewServer constructs a new Server over a running session.
func NewServer(cfg *config.Config, sess *session.Session) *Server {
	s := &Server{
		cfg:       cfg,
		sess:      sess,
		presenter: notify.NewPresenter(sess.Store(), sess.Location()),
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
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
	// Empty username or password counts as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health stays unauthenticated for liveness probes.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="postsched", charset="UTF-8"`)
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

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/schedules", s.handleSchedules)
	s.mux.HandleFunc("/api/schedules/upcoming", s.handleUpcoming)
	s.mux.HandleFunc("/api/schedules.ics", s.handleICS)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	s.mux.HandleFunc("/api/status", s.handleStatus)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// schedulesResponse is the JSON shape for /api/schedules, read by the
// schedule-list dialog.
type schedulesResponse struct {
	Schedules       []model.Schedule `json:"schedules"`
	Count           int              `json:"count"`
	ConnectionState string           `json:"connection_state"`
}

func (s *Server) handleSchedules(w http.ResponseWriter, _ *http.Request) {
	list := s.sess.Store().List()
	writeJSON(w, http.StatusOK, schedulesResponse{
		Schedules:       list,
		Count:           len(list),
		ConnectionState: s.sess.ConnectionState().String(),
	})
}

// upcomingResponse is the notification-badge payload.
type upcomingResponse struct {
	Count        int             `json:"count"`
	DisplayCount string          `json:"display_count"`
	Upcoming     *model.Schedule `json:"upcoming,omitempty"`
	Label        string          `json:"label,omitempty"`
}

func (s *Server) handleUpcoming(w http.ResponseWriter, _ *http.Request) {
	resp := upcomingResponse{
		Count:        s.presenter.Count(),
		DisplayCount: s.presenter.DisplayCount(),
	}
	if up, ok := s.presenter.Upcoming(); ok {
		resp.Upcoming = &up
		resp.Label = s.presenter.RelativeLabel(up, time.Now())
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleICS exports the current schedule list as an iCalendar feed so
// external tools can subscribe to the upcoming auto-posts.
func (s *Server) handleICS(w http.ResponseWriter, _ *http.Request) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//postsched//schedule feed//EN")

	now := time.Now()
	for _, sch := range s.sess.Store().List() {
		ev := cal.AddEvent(sch.SourceEventID)
		ev.SetDtStampTime(now)
		ev.SetStartAt(sch.Datetime)
		// EndTime is display-only in the sync pipeline but meaningful to
		// subscribers; rebuild the end instant on the schedule's day.
		if end, err := time.ParseInLocation("2006-01-02 15:04", sch.Date+" "+sch.EndTime, s.sess.Location()); err == nil {
			ev.SetEndAt(end)
		}
		ev.SetSummary(sch.Title)
		if sch.Description != "" {
			ev.SetDescription(sch.Description)
		}
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(cal.Serialize()))
}

// handleRefresh enqueues a manual fetch cycle. The cycle runs
// asynchronously; 202 signals acceptance, not completion.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	s.sess.Refresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh enqueued"})
}

// statusResponse reports sync health for the dashboard's degraded-mode hint.
type statusResponse struct {
	ConnectionState string `json:"connection_state"`
	LastFetch       string `json:"last_fetch,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	Count           int    `json:"count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	at, fetchErr := s.sess.LastFetch()

	resp := statusResponse{
		ConnectionState: s.sess.ConnectionState().String(),
		Count:           s.sess.Store().Count(),
	}
	if !at.IsZero() {
		resp.LastFetch = at.Format(time.RFC3339)
	}
	if fetchErr != nil {
		resp.LastError = fetchErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
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
