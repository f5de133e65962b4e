package web

import (
	"context"
	"crypto/subtle"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/samber/lo"

	"actwaste/internal/config"
	"actwaste/internal/ics"
	appLog "actwaste/internal/log"
	"actwaste/internal/model"
	"actwaste/internal/schedule"
	"actwaste/internal/sensor"
)

const (
	defaultUpcomingDays = 28
	maxUpcomingDays     = 366
)

//go:embed dashboard.html
var dashboardHTML string

var dashboardTmpl = template.Must(template.New("dashboard").Parse(dashboardHTML))

// Collection is one suburb as served over HTTP: its cache, the sensors
// bound to it, and optional recurrence rules for projections.
type Collection struct {
	Cache      *schedule.Cache
	Sensors    []sensor.Sensor
	Recurrence map[model.Stream]string
}

// Server exposes sensors, the ICS feed and the dashboard page.
type Server struct {
	cfg         *config.Config
	collections []Collection
	loc         *time.Location
	now         func() time.Time
	mux         *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, collections []Collection) *Server {
	s := &Server{
		cfg:         cfg,
		collections: collections,
		loc:         cfg.Location(),
		now:         time.Now,
		mux:         http.NewServeMux(),
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
	// Empty username or password means disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="actwaste", charset="UTF-8"`)
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

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an already bound listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/sensors", s.handleSensors)
	s.mux.HandleFunc("GET /api/collections", s.handleCollections)
	s.mux.HandleFunc("GET /api/upcoming", s.handleUpcoming)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("GET /dashboard", s.handleDashboard)
	s.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// sensorDTO is the JSON shape of one sensor in /api/sensors.
type sensorDTO struct {
	Collection   string       `json:"collection"`
	Suburb       string       `json:"suburb"`
	Name         string       `json:"name"`
	FriendlyName string       `json:"friendly_name"`
	Icon         string       `json:"icon"`
	State        sensor.Value `json:"state"`
	Available    bool         `json:"available"`
	Error        string       `json:"error,omitempty"`
}

func (s *Server) handleSensors(w http.ResponseWriter, _ *http.Request) {
	out := make([]sensorDTO, 0)
	for _, col := range s.collections {
		for _, sn := range col.Sensors {
			out = append(out, s.sensorState(col, sn))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) sensorState(col Collection, sn sensor.Sensor) sensorDTO {
	dto := sensorDTO{
		Collection:   col.Cache.Name(),
		Suburb:       col.Cache.Suburb(),
		Name:         sn.Name(),
		FriendlyName: sn.FriendlyName(),
		Icon:         sn.Icon(),
	}
	v, err := sn.State()
	if err != nil {
		// Upstream broke the date format; show the sensor as unavailable.
		appLog.Error("sensor state failed", err, "sensor", sn.Name())
		dto.State = sensor.Unavailable()
		dto.Error = err.Error()
		return dto
	}
	dto.State = v
	dto.Available = v.Available()
	return dto
}

// collectionDTO is the JSON shape of one suburb in /api/collections.
type collectionDTO struct {
	Name      string             `json:"name"`
	Suburb    string             `json:"suburb"`
	LastFetch *time.Time         `json:"last_fetch,omitempty"`
	LastError string             `json:"last_error,omitempty"`
	Dates     map[string]*string `json:"dates"`
}

func (s *Server) handleCollections(w http.ResponseWriter, _ *http.Request) {
	out := lo.Map(s.collections, func(col Collection, _ int) collectionDTO {
		dto := collectionDTO{
			Name:   col.Cache.Name(),
			Suburb: col.Cache.Suburb(),
			Dates:  make(map[string]*string, len(model.Streams)),
		}
		if t := col.Cache.LastFetch(); !t.IsZero() {
			dto.LastFetch = &t
		}
		if err := col.Cache.LastError(); err != nil {
			dto.LastError = err.Error()
		}
		for _, st := range model.Streams {
			if v, ok := col.Cache.Field(st.Field()); ok {
				dto.Dates[string(st)] = &v
			} else {
				dto.Dates[string(st)] = nil
			}
		}
		return dto
	})
	writeJSON(w, http.StatusOK, out)
}

// occurrenceDTO is the JSON shape of a projected collection day.
type occurrenceDTO struct {
	Date      string `json:"date"`
	Days      string `json:"days"`
	Name      string `json:"name"`
	Suburb    string `json:"suburb"`
	Stream    string `json:"stream"`
	Projected bool   `json:"projected"`
}

// handleUpcoming returns collection days within the next N days.
//
// GET /api/upcoming?days=28
func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	days := parseIntDefault(r.URL.Query().Get("days"), defaultUpcomingDays)
	if days <= 0 {
		days = defaultUpcomingDays
	}
	if days > maxUpcomingDays {
		days = maxUpcomingDays
	}

	now := s.now().In(s.loc)
	res, err := ics.Expand(s.modelCollections(), ics.ExpandConfig{
		DisplayLocation: s.loc,
		RangeStart:      now,
		RangeEnd:        now.AddDate(0, 0, days),
	})
	if err != nil {
		appLog.Error("api upcoming: expand failed", err)
		writeError(w, http.StatusInternalServerError, "failed to expand collections")
		return
	}

	out := lo.Map(res.Occurrences, func(o model.Occurrence, _ int) occurrenceDTO {
		return occurrenceDTO{
			Date:      o.Date.Format("2006-01-02"),
			Days:      schedule.Describe(schedule.DaysBetween(o.Date, now)),
			Name:      o.Name,
			Suburb:    o.Suburb,
			Stream:    string(o.Stream),
			Projected: o.Projected,
		}
	})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request) {
	body := ics.Render(s.modelCollections(), s.loc, s.now())
	// Inline, so calendar apps can subscribe to it.
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

type dashboardRow struct {
	Label     string
	Date      string
	Days      string
	Available bool
	Soon      bool
}

type dashboardCollection struct {
	Name      string
	Suburb    string
	LastFetch string
	Rows      []dashboardRow
}

type dashboardData struct {
	Collections []dashboardCollection
	Generated   string
}

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	data := dashboardData{
		Generated: s.now().In(s.loc).Format("Mon 2 Jan 15:04"),
	}
	for _, col := range s.collections {
		data.Collections = append(data.Collections, s.dashboardCollection(col))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		appLog.Error("failed to render dashboard", err)
	}
}

func (s *Server) dashboardCollection(col Collection) dashboardCollection {
	byName := lo.KeyBy(col.Sensors, func(sn sensor.Sensor) string { return sn.Name() })
	state := func(name string) sensor.Value {
		sn, ok := byName[name]
		if !ok {
			return sensor.Unavailable()
		}
		return s.sensorState(col, sn).State
	}

	dc := dashboardCollection{
		Name:   col.Cache.Name(),
		Suburb: col.Cache.Suburb(),
	}
	if t := col.Cache.LastFetch(); !t.IsZero() {
		dc.LastFetch = t.In(s.loc).Format("Mon 2 Jan 15:04")
	}
	for _, st := range model.Streams {
		prefix := col.Cache.Name() + " " + st.Label()
		date := state(prefix + " Date")
		days := state(prefix + " Days")
		dc.Rows = append(dc.Rows, dashboardRow{
			Label:     st.Label(),
			Date:      date.String(),
			Days:      days.String(),
			Available: date.Available(),
			Soon:      days.String() == "Today" || days.String() == "Tomorrow",
		})
	}
	return dc
}

func (s *Server) modelCollections() []model.Collection {
	return lo.Map(s.collections, func(col Collection, _ int) model.Collection {
		return model.Collection{
			Name:       col.Cache.Name(),
			Suburb:     col.Cache.Suburb(),
			Recurrence: col.Recurrence,
			Record:     col.Cache.Record(),
		}
	})
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

// DashboardURL is the loopback address of the dashboard page for a listen
// address, carrying basic auth credentials when they are configured.
func DashboardURL(cfg *config.Config, addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, ""
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	}

	u := url.URL{Scheme: "http", Host: host, Path: "/dashboard"}
	if cfg != nil && cfg.BasicAuth != nil && cfg.BasicAuth.Username != "" && cfg.BasicAuth.Password != "" {
		u.User = url.UserPassword(cfg.BasicAuth.Username, cfg.BasicAuth.Password)
	}
	return u.String()
}
