package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/driver-companion/internal/dispatch"
	"github.com/example/driver-companion/internal/models"
	"github.com/example/driver-companion/internal/navigation"
	"github.com/example/driver-companion/internal/observability"
	"github.com/example/driver-companion/internal/tracking"
	"github.com/example/driver-companion/internal/trip"
)

// SettingsStore persists the driver's app preferences.
type SettingsStore interface {
	LoadSettings(ctx context.Context) (models.Settings, error)
	SaveSettings(ctx context.Context, s models.Settings) error
}

// PositionPublisher forwards recorded samples off-process.
type PositionPublisher interface {
	PublishPosition(ctx context.Context, driverID string, s models.GPSSample) error
}

type Deps struct {
	Session   *trip.Session
	Tracker   *tracking.Tracker
	Navigator *navigation.Estimator
	Announcer *navigation.Announcer
	Settings  SettingsStore
	Hub       *dispatch.Hub
	Positions PositionPublisher
	Logger    *slog.Logger
}

type Server struct {
	session   *trip.Session
	tracker   *tracking.Tracker
	nav       *navigation.Estimator
	voice     *navigation.Announcer
	settings  SettingsStore
	hub       *dispatch.Hub
	positions PositionPublisher
	logger    *slog.Logger
	mux       *mux.Router
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Announcer == nil {
		d.Announcer = navigation.NewAnnouncer(navigation.DefaultConfig().VoiceThreshold)
	}
	s := &Server{
		session:   d.Session,
		tracker:   d.Tracker,
		nav:       d.Navigator,
		voice:     d.Announcer,
		settings:  d.Settings,
		hub:       d.Hub,
		positions: d.Positions,
		logger:    d.Logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/session", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/driver/online", s.handleSetOnline).Methods(http.MethodPost)
	api.HandleFunc("/driver/profile", s.handleUpdateProfile).Methods(http.MethodPut)
	api.HandleFunc("/requests/{id}/accept", s.handleAccept).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/decline", s.handleDecline).Methods(http.MethodPost)
	api.HandleFunc("/trips/{id}/advance", s.handleAdvance).Methods(http.MethodPost)
	api.HandleFunc("/trips/{id}/complete", s.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/history/{id}/feedback", s.handleFeedback).Methods(http.MethodPost)

	api.HandleFunc("/tracking", s.handleTrackingState).Methods(http.MethodGet)
	api.HandleFunc("/tracking/permission", s.handleRequestPermission).Methods(http.MethodPost)
	api.HandleFunc("/tracking/acquire", s.handleAcquire).Methods(http.MethodPost)
	api.HandleFunc("/tracking/start", s.handleTrackingStart).Methods(http.MethodPost)
	api.HandleFunc("/tracking/stop", s.handleTrackingStop).Methods(http.MethodPost)

	api.HandleFunc("/navigation", s.handleNavigationState).Methods(http.MethodGet)
	api.HandleFunc("/navigation/start", s.handleNavigationStart).Methods(http.MethodPost)
	api.HandleFunc("/navigation/stop", s.handleNavigationStop).Methods(http.MethodPost)
	api.HandleFunc("/navigation/link", s.handleNavigationLink).Methods(http.MethodGet)

	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handlePutSettings).Methods(http.MethodPut)

	if s.hub != nil {
		s.mux.Handle("/ws", s.hub)
	}
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *Server) handleSetOnline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := decode(r, &body); err != nil || body.Online == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"online\": bool}")
		return
	}
	writeJSON(w, http.StatusOK, s.session.SetOnline(r.Context(), *body.Online))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name    string         `json:"name"`
		Email   string         `json:"email"`
		Phone   string         `json:"phone"`
		Vehicle models.Vehicle `json:"vehicle"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	writeJSON(w, http.StatusOK, s.session.UpdateProfile(r.Context(), body.Name, body.Email, body.Phone, body.Vehicle))
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	tr, err := s.session.AcceptRequest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	if err := s.session.DeclineRequest(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.TripStatus `json:"status"`
	}
	if err := decode(r, &body); err != nil || !body.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown trip status")
		return
	}
	tr, err := s.session.Advance(r.Context(), mux.Vars(r)["id"], body.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	rec, err := s.session.CompleteTrip(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rating   int      `json:"rating"`
		Feedback string   `json:"feedback"`
		Tip      *float64 `json:"tip"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.session.AttachPassengerFeedback(r.Context(), mux.Vars(r)["id"], body.Rating, body.Feedback, body.Tip)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleTrackingState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.State())
}

func (s *Server) handleRequestPermission(w http.ResponseWriter, r *http.Request) {
	p, err := s.tracker.RequestPermission(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]models.PermissionState{"permission": p})
}

func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	sample, err := s.tracker.Acquire(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

func (s *Server) handleTrackingStart(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.Start(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.State())
}

func (s *Server) handleTrackingStop(w http.ResponseWriter, r *http.Request) {
	s.tracker.Stop()
	writeJSON(w, http.StatusOK, s.tracker.State())
}

type navigationResponse struct {
	Route *models.Route          `json:"route,omitempty"`
	State models.NavigationState `json:"state"`
	Voice string                 `json:"voice,omitempty"`
}

func (s *Server) handleNavigationState(w http.ResponseWriter, r *http.Request) {
	route, _ := s.nav.Route()
	writeJSON(w, http.StatusOK, navigationResponse{Route: route, State: s.nav.State()})
}

func (s *Server) handleNavigationStart(w http.ResponseWriter, r *http.Request) {
	var dest models.Coord
	if err := decode(r, &dest); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !validCoord(dest) {
		writeError(w, http.StatusBadRequest, "destination out of range")
		return
	}
	from, err := s.origin(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	route, st := s.nav.Start(from, dest)
	s.voice.Reset()
	resp := navigationResponse{Route: &route, State: st}
	if s.voiceEnabled(r.Context()) {
		resp.Voice, _ = s.voice.Next(st.Current)
	}
	s.logger.Info("navigation started", "distance", route.Distance, "traffic", route.Traffic)
	writeJSON(w, http.StatusOK, resp)
}

// origin is the latest tracked position, or a fresh fix when none exists.
func (s *Server) origin(ctx context.Context) (models.Coord, error) {
	if cur := s.tracker.State().Current; cur != nil {
		return cur.Coord, nil
	}
	sample, err := s.tracker.Acquire(ctx)
	if err != nil {
		return models.Coord{}, err
	}
	return sample.Coord, nil
}

func (s *Server) handleNavigationStop(w http.ResponseWriter, r *http.Request) {
	s.nav.Stop()
	s.voice.Reset()
	writeJSON(w, http.StatusOK, navigationResponse{State: s.nav.State()})
}

func (s *Server) handleNavigationLink(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil || !validCoord(models.Coord{Lat: lat, Lng: lng}) {
		writeError(w, http.StatusBadRequest, "lat and lng must be valid coordinates")
		return
	}
	provider := models.MapProvider(q.Get("provider"))
	if provider == "" {
		st, err := s.settings.LoadSettings(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		provider = st.MapProvider
	}
	link, err := navigation.DeepLink(provider, models.Coord{Lat: lat, Lng: lng})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"provider": string(provider), "url": link})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.settings.LoadSettings(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var st models.Settings
	if err := decode(r, &st); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !st.MapProvider.Valid() {
		writeError(w, http.StatusBadRequest, "unknown map provider")
		return
	}
	if err := s.settings.SaveSettings(r.Context(), st); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) voiceEnabled(ctx context.Context) bool {
	st, err := s.settings.LoadSettings(ctx)
	if err != nil {
		s.logger.Warn("load settings failed", "error", err)
		return false
	}
	return st.VoiceEnabled
}

type positionFrame struct {
	Type   string           `json:"type"`
	Sample models.GPSSample `json:"sample"`
}

type navigationFrame struct {
	Type    string                 `json:"type"`
	State   models.NavigationState `json:"state"`
	Voice   string                 `json:"voice,omitempty"`
	Arrived bool                   `json:"arrived,omitempty"`
}

// OnPosition is the tracker listener that keeps the driver location,
// navigation and downstream consumers in step with each recorded sample.
func (s *Server) OnPosition(ctx context.Context, sample models.GPSSample) {
	observability.PositionSamples.Inc()
	s.session.UpdateLocation(sample.Coord)
	driverID := s.session.Driver().ID

	if s.positions != nil {
		if err := s.positions.PublishPosition(ctx, driverID, sample); err != nil {
			s.logger.Warn("publish position failed", "driver_id", driverID, "error", err)
		}
	}
	if s.hub != nil {
		s.hub.Broadcast(positionFrame{Type: "position", Sample: sample})
	}

	if route, _ := s.nav.Route(); route == nil {
		return
	}
	st := s.nav.Recompute(sample.Coord)
	frame := navigationFrame{Type: "navigation", State: st}
	if !st.Active {
		frame.Arrived = true
		observability.NavigationArrivals.Inc()
		s.voice.Reset()
		s.logger.Info("navigation arrived", "driver_id", driverID)
	} else if s.voiceEnabled(ctx) {
		frame.Voice, _ = s.voice.Next(st.Current)
	}
	if s.hub != nil {
		s.hub.Broadcast(frame)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if kind := locationErrorKind(err); kind != "" {
		observability.LocationErrors.WithLabelValues(kind).Inc()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routeTemplate(r), "error", err, "request_id", requestIDFromContext(r.Context()))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, trip.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, trip.ErrUnknownEntity):
		return http.StatusNotFound
	case errors.Is(err, trip.ErrInvalidFeedback), errors.Is(err, navigation.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, tracking.ErrLocationPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, tracking.ErrLocationUnavailable), errors.Is(err, tracking.ErrLocationTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func locationErrorKind(err error) string {
	switch {
	case errors.Is(err, tracking.ErrLocationPermissionDenied):
		return "permission_denied"
	case errors.Is(err, tracking.ErrLocationUnavailable):
		return "unavailable"
	case errors.Is(err, tracking.ErrLocationTimeout):
		return "timeout"
	}
	return ""
}

func validCoord(c models.Coord) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
