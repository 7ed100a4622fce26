// Package tanks exposes the tank monitoring HTTP API.
package tanks

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kilianp07/tankwatch/core/ingest"
	"github.com/kilianp07/tankwatch/core/model"
	"github.com/kilianp07/tankwatch/core/query"
	"github.com/kilianp07/tankwatch/infra/logger"
	"github.com/kilianp07/tankwatch/internal/eventbus"
)

// Querier is the read side served by the API.
type Querier interface {
	CurrentState(tankID string) (model.TankState, error)
	StationTanks(stationID string) []model.TankState
	History(ctx context.Context, tankID string, rng model.TimeRange, g model.Granularity) (model.HistorySeries, error)
	Forecast(tankID string, h model.Horizon) (model.ForecastResult, error)
	ActiveAlerts(stationID string) []model.AlertState
}

// Submitter accepts pushed readings.
type Submitter interface {
	Submit(ctx context.Context, in model.ReadingInput) (ingest.Result, error)
}

// Provisioner registers or recalibrates a tank geometry.
type Provisioner interface {
	Provision(ctx context.Context, g model.TankGeometry) (model.TankGeometry, error)
}

// Handler serves the API routes.
type Handler struct {
	query  Querier
	ingest Submitter
	tanks  Provisioner
	hub    *Hub
	stats  func() map[string]eventbus.Stats
	log    logger.Logger
}

// NewHandler wires the API. hub and tanks may be nil to disable the
// websocket and geometry routes.
func NewHandler(q Querier, in Submitter, tanks Provisioner, hub *Hub) *Handler {
	return &Handler{query: q, ingest: in, tanks: tanks, hub: hub, log: logger.New("query-api")}
}

// WithBusStats makes /health report event bus subscribers and drops.
func (h *Handler) WithBusStats(fn func() map[string]eventbus.Stats) *Handler {
	h.stats = fn
	return h
}

// Router returns the API routes.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/readings", h.postReading).Methods(http.MethodPost)
	api.HandleFunc("/tanks/{id}/state", h.getState).Methods(http.MethodGet)
	api.HandleFunc("/tanks/{id}/history", h.getHistory).Methods(http.MethodGet)
	api.HandleFunc("/tanks/{id}/forecast", h.getForecast).Methods(http.MethodGet)
	api.HandleFunc("/stations/{id}/tanks", h.getStationTanks).Methods(http.MethodGet)
	api.HandleFunc("/stations/{id}/alerts", h.getStationAlerts).Methods(http.MethodGet)
	if h.tanks != nil {
		api.HandleFunc("/tanks/{id}/geometry", h.putGeometry).Methods(http.MethodPut)
	}
	if h.hub != nil {
		api.HandleFunc("/ws/alerts", h.hub.ServeWS).Methods(http.MethodGet)
	}
	return r
}

type healthResponse struct {
	Status string                    `json:"status"`
	Buses  map[string]eventbus.Stats `json:"buses,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.stats != nil {
		resp.Buses = h.stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

type readingResponse struct {
	ingest.Result
	Error string `json:"error,omitempty"`
}

// readingRequest keeps the distance raw so that a missing, null or
// non-numeric value reaches the validator as NaN and is rejected and counted
// as non_numeric instead of decoding to 0 (a full tank).
type readingRequest struct {
	TankID        string          `json:"tank_id"`
	RawDistanceCm json.RawMessage `json:"raw_distance_cm"`
	CapturedAt    time.Time       `json:"captured_at"`
}

func (r readingRequest) input() model.ReadingInput {
	in := model.ReadingInput{TankID: r.TankID, RawDistanceCm: math.NaN(), CapturedAt: r.CapturedAt}
	var d *float64
	if err := json.Unmarshal(r.RawDistanceCm, &d); err == nil && d != nil {
		in.RawDistanceCm = *d
	}
	return in
}

func (h *Handler) postReading(w http.ResponseWriter, r *http.Request) {
	var req readingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	in := req.input()
	res, err := h.ingest.Submit(r.Context(), in)
	if err != nil {
		status := statusOf(err)
		if status >= http.StatusInternalServerError {
			h.log.Errorf("tank %s: submit: %v", in.TankID, err)
		}
		writeJSON(w, status, readingResponse{Result: res, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, readingResponse{Result: res})
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	st, err := h.query.CurrentState(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	g, err := model.ParseGranularity(q.Get("granularity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var rng model.TimeRange
	if rng.From, err = parseTime(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if rng.To, err = parseTime(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !rng.From.IsZero() && !rng.To.IsZero() && !rng.From.Before(rng.To) {
		writeError(w, http.StatusBadRequest, errors.New("from must be before to"))
		return
	}
	series, err := h.query.History(r.Context(), mux.Vars(r)["id"], rng, g)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (h *Handler) getForecast(w http.ResponseWriter, r *http.Request) {
	hz := r.URL.Query().Get("horizon")
	if hz == "" {
		hz = string(model.HorizonWeek)
	}
	horizon, err := model.ParseHorizon(hz)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.query.Forecast(mux.Vars(r)["id"], horizon)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) getStationTanks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.query.StationTanks(mux.Vars(r)["id"]))
}

func (h *Handler) getStationAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.query.ActiveAlerts(mux.Vars(r)["id"]))
}

func (h *Handler) putGeometry(w http.ResponseWriter, r *http.Request) {
	var g model.TankGeometry
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g.TankID = mux.Vars(r)["id"]
	stored, err := h.tanks.Provision(r.Context(), g)
	if err != nil {
		writeJSON(w, statusOf(err), map[string]any{"geometry": stored, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// statusOf maps the core error taxonomy onto HTTP status codes.
func statusOf(err error) int {
	var (
		verr *model.ValidationError
		derr *model.DurabilityError
		gerr *model.GeometryConfigError
	)
	switch {
	case errors.Is(err, model.ErrUnknownTank):
		return http.StatusNotFound
	case errors.As(err, &verr):
		if verr.Reason == model.RejectUnknownTank {
			return http.StatusNotFound
		}
		return http.StatusUnprocessableEntity
	case errors.As(err, &gerr):
		return http.StatusConflict
	case errors.As(err, &derr), errors.Is(err, ingest.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, query.ErrTooManyPoints):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
