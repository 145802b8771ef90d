package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"simhost/apperrors"
	"simhost/events"
	"simhost/host"
	"simhost/shared"
)

// API serves the HTTP control surface
type API struct {
	host *host.Host
	hub  *Hub
}

// NewAPI creates the HTTP handlers. hub may be nil when websockets are off.
func NewAPI(h *host.Host, hub *Hub) *API {
	return &API{host: h, hub: hub}
}

// Routes mounts every endpoint on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/health", a.handleHealth)
	r.Get("/status", a.handleStatus)
	r.Get("/channels", a.handleChannels)
	r.Post("/channels/{name}", a.handleRaise)
	r.Get("/logs", a.handleLogs)

	r.Route("/control", func(r chi.Router) {
		r.Post("/start", a.handleControl(a.host.Clock.Start))
		r.Post("/pause", a.handleControl(a.host.Clock.Pause))
		r.Post("/reset", a.handleControl(a.host.Clock.Reset))
		r.Put("/speed", a.handleSpeed)
	})

	if a.hub != nil {
		r.Get("/ws", a.hub.ServeWS)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.host.Clock.Status())
}

func (a *API) handleChannels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"channels": a.host.Directory.Names()})
}

// handleRaise decodes the body as the payload kind of the named channel and
// raises it there.
func (a *API) handleRaise(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	named, ok := a.host.Directory.Lookup(name)
	if !ok {
		// RaiseByName logs the miss the same way the clock's lookups do.
		err := events.RaiseByName(a.host.Directory, name, shared.Void{})
		writeAppError(w, err)
		return
	}

	var err error
	switch named.(type) {
	case *events.Channel[shared.Void]:
		err = events.RaiseByName(a.host.Directory, name, shared.Void{})
	case *events.Channel[shared.CombatResult]:
		err = raiseJSON[shared.CombatResult](a, r, name)
	case *events.Channel[shared.LevelUpData]:
		err = raiseJSON[shared.LevelUpData](a, r, name)
	default:
		err = apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			"channel "+name+" cannot be raised over HTTP",
			map[string]string{"channel": name})
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func raiseJSON[T any](a *API, r *http.Request, name string) error {
	var payload T
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid payload", err)
	}
	return events.RaiseByName(a.host.Directory, name, payload)
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.host.Sink.Entries())
}

// handleControl runs op and answers with the resulting status. A listener
// failure still applied the transition, so the body carries the status too.
func (a *API) handleControl(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(); err != nil {
			a.host.Log.Error("control listener failure", slog.String("path", r.URL.Path), slog.String("err", err.Error()))
			body := errorBody(err)
			body["status"] = a.host.Clock.Status()
			writeJSON(w, statusFor(err), body)
			return
		}
		writeJSON(w, http.StatusOK, a.host.Clock.Status())
	}
}

func (a *API) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req shared.SpeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	applied := a.host.Clock.SetSpeed(req.Speed)
	a.host.Log.Info("speed changed", slog.Float64("requested", req.Speed), slog.Float64("applied", applied))
	writeJSON(w, http.StatusOK, a.host.Clock.Status())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrListenerFailure):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError answers with the status code, error code and metadata of err.
func writeAppError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody(err))
}

func errorBody(err error) map[string]any {
	body := map[string]any{
		"error": err.Error(),
		"code":  apperrors.CodeOf(err),
	}
	if md := apperrors.MetadataOf(err); len(md) > 0 {
		body["metadata"] = md
	}
	return body
}
