package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"transitalerts/internal/alerts"
	"transitalerts/internal/query"
)

type handler struct {
	svc    *query.Service
	logger *slog.Logger
}

func newHandler(svc *query.Service, logger *slog.Logger) *handler {
	return &handler{svc: svc, logger: logger}
}

// writeJSON encodes v with HTML escaping disabled; encoding/json already
// writes non-ASCII text such as Hebrew unescaped.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps a store/query failure to the §7 error-handling
// contract: a transient DB error surfaces as 503, everything else as 500.
func writeStoreError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, alerts.ErrStoreTransient) {
		writeError(w, http.StatusServiceUnavailable, "store temporarily unavailable")
		return
	}
	logger.Error("query failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// parseLocation reads current_location=lat_lon, two floats separated by an
// underscore, rounded by the caller via query.Location.key(). A missing
// parameter is not an error: it means "no location given".
func parseLocation(r *http.Request) (*query.Location, error) {
	raw := r.URL.Query().Get("current_location")
	if raw == "" {
		return nil, nil
	}
	parts := strings.SplitN(raw, "_", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("current_location must be lat_lon")
	}
	lat, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude: %w", err)
	}
	return &query.Location{Lat: lat, Lon: lon}, nil
}

func (h *handler) allAlerts(w http.ResponseWriter, r *http.Request) {
	loc, err := parseLocation(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.svc.AllAlerts(r.Context(), loc)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) singleAlert(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	loc, err := parseLocation(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := h.svc.SingleAlert(r.Context(), id, loc)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	if out == nil {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getRouteChanges(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	out, err := h.svc.GetRouteChanges(r.Context(), id)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	if out == nil {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) allLines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.AllLines(r.Context()))
}

func (h *handler) singleLine(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	info, ok := h.svc.SingleLine(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, "line not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}
