// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package fitsync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

const maxBodyBytes = 1 << 20

// ClientAuthenticator extracts the signed-in user from HTTP requests.
// Implementations should validate auth (e.g., JWT).
type ClientAuthenticator interface {
	GetUserID(r *http.Request) (string, error)
}

// HTTPHandlers serves the per-user record API on top of a Store
type HTTPHandlers struct {
	store         Store
	authenticator ClientAuthenticator
	logger        *slog.Logger
	now           func() time.Time
}

// NewHTTPHandlers creates a new instance of the record handlers
func NewHTTPHandlers(store Store, authenticator ClientAuthenticator, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{
		store:         store,
		authenticator: authenticator,
		logger:        logger,
		now:           time.Now,
	}
}

// Register mounts every API route on mux
func (h *HTTPHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("PUT "+RouteWorkouts, instrument(RouteWorkouts, h.HandlePutWorkout))
	mux.HandleFunc("DELETE "+RouteWorkouts+"/{clientID}", instrument(RouteWorkouts, h.HandleDeleteWorkout))
	mux.HandleFunc("GET "+RouteWorkouts, instrument(RouteWorkouts, h.HandleListWorkouts))

	mux.HandleFunc("PUT "+RouteMeals, instrument(RouteMeals, h.HandlePutMeal))
	mux.HandleFunc("DELETE "+RouteMeals+"/{clientID}", instrument(RouteMeals, h.HandleDeleteMeal))
	mux.HandleFunc("GET "+RouteMeals, instrument(RouteMeals, h.HandleListMeals))

	mux.HandleFunc("PUT "+RouteDailyMetrics, instrument(RouteDailyMetrics, h.HandlePutDailyMetric))
	mux.HandleFunc("GET "+RouteDailyMetrics+"/{day}", instrument(RouteDailyMetrics, h.HandleGetDailyMetric))
	mux.HandleFunc("GET "+RouteDailyMetrics, instrument(RouteDailyMetrics, h.HandleListDailyMetrics))
}

func (h *HTTPHandlers) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := h.authenticator.GetUserID(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, CodeAuthFailed, err.Error())
		return "", false
	}
	return userID, true
}

func (h *HTTPHandlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Failed to parse request body")
		return false
	}
	return true
}

// dayRange reads from/to query parameters; to defaults to today and from to six days earlier.
func (h *HTTPHandlers) dayRange(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	q := r.URL.Query()
	to := q.Get("to")
	if to == "" {
		to = h.now().UTC().Format(DayLayout)
	}
	toDay, err := ParseDay(to)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return "", "", false
	}
	from := q.Get("from")
	if from == "" {
		from = toDay.AddDate(0, 0, -6).Format(DayLayout)
	}
	fromDay, err := ParseDay(from)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return "", "", false
	}
	if fromDay.After(toDay) {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, "from must not be after to")
		return "", "", false
	}
	return from, to, true
}

// HandlePutWorkout upserts one workout for the authenticated user
func (h *HTTPHandlers) HandlePutWorkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var row WorkoutRow
	if !h.decode(w, r, &row) {
		return
	}
	if err := h.store.UpsertWorkout(r.Context(), userID, row); err != nil {
		h.writeStoreError(w, err, "Failed to upsert workout", "client_id", row.ClientID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteWorkout deletes one workout by idempotency key
func (h *HTTPHandlers) HandleDeleteWorkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	clientID := r.PathValue("clientID")
	if err := h.store.DeleteWorkout(r.Context(), userID, clientID); err != nil {
		h.writeStoreError(w, err, "Failed to delete workout", "client_id", clientID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListWorkouts lists workouts in a local-day range
func (h *HTTPHandlers) HandleListWorkouts(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	from, to, ok := h.dayRange(w, r)
	if !ok {
		return
	}
	rows, err := h.store.ListWorkouts(r.Context(), userID, from, to)
	if err != nil {
		h.writeStoreError(w, err, "Failed to list workouts")
		return
	}
	h.writeJSON(w, WorkoutListResponse{Workouts: rows})
}

// HandlePutMeal upserts one meal for the authenticated user
func (h *HTTPHandlers) HandlePutMeal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var row MealRow
	if !h.decode(w, r, &row) {
		return
	}
	if err := h.store.UpsertMeal(r.Context(), userID, row); err != nil {
		h.writeStoreError(w, err, "Failed to upsert meal", "client_id", row.ClientID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeleteMeal deletes one meal by idempotency key
func (h *HTTPHandlers) HandleDeleteMeal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	clientID := r.PathValue("clientID")
	if err := h.store.DeleteMeal(r.Context(), userID, clientID); err != nil {
		h.writeStoreError(w, err, "Failed to delete meal", "client_id", clientID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListMeals lists meals in a local-day range
func (h *HTTPHandlers) HandleListMeals(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	from, to, ok := h.dayRange(w, r)
	if !ok {
		return
	}
	rows, err := h.store.ListMeals(r.Context(), userID, from, to)
	if err != nil {
		h.writeStoreError(w, err, "Failed to list meals")
		return
	}
	h.writeJSON(w, MealListResponse{Meals: rows})
}

// HandlePutDailyMetric upserts the aggregate for (user, local_day)
func (h *HTTPHandlers) HandlePutDailyMetric(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var row DailyMetricRow
	if !h.decode(w, r, &row) {
		return
	}
	if err := h.store.UpsertDailyMetric(r.Context(), userID, row); err != nil {
		h.writeStoreError(w, err, "Failed to upsert daily metric", "local_day", row.LocalDay)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetDailyMetric returns one day's aggregate or 404
func (h *HTTPHandlers) HandleGetDailyMetric(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	day := r.PathValue("day")
	if _, err := ParseDay(day); err != nil {
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	row, err := h.store.GetDailyMetric(r.Context(), userID, day)
	if err != nil {
		h.writeStoreError(w, err, "Failed to get daily metric", "local_day", day)
		return
	}
	if row == nil {
		h.writeError(w, http.StatusNotFound, CodeNotFound, "No daily metric for "+day)
		return
	}
	h.writeJSON(w, row)
}

// HandleListDailyMetrics lists aggregates in a local-day range
func (h *HTTPHandlers) HandleListDailyMetrics(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	from, to, ok := h.dayRange(w, r)
	if !ok {
		return
	}
	rows, err := h.store.ListDailyMetrics(r.Context(), userID, from, to)
	if err != nil {
		h.writeStoreError(w, err, "Failed to list daily metrics")
		return
	}
	h.writeJSON(w, DailyMetricListResponse{Metrics: rows})
}

func (h *HTTPHandlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeStoreError maps store errors to HTTP statuses
func (h *HTTPHandlers) writeStoreError(w http.ResponseWriter, err error, msg string, attrs ...any) {
	switch {
	case errors.Is(err, ErrInvalidRow):
		h.writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case errors.Is(err, ErrOwnershipConflict):
		ownershipConflicts.Inc()
		h.writeError(w, http.StatusConflict, CodeOwnershipConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	default:
		h.logger.Error(msg, append([]any{"error", err}, attrs...)...)
		h.writeError(w, http.StatusInternalServerError, CodeInternal, msg)
	}
}

// writeError writes an error response
func (h *HTTPHandlers) writeError(w http.ResponseWriter, status int, errorCode, message string) {
	h.logger.Debug("Request failed", "status", status, "error", errorCode, "message", message)
	writeJSONError(w, status, errorCode, message)
}

func writeJSONError(w http.ResponseWriter, status int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
