/**
 * @description
 * This file contains the HTTP handler functions for the stats service read
 * surface. Handlers parse incoming requests, call the engine's read
 * service, and write the HTTP response. Missing data is reported as
 * "no data available", never as a raw internal error.
 */
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sellerpulse/stats-service/internal/app"
)

// Handler holds the read service that handlers interact with.
type Handler struct {
	service *app.Service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service *app.Service) *Handler {
	return &Handler{service: service}
}

// handleGetSnapshot returns the stored snapshot for one account and date.
func (h *Handler) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	date, ok := parseDate(w, chi.URLParam(r, "date"))
	if !ok {
		return
	}

	stats, err := h.service.GetSnapshot(r.Context(), accountID, date)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, stats)
}

// handleGetTrend returns the day-over-day trend for one account and date.
func (h *Handler) handleGetTrend(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	date, ok := parseDate(w, chi.URLParam(r, "date"))
	if !ok {
		return
	}

	trend, err := h.service.GetTrend(r.Context(), accountID, date)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, trend)
}

// handleGetHistory returns averaged statistics over a trailing window.
// The window length comes from the `days` query parameter (default 7).
func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 60 {
			respondWithError(w, http.StatusBadRequest, "days must be a number between 1 and 60")
			return
		}
		days = parsed
	}

	summary, err := h.service.GetHistory(r.Context(), accountID, days, time.Now().UTC())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}

func parseDate(w http.ResponseWriter, raw string) (time.Time, bool) {
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "date must be in YYYY-MM-DD format")
		return time.Time{}, false
	}
	return date, true
}

func respondServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, app.ErrNoData) {
		respondWithError(w, http.StatusNotFound, "no data available")
		return
	}
	respondWithError(w, http.StatusInternalServerError, "internal error")
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
