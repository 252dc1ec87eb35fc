package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hthome/hiot/pkg/hiot"
	"github.com/hthome/hiot/pkg/log"
	"github.com/hthome/hiot/pkg/storage"
)

const maxHistoryDays = 366

func (s *Server) handleEnergy(w http.ResponseWriter, r *http.Request) {
	energy := s.snapshots.Energy()
	if energy == nil {
		writeJSONError(w, "energy data not loaded yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, struct {
		SiteID    string          `json:"siteId"`
		UpdatedAt time.Time       `json:"updatedAt"`
		Energy    hiot.EnergyData `json:"energy"`
	}{s.snapshots.SiteID(), s.snapshots.LastEnergyUpdate(), energy})
}

func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	start, err := time.Parse(storage.DateLayout, q.Get("start"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid start date")
	}
	end, err := time.Parse(storage.DateLayout, q.Get("end"))
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid end date")
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.New("end is before start")
	}
	if end.Sub(start) > maxHistoryDays*24*time.Hour {
		return time.Time{}, time.Time{}, errors.New("date range too large")
	}
	return start, end, nil
}

func (s *Server) handleEnergyHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := parseDateRange(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	history, err := s.storage.GetEnergyHistory(ctx, s.snapshots.SiteID(), start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get energy history", slog.Any("error", err))
		writeJSONError(w, "failed to get energy history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []storage.EnergySnapshot{}
	}
	writeJSON(w, struct {
		SiteID  string                   `json:"siteId"`
		History []storage.EnergySnapshot `json:"history"`
	}{s.snapshots.SiteID(), history})
}
