package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/hthome/hiot/pkg/hiot"
	"github.com/hthome/hiot/pkg/log"
)

const maxRequestBody = 1 << 20

type statusResponse struct {
	SiteID           string    `json:"siteId"`
	Authenticated    bool      `json:"authenticated"`
	LastUpdate       time.Time `json:"lastUpdate"`
	LastEnergyUpdate time.Time `json:"lastEnergyUpdate"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, statusResponse{
		SiteID:           s.snapshots.SiteID(),
		Authenticated:    s.api.Authenticated(),
		LastUpdate:       s.snapshots.LastUpdate(),
		LastEnergyUpdate: s.snapshots.LastEnergyUpdate(),
	})
}

func (s *Server) handleHouseholds(w http.ResponseWriter, r *http.Request) {
	households, err := s.api.Households(r.Context())
	if err != nil {
		writeUpstreamError(w, r, "failed to list households", err)
		return
	}
	writeJSON(w, struct {
		Households []hiot.Household `json:"households"`
	}{households})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.snapshots.Devices()
	if devices == nil {
		writeJSONError(w, "device catalog not loaded yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, struct {
		SiteID  string        `json:"siteId"`
		Devices []hiot.Device `json:"devices"`
	}{s.snapshots.SiteID(), devices})
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	states := s.snapshots.DeviceStates()
	if states == nil {
		writeJSONError(w, "device states not loaded yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, struct {
		SiteID    string            `json:"siteId"`
		UpdatedAt time.Time         `json:"updatedAt"`
		States    hiot.DeviceStates `json:"states"`
	}{s.snapshots.SiteID(), s.snapshots.LastUpdate(), states})
}

// devicePathValues returns the category and device id from the route or
// writes a 400.
func devicePathValues(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	category := r.PathValue("category")
	if !hiot.IsCategory(category) {
		writeJSONError(w, "invalid category", http.StatusBadRequest)
		return "", "", false
	}
	deviceID := r.PathValue("deviceID")
	if deviceID == "" {
		writeJSONError(w, "deviceID required", http.StatusBadRequest)
		return "", "", false
	}
	return category, deviceID, true
}

func (s *Server) handleDeviceState(w http.ResponseWriter, r *http.Request) {
	category, deviceID, ok := devicePathValues(w, r)
	if !ok {
		return
	}
	state, err := s.api.DeviceState(r.Context(), category, deviceID)
	if err != nil {
		writeUpstreamError(w, r, "failed to get device state", err)
		return
	}
	writeJSON(w, state)
}

type controlRequest struct {
	CommandList []hiot.Status `json:"commandList"`
}

func (s *Server) handleControlDevice(w http.ResponseWriter, r *http.Request) {
	category, deviceID, ok := devicePathValues(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var req controlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode control request", slog.Any("error", err))
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if len(req.CommandList) == 0 {
		writeJSONError(w, "commandList required", http.StatusBadRequest)
		return
	}
	for _, c := range req.CommandList {
		if c.Command == "" {
			writeJSONError(w, "command required", http.StatusBadRequest)
			return
		}
	}

	if u, ok := userFromContext(ctx); ok {
		log.Ctx(ctx).InfoContext(
			ctx,
			"device control requested",
			slog.String("email", u.Email),
			slog.String("subject", u.Subject),
			slog.String("category", category),
			slog.String("deviceID", deviceID),
		)
	}

	result, err := s.api.ControlDevice(ctx, category, deviceID, req.CommandList)
	if err != nil {
		writeUpstreamError(w, r, "failed to control device", err)
		return
	}
	s.snapshots.Refresh()
	writeJSON(w, result)
}
