package companion

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (a *API) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	devices, err := a.devices.List(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func (a *API) handleClaimDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hostname string `json:"hostname"`
		Profile  string `json:"profile"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	device, err := a.devices.Claim(ctx, strings.TrimSpace(req.Hostname), strings.TrimSpace(req.Profile))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"device": device})
}

func (a *API) handleReleaseDevice(w http.ResponseWriter, r *http.Request) {
	hostname := strings.TrimSpace(chi.URLParam(r, "hostname"))
	if hostname == "" {
		respondError(w, http.StatusBadRequest, errors.New("hostname is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	device, err := a.devices.Release(ctx, hostname)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"device": device})
}
