package companion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"dashmaster/pkg/device"
	"dashmaster/services/delivery"
	"dashmaster/services/packs"
	"dashmaster/services/registry"
	"dashmaster/services/snapshot"
)

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// respondEngineError maps delivery pipeline failures onto HTTP statuses. The
// body always carries "error"; validation adds "path", push failures add the
// failing artifact and device status code.
func respondEngineError(w http.ResponseWriter, err error) {
	var verr *packs.ValidationError
	if errors.As(err, &verr) {
		body := map[string]any{"error": verr.Error()}
		if verr.Path != "" {
			body["path"] = verr.Path
		}
		respondJSON(w, http.StatusBadRequest, body)
		return
	}

	var eerr *packs.EncodingError
	if errors.As(err, &eerr) {
		respondJSON(w, http.StatusBadRequest, map[string]any{"error": eerr.Error()})
		return
	}

	var perr *device.PushError
	if errors.As(err, &perr) {
		respondJSON(w, http.StatusBadGateway, map[string]any{
			"error":    perr.Error(),
			"artifact": perr.Kind.Filename(),
			"status":   perr.Status,
		})
		return
	}

	var serr *delivery.PersistenceError
	if errors.As(err, &serr) {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, snapshot.ErrNotFound):
		respondError(w, http.StatusNotFound, err)
	case errors.Is(err, registry.ErrConflict), errors.Is(err, snapshot.ErrNoSnapshots):
		respondError(w, http.StatusConflict, err)
	default:
		respondError(w, http.StatusInternalServerError, err)
	}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}
