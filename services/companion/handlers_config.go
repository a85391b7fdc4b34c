package companion

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"dashmaster/services/delivery"
	"dashmaster/services/packs"
)

func (a *API) handleUploadConfig(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")

	if err := r.ParseMultipartForm(a.config.MaxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	files := make(map[packs.Kind][]byte)
	for field, headers := range r.MultipartForm.File {
		kind, ok := packs.KindForFilename(field)
		if !ok {
			respondError(w, http.StatusBadRequest, fmt.Errorf("unknown artifact part %q", field))
			return
		}
		if len(headers) == 0 {
			continue
		}
		part, err := headers[0].Open()
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Errorf("open part %q: %w", field, err))
			return
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Errorf("read part %q: %w", field, err))
			return
		}
		files[kind] = data
	}
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, errors.New("no artifact parts in form"))
		return
	}

	res, err := a.engine.Upload(r.Context(), delivery.UploadRequest{
		Hostname: hostname,
		Files:    files,
		Actor:    strings.TrimSpace(r.FormValue("actor")),
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"device":   res.Device,
		"hashes":   digestColumns(res.Digests),
		"changed":  res.Changed,
		"snapshot": nullableLabel(res.SnapshotLabel),
	})
}

func (a *API) handleRollback(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")

	var req struct {
		Label string `json:"label"`
		Actor string `json:"actor"`
	}
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	res, err := a.engine.Rollback(r.Context(), delivery.RollbackRequest{
		Hostname: hostname,
		Label:    strings.TrimSpace(req.Label),
		Actor:    strings.TrimSpace(req.Actor),
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"device":         res.Device,
		"restored_label": res.RestoredLabel,
		"hashes":         digestColumns(res.Digests),
		"snapshot":       nullableLabel(res.SnapshotLabel),
	})
}

func (a *API) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")

	infos, err := a.engine.ListSnapshots(r.Context(), hostname)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"device":    hostname,
		"snapshots": infos,
	})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")

	entries, err := a.engine.History(r.Context(), hostname)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"device":  hostname,
		"history": entries,
	})
}

func (a *API) handleBirth(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")

	birth, err := a.engine.Birth(r.Context(), hostname)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"device": hostname,
		"birth":  birth,
	})
}

// digestColumns widens the pack's digests to the fixed six-column shape the
// history rows use. Kinds the pack did not carry stay null.
func digestColumns(digests map[packs.Kind]string) map[string]*string {
	out := make(map[string]*string, len(packs.Kinds()))
	for _, kind := range packs.Kinds() {
		if sum, ok := digests[kind]; ok {
			s := sum
			out[kind.String()] = &s
		} else {
			out[kind.String()] = nil
		}
	}
	return out
}

func nullableLabel(label string) *string {
	if label == "" {
		return nil
	}
	return &label
}
