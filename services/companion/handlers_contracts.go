package companion

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *API) handleListContracts(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"contracts": a.contracts.ContractNames()})
}

func (a *API) handleContract(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	raw, ok := a.contracts.Contract(name)
	if !ok {
		respondError(w, http.StatusNotFound, errors.New("unknown contract"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
