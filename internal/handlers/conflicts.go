package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shelfware/shelfsyncgo/internal/models"
)

// listConflicts serves conflicts awaiting review; ?include_resolved=true
// adds the history
func (r *Router) listConflicts(w http.ResponseWriter, req *http.Request) {
	includeResolved := req.URL.Query().Get("include_resolved") == "true"
	conflicts, err := r.store.GetConflicts(includeResolved)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conflicts)
}

func (r *Router) getConflict(w http.ResponseWriter, req *http.Request) {
	conflict, err := r.store.GetConflict(mux.Vars(req)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, conflict)
}

type resolveRequest struct {
	Resolution   models.Resolution      `json:"resolution"`
	ResolvedData map[string]interface{} `json:"resolvedData,omitempty"`
	ResolvedBy   string                 `json:"resolvedBy,omitempty"`
}

// resolveConflict applies the user's choice and nudges a sync pass so the
// unblocked entity drains promptly
func (r *Router) resolveConflict(w http.ResponseWriter, req *http.Request) {
	var body resolveRequest
	payload, err := decodeBody(req)
	if err != nil {
		respondError(w, err)
		return
	}
	if res, ok := payload["resolution"].(string); ok {
		body.Resolution = models.Resolution(res)
	}
	if data, ok := payload["resolvedData"].(map[string]interface{}); ok {
		body.ResolvedData = data
	}
	if by, ok := payload["resolvedBy"].(string); ok {
		body.ResolvedBy = by
	}

	conflict, err := r.engine.Resolver().Resolve(mux.Vars(req)["id"], body.Resolution, body.ResolvedData, body.ResolvedBy)
	if err != nil {
		respondError(w, err)
		return
	}

	r.engine.RequestSync()
	respondJSON(w, http.StatusOK, conflict)
}
