package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shelfware/shelfsyncgo/internal/models"
)

// syncStatus reports engine state and queue depths
func (r *Router) syncStatus(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, r.engine.Status())
}

// triggerSync requests an immediate sync pass
func (r *Router) triggerSync(w http.ResponseWriter, req *http.Request) {
	r.engine.RequestSync()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

// listSyncEvents serves the event log for the history view
func (r *Router) listSyncEvents(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()

	limit := 100
	if n, err := strconv.Atoi(query.Get("limit")); err == nil && n > 0 {
		limit = n
	}

	events, err := r.store.ListEvents(
		models.EntityType(query.Get("entity")),
		models.EventStatus(query.Get("status")),
		limit,
	)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// retrySyncEvent requeues a failed event, including permanently rejected
// ones the user has since corrected
func (r *Router) retrySyncEvent(w http.ResponseWriter, req *http.Request) {
	eventID := mux.Vars(req)["id"]
	if err := r.store.RetryEvent(eventID); err != nil {
		respondError(w, err)
		return
	}
	r.engine.RequestSync()
	respondJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

// storageStats reports local storage usage
func (r *Router) storageStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.store.GetStorageStats()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
