package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shelfware/shelfsyncgo/internal/models"
	"github.com/shelfware/shelfsyncgo/internal/store"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
)

func entityFromRequest(req *http.Request) (models.EntityType, error) {
	entity := models.EntityType(mux.Vars(req)["entity"])
	if !entity.IsValid() {
		return "", &syncerr.ValidationError{Field: "entity", Reason: fmt.Sprintf("unknown entity type %q", entity)}
	}
	return entity, nil
}

// listEntities serves the mirror list for one entity type
func (r *Router) listEntities(w http.ResponseWriter, req *http.Request) {
	entity, err := entityFromRequest(req)
	if err != nil {
		respondError(w, err)
		return
	}

	query := req.URL.Query()
	filter := store.Filter{
		Status:         models.SyncStatus(query.Get("status")),
		IncludeDeleted: query.Get("include_deleted") == "true",
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		filter.Limit = limit
	}

	records, err := r.store.List(entity, filter)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// createEntity records a CREATE mutation: mirror row plus queued event
func (r *Router) createEntity(w http.ResponseWriter, req *http.Request) {
	r.applyMutation(w, req, models.EventCreate, "")
}

// getEntity serves one mirror record
func (r *Router) getEntity(w http.ResponseWriter, req *http.Request) {
	entity, err := entityFromRequest(req)
	if err != nil {
		respondError(w, err)
		return
	}

	rec, err := r.store.Get(entity, mux.Vars(req)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// getEntityByQR resolves a scanned code against the mirror
func (r *Router) getEntityByQR(w http.ResponseWriter, req *http.Request) {
	entity, err := entityFromRequest(req)
	if err != nil {
		respondError(w, err)
		return
	}

	rec, err := r.store.GetByQRCode(entity, mux.Vars(req)["code"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (r *Router) updateEntity(w http.ResponseWriter, req *http.Request) {
	r.applyMutation(w, req, models.EventUpdate, mux.Vars(req)["id"])
}

func (r *Router) deleteEntity(w http.ResponseWriter, req *http.Request) {
	r.applyMutation(w, req, models.EventDelete, mux.Vars(req)["id"])
}

// moveEntity records a placement change (container or location)
func (r *Router) moveEntity(w http.ResponseWriter, req *http.Request) {
	r.applyMutation(w, req, models.EventMove, mux.Vars(req)["id"])
}

// assignEntity records a categorization change (category or source)
func (r *Router) assignEntity(w http.ResponseWriter, req *http.Request) {
	r.applyMutation(w, req, models.EventAssign, mux.Vars(req)["id"])
}

func (r *Router) applyMutation(w http.ResponseWriter, req *http.Request, evType models.EventType, entityID string) {
	entity, err := entityFromRequest(req)
	if err != nil {
		respondError(w, err)
		return
	}
	payload, err := decodeBody(req)
	if err != nil {
		respondError(w, err)
		return
	}

	rec, event, err := r.store.ApplyLocalMutation(entity, evType, entityID, payload)
	if err != nil {
		respondError(w, err)
		return
	}

	// A queued write is worth a nudge; the pass itself decides connectivity.
	r.engine.RequestSync()

	status := http.StatusOK
	if evType == models.EventCreate {
		status = http.StatusCreated
	}
	respondJSON(w, status, map[string]interface{}{
		"record":  rec,
		"eventId": event.EventID,
	})
}
