// Package handlers exposes the local HTTP surface the UI talks to. Every
// read is served from the mirror; every write goes through the store's
// mutation path so it lands on the event log.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shelfware/shelfsyncgo/internal/buildinfo"
	"github.com/shelfware/shelfsyncgo/internal/store"
	"github.com/shelfware/shelfsyncgo/internal/sync"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
	"github.com/shelfware/shelfsyncgo/internal/websocket"
)

// Router wraps the mux router with its dependencies
type Router struct {
	*mux.Router
	store  *store.Store
	engine *sync.Engine
	hub    *websocket.Hub
}

// NewRouter creates the HTTP router with all routes
func NewRouter(st *store.Store, engine *sync.Engine, hub *websocket.Hub) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		store:  st,
		engine: engine,
		hub:    hub,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Sync control
	syncAPI := r.PathPrefix("/api/sync").Subrouter()
	syncAPI.HandleFunc("/status", r.syncStatus).Methods("GET")
	syncAPI.HandleFunc("/trigger", r.triggerSync).Methods("POST")
	syncAPI.HandleFunc("/events", r.listSyncEvents).Methods("GET")
	syncAPI.HandleFunc("/events/{id}/retry", r.retrySyncEvent).Methods("POST")

	// Conflict review
	conflicts := r.PathPrefix("/api/conflicts").Subrouter()
	conflicts.HandleFunc("", r.listConflicts).Methods("GET")
	conflicts.HandleFunc("/{id}", r.getConflict).Methods("GET")
	conflicts.HandleFunc("/{id}/resolve", r.resolveConflict).Methods("POST")

	// Storage diagnostics
	r.HandleFunc("/api/stats", r.storageStats).Methods("GET")

	// QR label rendering
	r.HandleFunc("/api/qrcode/{code}", r.renderQRCode).Methods("GET")

	// Staged image retrieval, placeholder URLs point here
	r.HandleFunc("/api/images/{id}", r.getImage).Methods("GET")

	// Entity CRUD, one generic surface for all mirror tables
	entities := r.PathPrefix("/api/{entity}").Subrouter()
	entities.HandleFunc("", r.listEntities).Methods("GET")
	entities.HandleFunc("", r.createEntity).Methods("POST")
	entities.HandleFunc("/qr/{code}", r.getEntityByQR).Methods("GET")
	entities.HandleFunc("/{id}", r.getEntity).Methods("GET")
	entities.HandleFunc("/{id}", r.updateEntity).Methods("PATCH")
	entities.HandleFunc("/{id}", r.deleteEntity).Methods("DELETE")
	entities.HandleFunc("/{id}/move", r.moveEntity).Methods("POST")
	entities.HandleFunc("/{id}/assign", r.assignEntity).Methods("POST")
	entities.HandleFunc("/{id}/image", r.stageImage).Methods("POST")

	// Change notifications
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		websocket.ServeWs(hub, w, req)
	})

	return r
}

// healthCheck returns the health status of the local node
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"device":  r.store.DeviceID(),
		"started": buildinfo.StartTime,
		"commit":  buildinfo.CommitHash,
	})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError maps a sync error onto its HTTP status
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, syncerr.ErrNotFound):
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case syncerr.IsValidation(err):
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case syncerr.IsDuplicate(err):
		respondJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func decodeBody(req *http.Request) (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	if req.Body == nil {
		return payload, nil
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		return nil, &syncerr.ValidationError{Field: "body", Reason: err.Error()}
	}
	return payload, nil
}
