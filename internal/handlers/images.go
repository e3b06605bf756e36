package handlers

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
)

// maxUploadSize caps staged photos; phones produce ~5MB, anything past
// this is not a photo.
const maxUploadSize = 32 << 20

// stageImage accepts a photo for an entity and stages it for deferred
// upload. The owner's photo field gets a local placeholder immediately.
func (r *Router) stageImage(w http.ResponseWriter, req *http.Request) {
	entity, err := entityFromRequest(req)
	if err != nil {
		respondError(w, err)
		return
	}
	ownerID := mux.Vars(req)["id"]

	req.Body = http.MaxBytesReader(w, req.Body, maxUploadSize)
	if err := req.ParseMultipartForm(maxUploadSize); err != nil {
		respondError(w, &syncerr.ValidationError{Field: "file", Reason: "expected multipart form upload"})
		return
	}
	file, header, err := req.FormFile("file")
	if err != nil {
		respondError(w, &syncerr.ValidationError{Field: "file", Reason: "missing file field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, &syncerr.ValidationError{Field: "file", Reason: err.Error()})
		return
	}

	blob, err := r.store.StageImage(data, header.Filename, entity, ownerID)
	if err != nil {
		respondError(w, err)
		return
	}
	r.engine.RequestSync()

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"blobId":      blob.ID,
		"placeholder": blob.PlaceholderURL,
		"sizeBytes":   blob.SizeBytes,
	})
}

// getImage serves a staged blob so the UI can render placeholders before
// the upload completes
func (r *Router) getImage(w http.ResponseWriter, req *http.Request) {
	blob, err := r.store.GetImage(mux.Vars(req)["id"])
	if err != nil {
		respondError(w, err)
		return
	}

	data, err := r.store.ImageData(blob)
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", blob.ContentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
