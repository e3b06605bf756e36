package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shelfware/shelfsyncgo/internal/syncerr"
	qrcode "github.com/skip2/go-qrcode"
)

// renderQRCode renders a label PNG for the given code. Works offline, the
// code content is whatever the caller printed on the label.
func (r *Router) renderQRCode(w http.ResponseWriter, req *http.Request) {
	code := mux.Vars(req)["code"]
	if code == "" {
		respondError(w, &syncerr.ValidationError{Field: "code", Reason: "code is required"})
		return
	}

	size := 256
	if n, err := strconv.Atoi(req.URL.Query().Get("size")); err == nil && n >= 64 && n <= 1024 {
		size = n
	}

	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
