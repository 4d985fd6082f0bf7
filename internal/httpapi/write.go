package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/John-Robertt/singbox-portmap/internal/model"
)

func WriteText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func WriteError(w http.ResponseWriter, status int, e model.AppError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.ErrorResponse{Error: e})
}

// WriteConfig writes a rendered config.json, as an attachment when filename
// is not empty.
func WriteConfig(w http.ResponseWriter, body []byte, filename string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if filename != "" {
		w.Header().Set("Content-Disposition", contentDispositionAttachment(filename))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
