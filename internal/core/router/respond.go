package router

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
)

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

// failed maps err to a response: validation problems become 422, everything
// else a 500 with prefix prepended to the error text.
func (h *Handlers) failed(w http.ResponseWriter, r *http.Request, prefix string, err error) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		writeError(w, http.StatusUnprocessableEntity, ve.Error())
		return
	}
	h.log.ErrorContext(r.Context(), "request failed",
		slog.String("path", r.URL.Path),
		slog.Any("err", err),
	)
	writeError(w, http.StatusInternalServerError, prefix+err.Error())
}
