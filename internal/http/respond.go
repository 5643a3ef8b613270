package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/zrcvae/partnermatch/internal/service/team"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusForKind maps a team error kind onto an HTTP status.
func statusForKind(kind team.Kind) int {
	switch kind {
	case team.KindInvalidInput:
		return http.StatusBadRequest
	case team.KindNotFound:
		return http.StatusNotFound
	case team.KindForbidden:
		return http.StatusForbidden
	case team.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders a team service error with its kind.
func writeServiceError(w http.ResponseWriter, err error) {
	kind := team.KindOf(err)
	writeJSON(w, statusForKind(kind), map[string]string{
		"error": team.PublicMessage(err),
		"kind":  kind.String(),
	})
}
