package utils

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WriteJSON - JSON 응답 작성
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("⚠️  Failed to write JSON response")
	}
}

// WriteError - {success:false, error} 응답
func WriteError(w http.ResponseWriter, status int, code string) {
	WriteJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   code,
	})
}
