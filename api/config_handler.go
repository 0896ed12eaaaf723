package api

import (
	"net/http"

	"github.com/seenimoa/indexsignal/internal/config"
)

// ConfigResponse is the JSON envelope returned by GET /api/v1/config.
type ConfigResponse struct {
	Config  *config.Config        `json:"config"`
	Secrets []config.SecretStatus `json:"secrets"`
}

// handleGetConfig returns the running configuration with credentials masked.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: ConfigResponse{
			Config:  config.Redacted(s.cfg),
			Secrets: config.CheckSecrets(s.cfg),
		},
	})
}
