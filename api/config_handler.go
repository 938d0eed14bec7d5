package api

import (
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/seenimoa/gamecock/internal/config"
)

// ConfigResponse is the JSON envelope returned by GET /api/v1/config.
type ConfigResponse struct {
	Config  map[string]any        `json:"config"`
	Secrets []config.SecretStatus `json:"secrets"`
}

// handleGetConfig returns the running configuration with secrets masked,
// keyed the same way as the YAML config file.
func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	if s.cfg == nil {
		writeError(w, http.StatusServiceUnavailable, "configuration not loaded")
		return
	}
	tree, err := configTree(s.cfg.Redacted())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render config: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: ConfigResponse{
			Config:  tree,
			Secrets: config.CheckSecrets(s.cfg),
		},
	})
}

// configTree round-trips the config through its yaml tags so the JSON keys
// match the config file.
func configTree(cfg *config.Config) (map[string]any, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}
