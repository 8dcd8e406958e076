package wellknown

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/zix99/simple-auth/pkg/jwks"
)

// Handler provides HTTP handlers for well-known endpoints
type Handler struct {
	metadata *AuthorizationServerMetadata
	keySet   *jwks.JWKS
}

// NewHandler creates a new well-known endpoints handler
func NewHandler(config Config) *Handler {
	return &Handler{
		metadata: NewAuthorizationServerMetadata(config),
		keySet:   config.KeySet,
	}
}

// AuthorizationServerMetadata handles GET /.well-known/oauth-authorization-server
func (h *Handler) AuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Authorization Server Metadata request received", "path", r.URL.Path)

	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	render.JSON(w, r, h.metadata)
}

// HasKeys reports whether there is a key set to publish
func (h *Handler) HasKeys() bool {
	return h.keySet != nil && len(h.keySet.Keys) > 0
}

// JWKS handles GET /.well-known/jwks.json
func (h *Handler) JWKS(w http.ResponseWriter, r *http.Request) {
	set := h.keySet
	if set == nil {
		set = &jwks.JWKS{Keys: []jwks.JWK{}}
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	render.JSON(w, r, set)
}
