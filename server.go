package main

import (
	"log/slog"
	"net/http"
)

// NewRouter registers all routes and wraps them with the middleware chain.
func NewRouter(h *OptOutHandler, cfg Config, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check (no auth required; JWT middleware skips /healthz)
	mux.HandleFunc("GET /healthz", h.Health)

	// Player preference
	mux.HandleFunc("GET /api/v1/players/{playerId}/optout", h.GetOptOut)
	mux.HandleFunc("PUT /api/v1/players/{playerId}/optout", h.SetOptOut)
	mux.HandleFunc("POST /api/v1/players/{playerId}/optout/toggle", h.ToggleOptOut)

	// Session lifecycle, driven by the game server
	mux.HandleFunc("POST /api/v1/players/{playerId}/session", h.Join)
	mux.HandleFunc("DELETE /api/v1/players/{playerId}/session", h.Leave)

	if cfg.DevBypassAuth {
		logger.Warn("DEV_BYPASS_AUTH is enabled: tokens are not checked and any caller can claim the host subject via "+devSubjectHeader,
			"hostSubject", cfg.HostSubject)
	}

	// Middleware chain: Recovery → CORS → RequestLogging → JWTAuth → mux
	var handler http.Handler = mux
	handler = JWTAuth(cfg.JWTSecret, cfg.JWTIssuer, cfg.DevBypassAuth)(handler)
	handler = RequestLogging(logger)(handler)
	handler = CORS(cfg.CORSAllowOrigin)(handler)
	handler = Recovery(logger)(handler)

	return handler
}
