package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wozniakbe/player-optout/internal/store"
)

const (
	optedOutMessage = "You have opted out of mob accuracy nerfs! Mobs will shoot at you with normal accuracy."
	optedInMessage  = "You have opted back in to mob accuracy nerfs! Mobs will now have reduced accuracy when shooting at you."

	healthCountTimeout = 2 * time.Second
)

// OptOutService is the cache the handlers drive. *optout.Cache implements it.
type OptOutService interface {
	IsExcluded(id uuid.UUID) bool
	SetExcluded(id uuid.UUID, excluded bool)
	Toggle(id uuid.UUID) bool
	OnActivate(id uuid.UUID)
	OnDeactivate(id uuid.UUID)
	Size() int
}

// StoreStatus reports on the persistent store for health checks.
type StoreStatus interface {
	Ready() bool
	Backend() store.BackendType
	Count(ctx context.Context) (int, error)
}

// OptOutHandler holds dependencies for the opt-out handlers.
type OptOutHandler struct {
	svc         OptOutService
	status      StoreStatus
	hostSubject string
	logger      *slog.Logger
}

// NewOptOutHandler creates a handler. Requests authenticated as hostSubject
// may act on any player and drive session lifecycle.
func NewOptOutHandler(svc OptOutService, status StoreStatus, hostSubject string, logger *slog.Logger) *OptOutHandler {
	return &OptOutHandler{svc: svc, status: status, hostSubject: hostSubject, logger: logger}
}

// authorize parses the playerId path value and checks that the caller is
// that player or the host. Session endpoints pass hostOnly.
func (h *OptOutHandler) authorize(w http.ResponseWriter, r *http.Request, hostOnly bool) (uuid.UUID, bool) {
	raw := r.PathValue("playerId")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing playerId")
		return uuid.Nil, false
	}
	playerID, err := uuid.Parse(raw)
	if err != nil || playerID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid playerId")
		return uuid.Nil, false
	}

	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing claims")
		return uuid.Nil, false
	}

	if claims.Subject == h.hostSubject {
		return playerID, true
	}
	if hostOnly {
		writeError(w, http.StatusForbidden, "access denied")
		return uuid.Nil, false
	}
	if sub, err := uuid.Parse(claims.Subject); err != nil || sub != playerID {
		writeError(w, http.StatusForbidden, "access denied")
		return uuid.Nil, false
	}
	return playerID, true
}

// GetOptOut returns whether the player is currently excluded.
func (h *OptOutHandler) GetOptOut(w http.ResponseWriter, r *http.Request) {
	playerID, ok := h.authorize(w, r, false)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, OptOutResponse{
		PlayerID: playerID.String(),
		Excluded: h.svc.IsExcluded(playerID),
	})
}

// SetOptOut sets the player's preference explicitly.
func (h *OptOutHandler) SetOptOut(w http.ResponseWriter, r *http.Request) {
	playerID, ok := h.authorize(w, r, false)
	if !ok {
		return
	}

	var req SetOptOutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Excluded == nil {
		writeError(w, http.StatusBadRequest, "missing excluded")
		return
	}

	h.svc.SetExcluded(playerID, *req.Excluded)
	h.logger.Info("opt-out set", "playerId", playerID, "excluded", *req.Excluded)

	writeJSON(w, http.StatusOK, OptOutResponse{
		PlayerID: playerID.String(),
		Excluded: *req.Excluded,
	})
}

// ToggleOptOut flips the player's preference.
func (h *OptOutHandler) ToggleOptOut(w http.ResponseWriter, r *http.Request) {
	playerID, ok := h.authorize(w, r, false)
	if !ok {
		return
	}

	excluded := h.svc.Toggle(playerID)
	h.logger.Info("opt-out toggled", "playerId", playerID, "excluded", excluded)

	msg := optedInMessage
	if excluded {
		msg = optedOutMessage
	}
	writeJSON(w, http.StatusOK, OptOutResponse{
		PlayerID: playerID.String(),
		Excluded: excluded,
		Message:  msg,
	})
}

// Join marks the player active and starts loading their preference.
func (h *OptOutHandler) Join(w http.ResponseWriter, r *http.Request) {
	playerID, ok := h.authorize(w, r, true)
	if !ok {
		return
	}

	h.svc.OnActivate(playerID)
	w.WriteHeader(http.StatusAccepted)
}

// Leave evicts the player from the cache.
func (h *OptOutHandler) Leave(w http.ResponseWriter, r *http.Request) {
	playerID, ok := h.authorize(w, r, true)
	if !ok {
		return
	}

	h.svc.OnDeactivate(playerID)
	w.WriteHeader(http.StatusNoContent)
}

// Health reports liveness. A store that failed to initialize degrades the
// service but does not make it unhealthy. Records is -1 when the store
// cannot be counted.
func (h *OptOutHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		Backend:    string(h.status.Backend()),
		StoreReady: h.status.Ready(),
		Cached:     h.svc.Size(),
		Records:    -1,
	}
	if !resp.StoreReady {
		resp.Status = "degraded"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), healthCountTimeout)
		defer cancel()
		n, err := h.status.Count(ctx)
		if err != nil {
			h.logger.Warn("failed to count preference records", "error", err)
		} else {
			resp.Records = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
