package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/DoyleJ11/matchmaking-server/internal/hub"
	"github.com/DoyleJ11/matchmaking-server/internal/ws"
)

// CreateRoom pre-allocates a shareable game owned by the caller.
func CreateRoom(h *hub.Hub, authn ws.Authenticator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := authn.Authenticate(r)
		if err != nil {
			if ws.Unauthorized(err) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			logger.Error("authenticate room request", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		gameID, err := h.CreateRoom(r.Context(), u)
		if err != nil {
			logger.Error("create room", zap.String("user_id", u.ID), zap.Error(err))
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, struct {
			GameID string `json:"gameId"`
		}{GameID: gameID})
	}
}

func Stats(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.Stats())
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
