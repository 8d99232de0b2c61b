package assist

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gymhub/cmd/identity"
)

// UserAccess is the slice of the identity store the assist endpoint needs.
type UserAccess interface {
	GetUserByID(ctx context.Context, userID string) (identity.User, error)
	TouchAssistAccess(ctx context.Context, userID string, at time.Time) error
}

// Handler serves the question endpoint.
type Handler struct {
	log   *slog.Logger
	gen   Generator
	users UserAccess
	now   func() time.Time
}

// NewHandler constructs the assist HTTP surface.
func NewHandler(log *slog.Logger, gen Generator, users UserAccess) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, gen: gen, users: users, now: time.Now}
}

// Register mounts the assist routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/assist/{userID}", h.handleAsk)
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Message string    `json:"message"`
	Date    time.Time `json:"date"`
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		h.writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	if _, err := h.users.GetUserByID(r.Context(), userID); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.log.Error("assist.user.lookup.fail", "user_id", userID, "err", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	answer, err := h.gen.Generate(r.Context(), question)
	if err != nil {
		h.log.Error("assist.generate.fail", "user_id", userID, "err", err)
		h.writeError(w, http.StatusBadGateway, "assistant unavailable")
		return
	}

	at := h.now().UTC()
	if err := h.users.TouchAssistAccess(r.Context(), userID, at); err != nil {
		// The answer is already produced; losing the access stamp is not fatal.
		h.log.Warn("assist.touch.fail", "user_id", userID, "err", err)
	}

	h.writeJSON(w, http.StatusOK, askResponse{Message: answer, Date: at})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]any{"error": msg})
}
