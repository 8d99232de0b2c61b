package identity

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Handler exposes account registration and profile management over HTTP.
type Handler struct {
	log   *slog.Logger
	store Store
}

// NewHandler constructs the identity HTTP surface.
func NewHandler(log *slog.Logger, store Store) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, store: store}
}

// Register mounts the identity routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/users", h.handleCreateUser)
	mux.HandleFunc("GET /api/users/{userID}", h.handleGetUser)
	mux.HandleFunc("PUT /api/users/{userID}", h.handleUpdateUser)

	mux.HandleFunc("GET /api/users/{userID}/favorites", h.handleListFavorites)
	mux.HandleFunc("POST /api/users/{userID}/favorites/{gymID}", h.handleAddFavorite)
	mux.HandleFunc("DELETE /api/users/{userID}/favorites/{gymID}", h.handleRemoveFavorite)
}

type createUserRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// userView is the wire shape of an account. The password hash never leaves
// the store.
type userView struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Role         Role       `json:"role"`
	Street       *string    `json:"street,omitempty"`
	City         *string    `json:"city,omitempty"`
	AvatarURL    *string    `json:"avatar_url,omitempty"`
	LastAssistAt *time.Time `json:"last_assist_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func viewOf(u User) userView {
	return userView{
		ID:           u.ID,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Role:         u.Role,
		Street:       u.Street,
		City:         u.City,
		AvatarURL:    u.AvatarURL,
		LastAssistAt: u.LastAssistAt,
		CreatedAt:    u.CreatedAt,
	}
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	role := Role(strings.TrimSpace(req.Role))
	if role == "" {
		role = RoleUser
	}
	if !role.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown role")
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		h.writeError(w, http.StatusBadRequest, "email, first_name and last_name are required")
		return
	}

	user, err := h.store.CreateUser(r.Context(), CreateUserInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      role,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailTaken):
			h.writeError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, ErrWeakPassword):
			h.writeError(w, http.StatusBadRequest, "password does not meet minimum length")
		default:
			h.log.Error("identity.user.create.fail", "err", err)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"user": viewOf(user)})
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.GetUserByID(r.Context(), r.PathValue("userID"))
	if err != nil {
		h.writeStoreError(w, "user.get", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"user": viewOf(user)})
}

type updateUserRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Street    *string `json:"street"`
	City      *string `json:"city"`
	AvatarURL *string `json:"avatar_url"`
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := h.store.UpdateUser(r.Context(), r.PathValue("userID"), UpdateUserInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Street:    req.Street,
		City:      req.City,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		h.writeStoreError(w, "user.update", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"user": viewOf(user)})
}

func (h *Handler) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	gyms, err := h.store.ListFavoriteGyms(r.Context(), r.PathValue("userID"))
	if err != nil {
		h.writeStoreError(w, "favorites.list", err)
		return
	}
	if gyms == nil {
		gyms = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"gym_ids": gyms})
}

func (h *Handler) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	if err := h.store.AddFavoriteGym(r.Context(), r.PathValue("userID"), r.PathValue("gymID")); err != nil {
		h.writeStoreError(w, "favorites.add", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"added": true})
}

func (h *Handler) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RemoveFavoriteGym(r.Context(), r.PathValue("userID"), r.PathValue("gymID")); err != nil {
		h.writeStoreError(w, "favorites.remove", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "user not found")
		return
	}
	h.log.Error("identity.http.fail", "op", op, "err", err)
	h.writeError(w, http.StatusInternalServerError, "internal server error")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]any{"error": msg})
}
