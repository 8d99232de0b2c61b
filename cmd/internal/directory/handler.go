package directory

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// Handler exposes the directory glue over HTTP.
type Handler struct {
	log     *slog.Logger
	store   Store
	renamer ScopeRenamer
}

// NewHandler constructs the directory HTTP surface. renamer may be nil in
// deployments without chat, in which case renames skip the scope relabel.
func NewHandler(log *slog.Logger, store Store, renamer ScopeRenamer) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, store: store, renamer: renamer}
}

// Register mounts the directory routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/gyms", h.handleCreateGym)
	mux.HandleFunc("GET /api/gyms", h.handleListGyms)
	mux.HandleFunc("GET /api/gyms/{gymID}", h.handleGetGym)
	mux.HandleFunc("PUT /api/gyms/{gymID}", h.handleUpdateGym)
	mux.HandleFunc("DELETE /api/gyms/{gymID}", h.handleDeleteGym)
	mux.HandleFunc("POST /api/gyms/{gymID}/rename", h.handleRenameGym)

	mux.HandleFunc("POST /api/reviews", h.handleCreateReview)
	mux.HandleFunc("GET /api/gyms/{gymID}/reviews", h.handleListReviews)
	mux.HandleFunc("PUT /api/reviews/{reviewID}", h.handleUpdateReview)
	mux.HandleFunc("DELETE /api/reviews/{reviewID}", h.handleDeleteReview)
}

type gymRequest struct {
	Name        string   `json:"name"`
	City        string   `json:"city"`
	Description string   `json:"description"`
	Pictures    []string `json:"pictures"`
	OwnerID     string   `json:"owner_id"`
}

func (h *Handler) handleCreateGym(w http.ResponseWriter, r *http.Request) {
	var req gymRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	gym, err := h.store.CreateGym(r.Context(), Gym{
		Name:        req.Name,
		City:        req.City,
		Description: req.Description,
		Pictures:    req.Pictures,
		OwnerID:     req.OwnerID,
	})
	if err != nil {
		h.writeStoreError(w, "gym.create", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"gym": gym})
}

func (h *Handler) handleListGyms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	gyms, err := h.store.ListGyms(r.Context(), q.Get("owner"), q.Get("search"))
	if err != nil {
		h.writeStoreError(w, "gym.list", err)
		return
	}
	if gyms == nil {
		gyms = []Gym{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"gyms": gyms})
}

func (h *Handler) handleGetGym(w http.ResponseWriter, r *http.Request) {
	gym, err := h.store.GetGymByID(r.Context(), r.PathValue("gymID"))
	if err != nil {
		h.writeStoreError(w, "gym.get", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"gym": gym})
}

// handleUpdateGym overwrites listing fields. When the name changes, the
// owner's chat conversations are relabeled to the new gym name.
func (h *Handler) handleUpdateGym(w http.ResponseWriter, r *http.Request) {
	gymID := r.PathValue("gymID")

	var req gymRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	existing, err := h.store.GetGymByID(r.Context(), gymID)
	if err != nil {
		h.writeStoreError(w, "gym.update", err)
		return
	}

	updated, err := h.store.UpdateGym(r.Context(), Gym{
		ID:              gymID,
		Name:            req.Name,
		City:            req.City,
		Description:     req.Description,
		Pictures:        req.Pictures,
		AmountOfReviews: existing.AmountOfReviews,
	})
	if err != nil {
		h.writeStoreError(w, "gym.update", err)
		return
	}

	oldName := strings.TrimSpace(existing.Name)
	newName := strings.TrimSpace(updated.Name)
	if h.renamer != nil && oldName != newName && newName != "" {
		relabeled, err := h.renamer.RenameGymScope(r.Context(), existing.OwnerID, oldName, newName)
		if err != nil {
			// The listing is already renamed; a failed relabel is logged, not fatal.
			h.log.Error("gym.rename.chat_scope.fail", "gym_id", gymID, "old", oldName, "new", newName, "err", err)
		} else {
			h.log.Info("gym.rename.chat_scope", "gym_id", gymID, "old", oldName, "new", newName, "conversations", relabeled)
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"gym": updated})
}

type renameRequest struct {
	Name string `json:"name"`
}

// handleRenameGym changes only the gym's name and relabels the owner's chat
// conversations that carry the old name as their scope.
func (h *Handler) handleRenameGym(w http.ResponseWriter, r *http.Request) {
	gymID := r.PathValue("gymID")

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	newName := strings.TrimSpace(req.Name)
	if newName == "" {
		h.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	existing, err := h.store.GetGymByID(r.Context(), gymID)
	if err != nil {
		h.writeStoreError(w, "gym.rename", err)
		return
	}

	updated, err := h.store.UpdateGym(r.Context(), Gym{
		ID:              gymID,
		Name:            newName,
		City:            existing.City,
		Description:     existing.Description,
		Pictures:        existing.Pictures,
		AmountOfReviews: existing.AmountOfReviews,
	})
	if err != nil {
		h.writeStoreError(w, "gym.rename", err)
		return
	}

	var relabeled int64
	oldName := strings.TrimSpace(existing.Name)
	if h.renamer != nil && oldName != newName {
		relabeled, err = h.renamer.RenameGymScope(r.Context(), existing.OwnerID, oldName, newName)
		if err != nil {
			h.log.Error("gym.rename.chat_scope.fail", "gym_id", gymID, "old", oldName, "new", newName, "err", err)
		} else {
			h.log.Info("gym.rename.chat_scope", "gym_id", gymID, "old", oldName, "new", newName, "conversations", relabeled)
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"gym": updated, "conversations_updated": relabeled})
}

func (h *Handler) handleDeleteGym(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteGym(r.Context(), r.PathValue("gymID")); err != nil {
		h.writeStoreError(w, "gym.delete", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type reviewRequest struct {
	Rating  int    `json:"rating"`
	Content string `json:"content"`
	UserID  string `json:"user_id"`
	GymID   string `json:"gym_id"`
}

func (h *Handler) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	review, err := h.store.CreateReview(r.Context(), Review{
		Rating:  req.Rating,
		Content: req.Content,
		UserID:  req.UserID,
		GymID:   req.GymID,
	})
	if err != nil {
		h.writeStoreError(w, "review.create", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"review": review})
}

func (h *Handler) handleListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.store.ListReviewsForGym(r.Context(), r.PathValue("gymID"))
	if err != nil {
		h.writeStoreError(w, "review.list", err)
		return
	}
	if reviews == nil {
		reviews = []Review{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
}

func (h *Handler) handleUpdateReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	review, err := h.store.UpdateReview(r.Context(), r.PathValue("reviewID"), req.Rating, req.Content)
	if err != nil {
		h.writeStoreError(w, "review.update", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"review": review})
}

func (h *Handler) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteReview(r.Context(), r.PathValue("reviewID")); err != nil {
		h.writeStoreError(w, "review.delete", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if errors.Is(err, ErrInvalidInput) {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.log.Error("directory.http.fail", "op", op, "err", err)
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
