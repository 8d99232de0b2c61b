package chat

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const httpMaxBodyBytes = 64 << 10

// HTTPHandler exposes the Service over plain request/response HTTP for
// callers that want conversation data without a live connection. The gateway
// and this handler share the same Service instance.
type HTTPHandler struct {
	log *slog.Logger
	svc *Service
}

// NewHTTPHandler constructs the chat HTTP surface.
func NewHTTPHandler(log *slog.Logger, svc *Service) *HTTPHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HTTPHandler{log: log, svc: svc}
}

// Register mounts the chat routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/chats/history", h.handleHistory)
	mux.HandleFunc("GET /api/chats/partners", h.handlePartners)
	mux.HandleFunc("POST /api/chats/messages", h.handleSendMessage)
	mux.HandleFunc("POST /api/chats/rename", h.handleRenameScope)
}

type messageResponse struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *HTTPHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userA := q.Get("user_a")
	userB := q.Get("user_b")
	gym := q.Get("gym")

	msgs, err := h.svc.GetHistory(r.Context(), userA, userB, gym)
	if err != nil {
		h.writeServiceError(w, "history", err)
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{Sender: m.Sender, Text: m.Text, Timestamp: m.Timestamp})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (h *HTTPHandler) handlePartners(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	partners, err := h.svc.ListPartners(r.Context(), q.Get("owner"), q.Get("gym"))
	if err != nil {
		h.writeServiceError(w, "partners", err)
		return
	}

	if partners == nil {
		partners = []Partner{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"partners": partners})
}

type sendMessageRequest struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Gym         string `json:"gym"`
	Text        string `json:"text"`
}

func (h *HTTPHandler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, httpMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	stored, err := h.svc.SendMessage(r.Context(), req.SenderID, req.RecipientID, req.Gym, req.Text)
	if err != nil {
		h.writeServiceError(w, "send", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": messageResponse{Sender: stored.Sender, Text: stored.Text, Timestamp: stored.Timestamp},
	})
}

type renameScopeRequest struct {
	OwnerID string `json:"owner_id"`
	OldGym  string `json:"old_gym"`
	NewGym  string `json:"new_gym"`
}

func (h *HTTPHandler) handleRenameScope(w http.ResponseWriter, r *http.Request) {
	var req renameScopeRequest
	if err := decodeJSON(w, r, httpMaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	updated, err := h.svc.RenameGymScope(r.Context(), req.OwnerID, req.OldGym, req.NewGym)
	if err != nil {
		h.writeServiceError(w, "rename", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, op string, err error) {
	if IsValidation(err) {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	h.log.Error("chat.http.fail", "op", op, "err", err)
	writeError(w, http.StatusInternalServerError, "internal", "internal server error")
}

// ---- JSON helpers ----

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
