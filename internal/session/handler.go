package session

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/medprep/backend/internal/apperr"
	"github.com/medprep/backend/internal/middleware"
	"github.com/medprep/backend/internal/models"
)

// Handler exposes the session surface to the UI layer. Reads fall back to the
// persisted record when the engine is no longer resident.
type Handler struct {
	manager *Manager
	store   *Store
}

func NewHandler(manager *Manager, store *Store) *Handler {
	return &Handler{manager: manager, store: store}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/sessions", h.StartSession).Methods("POST")
	r.HandleFunc("/sessions/{id}", h.GetState).Methods("GET")
	r.HandleFunc("/sessions/{id}/answer", h.SubmitAnswer).Methods("POST")
	r.HandleFunc("/sessions/{id}/pause", h.Pause).Methods("POST")
	r.HandleFunc("/sessions/{id}/resume", h.Resume).Methods("POST")
	r.HandleFunc("/sessions/{id}/complete-block", h.CompleteBlock).Methods("POST")
	r.HandleFunc("/sessions/{id}/summary", h.Summary).Methods("GET")
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}

	var req models.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	eng, err := h.manager.StartSession(r.Context(), userID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, eng.State())
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}
	id := mux.Vars(r)["id"]

	if eng, ok := h.manager.Get(id); ok {
		if eng.UserID() != userID {
			writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Session not found"})
			return
		}
		writeJSON(w, http.StatusOK, eng.State())
		return
	}

	sess, err := h.ownedSession(r.Context(), id, userID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Session not found"})
		return
	}
	writeJSON(w, http.StatusOK, models.SessionStateResponse{
		SessionID:        sess.ID,
		Status:           sess.Status,
		SessionType:      sess.SessionType,
		BlockIndex:       sess.CurrentBlockIndex,
		TotalQuestions:   sess.TotalQuestions,
		RemainingSeconds: sess.RemainingSeconds,
	})
}

func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}

	var req models.SubmitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := eng.SubmitAnswer(r.Context(), req.SelectedOptionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := eng.Pause(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eng.State())
}

func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := eng.Resume(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eng.State())
}

func (h *Handler) CompleteBlock(w http.ResponseWriter, r *http.Request) {
	eng, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := eng.CompleteBlock(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eng.State())
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}
	id := mux.Vars(r)["id"]

	if eng, ok := h.manager.Get(id); ok {
		if eng.UserID() != userID {
			writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Session not found"})
			return
		}
		summary, err := eng.Summary()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
		return
	}

	// Engine already released: rebuild the summary from the persisted record.
	sess, err := h.ownedSession(r.Context(), id, userID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Session not found"})
		return
	}
	if sess.Status != models.StatusCompleted || sess.CompletedAt == nil {
		writeError(w, apperr.SessionState("session_summary", string(sess.Status), string(models.StatusCompleted)))
		return
	}
	responses, err := h.store.ListResponses(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	var totalTime float64
	for _, resp := range responses {
		totalTime += resp.TimeSpentSeconds
	}
	writeJSON(w, http.StatusOK, models.SessionSummary{
		SessionID:        sess.ID,
		TotalQuestions:   sess.TotalQuestions,
		AnsweredCount:    len(responses),
		CorrectCount:     sess.CorrectCount,
		Score:            sess.Score,
		TotalTimeSeconds: totalTime,
		CompletedAt:      *sess.CompletedAt,
	})
}

func (h *Handler) ownedSession(ctx context.Context, id string, userID int64) (*models.QuizSession, error) {
	sess, err := h.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, apperr.Authentication("get_session", "session belongs to another user")
	}
	return sess, nil
}

// engine resolves the live engine for mutating endpoints, which require the
// session to still be resident.
func (h *Handler) engine(w http.ResponseWriter, r *http.Request) (*Engine, bool) {
	userID, ok := middleware.UserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return nil, false
	}
	id := mux.Vars(r)["id"]
	eng, ok := h.manager.Get(id)
	if !ok || eng.UserID() != userID {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Session not found"})
		return nil, false
	}
	return eng, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindSessionState:
		status = http.StatusConflict
	case apperr.KindInsufficientData:
		status = http.StatusUnprocessableEntity
	case apperr.KindAuthentication:
		status = http.StatusUnauthorized
	case apperr.KindCircuitOpen, apperr.KindTimeout, apperr.KindNetwork:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, models.ErrorResponse{Error: err.Error()})
}
