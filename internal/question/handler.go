package question

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"lgsprep/internal/app/apiresp"
	"lgsprep/internal/auth"
)

type questionService interface {
	Create(ctx context.Context, in CreateInput) (*Question, error)
	Get(ctx context.Context, id int64) (*Question, error)
	List(ctx context.Context, f ListFilter) ([]Question, int, error)
	Update(ctx context.Context, in UpdateInput, actorID int64, actorIsAdmin bool) (*Question, error)
	Delete(ctx context.Context, id, actorID int64, actorIsAdmin bool) error
	Random(ctx context.Context, subject, difficulty string, count int) ([]PracticeQuestion, error)
}

type Handler struct {
	svc questionService
}

func NewHandler(svc questionService) *Handler {
	return &Handler{svc: svc}
}

type questionRequest struct {
	Subject          string        `json:"subject"`
	Topic            string        `json:"topic"`
	Difficulty       string        `json:"difficulty"`
	QuestionText     string        `json:"question_text"`
	Explanation      string        `json:"explanation"`
	Points           int           `json:"points"`
	TimeLimitSeconds int           `json:"time_limit_seconds"`
	Options          []OptionInput `json:"options"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.svc.Create(r.Context(), CreateInput{
		Subject:          req.Subject,
		Topic:            req.Topic,
		Difficulty:       req.Difficulty,
		QuestionText:     req.QuestionText,
		Explanation:      req.Explanation,
		Points:           req.Points,
		TimeLimitSeconds: req.TimeLimitSeconds,
		Options:          req.Options,
		CreatedBy:        user.ID,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteSuccess(w, http.StatusCreated, "question created", item)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	item, err := h.svc.Get(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrQuestionNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "question not found")
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "question", item)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	items, total, err := h.svc.List(r.Context(), ListFilter{
		Subject:    q.Get("subject"),
		Difficulty: q.Get("difficulty"),
		Topic:      q.Get("topic"),
		Search:     q.Get("search"),
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	apiresp.WritePage(w, http.StatusOK, "questions", items, apiresp.NewPagination(page, limit, total))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.svc.Update(r.Context(), UpdateInput{
		ID:               id,
		Subject:          req.Subject,
		Topic:            req.Topic,
		Difficulty:       req.Difficulty,
		QuestionText:     req.QuestionText,
		Explanation:      req.Explanation,
		Points:           req.Points,
		TimeLimitSeconds: req.TimeLimitSeconds,
		Options:          req.Options,
	}, user.ID, user.Role == auth.RoleAdmin)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrQuestionNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "question not found")
		case errors.Is(err, ErrForbidden):
			apiresp.WriteError(w, http.StatusForbidden, "forbidden")
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "question updated", item)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid question id")
		return
	}

	if err := h.svc.Delete(r.Context(), id, user.ID, user.Role == auth.RoleAdmin); err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrQuestionNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "question not found")
		case errors.Is(err, ErrForbidden):
			apiresp.WriteError(w, http.StatusForbidden, "forbidden")
		case errors.Is(err, ErrQuestionInUse):
			apiresp.WriteError(w, http.StatusConflict, err.Error())
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "question deleted", nil)
}

func (h *Handler) Random(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count, _ := strconv.Atoi(strings.TrimSpace(q.Get("count")))

	items, err := h.svc.Random(r.Context(), q.Get("subject"), q.Get("difficulty"), count)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "practice questions", items)
}
