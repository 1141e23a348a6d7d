package exam

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"lgsprep/internal/app/apiresp"
	"lgsprep/internal/auth"
)

type examService interface {
	CreateExam(ctx context.Context, in CreateExamInput) (*Exam, error)
	GetExam(ctx context.Context, id int64) (*Exam, error)
	ListExams(ctx context.Context, f ListFilter) ([]Exam, int, error)
	UpdateExam(ctx context.Context, in UpdateExamInput, actorID int64, actorIsAdmin bool) (*Exam, error)
	DeleteExam(ctx context.Context, id, actorID int64, actorIsAdmin bool) error
	StartAttempt(ctx context.Context, examID, studentID int64) (*StartedAttempt, error)
	SubmitAttempt(ctx context.Context, examID, studentID int64, answers []AnswerInput) (*AttemptResult, error)
	Results(ctx context.Context, examID, studentID int64) (*AttemptResult, error)
	GetAttempt(ctx context.Context, attemptID, actorID int64, actorIsStaff bool) (*Attempt, error)
	ListAttempts(ctx context.Context, studentID int64) ([]Attempt, error)
	ListExamAttempts(ctx context.Context, examID int64) ([]Attempt, error)
}

type Handler struct {
	svc examService
}

func NewHandler(svc examService) *Handler {
	return &Handler{svc: svc}
}

type examRequest struct {
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Subject         string     `json:"subject"`
	DurationMinutes int        `json:"duration_minutes"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	QuestionIDs     []int64    `json:"question_ids"`
}

type submitRequest struct {
	Answers []AnswerInput `json:"answers"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req examRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.svc.CreateExam(r.Context(), CreateExamInput{
		Title:           req.Title,
		Description:     req.Description,
		Subject:         req.Subject,
		DurationMinutes: req.DurationMinutes,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		QuestionIDs:     req.QuestionIDs,
		CreatedBy:       user.ID,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteSuccess(w, http.StatusCreated, "exam created", item)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid exam id")
		return
	}

	item, err := h.svc.GetExam(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrExamNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "exam not found")
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "exam", item)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	items, total, err := h.svc.ListExams(r.Context(), ListFilter{
		Subject: q.Get("subject"),
		Page:    page,
		Limit:   limit,
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
	apiresp.WritePage(w, http.StatusOK, "exams", items, apiresp.NewPagination(page, limit, total))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid exam id")
		return
	}

	var req examRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.svc.UpdateExam(r.Context(), UpdateExamInput{
		ID:              id,
		Title:           req.Title,
		Description:     req.Description,
		Subject:         req.Subject,
		DurationMinutes: req.DurationMinutes,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		QuestionIDs:     req.QuestionIDs,
	}, user.ID, user.Role == auth.RoleAdmin)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrExamNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "exam not found")
		case errors.Is(err, ErrForbidden):
			apiresp.WriteError(w, http.StatusForbidden, "forbidden")
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "exam updated", item)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid exam id")
		return
	}

	if err := h.svc.DeleteExam(r.Context(), id, user.ID, user.Role == auth.RoleAdmin); err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrExamNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "exam not found")
		case errors.Is(err, ErrForbidden):
			apiresp.WriteError(w, http.StatusForbidden, "forbidden")
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "exam deleted", nil)
}

func (h *Handler) StartAttempt(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	examID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || examID <= 0 {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid exam id")
		return
	}

	item, err := h.svc.StartAttempt(r.Context(), examID, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrExamNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "exam not found")
		case errors.Is(err, ErrExamNotJoinable):
			apiresp.WriteError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrAttemptExists):
			apiresp.WriteError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteSuccess(w, http.StatusCreated, "attempt started", item)
}

func (h *Handler) SubmitAttempt(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	examID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || examID <= 0 {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid exam id")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.svc.SubmitAttempt(r.Context(), examID, user.ID, req.Answers)
	if err != nil {
		switch {
		case errors.Is(err, ErrExamNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "exam not found")
		case errors.Is(err, ErrAttemptNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "attempt not found")
		case errors.Is(err, ErrAlreadySubmitted):
			apiresp.WriteError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrDeadlinePassed):
			apiresp.WriteError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "attempt submitted", item)
}

func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	examID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || examID <= 0 {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid exam id")
		return
	}

	studentID := user.ID
	if raw := r.URL.Query().Get("student_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			apiresp.WriteError(w, http.StatusBadRequest, "invalid student id")
			return
		}
		if parsed != user.ID && !user.Role.IsStaff() {
			apiresp.WriteError(w, http.StatusForbidden, "forbidden")
			return
		}
		studentID = parsed
	}

	item, err := h.svc.Results(r.Context(), examID, studentID)
	if err != nil {
		switch {
		case errors.Is(err, ErrExamNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "exam not found")
		case errors.Is(err, ErrAttemptNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "attempt not found")
		case errors.Is(err, ErrNotSubmitted):
			apiresp.WriteError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "attempt results", item)
}

func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	attemptID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || attemptID <= 0 {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid attempt id")
		return
	}

	item, err := h.svc.GetAttempt(r.Context(), attemptID, user.ID, user.Role.IsStaff())
	if err != nil {
		switch {
		case errors.Is(err, ErrAttemptNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "attempt not found")
		case errors.Is(err, ErrForbidden):
			apiresp.WriteError(w, http.StatusForbidden, "forbidden")
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "attempt", item)
}

func (h *Handler) ListMyAttempts(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	items, err := h.svc.ListAttempts(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "attempts", items)
}

func (h *Handler) ListExamAttempts(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || examID <= 0 {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid exam id")
		return
	}

	items, err := h.svc.ListExamAttempts(r.Context(), examID)
	if err != nil {
		switch {
		case errors.Is(err, ErrExamNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "exam not found")
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "exam attempts", items)
}
