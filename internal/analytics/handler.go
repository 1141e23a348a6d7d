package analytics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"lgsprep/internal/app/apiresp"
	"lgsprep/internal/auth"
)

type analyticsService interface {
	Performance(ctx context.Context, studentID int64) (*StudentPerformance, error)
	Progress(ctx context.Context, studentID int64, limit int) ([]ProgressPoint, error)
	Overview(ctx context.Context) (*AdminOverview, error)
	ExamResults(ctx context.Context, examID int64) ([]ExamResultRow, error)
}

type Handler struct {
	svc analyticsService
}

func NewHandler(svc analyticsService) *Handler {
	return &Handler{svc: svc}
}

// resolveStudent picks the subject of the query: students always get their
// own data, staff may pass student_id.
func resolveStudent(w http.ResponseWriter, r *http.Request) (int64, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return 0, false
	}
	studentID := user.ID
	if raw := r.URL.Query().Get("student_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			apiresp.WriteError(w, http.StatusBadRequest, "invalid student id")
			return 0, false
		}
		if parsed != user.ID && !user.Role.IsStaff() {
			apiresp.WriteError(w, http.StatusForbidden, "forbidden")
			return 0, false
		}
		studentID = parsed
	}
	return studentID, true
}

func (h *Handler) Performance(w http.ResponseWriter, r *http.Request) {
	studentID, ok := resolveStudent(w, r)
	if !ok {
		return
	}

	item, err := h.svc.Performance(r.Context(), studentID)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "performance", item)
}

func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	studentID, ok := resolveStudent(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := h.svc.Progress(r.Context(), studentID, limit)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "progress", items)
}

func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Overview(r.Context())
	if err != nil {
		apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "overview", item)
}

func (h *Handler) ExportExamResults(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || examID <= 0 {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid exam id")
		return
	}

	items, err := h.svc.ExamResults(r.Context(), examID)
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

	data, err := ExamResultsExcel(items)
	if err != nil {
		apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="exam_%d_results.xlsx"`, examID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
