package analytics

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xuri/excelize/v2"

	"lgsprep/internal/auth"
)

type mockAnalyticsService struct {
	performanceFn func(ctx context.Context, studentID int64) (*StudentPerformance, error)
	progressFn    func(ctx context.Context, studentID int64, limit int) ([]ProgressPoint, error)
	overviewFn    func(ctx context.Context) (*AdminOverview, error)
	examResultsFn func(ctx context.Context, examID int64) ([]ExamResultRow, error)
}

func (m *mockAnalyticsService) Performance(ctx context.Context, studentID int64) (*StudentPerformance, error) {
	if m.performanceFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.performanceFn(ctx, studentID)
}

func (m *mockAnalyticsService) Progress(ctx context.Context, studentID int64, limit int) ([]ProgressPoint, error) {
	if m.progressFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.progressFn(ctx, studentID, limit)
}

func (m *mockAnalyticsService) Overview(ctx context.Context) (*AdminOverview, error) {
	if m.overviewFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.overviewFn(ctx)
}

func (m *mockAnalyticsService) ExamResults(ctx context.Context, examID int64) ([]ExamResultRow, error) {
	if m.examResultsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.examResultsFn(ctx, examID)
}

func withParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestPerformanceDefaultsToSelf(t *testing.T) {
	h := NewHandler(&mockAnalyticsService{
		performanceFn: func(ctx context.Context, studentID int64) (*StudentPerformance, error) {
			if studentID != 7 {
				t.Fatalf("expected student 7, got %d", studentID)
			}
			return &StudentPerformance{StudentID: 7}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/performance", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 7, Role: auth.RoleStudent}))
	w := httptest.NewRecorder()

	h.Performance(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestPerformanceStudentCannotReadOthers(t *testing.T) {
	h := NewHandler(&mockAnalyticsService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/performance?student_id=99", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 7, Role: auth.RoleStudent}))
	w := httptest.NewRecorder()

	h.Performance(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestPerformanceAdminReadsAnyStudent(t *testing.T) {
	h := NewHandler(&mockAnalyticsService{
		performanceFn: func(ctx context.Context, studentID int64) (*StudentPerformance, error) {
			if studentID != 99 {
				t.Fatalf("expected student 99, got %d", studentID)
			}
			return &StudentPerformance{StudentID: 99}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/performance?student_id=99", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 1, Role: auth.RoleAdmin}))
	w := httptest.NewRecorder()

	h.Performance(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestExportExamResultsWorkbook(t *testing.T) {
	submitted := time.Date(2026, 4, 10, 14, 30, 0, 0, time.UTC)
	h := NewHandler(&mockAnalyticsService{
		examResultsFn: func(ctx context.Context, examID int64) ([]ExamResultRow, error) {
			return []ExamResultRow{
				{StudentID: 7, FirstName: "Ayşe", LastName: "Yılmaz", Email: "ayse@example.com", Score: 8, MaxScore: 10, Percentage: 80, SubmittedAt: submitted},
			}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/exams/4/export", nil)
	req = withParam(req, "id", "4")
	w := httptest.NewRecorder()

	h.ExportExamResults(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected content type %q", ct)
	}

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 data row, got %d rows", len(rows))
	}
	if rows[1][1] != "Ayşe" || rows[1][2] != "Yılmaz" {
		t.Fatalf("unexpected data row: %v", rows[1])
	}
}

func TestExportExamResultsNotFound(t *testing.T) {
	h := NewHandler(&mockAnalyticsService{
		examResultsFn: func(ctx context.Context, examID int64) ([]ExamResultRow, error) {
			return nil, ErrExamNotFound
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/exams/4/export", nil)
	req = withParam(req, "id", "4")
	w := httptest.NewRecorder()

	h.ExportExamResults(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
