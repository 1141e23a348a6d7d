package exam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"lgsprep/internal/auth"
)

type mockExamService struct {
	createFn           func(ctx context.Context, in CreateExamInput) (*Exam, error)
	getFn              func(ctx context.Context, id int64) (*Exam, error)
	listFn             func(ctx context.Context, f ListFilter) ([]Exam, int, error)
	updateFn           func(ctx context.Context, in UpdateExamInput, actorID int64, actorIsAdmin bool) (*Exam, error)
	deleteFn           func(ctx context.Context, id, actorID int64, actorIsAdmin bool) error
	startAttemptFn     func(ctx context.Context, examID, studentID int64) (*StartedAttempt, error)
	submitAttemptFn    func(ctx context.Context, examID, studentID int64, answers []AnswerInput) (*AttemptResult, error)
	resultsFn          func(ctx context.Context, examID, studentID int64) (*AttemptResult, error)
	getAttemptFn       func(ctx context.Context, attemptID, actorID int64, actorIsStaff bool) (*Attempt, error)
	listAttemptsFn     func(ctx context.Context, studentID int64) ([]Attempt, error)
	listExamAttemptsFn func(ctx context.Context, examID int64) ([]Attempt, error)
}

func (m *mockExamService) CreateExam(ctx context.Context, in CreateExamInput) (*Exam, error) {
	if m.createFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createFn(ctx, in)
}

func (m *mockExamService) GetExam(ctx context.Context, id int64) (*Exam, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, id)
}

func (m *mockExamService) ListExams(ctx context.Context, f ListFilter) ([]Exam, int, error) {
	if m.listFn == nil {
		return nil, 0, errors.New("not implemented")
	}
	return m.listFn(ctx, f)
}

func (m *mockExamService) UpdateExam(ctx context.Context, in UpdateExamInput, actorID int64, actorIsAdmin bool) (*Exam, error) {
	if m.updateFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateFn(ctx, in, actorID, actorIsAdmin)
}

func (m *mockExamService) DeleteExam(ctx context.Context, id, actorID int64, actorIsAdmin bool) error {
	if m.deleteFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteFn(ctx, id, actorID, actorIsAdmin)
}

func (m *mockExamService) StartAttempt(ctx context.Context, examID, studentID int64) (*StartedAttempt, error) {
	if m.startAttemptFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.startAttemptFn(ctx, examID, studentID)
}

func (m *mockExamService) SubmitAttempt(ctx context.Context, examID, studentID int64, answers []AnswerInput) (*AttemptResult, error) {
	if m.submitAttemptFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.submitAttemptFn(ctx, examID, studentID, answers)
}

func (m *mockExamService) Results(ctx context.Context, examID, studentID int64) (*AttemptResult, error) {
	if m.resultsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.resultsFn(ctx, examID, studentID)
}

func (m *mockExamService) GetAttempt(ctx context.Context, attemptID, actorID int64, actorIsStaff bool) (*Attempt, error) {
	if m.getAttemptFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getAttemptFn(ctx, attemptID, actorID, actorIsStaff)
}

func (m *mockExamService) ListAttempts(ctx context.Context, studentID int64) ([]Attempt, error) {
	if m.listAttemptsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listAttemptsFn(ctx, studentID)
}

func (m *mockExamService) ListExamAttempts(ctx context.Context, examID int64) ([]Attempt, error) {
	if m.listExamAttemptsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listExamAttemptsFn(ctx, examID)
}

func withParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func studentContext(r *http.Request, id int64) *http.Request {
	return r.WithContext(auth.ContextWithUser(r.Context(), &auth.User{ID: id, Role: auth.RoleStudent}))
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestStartAttemptOK(t *testing.T) {
	h := NewHandler(&mockExamService{
		startAttemptFn: func(ctx context.Context, examID, studentID int64) (*StartedAttempt, error) {
			if examID != 4 || studentID != 7 {
				t.Fatalf("unexpected args: exam=%d student=%d", examID, studentID)
			}
			return &StartedAttempt{Attempt: Attempt{ID: 1, ExamID: 4, StudentID: 7, Status: "in_progress"}}, nil
		},
	})

	req := studentContext(httptest.NewRequest(http.MethodPost, "/api/v1/exams/4/attempts", nil), 7)
	req = withParam(req, "id", "4")
	w := httptest.NewRecorder()

	h.StartAttempt(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	body := decodeMap(t, w)
	if body["success"] != true {
		t.Fatalf("expected success=true, got %v", body)
	}
}

func TestStartAttemptConflictOnSecondStart(t *testing.T) {
	h := NewHandler(&mockExamService{
		startAttemptFn: func(ctx context.Context, examID, studentID int64) (*StartedAttempt, error) {
			return nil, ErrAttemptExists
		},
	})

	req := studentContext(httptest.NewRequest(http.MethodPost, "/api/v1/exams/4/attempts", nil), 7)
	req = withParam(req, "id", "4")
	w := httptest.NewRecorder()

	h.StartAttempt(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestStartAttemptOutsideWindow(t *testing.T) {
	h := NewHandler(&mockExamService{
		startAttemptFn: func(ctx context.Context, examID, studentID int64) (*StartedAttempt, error) {
			return nil, ErrExamNotJoinable
		},
	})

	req := studentContext(httptest.NewRequest(http.MethodPost, "/api/v1/exams/4/attempts", nil), 7)
	req = withParam(req, "id", "4")
	w := httptest.NewRecorder()

	h.StartAttempt(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestSubmitAttemptPassesAnswers(t *testing.T) {
	h := NewHandler(&mockExamService{
		submitAttemptFn: func(ctx context.Context, examID, studentID int64, answers []AnswerInput) (*AttemptResult, error) {
			if len(answers) != 2 {
				t.Fatalf("expected 2 answers, got %d", len(answers))
			}
			if answers[0].QuestionID != 10 || len(answers[0].SelectedOptions) != 1 {
				t.Fatalf("unexpected first answer: %+v", answers[0])
			}
			return &AttemptResult{Attempt: Attempt{ID: 1, Status: "completed", Score: 2, MaxScore: 3, Percentage: 66.67}}, nil
		},
	})

	payload := []byte(`{"answers":[{"question_id":10,"selected_option_ids":[101]},{"question_id":11,"selected_option_ids":[110,111]}]}`)
	req := studentContext(httptest.NewRequest(http.MethodPost, "/api/v1/exams/4/attempts/submit", bytes.NewReader(payload)), 7)
	req = withParam(req, "id", "4")
	w := httptest.NewRecorder()

	h.SubmitAttempt(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestSubmitAttemptNoResubmission(t *testing.T) {
	h := NewHandler(&mockExamService{
		submitAttemptFn: func(ctx context.Context, examID, studentID int64, answers []AnswerInput) (*AttemptResult, error) {
			return nil, ErrAlreadySubmitted
		},
	})

	req := studentContext(httptest.NewRequest(http.MethodPost, "/api/v1/exams/4/attempts/submit", bytes.NewReader([]byte(`{"answers":[]}`))), 7)
	req = withParam(req, "id", "4")
	w := httptest.NewRecorder()

	h.SubmitAttempt(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestSubmitAttemptAfterDeadline(t *testing.T) {
	h := NewHandler(&mockExamService{
		submitAttemptFn: func(ctx context.Context, examID, studentID int64, answers []AnswerInput) (*AttemptResult, error) {
			return nil, ErrDeadlinePassed
		},
	})

	req := studentContext(httptest.NewRequest(http.MethodPost, "/api/v1/exams/4/attempts/submit", bytes.NewReader([]byte(`{"answers":[]}`))), 7)
	req = withParam(req, "id", "4")
	w := httptest.NewRecorder()

	h.SubmitAttempt(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestResultsStudentCannotReadOthers(t *testing.T) {
	h := NewHandler(&mockExamService{})

	req := studentContext(httptest.NewRequest(http.MethodGet, "/api/v1/exams/4/results?student_id=99", nil), 7)
	req = withParam(req, "id", "4")
	w := httptest.NewRecorder()

	h.Results(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestResultsTeacherCanReadOthers(t *testing.T) {
	h := NewHandler(&mockExamService{
		resultsFn: func(ctx context.Context, examID, studentID int64) (*AttemptResult, error) {
			if studentID != 99 {
				t.Fatalf("expected student 99, got %d", studentID)
			}
			return &AttemptResult{Attempt: Attempt{ID: 1, StudentID: 99, Status: "completed"}}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exams/4/results?student_id=99", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 2, Role: auth.RoleTeacher}))
	req = withParam(req, "id", "4")
	w := httptest.NewRecorder()

	h.Results(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestResultsBeforeSubmit(t *testing.T) {
	h := NewHandler(&mockExamService{
		resultsFn: func(ctx context.Context, examID, studentID int64) (*AttemptResult, error) {
			return nil, ErrNotSubmitted
		},
	})

	req := studentContext(httptest.NewRequest(http.MethodGet, "/api/v1/exams/4/results", nil), 7)
	req = withParam(req, "id", "4")
	w := httptest.NewRecorder()

	h.Results(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestGetAttemptOwnershipFlag(t *testing.T) {
	h := NewHandler(&mockExamService{
		getAttemptFn: func(ctx context.Context, attemptID, actorID int64, actorIsStaff bool) (*Attempt, error) {
			if attemptID != 12 || actorID != 7 || actorIsStaff {
				t.Fatalf("unexpected args: attempt=%d actor=%d staff=%v", attemptID, actorID, actorIsStaff)
			}
			return &Attempt{ID: 12, StudentID: 7, Status: "completed"}, nil
		},
	})

	req := studentContext(httptest.NewRequest(http.MethodGet, "/api/v1/exams/attempts/12", nil), 7)
	req = withParam(req, "id", "12")
	w := httptest.NewRecorder()

	h.GetAttempt(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestGetAttemptForbidden(t *testing.T) {
	h := NewHandler(&mockExamService{
		getAttemptFn: func(ctx context.Context, attemptID, actorID int64, actorIsStaff bool) (*Attempt, error) {
			return nil, ErrForbidden
		},
	})

	req := studentContext(httptest.NewRequest(http.MethodGet, "/api/v1/exams/attempts/12", nil), 7)
	req = withParam(req, "id", "12")
	w := httptest.NewRecorder()

	h.GetAttempt(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestCreateExamValidation(t *testing.T) {
	h := NewHandler(&mockExamService{
		createFn: func(ctx context.Context, in CreateExamInput) (*Exam, error) {
			return nil, ErrInvalidInput
		},
	})

	payload := []byte(`{"title":"","subject":"matematik","duration_minutes":0,"question_ids":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/exams", bytes.NewReader(payload))
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 2, Role: auth.RoleTeacher}))
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
