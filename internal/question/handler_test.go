package question

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

type mockQuestionService struct {
	createFn func(ctx context.Context, in CreateInput) (*Question, error)
	getFn    func(ctx context.Context, id int64) (*Question, error)
	listFn   func(ctx context.Context, f ListFilter) ([]Question, int, error)
	updateFn func(ctx context.Context, in UpdateInput, actorID int64, actorIsAdmin bool) (*Question, error)
	deleteFn func(ctx context.Context, id, actorID int64, actorIsAdmin bool) error
	randomFn func(ctx context.Context, subject, difficulty string, count int) ([]PracticeQuestion, error)
}

func (m *mockQuestionService) Create(ctx context.Context, in CreateInput) (*Question, error) {
	if m.createFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createFn(ctx, in)
}

func (m *mockQuestionService) Get(ctx context.Context, id int64) (*Question, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, id)
}

func (m *mockQuestionService) List(ctx context.Context, f ListFilter) ([]Question, int, error) {
	if m.listFn == nil {
		return nil, 0, errors.New("not implemented")
	}
	return m.listFn(ctx, f)
}

func (m *mockQuestionService) Update(ctx context.Context, in UpdateInput, actorID int64, actorIsAdmin bool) (*Question, error) {
	if m.updateFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateFn(ctx, in, actorID, actorIsAdmin)
}

func (m *mockQuestionService) Delete(ctx context.Context, id, actorID int64, actorIsAdmin bool) error {
	if m.deleteFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteFn(ctx, id, actorID, actorIsAdmin)
}

func (m *mockQuestionService) Random(ctx context.Context, subject, difficulty string, count int) ([]PracticeQuestion, error) {
	if m.randomFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.randomFn(ctx, subject, difficulty, count)
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func withParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func teacherContext(r *http.Request, id int64) *http.Request {
	return r.WithContext(auth.ContextWithUser(r.Context(), &auth.User{ID: id, Role: auth.RoleTeacher}))
}

func TestCreateQuestionOK(t *testing.T) {
	h := NewHandler(&mockQuestionService{
		createFn: func(ctx context.Context, in CreateInput) (*Question, error) {
			if in.CreatedBy != 9 || in.Subject != "matematik" {
				t.Fatalf("unexpected input: %+v", in)
			}
			if in.TimeLimitSeconds != 45 {
				t.Fatalf("time limit = %d, want 45", in.TimeLimitSeconds)
			}
			return &Question{ID: 11, Subject: "matematik", Topic: in.Topic, IsActive: true}, nil
		},
	})

	payload := []byte(`{"subject":"matematik","topic":"Kesirler","difficulty":"easy","question_text":"1/2 + 1/4?","time_limit_seconds":45,"options":[{"option_text":"3/4","is_correct":true},{"option_text":"2/6"}]}`)
	req := teacherContext(httptest.NewRequest(http.MethodPost, "/api/v1/questions", bytes.NewReader(payload)), 9)
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	body := decodeMap(t, w)
	if body["success"] != true {
		t.Fatalf("expected success=true, got %v", body)
	}
}

func TestCreateQuestionValidationError(t *testing.T) {
	h := NewHandler(&mockQuestionService{
		createFn: func(ctx context.Context, in CreateInput) (*Question, error) {
			return nil, ErrInvalidInput
		},
	})

	payload := []byte(`{"subject":"fizik","topic":"x","difficulty":"easy","question_text":"q","options":[]}`)
	req := teacherContext(httptest.NewRequest(http.MethodPost, "/api/v1/questions", bytes.NewReader(payload)), 9)
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetQuestionNotFound(t *testing.T) {
	h := NewHandler(&mockQuestionService{
		getFn: func(ctx context.Context, id int64) (*Question, error) {
			return nil, ErrQuestionNotFound
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions/42", nil)
	req = withParam(req, "id", "42")
	w := httptest.NewRecorder()

	h.Get(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetQuestionBadID(t *testing.T) {
	h := NewHandler(&mockQuestionService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions/abc", nil)
	req = withParam(req, "id", "abc")
	w := httptest.NewRecorder()

	h.Get(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListQuestionsPassesFilters(t *testing.T) {
	h := NewHandler(&mockQuestionService{
		listFn: func(ctx context.Context, f ListFilter) ([]Question, int, error) {
			if f.Subject != "turkce" || f.Difficulty != "hard" || f.Page != 2 || f.Limit != 5 {
				t.Fatalf("unexpected filter: %+v", f)
			}
			return []Question{{ID: 1}}, 11, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions?subject=turkce&difficulty=hard&page=2&limit=5", nil)
	w := httptest.NewRecorder()

	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeMap(t, w)
	pagination, ok := body["pagination"].(map[string]any)
	if !ok {
		t.Fatalf("expected pagination, got %v", body)
	}
	if pagination["total"] != float64(11) || pagination["total_pages"] != float64(3) {
		t.Fatalf("unexpected pagination: %v", pagination)
	}
}

func TestListQuestionsPassesSearch(t *testing.T) {
	h := NewHandler(&mockQuestionService{
		listFn: func(ctx context.Context, f ListFilter) ([]Question, int, error) {
			if f.Search != "üslü" {
				t.Fatalf("search = %q, want %q", f.Search, "üslü")
			}
			return []Question{}, 0, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions?search=%C3%BCsl%C3%BC", nil)
	w := httptest.NewRecorder()

	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestUpdateQuestionForbidden(t *testing.T) {
	h := NewHandler(&mockQuestionService{
		updateFn: func(ctx context.Context, in UpdateInput, actorID int64, actorIsAdmin bool) (*Question, error) {
			if actorIsAdmin {
				t.Fatal("teacher must not be flagged admin")
			}
			return nil, ErrForbidden
		},
	})

	payload := []byte(`{"subject":"matematik","topic":"t","difficulty":"easy","question_text":"q","options":[{"option_text":"A","is_correct":true},{"option_text":"B"}]}`)
	req := teacherContext(httptest.NewRequest(http.MethodPut, "/api/v1/questions/7", bytes.NewReader(payload)), 9)
	req = withParam(req, "id", "7")
	w := httptest.NewRecorder()

	h.Update(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestDeleteQuestionConflictWhenInUse(t *testing.T) {
	h := NewHandler(&mockQuestionService{
		deleteFn: func(ctx context.Context, id, actorID int64, actorIsAdmin bool) error {
			return ErrQuestionInUse
		},
	})

	req := teacherContext(httptest.NewRequest(http.MethodDelete, "/api/v1/questions/7", nil), 9)
	req = withParam(req, "id", "7")
	w := httptest.NewRecorder()

	h.Delete(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestRandomQuestionsStripsNothingVisible(t *testing.T) {
	h := NewHandler(&mockQuestionService{
		randomFn: func(ctx context.Context, subject, difficulty string, count int) ([]PracticeQuestion, error) {
			if subject != "matematik" || count != 5 {
				t.Fatalf("unexpected args: subject=%q count=%d", subject, count)
			}
			return []PracticeQuestion{{
				ID:      1,
				Options: []PracticeOption{{ID: 10, OptionText: "8", Order: 1}},
			}}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions/random?subject=matematik&count=5", nil)
	w := httptest.NewRecorder()

	h.Random(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("is_correct")) {
		t.Fatal("practice payload must not expose is_correct")
	}
}
