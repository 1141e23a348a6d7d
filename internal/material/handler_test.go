package material

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"lgsprep/internal/auth"
)

type mockMaterialService struct {
	createFn     func(ctx context.Context, in CreateInput) (*Material, error)
	getFn        func(ctx context.Context, id int64) (*Material, error)
	listFn       func(ctx context.Context, f ListFilter) ([]Material, int, error)
	deleteFn     func(ctx context.Context, id, actorID int64, actorIsAdmin bool) error
	saveUploadFn func(file multipart.File, header *multipart.FileHeader) (*UploadResult, error)
	attachFileFn func(ctx context.Context, id, actorID int64, actorIsAdmin bool, upload *UploadResult) (*Material, error)
}

func (m *mockMaterialService) Create(ctx context.Context, in CreateInput) (*Material, error) {
	if m.createFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createFn(ctx, in)
}

func (m *mockMaterialService) Get(ctx context.Context, id int64) (*Material, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, id)
}

func (m *mockMaterialService) List(ctx context.Context, f ListFilter) ([]Material, int, error) {
	if m.listFn == nil {
		return nil, 0, errors.New("not implemented")
	}
	return m.listFn(ctx, f)
}

func (m *mockMaterialService) Delete(ctx context.Context, id, actorID int64, actorIsAdmin bool) error {
	if m.deleteFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteFn(ctx, id, actorID, actorIsAdmin)
}

func (m *mockMaterialService) SaveUpload(file multipart.File, header *multipart.FileHeader) (*UploadResult, error) {
	if m.saveUploadFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.saveUploadFn(file, header)
}

func (m *mockMaterialService) AttachFile(ctx context.Context, id, actorID int64, actorIsAdmin bool, upload *UploadResult) (*Material, error) {
	if m.attachFileFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.attachFileFn(ctx, id, actorID, actorIsAdmin, upload)
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

func multipartBody(t *testing.T, materialID, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	if materialID != "" {
		if err := mw.WriteField("material_id", materialID); err != nil {
			t.Fatalf("write material_id field: %v", err)
		}
	}
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return buf, mw.FormDataContentType()
}

func TestCreateMaterialOK(t *testing.T) {
	h := NewHandler(&mockMaterialService{
		createFn: func(ctx context.Context, in CreateInput) (*Material, error) {
			if in.CreatedBy != 3 || in.MaterialType != "text" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return &Material{ID: 1, Title: in.Title, MaterialType: "text"}, nil
		},
	}, 0)

	payload := []byte(`{"title":"Kesirler Özeti","subject":"matematik","topic":"Kesirler","material_type":"text","content":"..."}`)
	req := teacherContext(httptest.NewRequest(http.MethodPost, "/api/v1/materials", bytes.NewReader(payload)), 3)
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
}

func TestDeleteMaterialForbidden(t *testing.T) {
	h := NewHandler(&mockMaterialService{
		deleteFn: func(ctx context.Context, id, actorID int64, actorIsAdmin bool) error {
			return ErrForbidden
		},
	}, 0)

	req := teacherContext(httptest.NewRequest(http.MethodDelete, "/api/v1/materials/5", nil), 3)
	req = withParam(req, "id", "5")
	w := httptest.NewRecorder()

	h.Delete(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestUploadRejectsBadType(t *testing.T) {
	h := NewHandler(&mockMaterialService{
		saveUploadFn: func(file multipart.File, header *multipart.FileHeader) (*UploadResult, error) {
			return nil, ErrFileType
		},
	}, 0)

	body, contentType := multipartBody(t, "5", "file", "malware.exe", []byte("xx"))
	req := teacherContext(httptest.NewRequest(http.MethodPost, "/api/v1/materials/upload", body), 3)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	h.Upload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUploadAttachesFile(t *testing.T) {
	h := NewHandler(&mockMaterialService{
		saveUploadFn: func(file multipart.File, header *multipart.FileHeader) (*UploadResult, error) {
			return &UploadResult{FilePath: "abc.pdf", FileSize: 2, Type: "pdf"}, nil
		},
		attachFileFn: func(ctx context.Context, id, actorID int64, actorIsAdmin bool, upload *UploadResult) (*Material, error) {
			if id != 5 || upload.FilePath != "abc.pdf" {
				t.Fatalf("unexpected attach: id=%d upload=%+v", id, upload)
			}
			fp := upload.FilePath
			return &Material{ID: 5, MaterialType: "pdf", FilePath: &fp}, nil
		},
	}, 0)

	body, contentType := multipartBody(t, "5", "file", "notes.pdf", []byte("%P"))
	req := teacherContext(httptest.NewRequest(http.MethodPost, "/api/v1/materials/upload", body), 3)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	h.Upload(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUploadMissingFileField(t *testing.T) {
	h := NewHandler(&mockMaterialService{}, 0)

	body, contentType := multipartBody(t, "5", "other", "notes.pdf", []byte("%P"))
	req := teacherContext(httptest.NewRequest(http.MethodPost, "/api/v1/materials/upload", body), 3)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	h.Upload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUploadMissingMaterialID(t *testing.T) {
	h := NewHandler(&mockMaterialService{}, 0)

	body, contentType := multipartBody(t, "", "file", "notes.pdf", []byte("%P"))
	req := teacherContext(httptest.NewRequest(http.MethodPost, "/api/v1/materials/upload", body), 3)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	h.Upload(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestListBySubjectUsesRouteParam(t *testing.T) {
	h := NewHandler(&mockMaterialService{
		listFn: func(ctx context.Context, f ListFilter) ([]Material, int, error) {
			if f.Subject != "matematik" {
				t.Fatalf("expected subject matematik, got %q", f.Subject)
			}
			return []Material{}, 0, nil
		},
	}, 0)

	req := teacherContext(httptest.NewRequest(http.MethodGet, "/api/v1/materials/subject/matematik", nil), 3)
	req = withParam(req, "subject", "matematik")
	w := httptest.NewRecorder()

	h.ListBySubject(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
