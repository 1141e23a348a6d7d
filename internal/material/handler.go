package material

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"lgsprep/internal/app/apiresp"
	"lgsprep/internal/auth"
)

type materialService interface {
	Create(ctx context.Context, in CreateInput) (*Material, error)
	Get(ctx context.Context, id int64) (*Material, error)
	List(ctx context.Context, f ListFilter) ([]Material, int, error)
	Delete(ctx context.Context, id, actorID int64, actorIsAdmin bool) error
	SaveUpload(file multipart.File, header *multipart.FileHeader) (*UploadResult, error)
	AttachFile(ctx context.Context, id, actorID int64, actorIsAdmin bool, upload *UploadResult) (*Material, error)
}

type Handler struct {
	svc      materialService
	maxBytes int64
}

func NewHandler(svc materialService, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Handler{svc: svc, maxBytes: maxBytes}
}

type createMaterialRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Subject      string `json:"subject"`
	Topic        string `json:"topic"`
	MaterialType string `json:"material_type"`
	Content      string `json:"content"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createMaterialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.svc.Create(r.Context(), CreateInput{
		Title:        req.Title,
		Description:  req.Description,
		Subject:      req.Subject,
		Topic:        req.Topic,
		MaterialType: req.MaterialType,
		Content:      req.Content,
		CreatedBy:    user.ID,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteSuccess(w, http.StatusCreated, "material created", item)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid material id")
		return
	}

	item, err := h.svc.Get(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrMaterialNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "material not found")
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "material", item)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	items, total, err := h.svc.List(r.Context(), ListFilter{
		Subject: q.Get("subject"),
		Type:    q.Get("type"),
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
	apiresp.WritePage(w, http.StatusOK, "materials", items, apiresp.NewPagination(page, limit, total))
}

// ListBySubject serves the /materials/subject/{subject} shortcut.
func (h *Handler) ListBySubject(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	items, total, err := h.svc.List(r.Context(), ListFilter{
		Subject: chi.URLParam(r, "subject"),
		Type:    q.Get("type"),
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
	apiresp.WritePage(w, http.StatusOK, "materials", items, apiresp.NewPagination(page, limit, total))
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid material id")
		return
	}

	if err := h.svc.Delete(r.Context(), id, user.ID, user.Role == auth.RoleAdmin); err != nil {
		switch {
		case errors.Is(err, ErrMaterialNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "material not found")
		case errors.Is(err, ErrForbidden):
			apiresp.WriteError(w, http.StatusForbidden, "forbidden")
		case errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "material deleted", nil)
}

// Upload receives a multipart file ("file" field) and attaches it to the
// material named by the "material_id" field.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1024)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid multipart form or file too large")
		return
	}
	id, err := strconv.ParseInt(r.FormValue("material_id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid material id")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		apiresp.WriteError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	upload, err := h.svc.SaveUpload(file, header)
	if err != nil {
		switch {
		case errors.Is(err, ErrFileTooLarge):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrFileType):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	item, err := h.svc.AttachFile(r.Context(), id, user.ID, user.Role == auth.RoleAdmin, upload)
	if err != nil {
		switch {
		case errors.Is(err, ErrMaterialNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "material not found")
		case errors.Is(err, ErrForbidden):
			apiresp.WriteError(w, http.StatusForbidden, "forbidden")
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "file uploaded", item)
}
