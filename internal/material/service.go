package material

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"lgsprep/internal/catalog"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrMaterialNotFound = errors.New("material not found")
	ErrForbidden        = errors.New("forbidden")
	ErrFileTooLarge     = errors.New("file exceeds the upload size limit")
	ErrFileType         = errors.New("file type not allowed")
)

var materialTypes = map[string]struct{}{
	"text":  {},
	"pdf":   {},
	"video": {},
	"audio": {},
	"image": {},
}

// allowedExtensions maps upload extensions to the material type they imply.
var allowedExtensions = map[string]string{
	".pdf":  "pdf",
	".mp4":  "video",
	".webm": "video",
	".mp3":  "audio",
	".wav":  "audio",
	".png":  "image",
	".jpg":  "image",
	".jpeg": "image",
	".gif":  "image",
	".txt":  "text",
	".md":   "text",
}

type Service struct {
	db       *sql.DB
	dir      string
	maxBytes int64
}

func NewService(db *sql.DB, uploadDir string, maxBytes int64) *Service {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Service{db: db, dir: uploadDir, maxBytes: maxBytes}
}

type Material struct {
	ID           int64           `json:"id"`
	Title        string          `json:"title"`
	Description  *string         `json:"description,omitempty"`
	Subject      catalog.Subject `json:"subject"`
	Topic        string          `json:"topic"`
	MaterialType string          `json:"material_type"`
	Content      *string         `json:"content,omitempty"`
	FilePath     *string         `json:"file_path,omitempty"`
	FileSize     *int64          `json:"file_size,omitempty"`
	CreatedBy    int64           `json:"created_by"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type CreateInput struct {
	Title        string
	Description  string
	Subject      string
	Topic        string
	MaterialType string
	Content      string
	CreatedBy    int64
}

type ListFilter struct {
	Subject string
	Type    string
	Page    int
	Limit   int
}

type UploadResult struct {
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
	Type     string `json:"material_type"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Material, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Topic = strings.TrimSpace(in.Topic)
	in.MaterialType = strings.ToLower(strings.TrimSpace(in.MaterialType))

	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	subject, ok := catalog.ParseSubject(in.Subject)
	if !ok {
		return nil, fmt.Errorf("%w: unknown subject", ErrInvalidInput)
	}
	if in.Topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidInput)
	}
	if _, ok := materialTypes[in.MaterialType]; !ok {
		return nil, fmt.Errorf("%w: material_type must be text, pdf, video, audio or image", ErrInvalidInput)
	}
	if in.MaterialType == "text" && strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content is required for text materials", ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO study_materials (
			title, description, subject, topic, material_type, content,
			created_by, is_active, created_at, updated_at
		) VALUES (
			$1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), $7, TRUE, now(), now()
		)
		RETURNING id, title, description, subject, topic, material_type, content, file_path, file_size, created_by, is_active, created_at, updated_at
	`, in.Title, strings.TrimSpace(in.Description), subject.String(), in.Topic, in.MaterialType, in.Content, in.CreatedBy)

	out, err := scanMaterial(row)
	if err != nil {
		return nil, fmt.Errorf("insert material: %w", err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Material, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, subject, topic, material_type, content, file_path, file_size, created_by, is_active, created_at, updated_at
		FROM study_materials
		WHERE id = $1 AND is_active = TRUE
	`, id)
	out, err := scanMaterial(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMaterialNotFound
		}
		return nil, fmt.Errorf("load material: %w", err)
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Material, int, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}

	where := "is_active = TRUE"
	args := make([]any, 0, 4)
	if v := strings.TrimSpace(f.Subject); v != "" {
		subject, ok := catalog.ParseSubject(v)
		if !ok {
			return nil, 0, fmt.Errorf("%w: unknown subject", ErrInvalidInput)
		}
		args = append(args, subject.String())
		where += fmt.Sprintf(" AND subject = $%d", len(args))
	}
	if v := strings.ToLower(strings.TrimSpace(f.Type)); v != "" {
		if _, ok := materialTypes[v]; !ok {
			return nil, 0, fmt.Errorf("%w: unknown material_type", ErrInvalidInput)
		}
		args = append(args, v)
		where += fmt.Sprintf(" AND material_type = $%d", len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM study_materials WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count materials: %w", err)
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	query := fmt.Sprintf(`
		SELECT id, title, description, subject, topic, material_type, content, file_path, file_size, created_by, is_active, created_at, updated_at
		FROM study_materials
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query materials: %w", err)
	}
	defer rows.Close()

	items := make([]Material, 0)
	for rows.Next() {
		item, err := scanMaterial(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan material: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate materials: %w", err)
	}
	return items, total, nil
}

func (s *Service) Delete(ctx context.Context, id, actorID int64, actorIsAdmin bool) error {
	if id <= 0 {
		return ErrInvalidInput
	}

	var createdBy int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT created_by FROM study_materials WHERE id = $1 AND is_active = TRUE
	`, id).Scan(&createdBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMaterialNotFound
		}
		return fmt.Errorf("load material: %w", err)
	}
	if !actorIsAdmin && createdBy != actorID {
		return ErrForbidden
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE study_materials SET is_active = FALSE, updated_at = now() WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("delete material: %w", err)
	}
	return nil
}

// SaveUpload stores an uploaded file under a random name and returns the
// relative path to record on the material. The original filename never
// touches the filesystem.
func (s *Service) SaveUpload(file multipart.File, header *multipart.FileHeader) (*UploadResult, error) {
	if header.Size > s.maxBytes {
		return nil, ErrFileTooLarge
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	materialType, ok := allowedExtensions[ext]
	if !ok {
		return nil, ErrFileType
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	name := uuid.NewString() + ext
	dstPath := filepath.Join(s.dir, name)
	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, io.LimitReader(file, s.maxBytes+1))
	if err != nil {
		_ = os.Remove(dstPath)
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if written > s.maxBytes {
		_ = os.Remove(dstPath)
		return nil, ErrFileTooLarge
	}

	return &UploadResult{FilePath: name, FileSize: written, Type: materialType}, nil
}

// AttachFile records an uploaded file on an existing material.
func (s *Service) AttachFile(ctx context.Context, id, actorID int64, actorIsAdmin bool, upload *UploadResult) (*Material, error) {
	if id <= 0 || upload == nil {
		return nil, ErrInvalidInput
	}

	var createdBy int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT created_by FROM study_materials WHERE id = $1 AND is_active = TRUE
	`, id).Scan(&createdBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMaterialNotFound
		}
		return nil, fmt.Errorf("load material: %w", err)
	}
	if !actorIsAdmin && createdBy != actorID {
		return nil, ErrForbidden
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE study_materials
		SET file_path = $2,
			file_size = $3,
			material_type = $4,
			updated_at = now()
		WHERE id = $1
		RETURNING id, title, description, subject, topic, material_type, content, file_path, file_size, created_by, is_active, created_at, updated_at
	`, id, upload.FilePath, upload.FileSize, upload.Type)

	out, err := scanMaterial(row)
	if err != nil {
		return nil, fmt.Errorf("attach file: %w", err)
	}
	return out, nil
}

func scanMaterial(scanner interface{ Scan(dest ...any) error }) (*Material, error) {
	var out Material
	var subjectRaw string
	var description, content, filePath sql.NullString
	var fileSize sql.NullInt64
	if err := scanner.Scan(
		&out.ID,
		&out.Title,
		&description,
		&subjectRaw,
		&out.Topic,
		&out.MaterialType,
		&content,
		&filePath,
		&fileSize,
		&out.CreatedBy,
		&out.IsActive,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return nil, err
	}
	out.Subject = catalog.Subject(subjectRaw)
	if description.Valid {
		out.Description = &description.String
	}
	if content.Valid {
		out.Content = &content.String
	}
	if filePath.Valid {
		out.FilePath = &filePath.String
	}
	if fileSize.Valid {
		out.FileSize = &fileSize.Int64
	}
	return &out, nil
}
