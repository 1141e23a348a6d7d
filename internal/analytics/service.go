package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lgsprep/internal/catalog"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrExamNotFound = errors.New("exam not found")
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type SubjectPerformance struct {
	Subject           catalog.Subject `json:"subject"`
	SubjectName       string          `json:"subject_name"`
	AttemptCount      int             `json:"attempt_count"`
	AveragePercentage float64         `json:"average_percentage"`
	BestPercentage    float64         `json:"best_percentage"`
}

type StudentPerformance struct {
	StudentID         int64                `json:"student_id"`
	TotalAttempts     int                  `json:"total_attempts"`
	AveragePercentage float64              `json:"average_percentage"`
	Subjects          []SubjectPerformance `json:"subjects"`
}

type ProgressPoint struct {
	ExamID      int64           `json:"exam_id"`
	ExamTitle   string          `json:"exam_title"`
	Subject     catalog.Subject `json:"subject"`
	Percentage  float64         `json:"percentage"`
	Score       int             `json:"score"`
	MaxScore    int             `json:"max_score"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

type AdminOverview struct {
	TotalStudents     int     `json:"total_students"`
	TotalTeachers     int     `json:"total_teachers"`
	TotalQuestions    int     `json:"total_questions"`
	TotalExams        int     `json:"total_exams"`
	TotalAttempts     int     `json:"total_attempts"`
	AveragePercentage float64 `json:"average_percentage"`
}

type ExamResultRow struct {
	StudentID   int64     `json:"student_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email"`
	Score       int       `json:"score"`
	MaxScore    int       `json:"max_score"`
	Percentage  float64   `json:"percentage"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Performance aggregates a student's completed attempts per subject.
func (s *Service) Performance(ctx context.Context, studentID int64) (*StudentPerformance, error) {
	if studentID <= 0 {
		return nil, ErrInvalidInput
	}

	out := &StudentPerformance{StudentID: studentID, Subjects: make([]SubjectPerformance, 0)}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(ROUND(AVG(percentage)::numeric, 2), 0)
		FROM exam_attempts
		WHERE student_id = $1 AND status = 'completed'
	`, studentID).Scan(&out.TotalAttempts, &out.AveragePercentage); err != nil {
		return nil, fmt.Errorf("aggregate attempts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.subject,
			COUNT(*),
			ROUND(AVG(a.percentage)::numeric, 2),
			MAX(a.percentage)
		FROM exam_attempts a
		JOIN exams e ON e.id = a.exam_id
		WHERE a.student_id = $1 AND a.status = 'completed'
		GROUP BY e.subject
		ORDER BY e.subject ASC
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("query subject performance: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item SubjectPerformance
		var subjectRaw string
		if err := rows.Scan(&subjectRaw, &item.AttemptCount, &item.AveragePercentage, &item.BestPercentage); err != nil {
			return nil, fmt.Errorf("scan subject performance: %w", err)
		}
		item.Subject = catalog.Subject(subjectRaw)
		item.SubjectName = item.Subject.DisplayName()
		out.Subjects = append(out.Subjects, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subject performance: %w", err)
	}
	return out, nil
}

// Progress returns a student's most recent graded attempts, newest first.
func (s *Service) Progress(ctx context.Context, studentID int64, limit int) ([]ProgressPoint, error) {
	if studentID <= 0 {
		return nil, ErrInvalidInput
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.exam_id, e.title, e.subject, a.percentage, a.score, a.max_score, a.submitted_at
		FROM exam_attempts a
		JOIN exams e ON e.id = a.exam_id
		WHERE a.student_id = $1 AND a.status = 'completed'
		ORDER BY a.submitted_at DESC
		LIMIT $2
	`, studentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query progress: %w", err)
	}
	defer rows.Close()

	items := make([]ProgressPoint, 0, limit)
	for rows.Next() {
		var item ProgressPoint
		var subjectRaw string
		if err := rows.Scan(&item.ExamID, &item.ExamTitle, &subjectRaw, &item.Percentage, &item.Score, &item.MaxScore, &item.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan progress point: %w", err)
		}
		item.Subject = catalog.Subject(subjectRaw)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return items, nil
}

// Overview returns platform-wide counts for the admin dashboard.
func (s *Service) Overview(ctx context.Context) (*AdminOverview, error) {
	out := &AdminOverview{}
	if err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users WHERE role = 'student' AND is_active = TRUE),
			(SELECT COUNT(*) FROM users WHERE role = 'teacher' AND is_active = TRUE),
			(SELECT COUNT(*) FROM questions WHERE is_active = TRUE),
			(SELECT COUNT(*) FROM exams WHERE is_active = TRUE),
			(SELECT COUNT(*) FROM exam_attempts WHERE status = 'completed'),
			(SELECT COALESCE(ROUND(AVG(percentage)::numeric, 2), 0) FROM exam_attempts WHERE status = 'completed')
	`).Scan(
		&out.TotalStudents,
		&out.TotalTeachers,
		&out.TotalQuestions,
		&out.TotalExams,
		&out.TotalAttempts,
		&out.AveragePercentage,
	); err != nil {
		return nil, fmt.Errorf("query overview: %w", err)
	}
	return out, nil
}

// ExamResults lists the graded attempts on one exam with student identity,
// ordered best first. Feeds the Excel export.
func (s *Service) ExamResults(ctx context.Context, examID int64) ([]ExamResultRow, error) {
	if examID <= 0 {
		return nil, ErrInvalidInput
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM exams WHERE id = $1)`, examID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check exam: %w", err)
	}
	if !exists {
		return nil, ErrExamNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.first_name, u.last_name, u.email, a.score, a.max_score, a.percentage, a.submitted_at
		FROM exam_attempts a
		JOIN users u ON u.id = a.student_id
		WHERE a.exam_id = $1 AND a.status = 'completed'
		ORDER BY a.percentage DESC, a.submitted_at ASC
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query exam results: %w", err)
	}
	defer rows.Close()

	items := make([]ExamResultRow, 0)
	for rows.Next() {
		var item ExamResultRow
		if err := rows.Scan(&item.StudentID, &item.FirstName, &item.LastName, &item.Email, &item.Score, &item.MaxScore, &item.Percentage, &item.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan exam result: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exam results: %w", err)
	}
	return items, nil
}
