package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"lgsprep/internal/catalog"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrExamNotFound     = errors.New("exam not found")
	ErrExamNotJoinable  = errors.New("exam is not open for attempts")
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrAttemptExists    = errors.New("attempt already exists for this exam")
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	ErrDeadlinePassed   = errors.New("submission deadline has passed")
	ErrForbidden        = errors.New("forbidden")
	ErrNotSubmitted     = errors.New("attempt not submitted yet")
)

const pgUniqueViolation = "23505"

const (
	attemptInProgress = "in_progress"
	attemptCompleted  = "completed"
)

type Service struct {
	db  *sql.DB
	now func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

type Exam struct {
	ID              int64           `json:"id"`
	Title           string          `json:"title"`
	Description     *string         `json:"description,omitempty"`
	Subject         catalog.Subject `json:"subject"`
	DurationMinutes int             `json:"duration_minutes"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         *time.Time      `json:"end_time,omitempty"`
	IsActive        bool            `json:"is_active"`
	CreatedBy       int64           `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	QuestionCount   int             `json:"question_count"`
	QuestionIDs     []int64         `json:"question_ids,omitempty"`
}

type CreateExamInput struct {
	Title           string
	Description     string
	Subject         string
	DurationMinutes int
	StartTime       time.Time
	EndTime         *time.Time
	QuestionIDs     []int64
	CreatedBy       int64
}

type UpdateExamInput struct {
	ID              int64
	Title           string
	Description     string
	Subject         string
	DurationMinutes int
	StartTime       time.Time
	EndTime         *time.Time
	QuestionIDs     []int64
}

type ListFilter struct {
	Subject string
	Page    int
	Limit   int
}

type Attempt struct {
	ID               int64      `json:"id"`
	ExamID           int64      `json:"exam_id"`
	StudentID        int64      `json:"student_id"`
	Status           string     `json:"status"`
	Score            int        `json:"score"`
	MaxScore         int        `json:"max_score"`
	Percentage       float64    `json:"percentage"`
	StartedAt        time.Time  `json:"started_at"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	TimeSpentSeconds int        `json:"time_spent_seconds"`
}

type AnswerInput struct {
	QuestionID       int64   `json:"question_id"`
	SelectedOptions  []int64 `json:"selected_option_ids"`
	TimeSpentSeconds int     `json:"time_spent_seconds"`
}

type AnswerResult struct {
	QuestionID       int64   `json:"question_id"`
	SelectedOptions  []int64 `json:"selected_option_ids"`
	CorrectOptions   []int64 `json:"correct_option_ids"`
	IsCorrect        bool    `json:"is_correct"`
	PointsEarned     int     `json:"points_earned"`
	PointsPossible   int     `json:"points_possible"`
	TimeSpentSeconds int     `json:"time_spent_seconds"`
}

type AttemptResult struct {
	Attempt Attempt        `json:"attempt"`
	Exam    Exam           `json:"exam"`
	Answers []AnswerResult `json:"answers"`
}

// AttemptQuestion is the question shape handed to a student during an
// attempt: no correctness markers, options in authored order.
type AttemptQuestion struct {
	ID               int64              `json:"id"`
	Order            int                `json:"order"`
	Subject          catalog.Subject    `json:"subject"`
	Topic            string             `json:"topic"`
	Difficulty       catalog.Difficulty `json:"difficulty"`
	QuestionText     string             `json:"question_text"`
	Points           int                `json:"points"`
	TimeLimitSeconds int                `json:"time_limit_seconds"`
	Options          []AttemptOption    `json:"options"`
}

type AttemptOption struct {
	ID         int64  `json:"id"`
	OptionText string `json:"option_text"`
	Order      int    `json:"order"`
}

type StartedAttempt struct {
	Attempt   Attempt           `json:"attempt"`
	Exam      Exam              `json:"exam"`
	Deadline  time.Time         `json:"deadline"`
	Questions []AttemptQuestion `json:"questions"`
}

func validateExamFields(title, subjectRaw string, durationMinutes int, startTime time.Time, endTime *time.Time, questionIDs []int64) (catalog.Subject, error) {
	if strings.TrimSpace(title) == "" {
		return "", fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	subject, ok := catalog.ParseSubject(subjectRaw)
	if !ok {
		return "", fmt.Errorf("%w: unknown subject", ErrInvalidInput)
	}
	if durationMinutes <= 0 {
		return "", fmt.Errorf("%w: duration_minutes must be positive", ErrInvalidInput)
	}
	if startTime.IsZero() {
		return "", fmt.Errorf("%w: start_time is required", ErrInvalidInput)
	}
	if endTime != nil && !endTime.After(startTime) {
		return "", fmt.Errorf("%w: end_time must be after start_time", ErrInvalidInput)
	}
	if len(questionIDs) == 0 {
		return "", fmt.Errorf("%w: at least one question is required", ErrInvalidInput)
	}
	seen := make(map[int64]struct{}, len(questionIDs))
	for _, id := range questionIDs {
		if id <= 0 {
			return "", fmt.Errorf("%w: question ids must be positive", ErrInvalidInput)
		}
		if _, dup := seen[id]; dup {
			return "", fmt.Errorf("%w: duplicate question id %d", ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
	}
	return subject, nil
}

func (s *Service) CreateExam(ctx context.Context, in CreateExamInput) (*Exam, error) {
	subject, err := validateExamFields(in.Title, in.Subject, in.DurationMinutes, in.StartTime, in.EndTime, in.QuestionIDs)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := verifyQuestionsActive(ctx, tx, in.QuestionIDs); err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO exams (
			title, description, subject, duration_minutes, start_time, end_time,
			is_active, created_by, created_at, updated_at
		) VALUES (
			$1, NULLIF($2, ''), $3, $4, $5, $6, TRUE, $7, now(), now()
		)
		RETURNING id, title, description, subject, duration_minutes, start_time, end_time, is_active, created_by, created_at, updated_at
	`, strings.TrimSpace(in.Title), strings.TrimSpace(in.Description), subject.String(), in.DurationMinutes, in.StartTime.UTC(), nullableTime(in.EndTime))

	out, err := scanExam(row)
	if err != nil {
		return nil, fmt.Errorf("insert exam: %w", err)
	}

	if err := insertExamQuestions(ctx, tx, out.ID, in.QuestionIDs); err != nil {
		return nil, err
	}
	out.QuestionIDs = in.QuestionIDs
	out.QuestionCount = len(in.QuestionIDs)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

func (s *Service) GetExam(ctx context.Context, id int64) (*Exam, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, subject, duration_minutes, start_time, end_time, is_active, created_by, created_at, updated_at
		FROM exams
		WHERE id = $1 AND is_active = TRUE
	`, id)
	out, err := scanExam(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT question_id FROM exam_questions WHERE exam_id = $1 ORDER BY question_order ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query exam questions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var qid int64
		if err := rows.Scan(&qid); err != nil {
			return nil, fmt.Errorf("scan exam question: %w", err)
		}
		out.QuestionIDs = append(out.QuestionIDs, qid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exam questions: %w", err)
	}
	out.QuestionCount = len(out.QuestionIDs)
	return out, nil
}

func (s *Service) ListExams(ctx context.Context, f ListFilter) ([]Exam, int, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}

	where := "e.is_active = TRUE"
	args := make([]any, 0, 3)
	if v := strings.TrimSpace(f.Subject); v != "" {
		subject, ok := catalog.ParseSubject(v)
		if !ok {
			return nil, 0, fmt.Errorf("%w: unknown subject", ErrInvalidInput)
		}
		args = append(args, subject.String())
		where += fmt.Sprintf(" AND e.subject = $%d", len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exams e WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count exams: %w", err)
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	query := fmt.Sprintf(`
		SELECT e.id, e.title, e.description, e.subject, e.duration_minutes, e.start_time, e.end_time,
			e.is_active, e.created_by, e.created_at, e.updated_at,
			(SELECT COUNT(*) FROM exam_questions eq WHERE eq.exam_id = e.id) AS question_count
		FROM exams e
		WHERE %s
		ORDER BY e.start_time DESC, e.id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query exams: %w", err)
	}
	defer rows.Close()

	items := make([]Exam, 0)
	for rows.Next() {
		var item Exam
		var description sql.NullString
		var endTime sql.NullTime
		if err := rows.Scan(
			&item.ID, &item.Title, &description, &item.Subject, &item.DurationMinutes,
			&item.StartTime, &endTime, &item.IsActive, &item.CreatedBy,
			&item.CreatedAt, &item.UpdatedAt, &item.QuestionCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan exam: %w", err)
		}
		if description.Valid {
			item.Description = &description.String
		}
		if endTime.Valid {
			item.EndTime = &endTime.Time
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate exams: %w", err)
	}
	return items, total, nil
}

func (s *Service) UpdateExam(ctx context.Context, in UpdateExamInput, actorID int64, actorIsAdmin bool) (*Exam, error) {
	if in.ID <= 0 {
		return nil, ErrInvalidInput
	}
	subject, err := validateExamFields(in.Title, in.Subject, in.DurationMinutes, in.StartTime, in.EndTime, in.QuestionIDs)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var createdBy int64
	if err := tx.QueryRowContext(ctx, `
		SELECT created_by FROM exams WHERE id = $1 AND is_active = TRUE FOR UPDATE
	`, in.ID).Scan(&createdBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam: %w", err)
	}
	if !actorIsAdmin && createdBy != actorID {
		return nil, ErrForbidden
	}

	if err := verifyQuestionsActive(ctx, tx, in.QuestionIDs); err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE exams
		SET title = $2,
			description = NULLIF($3, ''),
			subject = $4,
			duration_minutes = $5,
			start_time = $6,
			end_time = $7,
			updated_at = now()
		WHERE id = $1
		RETURNING id, title, description, subject, duration_minutes, start_time, end_time, is_active, created_by, created_at, updated_at
	`, in.ID, strings.TrimSpace(in.Title), strings.TrimSpace(in.Description), subject.String(), in.DurationMinutes, in.StartTime.UTC(), nullableTime(in.EndTime))

	out, err := scanExam(row)
	if err != nil {
		return nil, fmt.Errorf("update exam: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM exam_questions WHERE exam_id = $1`, in.ID); err != nil {
		return nil, fmt.Errorf("clear exam questions: %w", err)
	}
	if err := insertExamQuestions(ctx, tx, in.ID, in.QuestionIDs); err != nil {
		return nil, err
	}
	out.QuestionIDs = in.QuestionIDs
	out.QuestionCount = len(in.QuestionIDs)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

func (s *Service) DeleteExam(ctx context.Context, id, actorID int64, actorIsAdmin bool) error {
	if id <= 0 {
		return ErrInvalidInput
	}

	var createdBy int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT created_by FROM exams WHERE id = $1 AND is_active = TRUE
	`, id).Scan(&createdBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrExamNotFound
		}
		return fmt.Errorf("load exam: %w", err)
	}
	if !actorIsAdmin && createdBy != actorID {
		return ErrForbidden
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE exams SET is_active = FALSE, updated_at = now() WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("delete exam: %w", err)
	}
	return nil
}

// StartAttempt opens a new attempt for the student. Each (exam, student)
// pair gets exactly one attempt; a second start is a conflict. The unique
// constraint on exam_attempts backs this up under concurrent requests.
func (s *Service) StartAttempt(ctx context.Context, examID, studentID int64) (*StartedAttempt, error) {
	if examID <= 0 || studentID <= 0 {
		return nil, ErrInvalidInput
	}

	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !AttemptJoinable(now, exam.StartTime, exam.EndTime) {
		return nil, ErrExamNotJoinable
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM exam_attempts WHERE exam_id = $1 AND student_id = $2)
	`, examID, studentID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check existing attempt: %w", err)
	}
	if exists {
		return nil, ErrAttemptExists
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO exam_attempts (
			exam_id, student_id, status, score, max_score, percentage,
			started_at, time_spent_seconds, created_at, updated_at
		) VALUES (
			$1, $2, $3, 0, 0, 0, $4, 0, now(), now()
		)
		RETURNING id, exam_id, student_id, status, score, max_score, percentage, started_at, submitted_at, time_spent_seconds
	`, examID, studentID, attemptInProgress, now.UTC())

	attempt, err := scanAttempt(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAttemptExists
		}
		return nil, fmt.Errorf("insert attempt: %w", err)
	}

	questions, err := s.loadAttemptQuestions(ctx, examID)
	if err != nil {
		return nil, err
	}

	return &StartedAttempt{
		Attempt:   *attempt,
		Exam:      *exam,
		Deadline:  SubmissionDeadline(attempt.StartedAt, exam.DurationMinutes, exam.EndTime),
		Questions: questions,
	}, nil
}

// SubmitAttempt grades the full answer batch and finalizes the attempt in
// one transaction. An attempt is graded exactly once.
func (s *Service) SubmitAttempt(ctx context.Context, examID, studentID int64, answers []AnswerInput) (*AttemptResult, error) {
	if examID <= 0 || studentID <= 0 {
		return nil, ErrInvalidInput
	}
	byQuestion := make(map[int64]AnswerInput, len(answers))
	for _, a := range answers {
		if a.QuestionID <= 0 {
			return nil, fmt.Errorf("%w: question_id must be positive", ErrInvalidInput)
		}
		if _, dup := byQuestion[a.QuestionID]; dup {
			return nil, fmt.Errorf("%w: duplicate answer for question %d", ErrInvalidInput, a.QuestionID)
		}
		byQuestion[a.QuestionID] = a
	}

	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, exam_id, student_id, status, score, max_score, percentage, started_at, submitted_at, time_spent_seconds
		FROM exam_attempts
		WHERE exam_id = $1 AND student_id = $2
		FOR UPDATE
	`, examID, studentID)
	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	if attempt.Status != attemptInProgress {
		return nil, ErrAlreadySubmitted
	}

	now := s.now()
	if now.After(SubmissionDeadline(attempt.StartedAt, exam.DurationMinutes, exam.EndTime)) {
		return nil, ErrDeadlinePassed
	}

	correctByQuestion, pointsByQuestion, err := loadAnswerKeys(ctx, tx, examID)
	if err != nil {
		return nil, err
	}

	score := 0
	maxScore := 0
	results := make([]AnswerResult, 0, len(exam.QuestionIDs))
	totalTime := 0
	for _, questionID := range exam.QuestionIDs {
		points := pointsByQuestion[questionID]
		maxScore += points

		answer := byQuestion[questionID]
		correct := AnswerCorrect(correctByQuestion[questionID], answer.SelectedOptions)
		earned := 0
		if correct {
			earned = points
			score += points
		}
		if answer.TimeSpentSeconds > 0 {
			totalTime += answer.TimeSpentSeconds
		}

		selectedRaw, err := json.Marshal(nonNilIDs(answer.SelectedOptions))
		if err != nil {
			return nil, fmt.Errorf("marshal selected options: %w", err)
		}
		// The correct ids are frozen per answer row so later edits to the
		// question's options cannot rewrite what this attempt was graded
		// against.
		correctRaw, err := json.Marshal(nonNilIDs(correctByQuestion[questionID]))
		if err != nil {
			return nil, fmt.Errorf("marshal correct options: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO exam_answers (
				attempt_id, question_id, selected_option_ids, correct_option_ids,
				is_correct, points_earned, time_spent_seconds, created_at, updated_at
			) VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6, $7, now(), now())
		`, attempt.ID, questionID, selectedRaw, correctRaw, correct, earned, answer.TimeSpentSeconds); err != nil {
			if isUniqueViolation(err) {
				return nil, ErrAlreadySubmitted
			}
			return nil, fmt.Errorf("insert answer: %w", err)
		}

		results = append(results, AnswerResult{
			QuestionID:       questionID,
			SelectedOptions:  nonNilIDs(answer.SelectedOptions),
			CorrectOptions:   nonNilIDs(correctByQuestion[questionID]),
			IsCorrect:        correct,
			PointsEarned:     earned,
			PointsPossible:   points,
			TimeSpentSeconds: answer.TimeSpentSeconds,
		})
	}

	percentage := Percentage(score, maxScore)
	elapsed := int(now.Sub(attempt.StartedAt).Seconds())
	if totalTime <= 0 || totalTime > elapsed {
		totalTime = elapsed
	}

	finalRow := tx.QueryRowContext(ctx, `
		UPDATE exam_attempts
		SET status = $2,
			score = $3,
			max_score = $4,
			percentage = $5,
			submitted_at = $6,
			time_spent_seconds = $7,
			updated_at = now()
		WHERE id = $1
		RETURNING id, exam_id, student_id, status, score, max_score, percentage, started_at, submitted_at, time_spent_seconds
	`, attempt.ID, attemptCompleted, score, maxScore, percentage, now.UTC(), totalTime)
	final, err := scanAttempt(finalRow)
	if err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE student_profiles
		SET total_exams_taken = total_exams_taken + 1,
			average_score = (
				SELECT ROUND(AVG(percentage)::numeric, 2)
				FROM exam_attempts
				WHERE student_id = $1 AND status = $2
			),
			updated_at = now()
		WHERE user_id = $1
	`, studentID, attemptCompleted); err != nil {
		return nil, fmt.Errorf("update student profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &AttemptResult{Attempt: *final, Exam: *exam, Answers: results}, nil
}

// Results returns a graded attempt with per-question correctness. Students
// see only their own results; staff may look up any student's.
func (s *Service) Results(ctx context.Context, examID, studentID int64) (*AttemptResult, error) {
	if examID <= 0 || studentID <= 0 {
		return nil, ErrInvalidInput
	}

	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, exam_id, student_id, status, score, max_score, percentage, started_at, submitted_at, time_spent_seconds
		FROM exam_attempts
		WHERE exam_id = $1 AND student_id = $2
	`, examID, studentID)
	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	if attempt.Status != attemptCompleted {
		return nil, ErrNotSubmitted
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ea.question_id, ea.selected_option_ids, ea.correct_option_ids, ea.is_correct, ea.points_earned, ea.time_spent_seconds, q.points
		FROM exam_answers ea
		JOIN questions q ON q.id = ea.question_id
		JOIN exam_questions eq ON eq.question_id = ea.question_id AND eq.exam_id = $2
		WHERE ea.attempt_id = $1
		ORDER BY eq.question_order ASC
	`, attempt.ID, examID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	answers := make([]AnswerResult, 0)
	for rows.Next() {
		var res AnswerResult
		var selectedRaw, correctRaw []byte
		if err := rows.Scan(&res.QuestionID, &selectedRaw, &correctRaw, &res.IsCorrect, &res.PointsEarned, &res.TimeSpentSeconds, &res.PointsPossible); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		if len(selectedRaw) > 0 {
			if err := json.Unmarshal(selectedRaw, &res.SelectedOptions); err != nil {
				return nil, fmt.Errorf("decode selected options: %w", err)
			}
		}
		if len(correctRaw) > 0 {
			if err := json.Unmarshal(correctRaw, &res.CorrectOptions); err != nil {
				return nil, fmt.Errorf("decode correct options: %w", err)
			}
		}
		res.SelectedOptions = nonNilIDs(res.SelectedOptions)
		res.CorrectOptions = nonNilIDs(res.CorrectOptions)
		answers = append(answers, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}

	return &AttemptResult{Attempt: *attempt, Exam: *exam, Answers: answers}, nil
}

// GetAttempt loads one attempt by id. Students see only their own.
func (s *Service) GetAttempt(ctx context.Context, attemptID, actorID int64, actorIsStaff bool) (*Attempt, error) {
	if attemptID <= 0 {
		return nil, ErrInvalidInput
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, exam_id, student_id, status, score, max_score, percentage, started_at, submitted_at, time_spent_seconds
		FROM exam_attempts
		WHERE id = $1
	`, attemptID)
	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	if attempt.StudentID != actorID && !actorIsStaff {
		return nil, ErrForbidden
	}
	return attempt, nil
}

// ListAttempts returns a student's attempts, newest first.
func (s *Service) ListAttempts(ctx context.Context, studentID int64) ([]Attempt, error) {
	if studentID <= 0 {
		return nil, ErrInvalidInput
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, exam_id, student_id, status, score, max_score, percentage, started_at, submitted_at, time_spent_seconds
		FROM exam_attempts
		WHERE student_id = $1
		ORDER BY started_at DESC, id DESC
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	items := make([]Attempt, 0)
	for rows.Next() {
		item, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return items, nil
}

// ListExamAttempts returns every attempt on an exam, for staff review.
func (s *Service) ListExamAttempts(ctx context.Context, examID int64) ([]Attempt, error) {
	if examID <= 0 {
		return nil, ErrInvalidInput
	}
	if _, err := s.GetExam(ctx, examID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, exam_id, student_id, status, score, max_score, percentage, started_at, submitted_at, time_spent_seconds
		FROM exam_attempts
		WHERE exam_id = $1
		ORDER BY percentage DESC, started_at ASC, id ASC
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query exam attempts: %w", err)
	}
	defer rows.Close()

	items := make([]Attempt, 0)
	for rows.Next() {
		item, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exam attempt: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exam attempts: %w", err)
	}
	return items, nil
}

func (s *Service) loadAttemptQuestions(ctx context.Context, examID int64) ([]AttemptQuestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, eq.question_order, q.subject, q.topic, q.difficulty, q.question_text, q.points, q.time_limit_seconds
		FROM exam_questions eq
		JOIN questions q ON q.id = eq.question_id
		WHERE eq.exam_id = $1
		ORDER BY eq.question_order ASC
	`, examID)
	if err != nil {
		return nil, fmt.Errorf("query attempt questions: %w", err)
	}
	defer rows.Close()

	items := make([]AttemptQuestion, 0)
	for rows.Next() {
		var item AttemptQuestion
		var subjectRaw, difficultyRaw string
		if err := rows.Scan(&item.ID, &item.Order, &subjectRaw, &item.Topic, &difficultyRaw, &item.QuestionText, &item.Points, &item.TimeLimitSeconds); err != nil {
			return nil, fmt.Errorf("scan attempt question: %w", err)
		}
		item.Subject = catalog.Subject(subjectRaw)
		item.Difficulty = catalog.Difficulty(difficultyRaw)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempt questions: %w", err)
	}

	for i := range items {
		optRows, err := s.db.QueryContext(ctx, `
			SELECT id, option_text, option_order
			FROM question_options
			WHERE question_id = $1
			ORDER BY option_order ASC, id ASC
		`, items[i].ID)
		if err != nil {
			return nil, fmt.Errorf("query attempt options: %w", err)
		}
		opts := make([]AttemptOption, 0, 6)
		for optRows.Next() {
			var opt AttemptOption
			if err := optRows.Scan(&opt.ID, &opt.OptionText, &opt.Order); err != nil {
				optRows.Close()
				return nil, fmt.Errorf("scan attempt option: %w", err)
			}
			opts = append(opts, opt)
		}
		if err := optRows.Err(); err != nil {
			optRows.Close()
			return nil, fmt.Errorf("iterate attempt options: %w", err)
		}
		optRows.Close()
		items[i].Options = opts
	}
	return items, nil
}

type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadAnswerKeys(ctx context.Context, q queryable, examID int64) (map[int64][]int64, map[int64]int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT q.id, q.points, qo.id, qo.is_correct
		FROM exam_questions eq
		JOIN questions q ON q.id = eq.question_id
		JOIN question_options qo ON qo.question_id = q.id
		WHERE eq.exam_id = $1
		ORDER BY eq.question_order ASC, qo.option_order ASC
	`, examID)
	if err != nil {
		return nil, nil, fmt.Errorf("query answer keys: %w", err)
	}
	defer rows.Close()

	correct := make(map[int64][]int64)
	points := make(map[int64]int)
	for rows.Next() {
		var questionID, optionID int64
		var questionPoints int
		var isCorrect bool
		if err := rows.Scan(&questionID, &questionPoints, &optionID, &isCorrect); err != nil {
			return nil, nil, fmt.Errorf("scan answer key: %w", err)
		}
		points[questionID] = questionPoints
		if isCorrect {
			correct[questionID] = append(correct[questionID], optionID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate answer keys: %w", err)
	}
	return correct, points, nil
}

func verifyQuestionsActive(ctx context.Context, tx *sql.Tx, questionIDs []int64) error {
	for _, id := range questionIDs {
		var active bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS(SELECT 1 FROM questions WHERE id = $1 AND is_active = TRUE)
		`, id).Scan(&active); err != nil {
			return fmt.Errorf("check question %d: %w", id, err)
		}
		if !active {
			return fmt.Errorf("%w: question %d not found or inactive", ErrInvalidInput, id)
		}
	}
	return nil
}

func insertExamQuestions(ctx context.Context, tx *sql.Tx, examID int64, questionIDs []int64) error {
	for i, id := range questionIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO exam_questions (exam_id, question_id, question_order, created_at)
			VALUES ($1, $2, $3, now())
		`, examID, id, i+1); err != nil {
			return fmt.Errorf("insert exam question: %w", err)
		}
	}
	return nil
}

func scanExam(scanner interface{ Scan(dest ...any) error }) (*Exam, error) {
	var out Exam
	var subjectRaw string
	var description sql.NullString
	var endTime sql.NullTime
	if err := scanner.Scan(
		&out.ID,
		&out.Title,
		&description,
		&subjectRaw,
		&out.DurationMinutes,
		&out.StartTime,
		&endTime,
		&out.IsActive,
		&out.CreatedBy,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return nil, err
	}
	out.Subject = catalog.Subject(subjectRaw)
	if description.Valid {
		out.Description = &description.String
	}
	if endTime.Valid {
		out.EndTime = &endTime.Time
	}
	return &out, nil
}

func scanAttempt(scanner interface{ Scan(dest ...any) error }) (*Attempt, error) {
	var out Attempt
	var submittedAt sql.NullTime
	if err := scanner.Scan(
		&out.ID,
		&out.ExamID,
		&out.StudentID,
		&out.Status,
		&out.Score,
		&out.MaxScore,
		&out.Percentage,
		&out.StartedAt,
		&submittedAt,
		&out.TimeSpentSeconds,
	); err != nil {
		return nil, err
	}
	if submittedAt.Valid {
		out.SubmittedAt = &submittedAt.Time
	}
	return &out, nil
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
