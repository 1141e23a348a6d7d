package question

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"lgsprep/internal/catalog"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrQuestionNotFound = errors.New("question not found")
	ErrForbidden        = errors.New("forbidden")
	ErrQuestionInUse    = errors.New("question is attached to an active exam")
)

const (
	minOptions = 2
	maxOptions = 6

	defaultTimeLimitSeconds = 60
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type Option struct {
	ID         int64  `json:"id"`
	OptionText string `json:"option_text"`
	IsCorrect  bool   `json:"is_correct"`
	Order      int    `json:"order"`
}

// PracticeOption is the student-facing shape: correctness is withheld.
type PracticeOption struct {
	ID         int64  `json:"id"`
	OptionText string `json:"option_text"`
	Order      int    `json:"order"`
}

type Question struct {
	ID               int64              `json:"id"`
	Subject          catalog.Subject    `json:"subject"`
	Topic            string             `json:"topic"`
	Difficulty       catalog.Difficulty `json:"difficulty"`
	QuestionText     string             `json:"question_text"`
	Explanation      *string            `json:"explanation,omitempty"`
	Points           int                `json:"points"`
	TimeLimitSeconds int                `json:"time_limit_seconds"`
	CreatedBy        int64              `json:"created_by"`
	IsActive         bool               `json:"is_active"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	Options          []Option           `json:"options,omitempty"`
}

type PracticeQuestion struct {
	ID               int64              `json:"id"`
	Subject          catalog.Subject    `json:"subject"`
	Topic            string             `json:"topic"`
	Difficulty       catalog.Difficulty `json:"difficulty"`
	QuestionText     string             `json:"question_text"`
	Points           int                `json:"points"`
	TimeLimitSeconds int                `json:"time_limit_seconds"`
	Options          []PracticeOption   `json:"options"`
}

type OptionInput struct {
	OptionText string `json:"option_text"`
	IsCorrect  bool   `json:"is_correct"`
}

type CreateInput struct {
	Subject          string
	Topic            string
	Difficulty       string
	QuestionText     string
	Explanation      string
	Points           int
	TimeLimitSeconds int
	Options          []OptionInput
	CreatedBy        int64
}

type UpdateInput struct {
	ID               int64
	Subject          string
	Topic            string
	Difficulty       string
	QuestionText     string
	Explanation      string
	Points           int
	TimeLimitSeconds int
	Options          []OptionInput
}

type ListFilter struct {
	Subject    string
	Difficulty string
	Topic      string
	Search     string
	Page       int
	Limit      int
}

type validatedQuestion struct {
	subject          catalog.Subject
	topic            string
	difficulty       catalog.Difficulty
	questionText     string
	explanation      string
	points           int
	timeLimitSeconds int
	options          []OptionInput
}

func validateQuestionFields(subjectRaw, topic, difficultyRaw, questionText, explanation string, points, timeLimitSeconds int, options []OptionInput) (*validatedQuestion, error) {
	subject, ok := catalog.ParseSubject(subjectRaw)
	if !ok {
		return nil, fmt.Errorf("%w: unknown subject", ErrInvalidInput)
	}
	difficulty, ok := catalog.ParseDifficulty(difficultyRaw)
	if !ok {
		return nil, fmt.Errorf("%w: difficulty must be easy, medium or hard", ErrInvalidInput)
	}

	topic = strings.TrimSpace(topic)
	questionText = strings.TrimSpace(questionText)
	explanation = strings.TrimSpace(explanation)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidInput)
	}
	if questionText == "" {
		return nil, fmt.Errorf("%w: question_text is required", ErrInvalidInput)
	}
	if points < 0 {
		return nil, fmt.Errorf("%w: points cannot be negative", ErrInvalidInput)
	}
	if points == 0 {
		points = difficulty.DefaultPoints()
	}
	if timeLimitSeconds < 0 {
		return nil, fmt.Errorf("%w: time_limit_seconds cannot be negative", ErrInvalidInput)
	}
	if timeLimitSeconds == 0 {
		timeLimitSeconds = defaultTimeLimitSeconds
	}

	if len(options) < minOptions || len(options) > maxOptions {
		return nil, fmt.Errorf("%w: options must contain between %d and %d rows", ErrInvalidInput, minOptions, maxOptions)
	}
	cleaned := make([]OptionInput, 0, len(options))
	hasCorrect := false
	for i, opt := range options {
		text := strings.TrimSpace(opt.OptionText)
		if text == "" {
			return nil, fmt.Errorf("%w: options[%d].option_text is required", ErrInvalidInput, i)
		}
		if opt.IsCorrect {
			hasCorrect = true
		}
		cleaned = append(cleaned, OptionInput{OptionText: text, IsCorrect: opt.IsCorrect})
	}
	if !hasCorrect {
		return nil, fmt.Errorf("%w: at least one option must be correct", ErrInvalidInput)
	}

	return &validatedQuestion{
		subject:          subject,
		topic:            topic,
		difficulty:       difficulty,
		questionText:     questionText,
		explanation:      explanation,
		points:           points,
		timeLimitSeconds: timeLimitSeconds,
		options:          cleaned,
	}, nil
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Question, error) {
	v, err := validateQuestionFields(in.Subject, in.Topic, in.Difficulty, in.QuestionText, in.Explanation, in.Points, in.TimeLimitSeconds, in.Options)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO questions (
			subject, topic, difficulty, question_text, explanation, points,
			time_limit_seconds, created_by, is_active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, TRUE, now(), now()
		)
		RETURNING id, subject, topic, difficulty, question_text, explanation, points, time_limit_seconds, created_by, is_active, created_at, updated_at
	`, v.subject.String(), v.topic, v.difficulty.String(), v.questionText, v.explanation, v.points, v.timeLimitSeconds, in.CreatedBy)

	out, err := scanQuestion(row)
	if err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}

	out.Options, err = insertOptions(ctx, tx, out.ID, v.options)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Question, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, subject, topic, difficulty, question_text, explanation, points, time_limit_seconds, created_by, is_active, created_at, updated_at
		FROM questions
		WHERE id = $1 AND is_active = TRUE
	`, id)
	out, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("load question: %w", err)
	}

	out.Options, err = s.loadOptions(ctx, out.ID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Question, int, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}

	where := []string{"is_active = TRUE"}
	args := make([]any, 0, 4)

	if v := strings.TrimSpace(f.Subject); v != "" {
		subject, ok := catalog.ParseSubject(v)
		if !ok {
			return nil, 0, fmt.Errorf("%w: unknown subject", ErrInvalidInput)
		}
		args = append(args, subject.String())
		where = append(where, fmt.Sprintf("subject = $%d", len(args)))
	}
	if v := strings.TrimSpace(f.Difficulty); v != "" {
		difficulty, ok := catalog.ParseDifficulty(v)
		if !ok {
			return nil, 0, fmt.Errorf("%w: difficulty must be easy, medium or hard", ErrInvalidInput)
		}
		args = append(args, difficulty.String())
		where = append(where, fmt.Sprintf("difficulty = $%d", len(args)))
	}
	if v := strings.TrimSpace(f.Topic); v != "" {
		args = append(args, "%"+v+"%")
		where = append(where, fmt.Sprintf("topic ILIKE $%d", len(args)))
	}
	if v := strings.TrimSpace(f.Search); v != "" {
		args = append(args, "%"+v+"%")
		where = append(where, fmt.Sprintf("question_text ILIKE $%d", len(args)))
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE `+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count questions: %w", err)
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	query := fmt.Sprintf(`
		SELECT id, subject, topic, difficulty, question_text, explanation, points, time_limit_seconds, created_by, is_active, created_at, updated_at
		FROM questions
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0)
	for rows.Next() {
		item, err := scanQuestion(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan question: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate questions: %w", err)
	}
	return items, total, nil
}

// Update replaces the question's fields and its full option set. Only the
// creator or an admin may update.
func (s *Service) Update(ctx context.Context, in UpdateInput, actorID int64, actorIsAdmin bool) (*Question, error) {
	if in.ID <= 0 {
		return nil, ErrInvalidInput
	}
	v, err := validateQuestionFields(in.Subject, in.Topic, in.Difficulty, in.QuestionText, in.Explanation, in.Points, in.TimeLimitSeconds, in.Options)
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
		SELECT created_by FROM questions WHERE id = $1 AND is_active = TRUE FOR UPDATE
	`, in.ID).Scan(&createdBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("load question: %w", err)
	}
	if !actorIsAdmin && createdBy != actorID {
		return nil, ErrForbidden
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE questions
		SET subject = $2,
			topic = $3,
			difficulty = $4,
			question_text = $5,
			explanation = NULLIF($6, ''),
			points = $7,
			time_limit_seconds = $8,
			updated_at = now()
		WHERE id = $1
		RETURNING id, subject, topic, difficulty, question_text, explanation, points, time_limit_seconds, created_by, is_active, created_at, updated_at
	`, in.ID, v.subject.String(), v.topic, v.difficulty.String(), v.questionText, v.explanation, v.points, v.timeLimitSeconds)

	out, err := scanQuestion(row)
	if err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM question_options WHERE question_id = $1`, in.ID); err != nil {
		return nil, fmt.Errorf("clear question options: %w", err)
	}
	out.Options, err = insertOptions(ctx, tx, in.ID, v.options)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

// Delete soft-deletes a question. A question that still sits on an active
// exam cannot be removed; the caller gets ErrQuestionInUse and must detach
// it first.
func (s *Service) Delete(ctx context.Context, id, actorID int64, actorIsAdmin bool) error {
	if id <= 0 {
		return ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var createdBy int64
	if err := tx.QueryRowContext(ctx, `
		SELECT created_by FROM questions WHERE id = $1 AND is_active = TRUE FOR UPDATE
	`, id).Scan(&createdBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("load question: %w", err)
	}
	if !actorIsAdmin && createdBy != actorID {
		return ErrForbidden
	}

	var inUse bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM exam_questions eq
			JOIN exams e ON e.id = eq.exam_id
			WHERE eq.question_id = $1 AND e.is_active = TRUE
		)
	`, id).Scan(&inUse); err != nil {
		return fmt.Errorf("check question usage: %w", err)
	}
	if inUse {
		return ErrQuestionInUse
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE questions SET is_active = FALSE, updated_at = now() WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("delete question: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Random returns up to count active questions for practice, correctness
// stripped from the options.
func (s *Service) Random(ctx context.Context, subjectRaw, difficultyRaw string, count int) ([]PracticeQuestion, error) {
	if count <= 0 {
		count = 10
	}
	if count > 50 {
		count = 50
	}

	where := []string{"is_active = TRUE"}
	args := make([]any, 0, 3)
	if v := strings.TrimSpace(subjectRaw); v != "" {
		subject, ok := catalog.ParseSubject(v)
		if !ok {
			return nil, fmt.Errorf("%w: unknown subject", ErrInvalidInput)
		}
		args = append(args, subject.String())
		where = append(where, fmt.Sprintf("subject = $%d", len(args)))
	}
	if v := strings.TrimSpace(difficultyRaw); v != "" {
		difficulty, ok := catalog.ParseDifficulty(v)
		if !ok {
			return nil, fmt.Errorf("%w: difficulty must be easy, medium or hard", ErrInvalidInput)
		}
		args = append(args, difficulty.String())
		where = append(where, fmt.Sprintf("difficulty = $%d", len(args)))
	}
	args = append(args, count)

	query := fmt.Sprintf(`
		SELECT id, subject, topic, difficulty, question_text, points, time_limit_seconds
		FROM questions
		WHERE %s
		ORDER BY random()
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query random questions: %w", err)
	}
	defer rows.Close()

	items := make([]PracticeQuestion, 0, count)
	for rows.Next() {
		var item PracticeQuestion
		var subjectRaw, difficultyRaw string
		if err := rows.Scan(&item.ID, &subjectRaw, &item.Topic, &difficultyRaw, &item.QuestionText, &item.Points, &item.TimeLimitSeconds); err != nil {
			return nil, fmt.Errorf("scan random question: %w", err)
		}
		item.Subject = catalog.Subject(subjectRaw)
		item.Difficulty = catalog.Difficulty(difficultyRaw)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate random questions: %w", err)
	}

	for i := range items {
		opts, err := s.loadOptions(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		practice := make([]PracticeOption, 0, len(opts))
		for _, opt := range opts {
			practice = append(practice, PracticeOption{ID: opt.ID, OptionText: opt.OptionText, Order: opt.Order})
		}
		items[i].Options = practice
	}
	return items, nil
}

func (s *Service) loadOptions(ctx context.Context, questionID int64) ([]Option, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, option_text, is_correct, option_order
		FROM question_options
		WHERE question_id = $1
		ORDER BY option_order ASC, id ASC
	`, questionID)
	if err != nil {
		return nil, fmt.Errorf("query options: %w", err)
	}
	defer rows.Close()

	items := make([]Option, 0, maxOptions)
	for rows.Next() {
		var opt Option
		if err := rows.Scan(&opt.ID, &opt.OptionText, &opt.IsCorrect, &opt.Order); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		items = append(items, opt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate options: %w", err)
	}
	return items, nil
}

func insertOptions(ctx context.Context, tx *sql.Tx, questionID int64, options []OptionInput) ([]Option, error) {
	out := make([]Option, 0, len(options))
	for i, opt := range options {
		var id int64
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO question_options (question_id, option_text, is_correct, option_order)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, questionID, opt.OptionText, opt.IsCorrect, i+1).Scan(&id); err != nil {
			return nil, fmt.Errorf("insert option: %w", err)
		}
		out = append(out, Option{ID: id, OptionText: opt.OptionText, IsCorrect: opt.IsCorrect, Order: i + 1})
	}
	return out, nil
}

func scanQuestion(scanner interface{ Scan(dest ...any) error }) (*Question, error) {
	var out Question
	var subjectRaw, difficultyRaw string
	var explanation sql.NullString
	if err := scanner.Scan(
		&out.ID,
		&subjectRaw,
		&out.Topic,
		&difficultyRaw,
		&out.QuestionText,
		&explanation,
		&out.Points,
		&out.TimeLimitSeconds,
		&out.CreatedBy,
		&out.IsActive,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return nil, err
	}
	out.Subject = catalog.Subject(subjectRaw)
	out.Difficulty = catalog.Difficulty(difficultyRaw)
	if explanation.Valid {
		out.Explanation = &explanation.String
	}
	return &out, nil
}
