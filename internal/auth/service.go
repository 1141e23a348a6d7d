package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("email or username already in use")
	ErrUserNotFound       = errors.New("user not found")
	ErrAccountInactive    = errors.New("account is not active")
	ErrRefreshInvalid     = errors.New("refresh token invalid or expired")
	ErrWeakPassword       = errors.New("password must be at least 8 characters and contain upper, lower and digit")
)

const pgUniqueViolation = "23505"

type Service struct {
	db         *sql.DB
	tokens     *TokenManager
	bcryptCost int
	refreshTTL time.Duration
}

type ServiceConfig struct {
	Tokens     *TokenManager
	BcryptCost int
	RefreshTTL time.Duration
}

type User struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Role        Role       `json:"role"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type RegisterInput struct {
	Email     string
	Username  string
	FirstName string
	LastName  string
	Password  string
	Role      string
	Grade     int
}

type requestMeta struct {
	IP        string
	UserAgent string
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	return &Service{
		db:         db,
		tokens:     cfg.Tokens,
		bcryptCost: cfg.BcryptCost,
		refreshTTL: cfg.RefreshTTL,
	}
}

func (s *Service) Register(ctx context.Context, in RegisterInput, meta requestMeta) (*User, *TokenPair, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, nil, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if len(in.Username) < 3 || len(in.Username) > 32 {
		return nil, nil, fmt.Errorf("%w: username must be 3-32 characters", ErrInvalidInput)
	}
	if in.FirstName == "" || in.LastName == "" {
		return nil, nil, fmt.Errorf("%w: first_name and last_name are required", ErrInvalidInput)
	}
	if !passwordMeetsPolicy(in.Password) {
		return nil, nil, ErrWeakPassword
	}

	role := RoleStudent
	if strings.TrimSpace(in.Role) != "" {
		parsed, ok := ParseRole(in.Role)
		if !ok {
			return nil, nil, fmt.Errorf("%w: unknown role", ErrInvalidInput)
		}
		if parsed == RoleAdmin {
			// Admin accounts are provisioned out of band, never self-registered.
			return nil, nil, fmt.Errorf("%w: role not allowed", ErrInvalidInput)
		}
		role = parsed
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM users
			WHERE LOWER(email) = $1 OR LOWER(username) = LOWER($2)
		)
	`, in.Email, in.Username).Scan(&exists); err != nil {
		return nil, nil, fmt.Errorf("check existing user: %w", err)
	}
	if exists {
		return nil, nil, ErrUserExists
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO users (
			email, username, password_hash, first_name, last_name, role,
			is_active, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, TRUE, now(), now()
		)
		RETURNING id, email, username, first_name, last_name, role, is_active, last_login_at, created_at, updated_at
	`, in.Email, in.Username, string(passwordHash), in.FirstName, in.LastName, role.String())

	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, ErrUserExists
		}
		return nil, nil, fmt.Errorf("insert user: %w", err)
	}

	if role == RoleStudent {
		grade := in.Grade
		if grade <= 0 {
			grade = 8
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO student_profiles (user_id, grade, total_exams_taken, average_score, created_at, updated_at)
			VALUES ($1, $2, 0, 0, now(), now())
		`, user.ID, grade); err != nil {
			return nil, nil, fmt.Errorf("insert student profile: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit register: %w", err)
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	s.logActivity(ctx, user.ID, "register", "", meta)
	return user, pair, nil
}

func (s *Service) Login(ctx context.Context, email, password string, meta requestMeta) (*User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, nil, ErrInvalidCredentials
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, username, first_name, last_name, role, is_active, last_login_at, created_at, updated_at, password_hash
		FROM users
		WHERE LOWER(email) = $1
		LIMIT 1
	`, email)

	var u User
	var roleRaw string
	var lastLogin sql.NullTime
	var passwordHash string
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.FirstName, &u.LastName, &roleRaw, &u.IsActive, &lastLogin, &u.CreatedAt, &u.UpdatedAt, &passwordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("query user: %w", err)
	}
	role, ok := ParseRole(roleRaw)
	if !ok {
		return nil, nil, fmt.Errorf("user %d has unknown role %q", u.ID, roleRaw)
	}
	u.Role = role
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, nil, ErrAccountInactive
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_login_at = now(), updated_at = now() WHERE id = $1
	`, u.ID); err != nil {
		return nil, nil, fmt.Errorf("update last login: %w", err)
	}

	pair, err := s.issueTokenPair(ctx, &u)
	if err != nil {
		return nil, nil, err
	}

	s.logActivity(ctx, u.ID, "login", "", meta)
	return &u, pair, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is issued, so a leaked token stops working after first use.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrRefreshInvalid
	}
	tokenHash := hashRefreshToken(refreshToken)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin refresh tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT rt.id, rt.expires_at, rt.is_revoked,
			u.id, u.email, u.username, u.first_name, u.last_name, u.role, u.is_active, u.last_login_at, u.created_at, u.updated_at
		FROM refresh_tokens rt
		JOIN users u ON u.id = rt.user_id
		WHERE rt.token_hash = $1
		FOR UPDATE OF rt
	`, tokenHash)

	var tokenID int64
	var expiresAt time.Time
	var revoked bool
	var u User
	var roleRaw string
	var lastLogin sql.NullTime
	if err := row.Scan(&tokenID, &expiresAt, &revoked,
		&u.ID, &u.Email, &u.Username, &u.FirstName, &u.LastName, &roleRaw, &u.IsActive, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRefreshInvalid
		}
		return nil, fmt.Errorf("load refresh token: %w", err)
	}
	if revoked || time.Now().After(expiresAt) || !u.IsActive {
		return nil, ErrRefreshInvalid
	}
	role, ok := ParseRole(roleRaw)
	if !ok {
		return nil, ErrRefreshInvalid
	}
	u.Role = role
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE refresh_tokens SET is_revoked = TRUE, updated_at = now() WHERE id = $1
	`, tokenID); err != nil {
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}

	newRefresh, err := generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	newExpiry := time.Now().Add(s.refreshTTL)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_hash, user_id, expires_at, is_revoked, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, now(), now())
	`, hashRefreshToken(newRefresh), u.ID, newExpiry); err != nil {
		return nil, fmt.Errorf("insert refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit refresh: %w", err)
	}

	access, accessExpiry, err := s.tokens.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: newRefresh, ExpiresAt: accessExpiry}, nil
}

func (s *Service) Logout(ctx context.Context, userID int64, refreshToken string, meta requestMeta) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken != "" {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET is_revoked = TRUE, updated_at = now()
			WHERE token_hash = $1
		`, hashRefreshToken(refreshToken)); err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
	}
	s.logActivity(ctx, userID, "logout", "", meta)
	return nil
}

func (s *Service) GetUser(ctx context.Context, userID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, username, first_name, last_name, role, is_active, last_login_at, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// AuthenticateToken verifies a bearer token and loads the live account row,
// so deactivated users lose access before the token expires.
func (s *Service) AuthenticateToken(ctx context.Context, tokenStr string) (*User, error) {
	claims, err := s.tokens.Parse(tokenStr)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	user, err := s.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}
	return user, nil
}

func (s *Service) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	if !passwordMeetsPolicy(newPassword) {
		return ErrWeakPassword
	}

	var currentHash string
	if err := s.db.QueryRowContext(ctx, `
		SELECT password_hash FROM users WHERE id = $1
	`, userID).Scan(&currentHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load password hash: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(currentHash), []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1
	`, userID, string(newHash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *Service) issueTokenPair(ctx context.Context, user *User) (*TokenPair, error) {
	access, accessExpiry, err := s.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	refresh, err := generateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_hash, user_id, expires_at, is_revoked, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, now(), now())
	`, hashRefreshToken(refresh), user.ID, time.Now().Add(s.refreshTTL)); err != nil {
		return nil, fmt.Errorf("insert refresh token: %w", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: accessExpiry}, nil
}

// logActivity is best-effort: an audit insert must never fail the request.
func (s *Service) logActivity(ctx context.Context, userID int64, action, details string, meta requestMeta) {
	_, _ = s.db.ExecContext(ctx, `
		INSERT INTO activity_logs (user_id, action, details, ip_address, user_agent, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), now(), now())
	`, userID, action, details, meta.IP, meta.UserAgent)
}

func scanUser(scanner interface{ Scan(dest ...any) error }) (*User, error) {
	var u User
	var roleRaw string
	var lastLogin sql.NullTime
	if err := scanner.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&roleRaw,
		&u.IsActive,
		&lastLogin,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	role, ok := ParseRole(roleRaw)
	if !ok {
		return nil, fmt.Errorf("unknown role %q", roleRaw)
	}
	u.Role = role
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}
	return &u, nil
}

func passwordMeetsPolicy(password string) bool {
	if len(password) < 8 {
		return false
	}
	var hasLower, hasUpper, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLower && hasUpper && hasDigit
}

func generateRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
