package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"lgsprep/internal/app/apiresp"
)

type contextKey string

const userContextKey contextKey = "auth_user"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type registerRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	Grade     int    `json:"grade"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type authPayload struct {
	User   *User      `json:"user"`
	Tokens *TokenPair `json:"tokens"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, tokens, err := h.svc.Register(r.Context(), RegisterInput{
		Email:     req.Email,
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
		Role:      req.Role,
		Grade:     req.Grade,
	}, metaFromRequest(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrUserExists):
			apiresp.WriteError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrWeakPassword), errors.Is(err, ErrInvalidInput):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	apiresp.WriteSuccess(w, http.StatusCreated, "registered", authPayload{User: user, Tokens: tokens})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, tokens, err := h.svc.Login(r.Context(), req.Email, req.Password, metaFromRequest(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			apiresp.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, ErrAccountInactive):
			apiresp.WriteError(w, http.StatusForbidden, "account is not active")
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	apiresp.WriteSuccess(w, http.StatusOK, "logged in", authPayload{User: user, Tokens: tokens})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tokens, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshInvalid) {
			apiresp.WriteError(w, http.StatusUnauthorized, "refresh token invalid or expired")
			return
		}
		apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}

	apiresp.WriteSuccess(w, http.StatusOK, "token refreshed", tokens)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req refreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.svc.Logout(r.Context(), user.ID, req.RefreshToken, metaFromRequest(r)); err != nil {
		apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "logged out", nil)
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "profile", user)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.svc.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			apiresp.WriteError(w, http.StatusUnauthorized, "current password is incorrect")
		case errors.Is(err, ErrWeakPassword):
			apiresp.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrUserNotFound):
			apiresp.WriteError(w, http.StatusNotFound, "user not found")
		default:
			apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	apiresp.WriteSuccess(w, http.StatusOK, "password changed", nil)
}

func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := readBearerToken(r)
		if token == "" {
			apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		user, err := h.svc.AuthenticateToken(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, ErrAccountInactive):
				apiresp.WriteError(w, http.StatusForbidden, "account is not active")
			case errors.Is(err, ErrTokenInvalid):
				apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
			default:
				apiresp.WriteError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func RequireRoles(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				apiresp.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !user.Role.Satisfies(roles...) {
				apiresp.WriteError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CurrentUser(ctx context.Context) (*User, bool) {
	v := ctx.Value(userContextKey)
	if v == nil {
		return nil, false
	}
	u, ok := v.(*User)
	return u, ok
}

// ContextWithUser injects an authenticated user into context.
// Useful for tests and internal handlers.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func readBearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func metaFromRequest(r *http.Request) requestMeta {
	return requestMeta{IP: readIP(r), UserAgent: r.UserAgent()}
}

func readIP(r *http.Request) string {
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	return strings.TrimSpace(r.RemoteAddr)
}
