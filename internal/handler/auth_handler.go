// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/onthemap/internal/model"
	"github.com/hitoshi/onthemap/internal/transport"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*model.Session, error)
	Logout(ctx context.Context) error
	CurrentSession() (model.Session, bool)
	CurrentUser(ctx context.Context) (*model.User, error)
}

// AuthHandler はログインセッション関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	logger  *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  logger,
	}
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse はセッション情報のAPIレスポンス。
// セッションIDはバックエンドとの通信にのみ使うため返さない。
type sessionResponse struct {
	UserID     string `json:"user_id"`
	Expiration string `json:"expiration"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
}

// Login はメールアドレスとパスワードでバックエンドにログインする。
// POST /api/session
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, invalidBodyError())
		return
	}

	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		// ログイン画面ではバックエンドのメッセージをそのまま表示する
		var backendErr *transport.APIError
		if errors.As(err, &backendErr) && backendErr.HTTPStatusCode >= 400 && backendErr.HTTPStatusCode < 500 {
			writeErrorBody(w, backendErr.HTTPStatusCode, model.NewLoginFailedError(backendErr.Message))
			return
		}
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		UserID:     session.UserID,
		Expiration: session.Expiration,
	})
}

// Logout はバックエンドのセッションを破棄する。
// DELETE /api/session
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のセッションとユーザー名を返す。
// ユーザー情報を取得できない場合もセッション情報は返す。
// GET /api/session
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session, ok := h.service.CurrentSession()
	if !ok {
		writeErrorBody(w, http.StatusUnauthorized, model.NewNotLoggedInError())
		return
	}

	resp := sessionResponse{
		UserID:     session.UserID,
		Expiration: session.Expiration,
	}

	user, err := h.service.CurrentUser(r.Context())
	if err != nil {
		h.logger.Warn("failed to get current user", slog.String("error", err.Error()))
	} else {
		resp.FirstName = user.FirstName
		resp.LastName = user.LastName
	}

	writeJSON(w, http.StatusOK, resp)
}
