// Package auth はログイン・ログアウトとセッション参照のユースケースを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/onthemap/internal/model"
)

var (
	// ErrMissingCredentials はメールアドレスまたはパスワードが空の場合のエラー。
	ErrMissingCredentials = errors.New("email and password are required")
	// ErrNotLoggedIn はログインしていない状態でログアウトした場合のエラー。
	ErrNotLoggedIn = errors.New("not logged in")
)

// SessionClient はセッション操作を行うAPIクライアントのインターフェース。
// api.Clientが実装する。
type SessionClient interface {
	CreateSession(ctx context.Context, email, password string) (model.Session, error)
	DeleteSession(ctx context.Context) error
	Session() (model.Session, bool)
	GetUser(ctx context.Context) (model.User, error)
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	client SessionClient
	logger *slog.Logger
}

// NewService はServiceを生成する。
func NewService(client SessionClient, logger *slog.Logger) *Service {
	return &Service{
		client: client,
		logger: logger,
	}
}

// Login はメールアドレスとパスワードでログインする。
// 認証情報は送信にのみ使い、保持しない。
func (s *Service) Login(ctx context.Context, email, password string) (*model.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	session, err := s.client.CreateSession(ctx, email, password)
	if err != nil {
		s.logger.Warn("login failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Info("user logged in", slog.String("user_id", session.UserID))
	return &session, nil
}

// Logout はログアウトする。ログインしていない場合はErrNotLoggedInを返す。
func (s *Service) Logout(ctx context.Context) error {
	session, ok := s.client.Session()
	if !ok {
		return ErrNotLoggedIn
	}

	if err := s.client.DeleteSession(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.logger.Info("user logged out", slog.String("user_id", session.UserID))
	return nil
}

// CurrentSession は現在のセッションと、ログイン済みかを返す。
func (s *Service) CurrentSession() (model.Session, bool) {
	return s.client.Session()
}

// CurrentUser はログイン中のユーザーの公開情報を取得する。
func (s *Service) CurrentUser(ctx context.Context) (*model.User, error) {
	if _, ok := s.client.Session(); !ok {
		return nil, ErrNotLoggedIn
	}

	user, err := s.client.GetUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
