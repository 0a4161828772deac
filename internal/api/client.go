// Package api はOn the Mapバックエンドのクライアントを提供する。
// セッションの作成・削除、位置情報の一覧取得・投稿を行い、ログイン状態をインスタンスごとに保持する。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/onthemap/internal/model"
	"github.com/hitoshi/onthemap/internal/transport"
)

const (
	sessionPath         = "session"
	studentLocationPath = "StudentLocation"
	usersPath           = "users/"

	// xsrfCookieName はセッション削除時にヘッダーへ転記するCookie名。
	xsrfCookieName = "XSRF-TOKEN"
	xsrfHeaderName = "X-XSRF-TOKEN"
)

// エンドポイント名。ログとメトリクスのラベルに使う。
const (
	EndpointCreateSession = "create_session"
	EndpointDeleteSession = "delete_session"
	EndpointGetLocations  = "get_locations"
	EndpointPostLocation  = "post_location"
	EndpointGetUser       = "get_user"
)

var (
	// ErrMissingResults は位置情報一覧のレスポンスにresultsキーが無い場合のエラー。
	ErrMissingResults = errors.New("couldn't get results from student locations")
	// ErrNoSession はログインが必要な操作をセッションなしで呼んだ場合のエラー。
	ErrNoSession = errors.New("no active session")
)

// Config はクライアントの設定。
type Config struct {
	// BaseURL は末尾スラッシュ付きのAPIベースURL。
	BaseURL string
	// Provider はセッション作成時に認証情報を包むキー。
	Provider string
}

// Client はOn the MapバックエンドのAPIクライアント。
// ログインセッションはClientごとに保持し、並行に呼び出してよい。
type Client struct {
	transport *transport.Transport
	logger    *slog.Logger
	provider  string
	session   SessionState

	baseURL          *url.URL
	sessionURL       string
	studentLocations string
}

// NewClient はClientを生成する。BaseURLが絶対URLでない場合はエラーを返す。
func NewClient(t *transport.Transport, cfg Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base URL must be absolute: %s", cfg.BaseURL)
	}

	return &Client{
		transport:        t,
		logger:           logger,
		provider:         cfg.Provider,
		baseURL:          base,
		sessionURL:       base.JoinPath(sessionPath).String(),
		studentLocations: base.JoinPath(studentLocationPath).String(),
	}, nil
}

// Session は現在のセッションと、ログイン済みかを返す。
func (c *Client) Session() (model.Session, bool) {
	return c.session.Get()
}

type sessionResponse struct {
	Account struct {
		Registered bool   `json:"registered"`
		Key        string `json:"key"`
	} `json:"account"`
	Session struct {
		ID         string `json:"id"`
		Expiration string `json:"expiration"`
	} `json:"session"`
}

type deleteSessionResponse struct {
	Session struct {
		ID         string `json:"id"`
		Expiration string `json:"expiration"`
	} `json:"session"`
}

// CreateSession はメールアドレスとパスワードでログインし、セッションを保持する。
// 失敗した場合、保持中のセッションは変更しない。
func (c *Client) CreateSession(ctx context.Context, email, password string) (model.Session, error) {
	body := map[string]model.Credentials{
		c.provider: {Username: email, Password: password},
	}

	resp, err := transport.Do[sessionResponse](ctx, c.transport, transport.Request{
		Name:        EndpointCreateSession,
		Method:      http.MethodPost,
		URL:         c.sessionURL,
		Body:        body,
		StripPrefix: transport.SecurityPrefixLen,
	})
	if err != nil {
		return model.Session{}, err
	}

	session := model.Session{
		ID:         resp.Session.ID,
		Expiration: resp.Session.Expiration,
		UserID:     resp.Account.Key,
	}
	if !session.Valid() {
		return model.Session{}, &transport.DecodeError{
			Err: errors.New("session response is missing id, expiration or account key"),
		}
	}
	if err := ctx.Err(); err != nil {
		return model.Session{}, &transport.TransportError{Method: http.MethodPost, URL: c.sessionURL, Err: err}
	}

	c.session.set(session)
	c.logger.Info("セッションを作成しました",
		slog.String("user_id", session.UserID),
		slog.String("expiration", session.Expiration),
	)
	return session, nil
}

// DeleteSession はログアウトし、保持中のセッションを破棄する。
// 失敗した場合、保持中のセッションは変更しない。
func (c *Client) DeleteSession(ctx context.Context) error {
	resp, err := transport.Do[deleteSessionResponse](ctx, c.transport, transport.Request{
		Name:        EndpointDeleteSession,
		Method:      http.MethodDelete,
		URL:         c.sessionURL,
		Headers:     c.deleteSessionHeaders(),
		StripPrefix: transport.SecurityPrefixLen,
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &transport.TransportError{Method: http.MethodDelete, URL: c.sessionURL, Err: err}
	}

	c.session.clear()
	c.logger.Info("セッションを削除しました",
		slog.String("session_id", resp.Session.ID),
	)
	return nil
}

// deleteSessionHeaders はCookieJarにXSRFトークンがあればヘッダーに追加する。
func (c *Client) deleteSessionHeaders() http.Header {
	headers := transport.DefaultHeaders()

	jar := c.transport.HTTPClient().Jar
	if jar == nil {
		return headers
	}
	u, err := url.Parse(c.sessionURL)
	if err != nil {
		return headers
	}
	for _, cookie := range jar.Cookies(u) {
		if cookie.Name == xsrfCookieName {
			headers.Set(xsrfHeaderName, cookie.Value)
		}
	}
	return headers
}

// locationsResponse は位置情報一覧のレスポンス。
// resultsキーの有無とnullを区別するため、resultsは未デコードのまま受け取る。
type locationsResponse struct {
	Results json.RawMessage `json:"results"`
}

// GetLocations は全学生の位置情報を取得する。
// resultsがnullの場合は警告を出して空の一覧を返し、resultsキーが無い場合はErrMissingResultsを返す。
// results以外のキーは無視する。
func (c *Client) GetLocations(ctx context.Context) ([]model.Location, error) {
	resp, err := transport.Do[locationsResponse](ctx, c.transport, transport.Request{
		Name:   EndpointGetLocations,
		Method: http.MethodGet,
		URL:    c.studentLocations,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Results) == 0 {
		c.logger.Error("位置情報一覧のレスポンスにresultsがありません")
		return nil, ErrMissingResults
	}
	if bytes.Equal(resp.Results, []byte("null")) {
		c.logger.Warn("位置情報一覧のresultsがnullでした")
		return []model.Location{}, nil
	}

	var results []model.Location
	if err := json.Unmarshal(resp.Results, &results); err != nil {
		c.logger.Error("位置情報一覧のresultsのデコードに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, &transport.DecodeError{Err: err}
	}

	c.logger.Debug("位置情報一覧を取得しました",
		slog.Int("location_count", len(results)),
	)
	return results, nil
}

// PostLocation は位置情報を投稿する。
// レスポンスはサーバーが採番したobjectIdとcreatedAtのみを含む。
func (c *Client) PostLocation(ctx context.Context, sub model.NewLocationSubmission) (model.PostedLocation, error) {
	posted, err := transport.Do[model.PostedLocation](ctx, c.transport, transport.Request{
		Name:   EndpointPostLocation,
		Method: http.MethodPost,
		URL:    c.studentLocations,
		Body:   sub,
	})
	if err != nil {
		return model.PostedLocation{}, err
	}

	c.logger.Info("位置情報を投稿しました",
		slog.String("object_id", posted.ObjectID),
		slog.String("unique_key", sub.UniqueKey),
	)
	return posted, nil
}

// userResponse は {"user": {...}} 形式とフラットな形式の両方を受け付ける。
type userResponse struct {
	Nested *model.User `json:"user"`
	model.User
}

// GetUser はログイン中のユーザーの公開情報を取得する。
func (c *Client) GetUser(ctx context.Context) (model.User, error) {
	session, ok := c.session.Get()
	if !ok {
		return model.User{}, ErrNoSession
	}

	resp, err := transport.Do[userResponse](ctx, c.transport, transport.Request{
		Name:        EndpointGetUser,
		Method:      http.MethodGet,
		URL:         c.baseURL.JoinPath(usersPath, session.UserID).String(),
		StripPrefix: transport.SecurityPrefixLen,
	})
	if err != nil {
		return model.User{}, err
	}

	user := resp.User
	if resp.Nested != nil {
		user = *resp.Nested
	}
	if user.Key == "" {
		user.Key = session.UserID
	}
	return user, nil
}
