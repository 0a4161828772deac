package model

import "fmt"

// APIError はローカルAPIの統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, location, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotLoggedIn       = "NOT_LOGGED_IN"
	ErrCodeLoginFailed       = "LOGIN_FAILED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeAddressNotFound   = "ADDRESS_NOT_FOUND"
	ErrCodeInvalidMediaURL   = "INVALID_MEDIA_URL"
	ErrCodeBackendError      = "BACKEND_ERROR"
	ErrCodeNetworkError      = "NETWORK_ERROR"
	ErrCodeMalformedResponse = "MALFORMED_RESPONSE"
	ErrCodeRequestCanceled   = "REQUEST_CANCELED"
	ErrCodeRateLimited       = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFInvalid       = "CSRF_TOKEN_INVALID"
)

// NewNotLoggedInError は未ログインエラーを生成する。
func NewNotLoggedInError() *APIError {
	return &APIError{
		Code:     ErrCodeNotLoggedIn,
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "メールアドレスとパスワードでログインしてください。",
	}
}

// NewLoginFailedError はログイン失敗エラーを生成する。
// messageにはバックエンドのエラーメッセージをそのまま渡す。
func NewLoginFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeLoginFailed,
		Message:  message,
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewInvalidRequestError は不正なリクエストエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("不正なリクエストです: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewAddressNotFoundError は住所が見つからない場合のエラーを生成する。
func NewAddressNotFoundError(address string) *APIError {
	return &APIError{
		Code:     ErrCodeAddressNotFound,
		Message:  fmt.Sprintf("入力された住所が見つかりませんでした: %s", address),
		Category: "location",
		Action:   "住所を確認して再度入力してください。",
	}
}

// NewInvalidMediaURLError は共有リンクが無効な場合のエラーを生成する。
func NewInvalidMediaURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMediaURL,
		Message:  fmt.Sprintf("共有リンクが無効です: %s", reason),
		Category: "validation",
		Action:   "http:// または https:// で始まる公開URLを入力してください。",
	}
}

// NewBackendError はバックエンドが返したエラーを生成する。
// messageはバックエンドのメッセージをそのまま表示する。
func NewBackendError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeBackendError,
		Message:  message,
		Category: "location",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNetworkError は通信エラーを生成する。
func NewNetworkError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeNetworkError,
		Message:  message,
		Category: "system",
		Action:   "ネットワーク接続を確認してください。",
	}
}

// NewMalformedResponseError はバックエンドの応答が解釈できない場合のエラーを生成する。
func NewMalformedResponseError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeMalformedResponse,
		Message:  message,
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRequestCanceledError はリクエストがキャンセルされた場合のエラーを生成する。
func NewRequestCanceledError() *APIError {
	return &APIError{
		Code:     ErrCodeRequestCanceled,
		Message:  "リクエストはキャンセルされました。",
		Category: "system",
		Action:   "再度お試しください。",
	}
}

// NewRateLimitedError はレート制限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterで示された秒数だけ待ってから再度お試しください。",
	}
}

// NewCSRFInvalidError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "リクエストを検証できませんでした。",
		Category: "auth",
		Action:   "GET /api/csrf-token でトークンを取得し、X-CSRF-Tokenヘッダーに付けて再度お試しください。",
	}
}
