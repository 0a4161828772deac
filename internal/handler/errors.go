package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/onthemap/internal/api"
	"github.com/hitoshi/onthemap/internal/auth"
	"github.com/hitoshi/onthemap/internal/geocode"
	"github.com/hitoshi/onthemap/internal/location"
	"github.com/hitoshi/onthemap/internal/middleware"
	"github.com/hitoshi/onthemap/internal/model"
	"github.com/hitoshi/onthemap/internal/security"
	"github.com/hitoshi/onthemap/internal/transport"
)

// writeJSON はvをJSONとしてstatusCodeで書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeErrorBody は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeErrorBody(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// invalidBodyError はリクエストボディをJSONとして解析できない場合のエラー。
func invalidBodyError() *model.APIError {
	return &model.APIError{
		Code:     model.ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// handleServiceError はサービス層から返されたエラーを統一エラーフォーマットに変換して書き込む。
// バックエンドが返したメッセージはそのまま表示する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	statusCode, apiErr := classifyError(err)
	if statusCode >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.Int("status", statusCode),
			slog.String("error", err.Error()),
		)
	} else {
		logger.Debug("request rejected",
			slog.Int("status", statusCode),
			slog.String("error", err.Error()),
		)
	}
	if apiErr == nil {
		middleware.WriteInternalServerError(w)
		return
	}
	writeErrorBody(w, statusCode, apiErr)
}

// classifyError はエラーをHTTPステータスとAPIErrorに対応付ける。
// 対応付けられないエラーは500とnilを返す。
func classifyError(err error) (int, *model.APIError) {
	var (
		apiErr           *model.APIError
		backendErr       *transport.APIError
		transportErr     *transport.TransportError
		decodeErr        *transport.DecodeError
		serializationErr *transport.SerializationError
	)

	switch {
	case errors.As(err, &apiErr):
		return http.StatusBadRequest, apiErr

	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, model.NewRequestCanceledError()

	case errors.Is(err, auth.ErrNotLoggedIn),
		errors.Is(err, location.ErrNotLoggedIn),
		errors.Is(err, api.ErrNoSession):
		return http.StatusUnauthorized, model.NewNotLoggedInError()

	case errors.Is(err, auth.ErrMissingCredentials):
		return http.StatusBadRequest, model.NewInvalidRequestError("メールアドレスとパスワードは必須です")
	case errors.Is(err, location.ErrEmptyMapString):
		return http.StatusBadRequest, model.NewInvalidRequestError("地名は必須です")
	case errors.Is(err, location.ErrInvalidCoordinate):
		return http.StatusBadRequest, model.NewInvalidRequestError("緯度経度が範囲外です")
	case errors.Is(err, geocode.ErrEmptyAddress):
		return http.StatusBadRequest, model.NewInvalidRequestError("住所は必須です")
	case errors.Is(err, security.ErrInvalidMediaURL):
		return http.StatusBadRequest, model.NewInvalidMediaURLError(err.Error())

	case errors.Is(err, geocode.ErrAddressNotFound):
		return http.StatusUnprocessableEntity, model.NewAddressNotFoundError("")
	case errors.Is(err, geocode.ErrUnavailable):
		return http.StatusBadGateway, model.NewNetworkError("住所検索サービスに接続できませんでした。")

	case errors.As(err, &backendErr):
		if backendErr.HTTPStatusCode >= 400 && backendErr.HTTPStatusCode < 500 {
			return backendErr.HTTPStatusCode, model.NewBackendError(backendErr.Message)
		}
		return http.StatusBadGateway, model.NewBackendError(backendErr.Message)

	case errors.As(err, &transportErr):
		if transportErr.Canceled() {
			return http.StatusServiceUnavailable, model.NewRequestCanceledError()
		}
		return http.StatusBadGateway, model.NewNetworkError("バックエンドに接続できませんでした。")

	case errors.As(err, &decodeErr), errors.Is(err, api.ErrMissingResults):
		return http.StatusBadGateway, model.NewMalformedResponseError("バックエンドの応答を解釈できませんでした。")

	case errors.As(err, &serializationErr):
		return http.StatusBadRequest, model.NewInvalidRequestError("送信内容をエンコードできません")

	default:
		return http.StatusInternalServerError, nil
	}
}
