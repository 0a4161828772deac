package transport

import (
	"context"
	"errors"
	"fmt"
)

// 失敗種別。メトリクスのラベルとしても使用する。
const (
	KindTransport     = "transport"
	KindCanceled      = "canceled"
	KindSerialization = "serialization"
	KindDecode        = "decode"
	KindAPI           = "api"
)

// TransportError はレスポンスを受信できなかった場合のエラー。
// キャンセルされたリクエストもこのエラーとして返る。
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Canceled() {
		return fmt.Sprintf("%s %s: request canceled", e.Method, e.URL)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Canceled はコンテキストのキャンセルによる失敗かを返す。
func (e *TransportError) Canceled() bool {
	return errors.Is(e.Err, context.Canceled)
}

// SerializationError は送信ボディをJSONにエンコードできなかった場合のエラー。
// この場合リクエストは送信されない。
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("failed to encode request body: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// DecodeError はレスポンスボディが期待する形式でなかった場合のエラー。
// エラーレスポンスのデコードに失敗した場合はHTTPStatusCodeにステータスが入る。
type DecodeError struct {
	HTTPStatusCode int
	Err            error
}

func (e *DecodeError) Error() string {
	if e.HTTPStatusCode != 0 {
		return fmt.Sprintf("failed to decode error response (status %d): %v", e.HTTPStatusCode, e.Err)
	}
	return fmt.Sprintf("failed to decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// APIError はバックエンドが返した構造化エラーレスポンス。
// HTTPステータスが200/201以外の場合に生成する。
type APIError struct {
	HTTPStatusCode int
	StatusCode     int
	Message        string
}

// Error はバックエンドのメッセージをそのまま返す。
func (e *APIError) Error() string {
	return e.Message
}

// errorBody はバックエンドのエラーレスポンス形式。
type errorBody struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

// Kind はerrの失敗種別を返す。分類できない場合は空文字列を返す。
func Kind(err error) string {
	var (
		transportErr     *TransportError
		serializationErr *SerializationError
		decodeErr        *DecodeError
		apiErr           *APIError
	)
	switch {
	case errors.As(err, &transportErr):
		if transportErr.Canceled() {
			return KindCanceled
		}
		return KindTransport
	case errors.As(err, &serializationErr):
		return KindSerialization
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.As(err, &apiErr):
		return KindAPI
	default:
		return ""
	}
}
