package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/onthemap/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// request_idはミドルウェアが拒否したリクエストでのみ付く。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	RequestID string `json:"request_id,omitempty"`
}

// internalError は詳細を伏せた内部エラー。詳細はログにのみ残す。
var internalError = model.APIError{
	Code:     "INTERNAL_ERROR",
	Message:  "内部エラーが発生しました。",
	Category: "system",
	Action:   "しばらく待ってから再度お試しください。",
}

// WriteErrorResponse はapiErrを統一フォーマットで書き込む。
// apiErrがnilの場合はstatusCodeに関わらず500の内部エラーを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeError(w, "", statusCode, apiErr)
}

// WriteRequestError はWriteErrorResponseと同じ内容に、rのリクエストIDを加えて書き込む。
func WriteRequestError(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *model.APIError) {
	writeError(w, RequestIDFromContext(r.Context()), statusCode, apiErr)
}

// WriteInternalServerError は内部エラーを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	writeError(w, "", http.StatusInternalServerError, nil)
}

func writeError(w http.ResponseWriter, requestID string, statusCode int, apiErr *model.APIError) {
	if apiErr == nil {
		statusCode = http.StatusInternalServerError
		apiErr = &internalError
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		RequestID: requestID,
	})
}
