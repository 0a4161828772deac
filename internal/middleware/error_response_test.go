package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/onthemap/internal/model"
)

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) (ErrorResponseBody, map[string]any) {
	t.Helper()
	raw := w.Body.Bytes()

	var body ErrorResponseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("failed to decode response body: %v\nraw: %s", err, raw)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body, fields
}

// TestWriteErrorResponse_ModelErrors はモデルのエラーがそのままの分類で書き込まれることを検証する。
func TestWriteErrorResponse_ModelErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		apiErr     *model.APIError
	}{
		{"not logged in", http.StatusUnauthorized, model.NewNotLoggedInError()},
		{"address not found", http.StatusUnprocessableEntity, model.NewAddressNotFoundError("Nowhere")},
		{"rate limited", http.StatusTooManyRequests, model.NewRateLimitedError()},
		{"csrf", http.StatusForbidden, model.NewCSRFInvalidError()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErrorResponse(w, tt.statusCode, tt.apiErr)

			if w.Code != tt.statusCode {
				t.Errorf("status = %d, want %d", w.Code, tt.statusCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			if cc := w.Header().Get("Cache-Control"); cc != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", cc)
			}

			body, fields := decodeErrorBody(t, w)
			want := ErrorResponseBody{
				Code:     tt.apiErr.Code,
				Message:  tt.apiErr.Message,
				Category: tt.apiErr.Category,
				Action:   tt.apiErr.Action,
			}
			if body != want {
				t.Errorf("body = %+v, want %+v", body, want)
			}
			if _, ok := fields["request_id"]; ok {
				t.Error("request_id should be omitted when not written through WriteRequestError")
			}
		})
	}
}

// TestWriteErrorResponse_NilError_FallsBackToInternal はapiErrがnilの場合に500の内部エラーになることを検証する。
func TestWriteErrorResponse_NilError_FallsBackToInternal(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusBadRequest, nil)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body, _ := decodeErrorBody(t, w)
	if body.Code != "INTERNAL_ERROR" || body.Category != "system" {
		t.Errorf("body = %+v, want INTERNAL_ERROR/system", body)
	}
	if body.Action == "" {
		t.Error("action should not be empty")
	}
}

// TestWriteInternalServerError_MatchesNilFallback は内部エラーの書き込みが共通の内容になることを検証する。
func TestWriteInternalServerError_MatchesNilFallback(t *testing.T) {
	a := httptest.NewRecorder()
	WriteInternalServerError(a)
	b := httptest.NewRecorder()
	WriteErrorResponse(b, http.StatusInternalServerError, nil)

	if a.Code != b.Code || a.Body.String() != b.Body.String() {
		t.Errorf("WriteInternalServerError = %d %s, want %d %s", a.Code, a.Body.String(), b.Code, b.Body.String())
	}
}

// TestWriteRequestError_IncludesRequestID はリクエストIDがレスポンスボディに含まれることを検証する。
func TestWriteRequestError_IncludesRequestID(t *testing.T) {
	var gotID string
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = RequestIDFromContext(r.Context())
		WriteRequestError(w, r, http.StatusUnauthorized, model.NewNotLoggedInError())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/pins", nil))

	if gotID == "" {
		t.Fatal("request id should be set in context")
	}
	body, _ := decodeErrorBody(t, w)
	if body.RequestID != gotID {
		t.Errorf("request_id = %q, want %q", body.RequestID, gotID)
	}
	if got := w.Header().Get(requestIDHeader); got != gotID {
		t.Errorf("%s = %q, want %q", requestIDHeader, got, gotID)
	}
	if body.Code != model.ErrCodeNotLoggedIn {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeNotLoggedIn)
	}
}

// TestWriteRequestError_NoRequestID_OmitsField はリクエストIDがない場合にフィールドを省略することを検証する。
func TestWriteRequestError_NoRequestID_OmitsField(t *testing.T) {
	w := httptest.NewRecorder()
	WriteRequestError(w, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusForbidden, model.NewCSRFInvalidError())

	_, fields := decodeErrorBody(t, w)
	if _, ok := fields["request_id"]; ok {
		t.Errorf("request_id should be omitted, got %v", fields["request_id"])
	}
}
