package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/onthemap/internal/model"
)

// --- モック定義 ---

type mockSessionProvider struct {
	sessionFn func() (model.Session, bool)
}

func (m *mockSessionProvider) Session() (model.Session, bool) {
	if m.sessionFn != nil {
		return m.sessionFn()
	}
	return model.Session{}, false
}

func loggedInAs(userID string) *mockSessionProvider {
	return &mockSessionProvider{
		sessionFn: func() (model.Session, bool) {
			return model.Session{ID: "sess-" + userID, Expiration: "2030-01-01T00:00:00.000Z", UserID: userID}, true
		},
	}
}

// --- テスト ---

func TestSessionMiddleware_ValidSession_InjectsUserID(t *testing.T) {
	mw := NewSessionMiddleware(loggedInAs("user-123"))

	var capturedUserID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		capturedUserID = userID
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if capturedUserID != "user-123" {
		t.Errorf("userID = %q, want %q", capturedUserID, "user-123")
	}
}

func TestSessionMiddleware_NoSession_Returns401WithUnifiedError(t *testing.T) {
	mw := NewSessionMiddleware(&mockSessionProvider{})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != model.ErrCodeNotLoggedIn {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeNotLoggedIn)
	}
	if body.Category != "auth" {
		t.Errorf("category = %q, want auth", body.Category)
	}
}

func TestSessionMiddleware_ReflectsLogout(t *testing.T) {
	loggedIn := true
	provider := &mockSessionProvider{
		sessionFn: func() (model.Session, bool) {
			if !loggedIn {
				return model.Session{}, false
			}
			return model.Session{ID: "s", Expiration: "e", UserID: "u"}, true
		},
	}
	handler := NewSessionMiddleware(provider)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("ログイン中: status = %d, want 200", w.Code)
	}

	loggedIn = false
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("ログアウト後: status = %d, want 401", w.Code)
	}
}

func TestUserIDFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := UserIDFromContext(req.Context()); err == nil {
		t.Error("expected error for missing user ID")
	}

	ctx := ContextWithUserID(req.Context(), "user-x")
	if got, err := UserIDFromContext(ctx); err != nil || got != "user-x" {
		t.Errorf("UserIDFromContext = %q, %v", got, err)
	}
}
