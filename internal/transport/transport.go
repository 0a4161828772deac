// Package transport はJSON APIとの1回のHTTPリクエスト/レスポンスを扱う。
// ボディのシリアライズ、ステータスに応じた成功値またはエラーのデコードを全エンドポイント共通で行う。
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// SecurityPrefixLen はセッション系エンドポイントのレスポンス先頭に付く保護用バイト列の長さ。
const SecurityPrefixLen = 5

// Recorder はリクエスト結果の記録先。
// metrics.Collectorが実装する。
type Recorder interface {
	RecordAPIRequest(endpoint string, statusCode int, duration time.Duration)
	RecordAPIFailure(endpoint string, kind string)
}

// DefaultHeaders はリクエストヘッダーの既定値を返す。
func DefaultHeaders() http.Header {
	h := make(http.Header)
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	return h
}

// Request は1回のAPI呼び出しの内容。
type Request struct {
	// Name はログとメトリクスに使うエンドポイント名。
	Name   string
	Method string
	URL    string
	// Headers がnilの場合はDefaultHeadersを使う。
	Headers http.Header
	// Body がnilの場合はボディなしで送信する。
	Body any
	// StripPrefix はデコード前にレスポンスボディ先頭から捨てるバイト数。
	StripPrefix int
}

// Transport はHTTPクライアントをラップし、JSON APIの呼び出しを共通化する。
// 状態を持たないため並行に使用できる。
type Transport struct {
	httpClient *http.Client
	logger     *slog.Logger
	recorder   Recorder
}

// New はTransportを生成する。recorderはnilでもよい。
func New(httpClient *http.Client, logger *slog.Logger, recorder Recorder) *Transport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Transport{
		httpClient: httpClient,
		logger:     logger,
		recorder:   recorder,
	}
}

// HTTPClient は内部のHTTPクライアントを返す。
func (t *Transport) HTTPClient() *http.Client {
	return t.httpClient
}

// Do はreqを送信し、200/201ならレスポンスをTとしてデコードして返す。
// それ以外のステータスではエラーボディを *APIError として返す。
func Do[T any](ctx context.Context, t *Transport, req Request) (T, error) {
	var zero T

	body, err := t.roundTrip(ctx, req)
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		t.fail(req, KindDecode)
		t.logger.Error("レスポンスのデコードに失敗しました",
			slog.String("endpoint", req.Name),
			slog.String("error", err.Error()),
		)
		return zero, &DecodeError{Err: err}
	}

	return out, nil
}

// roundTrip はリクエストを送信し、成功ステータスの場合はプレフィックス除去済みのボディを返す。
func (t *Transport) roundTrip(ctx context.Context, req Request) ([]byte, error) {
	var reader io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			t.fail(req, KindSerialization)
			return nil, &SerializationError{Err: err}
		}
		t.logger.Debug("リクエストボディ",
			slog.String("endpoint", req.Name),
			slog.String("body", redact(req.Name, encoded)),
		)
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, reader)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: req.URL, Err: err}
	}
	headers := req.Headers
	if headers == nil {
		headers = DefaultHeaders()
	}
	for key, values := range headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	t.logger.Debug("リクエストを送信します",
		slog.String("endpoint", req.Name),
		slog.String("method", req.Method),
		slog.String("url", req.URL),
	)

	start := time.Now()
	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, t.transportFailure(req, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, t.transportFailure(req, err)
	}
	if t.recorder != nil {
		t.recorder.RecordAPIRequest(req.Name, resp.StatusCode, time.Since(start))
	}

	data := raw[min(req.StripPrefix, len(raw)):]

	t.logger.Debug("レスポンスを受信しました",
		slog.String("endpoint", req.Name),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("body_size", len(data)),
	)

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return data, nil
	}

	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil {
		t.fail(req, KindDecode)
		t.logger.Error("エラーレスポンスのデコードに失敗しました",
			slog.String("endpoint", req.Name),
			slog.Int("http_status", resp.StatusCode),
			slog.String("error", err.Error()),
		)
		return nil, &DecodeError{HTTPStatusCode: resp.StatusCode, Err: err}
	}

	t.fail(req, KindAPI)
	t.logger.Warn("APIがエラーを返しました",
		slog.String("endpoint", req.Name),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("status", eb.Status),
		slog.String("message", eb.Error),
	)
	return nil, &APIError{
		HTTPStatusCode: resp.StatusCode,
		StatusCode:     eb.Status,
		Message:        eb.Error,
	}
}

func (t *Transport) transportFailure(req Request, err error) error {
	te := &TransportError{Method: req.Method, URL: req.URL, Err: err}
	kind := KindTransport
	if te.Canceled() {
		kind = KindCanceled
	}
	t.fail(req, kind)
	t.logger.Warn("リクエストが完了しませんでした",
		slog.String("endpoint", req.Name),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
	return te
}

func (t *Transport) fail(req Request, kind string) {
	if t.recorder != nil {
		t.recorder.RecordAPIFailure(req.Name, kind)
	}
}

// redact はログ出力用にボディを整形する。認証情報を含むボディは出力しない。
func redact(name string, body []byte) string {
	if name == "create_session" {
		return fmt.Sprintf("<redacted %d bytes>", len(body))
	}
	return string(body)
}
