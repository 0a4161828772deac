// Package geocode は入力された住所を座標に変換する。
// Nominatim互換の検索APIを呼び出し、利用規約に従ってリクエスト間隔を制限する。
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/onthemap/internal/model"
)

// 結果ラベル。メトリクスに使う。
const (
	ResultFound    = "found"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

var (
	// ErrEmptyAddress は住所が空の場合のエラー。
	ErrEmptyAddress = errors.New("address is empty")
	// ErrAddressNotFound は住所に一致する場所が無い場合のエラー。
	ErrAddressNotFound = errors.New("address not found")
	// ErrUnavailable はジオコーディングサービスが正常な応答を返さなかった場合のエラー。
	ErrUnavailable = errors.New("geocoding service unavailable")
)

// Recorder はジオコーディング結果の記録先。
type Recorder interface {
	RecordGeocode(result string)
}

// Config はジオコーダーの設定。
type Config struct {
	Endpoint  string
	UserAgent string
	// Interval はリクエストの最小間隔。0以下の場合は制限しない。
	Interval time.Duration
}

// Client はジオコーディングAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	recorder   Recorder
	limiter    *rate.Limiter
	endpoint   string
	userAgent  string
}

// NewClient はClientを生成する。recorderはnilでもよい。
func NewClient(httpClient *http.Client, cfg Config, logger *slog.Logger, recorder Recorder) *Client {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		recorder:   recorder,
		limiter:    rate.NewLimiter(limit, 1),
		endpoint:   cfg.Endpoint,
		userAgent:  cfg.UserAgent,
	}
}

type place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode は住所を検索し、最も一致する場所の座標を返す。
func (c *Client) Geocode(ctx context.Context, address string) (model.Coordinate, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return model.Coordinate{}, ErrEmptyAddress
	}

	coord, err := c.search(ctx, address)
	switch {
	case err == nil:
		c.record(ResultFound)
	case errors.Is(err, ErrAddressNotFound):
		c.record(ResultNotFound)
	default:
		c.record(ResultError)
	}
	return coord, err
}

func (c *Client) search(ctx context.Context, address string) (model.Coordinate, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.Coordinate{}, fmt.Errorf("ジオコーディングの待機が中断されました: %w", err)
	}

	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return model.Coordinate{}, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("q", address)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return model.Coordinate{}, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("ジオコーディングAPIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return model.Coordinate{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("ジオコーディングAPIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return model.Coordinate{}, fmt.Errorf("%w: ステータス %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Coordinate{}, fmt.Errorf("%w: レスポンスボディの読み取りに失敗しました: %w", ErrUnavailable, err)
	}

	var places []place
	if err := json.Unmarshal(body, &places); err != nil {
		c.logger.Error("ジオコーディングAPIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return model.Coordinate{}, fmt.Errorf("%w: レスポンスJSONのパースに失敗しました: %w", ErrUnavailable, err)
	}
	if len(places) == 0 {
		c.logger.Info("住所に一致する場所がありません",
			slog.String("address", address),
		)
		return model.Coordinate{}, ErrAddressNotFound
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return model.Coordinate{}, fmt.Errorf("%w: 緯度のパースに失敗しました: %w", ErrUnavailable, err)
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return model.Coordinate{}, fmt.Errorf("%w: 経度のパースに失敗しました: %w", ErrUnavailable, err)
	}

	c.logger.Debug("住所を座標に変換しました",
		slog.String("address", address),
		slog.String("display_name", places[0].DisplayName),
		slog.Float64("latitude", lat),
		slog.Float64("longitude", lon),
	)
	return model.Coordinate{Latitude: lat, Longitude: lon}, nil
}

func (c *Client) record(result string) {
	if c.recorder != nil {
		c.recorder.RecordGeocode(result)
	}
}
