// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/onthemap/internal/logger"
)

const (
	// DefaultAPIBaseURL はOn the MapバックエンドのベースURL。
	DefaultAPIBaseURL = "https://onthemap-api.udacity.com/v1/"
	// DefaultSessionProvider はセッション作成リクエストの認証情報を包むキー。
	DefaultSessionProvider = "udacity"
	// DefaultGeocoderURL は住所検索に使うNominatimの検索エンドポイント。
	DefaultGeocoderURL = "https://nominatim.openstreetmap.org/search"
	// DefaultGeocoderUserAgent はNominatimの利用規約で必須のUser-Agent。
	DefaultGeocoderUserAgent = "OnTheMap/1.0 (+https://github.com/hitoshi/onthemap)"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend
	APIBaseURL      string
	SessionProvider string
	HTTPTimeout     time.Duration // 0はタイムアウトなし

	// Logging
	LogLevel        slog.Level
	SubsystemLevels map[string]slog.Level

	// Geocoder
	GeocoderURL       string
	GeocoderUserAgent string
	GeocoderInterval  time.Duration

	// Media link
	MediaLinkCheck        bool
	MediaLinkCheckTimeout time.Duration

	// Server
	ServerPort        string
	CORSAllowedOrigin string
	CookieSecure      bool

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitPinPost int

	// Refresh
	RefreshInterval time.Duration // 0は定期更新なし
}

// Load は環境変数からConfigを読み込む。
// すべての項目にデフォルト値があり、値が不正な場合のみエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var invalid []string

	cfg.APIBaseURL = getEnvString("ONTHEMAP_API_BASE_URL", DefaultAPIBaseURL)
	if err := validateBaseURL(cfg.APIBaseURL); err != nil {
		invalid = append(invalid, fmt.Sprintf("ONTHEMAP_API_BASE_URL (%v)", err))
	}
	cfg.SessionProvider = getEnvString("ONTHEMAP_SESSION_PROVIDER", DefaultSessionProvider)

	level, err := logger.ParseLevel(getEnvString("LOG_LEVEL", "info"))
	if err != nil {
		invalid = append(invalid, fmt.Sprintf("LOG_LEVEL (%v)", err))
	}
	cfg.LogLevel = level

	levels, err := logger.ParseSubsystemLevels(os.Getenv("LOG_LEVELS"))
	if err != nil {
		invalid = append(invalid, fmt.Sprintf("LOG_LEVELS (%v)", err))
	}
	cfg.SubsystemLevels = levels

	cfg.GeocoderURL = getEnvString("GEOCODER_URL", DefaultGeocoderURL)
	if _, err := url.ParseRequestURI(cfg.GeocoderURL); err != nil {
		invalid = append(invalid, fmt.Sprintf("GEOCODER_URL (%v)", err))
	}

	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid environment variables: %v", invalid)
	}

	// Optional fields with defaults
	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", 0)
	cfg.GeocoderUserAgent = getEnvString("GEOCODER_USER_AGENT", DefaultGeocoderUserAgent)
	cfg.GeocoderInterval = getEnvDuration("GEOCODER_INTERVAL", time.Second)
	cfg.MediaLinkCheck = getEnvBool("MEDIA_LINK_CHECK", false)
	cfg.MediaLinkCheckTimeout = getEnvDuration("MEDIA_LINK_CHECK_TIMEOUT", 5*time.Second)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.CookieSecure = strings.HasPrefix(cfg.CORSAllowedOrigin, "https://")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitPinPost = getEnvInt("RATE_LIMIT_PIN_POST", 10)
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", 0)

	return cfg, nil
}

// LoggerOptions はログ設定をlogger.Optionsに変換する。
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{
		Default:    c.LogLevel,
		Subsystems: c.SubsystemLevels,
	}
}

// validateBaseURL はAPIベースURLが絶対URLであることを検証する。
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is empty")
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
