// Package logger はJSON構造化ログの初期化と、サブシステムごとの名前付きロガーを提供する。
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// SubsystemKey はサブシステム名を出力するログ属性のキー。
const SubsystemKey = "subsystem"

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// 本番ではos.Stderrを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	slog.SetDefault(Setup(w))
}

// Options はログレベルの設定を保持する。
// Subsystemsに含まれないサブシステムはDefaultのレベルでフィルタする。
type Options struct {
	Default    slog.Level
	Subsystems map[string]slog.Level
}

// Factory はサブシステムごとの名前付きロガーを生成する。
// 全ロガーは1つのJSONハンドラーを共有する。
type Factory struct {
	handler slog.Handler
	opts    Options
}

// NewFactory はwに出力するFactoryを生成する。
func NewFactory(w io.Writer, opts Options) *Factory {
	if w == nil {
		w = os.Stderr
	}
	// レベル判定は各名前付きロガー側で行うため、基底ハンドラーは全レベルを通す
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return &Factory{handler: handler, opts: opts}
}

// Named はsubsystem属性を付与し、サブシステムのレベルでフィルタするロガーを返す。
func (f *Factory) Named(subsystem string) *slog.Logger {
	level := f.opts.Default
	if l, ok := f.opts.Subsystems[subsystem]; ok {
		level = l
	}
	return slog.New(&levelHandler{
		level:   level,
		handler: f.handler.WithAttrs([]slog.Attr{slog.String(SubsystemKey, subsystem)}),
	})
}

// Default はサブシステム属性を持たないDefaultレベルのロガーを返す。
func (f *Factory) Default() *slog.Logger {
	return slog.New(&levelHandler{level: f.opts.Default, handler: f.handler})
}

// levelHandler は指定レベル未満のレコードを捨てるslog.Handler。
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level() && h.handler.Enabled(ctx, level)
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// ParseLevel はログレベル文字列（debug, info, warn, error）をパースする。
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// ParseSubsystemLevels は "api=debug,store=warn" 形式の文字列をパースする。
// 空文字列の場合は空のマップを返す。
func ParseSubsystemLevels(s string) (map[string]slog.Level, error) {
	levels := make(map[string]slog.Level)
	if strings.TrimSpace(s) == "" {
		return levels, nil
	}

	for _, pair := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid subsystem level entry %q", pair)
		}
		level, err := ParseLevel(value)
		if err != nil {
			return nil, fmt.Errorf("subsystem %s: %w", name, err)
		}
		levels[name] = level
	}
	return levels, nil
}
