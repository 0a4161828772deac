// Package refresh は位置情報一覧のバックグラウンド定期更新を提供する。
package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/onthemap/internal/model"
)

// Refresher は位置情報一覧の更新インターフェース。
// location.Serviceが実装する。
type Refresher interface {
	Refresh(ctx context.Context) ([]model.Location, error)
}

// Scheduler は一定間隔で位置情報一覧を更新する。
// 更新が失敗してもストアは変更されないため、次のティックでそのまま再実行する。
type Scheduler struct {
	refresher Refresher
	logger    *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(refresher Refresher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		refresher: refresher,
		logger:    logger,
	}
}

// Start はintervalごとのティッカーでスケジューラを起動する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("定期更新スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("定期更新スケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は位置情報一覧を1回更新する。エラーはログに記録する。
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()

	locations, err := s.refresher.Refresh(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("位置情報一覧の更新に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Debug("定期更新が完了しました",
		slog.Int("location_count", len(locations)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}
