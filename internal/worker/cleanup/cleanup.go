// Package cleanup は期限切れのリフレッシュトークン状態を定期的にクリアするジョブを提供する。
// ハッシュと有効期限は常に組でクリアされ、失効エポックには触れない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/passport/internal/metrics"
)

// RefreshTokenClearer は期限切れのリフレッシュトークン状態をクリアするインターフェース。
// repository.IdentityRepositoryが実装する。
type RefreshTokenClearer interface {
	ClearExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// CleanupJob は期限切れリフレッシュトークンのクリアジョブ。
// 冪等であり、対象がない場合もエラーにならない。
type CleanupJob struct {
	repo    RefreshTokenClearer
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(repo RefreshTokenClearer, logger *slog.Logger, m metrics.MetricsCollector) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &CleanupJob{
		repo:    repo,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Run は現在時刻で期限切れとなったリフレッシュトークン状態をクリアする。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	cleared, err := j.repo.ClearExpiredRefreshTokens(ctx, j.now())
	if err != nil {
		j.logger.Error("refresh token cleanup failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to clear expired refresh tokens: %w", err)
	}

	j.metrics.RecordRefreshTokensCleared(cleared)
	j.logger.Info("refresh token cleanup completed",
		slog.Int64("cleared_count", cleared),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、以降interval間隔でRunを繰り返す。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("refresh token cleanup started", slog.Duration("interval", interval))

	// Runのエラーはログ済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("refresh token cleanup stopped")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
