// Package cleanup は保持期間を過ぎた監査ログと失効済みトークンの自動削除ジョブを提供する。
// 打刻イベントは勤怠の原本のため削除対象に含めない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const (
	deleteAuditsQuery = `DELETE FROM record_audits WHERE created_at < now() - $1::interval`
	// 有効期限を過ぎたトークンは署名検証で拒否されるため失効リストから外してよい
	deleteRevokedTokensQuery = `DELETE FROM revoked_tokens WHERE expires_at < now()`
)

// CleanupJob は日次実行のクリーンアップジョブ。削除は冪等。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int           // 監査ログの保持日数（デフォルト: 365）
	Interval      time.Duration // Startでの実行間隔（デフォルト: 24時間）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: 365,
		Interval:      24 * time.Hour,
	}
}

// Start はクリーンアップをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", j.Interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			// エラーはRun内でログ済み
			_ = j.Run(ctx)
		}
	}
}

// Run は保持期間を超過した監査ログと、有効期限切れの失効トークンを削除する。
// 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)
	audits, err := j.exec(ctx, "record_audits", deleteAuditsQuery, interval)
	if err != nil {
		return err
	}
	tokens, err := j.exec(ctx, "revoked_tokens", deleteRevokedTokensQuery)
	if err != nil {
		return err
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", audits+tokens),
		slog.Int64("deleted_audits", audits),
		slog.Int64("deleted_revoked_tokens", tokens),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

func (j *CleanupJob) exec(ctx context.Context, table, query string, args ...any) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("クリーンアップの実行に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return 0, fmt.Errorf("%sのクリーンアップに失敗: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return deleted, nil
}
