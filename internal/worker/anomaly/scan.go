// Package anomaly は打刻列の不整合を定期的に検出し、新たに見つかったものを通知するジョブを提供する。
package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/notify"
)

// Scanner は全ユーザーの打刻から不整合を検出するインターフェース。
type Scanner interface {
	Scan(ctx context.Context) ([]model.Anomaly, error)
}

// Recorder はスキャン結果を記録するメトリクスのインターフェース。
type Recorder interface {
	RecordAnomaly(kind string)
	RecordScanLatency(d time.Duration)
}

// Config はスキャンジョブの設定。
type Config struct {
	// Interval はスキャンの実行間隔（デフォルト: 15分）。
	Interval time.Duration
}

// DefaultConfig はデフォルトのスキャンジョブ設定を返す。
func DefaultConfig() Config {
	return Config{Interval: 15 * time.Minute}
}

// ScanJob は不整合の定期スキャンジョブ。
// 前回までに通知済みの不整合は再通知せず、解消されたものは記録から外す。
// 通知に連続して失敗した場合は一定時間通知を止める。スキャン自体は継続する。
type ScanJob struct {
	scanner  Scanner
	notifier notify.Notifier
	recorder Recorder
	logger   *slog.Logger
	config   Config

	notified          map[string]bool
	consecutiveErrors int
	backoffUntil      time.Time
	now               func() time.Time
}

// NewScanJob はScanJobの新しいインスタンスを生成する。
func NewScanJob(scanner Scanner, notifier notify.Notifier, recorder Recorder, logger *slog.Logger, config Config) *ScanJob {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &ScanJob{
		scanner:  scanner,
		notifier: notifier,
		recorder: recorder,
		logger:   logger,
		config:   config,
		notified: make(map[string]bool),
		now:      time.Now,
	}
}

// Start はスキャンをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *ScanJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.logger.Info("不整合スキャンジョブを開始しました",
		slog.Duration("interval", j.config.Interval),
	)

	// 起動直後に1回実行
	if err := j.RunOnce(ctx); err != nil {
		j.logger.Error("不整合スキャンの実行に失敗しました", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("不整合スキャンジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				j.logger.Error("不整合スキャンの実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce は1回のスキャンを実行し、未通知の不整合を通知する。
func (j *ScanJob) RunOnce(ctx context.Context) error {
	start := j.now()

	anomalies, err := j.scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("不整合の検出に失敗しました: %w", err)
	}
	j.recorder.RecordScanLatency(j.now().Sub(start))

	current := make(map[string]bool, len(anomalies))
	var fresh []model.Anomaly
	for _, a := range anomalies {
		key := anomalyKey(a)
		current[key] = true
		if !j.notified[key] {
			fresh = append(fresh, a)
		}
	}
	// 解消された不整合は忘れ、再発したら再び通知する
	for key := range j.notified {
		if !current[key] {
			delete(j.notified, key)
		}
	}

	if len(fresh) == 0 {
		j.logger.Info("新たな不整合はありません", slog.Int("total", len(anomalies)))
		return nil
	}

	if !j.backoffUntil.IsZero() && j.now().Before(j.backoffUntil) {
		j.logger.Info("通知はバックオフ中のためスキップします",
			slog.Int("pending", len(fresh)),
			slog.Time("backoff_until", j.backoffUntil),
		)
		return nil
	}

	if err := j.notifier.Notify(ctx, fresh); err != nil {
		j.consecutiveErrors++
		if backoff := calculateErrorBackoff(j.consecutiveErrors); backoff > 0 {
			j.backoffUntil = j.now().Add(backoff)
			j.logger.Warn("連続エラーによりバックオフを適用します",
				slog.Int("consecutive_errors", j.consecutiveErrors),
				slog.Duration("backoff_duration", backoff),
			)
		}
		return fmt.Errorf("不整合の通知に失敗しました: %w", err)
	}

	j.consecutiveErrors = 0
	j.backoffUntil = time.Time{}
	for _, a := range fresh {
		j.notified[anomalyKey(a)] = true
		j.recorder.RecordAnomaly(string(a.Kind))
	}

	j.logger.Info("不整合スキャンが完了しました",
		slog.Int("total", len(anomalies)),
		slog.Int("notified", len(fresh)),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return nil
}

func anomalyKey(a model.Anomaly) string {
	return string(a.Kind) + "/" + a.EventID
}

// calculateErrorBackoff は連続エラー回数に基づくバックオフ時間を計算する。
// 3回連続: 30分、5回連続: 1時間、10回連続: 6時間。
func calculateErrorBackoff(consecutiveErrors int) time.Duration {
	switch {
	case consecutiveErrors >= 10:
		return 6 * time.Hour
	case consecutiveErrors >= 5:
		return time.Hour
	case consecutiveErrors >= 3:
		return 30 * time.Minute
	default:
		return 0
	}
}
