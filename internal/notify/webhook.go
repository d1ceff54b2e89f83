// Package notify は不整合の検出結果を外部のWebhookへ通知する。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/timeclock/internal/model"
)

const (
	// maxAnomaliesPerRequest は1リクエストに含める不整合の最大件数。
	maxAnomaliesPerRequest = 50
	// maxErrorBodySize はエラー応答から読み取るボディの上限。
	maxErrorBodySize = 4 * 1024
)

// Notifier は不整合を通知するインターフェース。
type Notifier interface {
	Notify(ctx context.Context, anomalies []model.Anomaly) error
}

// Recorder は通知結果を記録するメトリクスのインターフェース。
type Recorder interface {
	RecordNotification(success bool)
}

// payload はWebhookに送信するJSON本文。
type payload struct {
	Source    string          `json:"source"`
	SentAt    time.Time       `json:"sentAt"`
	Anomalies []anomalyRecord `json:"anomalies"`
}

type anomalyRecord struct {
	Kind     string    `json:"kind"`
	Username string    `json:"username"`
	EventID  string    `json:"eventId"`
	At       time.Time `json:"at"`
	Message  string    `json:"message"`
}

// WebhookClient は不整合をJSONでPOSTするクライアント。
// 送信間隔はレートリミッターで制限する。
type WebhookClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	limiter    *rate.Limiter
	recorder   Recorder
	now        func() time.Time
}

// NewWebhookClient はWebhookClientを生成する。
// httpClientにはSSRF対策済みのクライアントを渡すこと。
func NewWebhookClient(httpClient *http.Client, endpoint string, recorder Recorder, logger *slog.Logger) *WebhookClient {
	return &WebhookClient{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		recorder:   recorder,
		now:        time.Now,
	}
}

// Notify は不整合を最大50件ずつ送信する。空の場合は何もしない。
// 途中で失敗した場合はそれ以降のチャンクを送信せずにエラーを返す。
func (c *WebhookClient) Notify(ctx context.Context, anomalies []model.Anomaly) error {
	for start := 0; start < len(anomalies); start += maxAnomaliesPerRequest {
		end := min(start+maxAnomaliesPerRequest, len(anomalies))
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("通知の送信待機が中断されました: %w", err)
		}
		err := c.post(ctx, anomalies[start:end])
		if c.recorder != nil {
			c.recorder.RecordNotification(err == nil)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *WebhookClient) post(ctx context.Context, chunk []model.Anomaly) error {
	body := payload{Source: "timeclock", SentAt: c.now().UTC()}
	for _, a := range chunk {
		body.Anomalies = append(body.Anomalies, anomalyRecord{
			Kind:     string(a.Kind),
			Username: a.Username,
			EventID:  a.EventID,
			At:       a.At.UTC(),
			Message:  a.Message,
		})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("通知本文のエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "timeclock/1.0 anomaly-notifier")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Webhookの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("anomaly_count", len(chunk)),
		)
		return fmt.Errorf("Webhookの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		c.logger.Error("Webhookがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(snippet)),
		)
		return fmt.Errorf("Webhookがステータス %d を返しました", resp.StatusCode)
	}

	c.logger.Info("不整合をWebhookへ通知しました",
		slog.Int("anomaly_count", len(chunk)),
	)
	return nil
}

// Discard は通知先が設定されていない場合に使うNotifier。
type Discard struct{}

// Notify は何もしない。
func (Discard) Notify(context.Context, []model.Anomaly) error { return nil }

// compile-time interface check
var (
	_ Notifier = (*WebhookClient)(nil)
	_ Notifier = Discard{}
)
