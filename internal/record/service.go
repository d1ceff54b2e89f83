// Package record は打刻の受付、管理者による修正・削除、月次の照会を提供する。
// 打刻列の解釈（シフトの再構築・検証）は shift パッケージに委ね、
// このパッケージはストアとのやり取り、排他制御、監査ログを担う。
package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/timeclock/internal/metrics"
	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/notify"
	"github.com/hitoshi/timeclock/internal/repository"
	"github.com/hitoshi/timeclock/internal/security"
)

const (
	// defaultAuditLimit は監査ログ一覧のデフォルト件数。
	defaultAuditLimit = 100
	// maxAuditLimit は監査ログ一覧の最大件数。
	maxAuditLimit = 500
	// defaultMaxOpenShift は長時間勤務中として報告するまでの既定時間。
	defaultMaxOpenShift = 16 * time.Hour
)

// Options はServiceの依存関係と設定。
// 未設定の項目には既定値が使われる。
type Options struct {
	Location     *time.Location // 月次集計に使う表示用タイムゾーン（既定: UTC）
	MaxOpenShift time.Duration  // 長時間勤務中として報告する閾値
	Sanitizer    security.TextSanitizer
	Metrics      metrics.MetricsCollector
	Notifier     notify.Notifier
	Logger       *slog.Logger
}

// Service は打刻と勤務記録のサービス層。
type Service struct {
	store        repository.EventStore
	audits       repository.AuditRepository
	loc          *time.Location
	maxOpenShift time.Duration
	sanitizer    security.TextSanitizer
	metrics      metrics.MetricsCollector
	notifier     notify.Notifier
	logger       *slog.Logger
	locks        *userLocks

	now   func() time.Time
	newID func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(store repository.EventStore, audits repository.AuditRepository, opts Options) *Service {
	s := &Service{
		store:        store,
		audits:       audits,
		loc:          opts.Location,
		maxOpenShift: opts.MaxOpenShift,
		sanitizer:    opts.Sanitizer,
		metrics:      opts.Metrics,
		notifier:     opts.Notifier,
		logger:       opts.Logger,
		locks:        newUserLocks(),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.maxOpenShift <= 0 {
		s.maxOpenShift = defaultMaxOpenShift
	}
	if s.sanitizer == nil {
		s.sanitizer = security.NewTextSanitizer()
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.notifier == nil {
		s.notifier = notify.Discard{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Location は月次集計に使う表示用タイムゾーンを返す。
func (s *Service) Location() *time.Location {
	return s.loc
}

// requireAdmin は管理者以外をForbiddenErrorで拒否する。
func requireAdmin(p model.Principal) error {
	if !p.IsAdmin() {
		return model.NewForbiddenError()
	}
	return nil
}

// requireAccess は本人または管理者以外をForbiddenErrorで拒否する。
func requireAccess(p model.Principal, username string) error {
	if !p.CanAccess(username) {
		return model.NewForbiddenError()
	}
	return nil
}

// clock は秒精度のUTC現在時刻を返す。
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// findEvent はIDで打刻を取得し、存在しなければnotFoundの結果を返す。
func (s *Service) findEvent(ctx context.Context, id string, notFound func(string) *model.APIError) (*model.StampEvent, error) {
	ev, err := s.store.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("打刻の取得に失敗しました: %w", err)
	}
	return ev, nil
}

// audit は監査ログを記録する。記録に失敗しても操作自体は成功として扱い、エラーログを残す。
func (s *Service) audit(ctx context.Context, entry model.AuditEntry) {
	entry.ID = s.newID()
	entry.CreatedAt = s.now().UTC()
	if err := s.audits.Create(ctx, &entry); err != nil {
		s.logger.Error("監査ログの記録に失敗しました",
			slog.String("action", string(entry.Action)),
			slog.String("target_id", entry.TargetID),
			slog.String("error", err.Error()),
		)
	}
}

// reportAnomaly は書き込み途中で発生した不整合をログ・監査ログ・通知に残す。
func (s *Service) reportAnomaly(ctx context.Context, actor string, a model.Anomaly) {
	s.logger.Error("シフトの書き込みが部分的に反映されました",
		slog.String("kind", string(a.Kind)),
		slog.String("username", a.Username),
		slog.String("event_id", a.EventID),
		slog.String("message", a.Message),
	)
	s.metrics.RecordAnomaly(string(a.Kind))
	s.audit(ctx, model.AuditEntry{
		Actor:    actor,
		Action:   model.AuditAnomalyReport,
		TargetID: a.EventID,
		Username: a.Username,
		Detail: map[string]string{
			"kind":    string(a.Kind),
			"message": a.Message,
		},
	})
	if err := s.notifier.Notify(ctx, []model.Anomaly{a}); err != nil {
		s.logger.Warn("不整合の通知に失敗しました",
			slog.String("event_id", a.EventID),
			slog.String("error", err.Error()),
		)
	}
}
