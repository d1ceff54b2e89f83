package record

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/shift"
)

// ShiftView は月次のシフト一覧と集計結果。
type ShiftView struct {
	Shifts    []model.Shift
	Totals    []shift.UserTotal
	Anomalies []model.Anomaly
	// ContinuesAfterMonth は退勤が翌月以降にあるため月内では閉じていないシフトのID。
	// ここに含まれるシフトは勤務中ではない。
	ContinuesAfterMonth map[string]bool
}

// ListAll は全ユーザーの全打刻を返す。管理者のみ。
func (s *Service) ListAll(ctx context.Context, p model.Principal) ([]model.StampEvent, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	events, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("打刻一覧の取得に失敗しました: %w", err)
	}
	return events, nil
}

// ListByUser は指定ユーザーの全打刻を返す。本人または管理者のみ。
func (s *Service) ListByUser(ctx context.Context, p model.Principal, username string) ([]model.StampEvent, error) {
	if err := requireAccess(p, username); err != nil {
		return nil, err
	}
	events, err := s.store.ListByUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("打刻一覧の取得に失敗しました: %w", err)
	}
	return events, nil
}

// ListByUserAndMonth は表示用タイムゾーンで指定年月に含まれる指定ユーザーの打刻を返す。
func (s *Service) ListByUserAndMonth(ctx context.Context, p model.Principal, username string, month, year int) ([]model.StampEvent, error) {
	if err := requireAccess(p, username); err != nil {
		return nil, err
	}
	if err := checkMonth(month, year); err != nil {
		return nil, err
	}
	events, err := s.store.ListByUserAndMonth(ctx, username, month, year, s.loc)
	if err != nil {
		return nil, fmt.Errorf("月次打刻の取得に失敗しました: %w", err)
	}
	return events, nil
}

// ListByMonth は表示用タイムゾーンで指定年月に含まれる全ユーザーの打刻を返す。管理者のみ。
func (s *Service) ListByMonth(ctx context.Context, p model.Principal, month, year int) ([]model.StampEvent, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if err := checkMonth(month, year); err != nil {
		return nil, err
	}
	events, err := s.store.ListByMonth(ctx, month, year, s.loc)
	if err != nil {
		return nil, fmt.Errorf("月次打刻の取得に失敗しました: %w", err)
	}
	return events, nil
}

// Latest は指定ユーザーの最新打刻を返す。打刻が無い場合はRECORD_NOT_FOUND。
func (s *Service) Latest(ctx context.Context, p model.Principal, username string) (*model.StampEvent, error) {
	if err := requireAccess(p, username); err != nil {
		return nil, err
	}
	latest, err := s.store.LatestByUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("最新打刻の取得に失敗しました: %w", err)
	}
	if latest == nil {
		return nil, model.NewLatestNotFoundError(username)
	}
	return latest, nil
}

// Active は現在勤務中のユーザーを返す。管理者のみ。
// ユーザーごとの最新打刻で判定するため、過去の不整合には影響されない。
func (s *Service) Active(ctx context.Context, p model.Principal) ([]model.Presence, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	events, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("打刻一覧の取得に失敗しました: %w", err)
	}
	active := shift.CurrentlyActive(events)
	s.metrics.SetActiveEmployees(len(active))
	return active, nil
}

// Shifts は指定年月のシフトを再構築して返す。
// usernameが空の場合は全ユーザーが対象で、管理者のみ実行できる。
// 月の境界をまたぐシフトは、その月の範囲内の打刻だけで再構築する。
// 出勤側の月では退勤の無いシフトになり、ContinuesAfterMonth に含めて勤務中のシフトと区別する。
// 退勤側の月では月初の退勤が orphan_out として報告される。
func (s *Service) Shifts(ctx context.Context, p model.Principal, username string, month, year int) (*ShiftView, error) {
	var (
		events []model.StampEvent
		err    error
	)
	if username == "" {
		events, err = s.ListByMonth(ctx, p, month, year)
	} else {
		events, err = s.ListByUserAndMonth(ctx, p, username, month, year)
	}
	if err != nil {
		return nil, err
	}

	res := shift.Reconstruct(events)
	continues, err := s.continuesAfterMonth(ctx, res.Open())
	if err != nil {
		return nil, err
	}
	return &ShiftView{
		Shifts:              res.Shifts,
		Totals:              shift.Totals(res.Shifts),
		Anomalies:           res.Anomalies,
		ContinuesAfterMonth: continues,
	}, nil
}

// continuesAfterMonth は月内で閉じていないシフトのうち、ユーザーの最新打刻ではないものを返す。
// 最新打刻でない出勤には月の範囲外に後続の打刻があり、現在の勤務を表さない。
func (s *Service) continuesAfterMonth(ctx context.Context, open []model.Shift) (map[string]bool, error) {
	continues := make(map[string]bool)
	for _, sh := range open {
		latest, err := s.store.LatestByUser(ctx, sh.Username())
		if err != nil {
			return nil, fmt.Errorf("最新打刻の取得に失敗しました: %w", err)
		}
		if latest == nil || latest.ID != sh.Entry.ID {
			continues[sh.ID()] = true
		}
	}
	return continues, nil
}

// Anomalies は全期間の打刻から検出される不整合を返す。管理者のみ。
// 対応の無い退勤、上書きされた出勤、閾値を超えて勤務中のシフトを含む。
func (s *Service) Anomalies(ctx context.Context, p model.Principal) ([]model.Anomaly, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	return s.Scan(ctx)
}

// Scan は権限確認なしで不整合を検出する。定期スキャンジョブから使用する。
// 勤務中人数のゲージも同じ打刻一覧から更新する。
func (s *Service) Scan(ctx context.Context) ([]model.Anomaly, error) {
	events, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("打刻一覧の取得に失敗しました: %w", err)
	}
	s.metrics.SetActiveEmployees(len(shift.CurrentlyActive(events)))
	res := shift.Reconstruct(events)
	anomalies := append(res.Anomalies, shift.LongOpenShifts(res.Shifts, s.now().UTC(), s.maxOpenShift)...)
	return anomalies, nil
}

// Audits は新しい順に監査ログを返す。管理者のみ。limitが範囲外の場合は既定値に丸める。
func (s *Service) Audits(ctx context.Context, p model.Principal, limit int) ([]model.AuditEntry, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultAuditLimit
	case limit > maxAuditLimit:
		limit = maxAuditLimit
	}
	entries, err := s.audits.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("監査ログの取得に失敗しました: %w", err)
	}
	return entries, nil
}

func checkMonth(month, year int) error {
	if !shift.ValidMonth(month, year) {
		return model.NewInvalidMonthError(strconv.Itoa(month), strconv.Itoa(year))
	}
	return nil
}
