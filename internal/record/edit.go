package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/repository"
	"github.com/hitoshi/timeclock/internal/shift"
)

// ProposeEdit は管理者によるシフトの出勤・退勤時刻の修正を検証して反映する。
//
// 検証は退勤が出勤より厳密に後であること、未来の時刻でないこと、
// 同一ユーザーの他のシフト（勤務中のシフトを含む）と重ならないことの順に行う。
// 反映はストアがPairWriterを実装していれば単一トランザクションで行い、
// そうでなければ2回の更新と失敗時の巻き戻しで行う。
func (s *Service) ProposeEdit(ctx context.Context, p model.Principal, shiftID string, entry, exit time.Time, reason string) (*model.Shift, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	entry = entry.UTC().Truncate(time.Second)
	exit = exit.UTC().Truncate(time.Second)

	ev, err := s.findEvent(ctx, shiftID, model.NewShiftNotFoundError)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ev.Username)
	defer unlock()

	target, res, err := s.loadShift(ctx, ev.Username, shiftID)
	if err != nil {
		return nil, err
	}
	if target.IsOpen() {
		return nil, model.NewShiftOpenError(shiftID)
	}

	if err := shift.CheckEdit(shiftID, entry, exit, res.Shifts); err != nil {
		return nil, err
	}
	if now := s.clock(); exit.After(now) {
		return nil, model.NewFutureTimestampError(exit, now)
	}

	if err := s.updatePair(ctx, p.Username, target, entry, exit); err != nil {
		return nil, err
	}

	updated := target
	updated.Entry.DateTime = entry
	exitEv := *target.Exit
	exitEv.DateTime = exit
	updated.Exit = &exitEv

	s.metrics.RecordShiftChange("edit")
	s.audit(ctx, model.AuditEntry{
		Actor:    p.Username,
		Action:   model.AuditShiftEdit,
		TargetID: shiftID,
		Username: ev.Username,
		Reason:   s.sanitizer.Sanitize(reason),
		Detail: map[string]string{
			"old_entry": formatTime(target.Entry.DateTime),
			"old_exit":  formatTime(target.Exit.DateTime),
			"new_entry": formatTime(entry),
			"new_exit":  formatTime(exit),
			"exit_id":   target.Exit.ID,
		},
	})
	s.logger.Info("シフトを修正しました",
		slog.String("actor", p.Username),
		slog.String("username", ev.Username),
		slog.String("shift_id", shiftID),
	)
	return &updated, nil
}

// DeleteShift は管理者がシフト（出勤と退勤の両方）を削除する。
// 勤務中のシフトは出勤打刻のみを削除する。
func (s *Service) DeleteShift(ctx context.Context, p model.Principal, shiftID, reason string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}

	ev, err := s.findEvent(ctx, shiftID, model.NewShiftNotFoundError)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(ev.Username)
	defer unlock()

	target, _, err := s.loadShift(ctx, ev.Username, shiftID)
	if err != nil {
		return err
	}

	if err := s.deleteShift(ctx, p.Username, target); err != nil {
		return err
	}

	s.metrics.RecordShiftChange("delete")
	s.audit(ctx, model.AuditEntry{
		Actor:    p.Username,
		Action:   model.AuditShiftDelete,
		TargetID: shiftID,
		Username: ev.Username,
		Reason:   s.sanitizer.Sanitize(reason),
		Detail:   shiftDetail(target),
	})
	s.logger.Info("シフトを削除しました",
		slog.String("actor", p.Username),
		slog.String("username", ev.Username),
		slog.String("shift_id", shiftID),
	)
	return nil
}

// UpdateRecord は管理者が1件の打刻の時刻を修正する。
// 修正後の打刻列で、その打刻の前後が同じ種別にならないことを確認してから反映する。
func (s *Service) UpdateRecord(ctx context.Context, p model.Principal, id string, patch model.StampPatch, reason string) (*model.StampEvent, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if patch.DateTime == nil || patch.DateTime.IsZero() {
		return nil, model.NewInvalidRequestError("dateTime is required")
	}
	at := patch.DateTime.UTC().Truncate(time.Second)
	if now := s.clock(); at.After(now) {
		return nil, model.NewFutureTimestampError(at, now)
	}

	ev, err := s.findEvent(ctx, id, model.NewRecordNotFoundError)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ev.Username)
	defer unlock()

	events, err := s.store.ListByUser(ctx, ev.Username)
	if err != nil {
		return nil, fmt.Errorf("打刻一覧の取得に失敗しました: %w", err)
	}
	proposed := make([]model.StampEvent, len(events))
	copy(proposed, events)
	for i := range proposed {
		if proposed[i].ID == id {
			proposed[i].DateTime = at
		}
	}
	if err := shift.CheckPlacement(proposed, id); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateByID(ctx, id, model.StampPatch{DateTime: &at})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.NewRecordNotFoundError(id)
	}
	if err != nil {
		return nil, fmt.Errorf("打刻の更新に失敗しました: %w", err)
	}

	s.metrics.RecordShiftChange("record_update")
	s.audit(ctx, model.AuditEntry{
		Actor:    p.Username,
		Action:   model.AuditRecordUpdate,
		TargetID: id,
		Username: ev.Username,
		Reason:   s.sanitizer.Sanitize(reason),
		Detail: map[string]string{
			"type":         string(ev.Type),
			"old_dateTime": formatTime(ev.DateTime),
			"new_dateTime": formatTime(at),
		},
	})
	return updated, nil
}

// DeleteRecord は管理者が打刻を削除する。
// 打刻がシフトの一部であればシフト全体を削除し、対応の無い打刻であればその1件のみを削除する。
// 削除した打刻のIDを返す。
func (s *Service) DeleteRecord(ctx context.Context, p model.Principal, id, reason string) ([]string, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	ev, err := s.findEvent(ctx, id, model.NewRecordNotFoundError)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ev.Username)
	defer unlock()

	events, err := s.store.ListByUser(ctx, ev.Username)
	if err != nil {
		return nil, fmt.Errorf("打刻一覧の取得に失敗しました: %w", err)
	}

	var (
		deleted []string
		detail  map[string]string
	)
	if target, ok := shift.Reconstruct(events).Containing(id); ok {
		if err := s.deleteShift(ctx, p.Username, target); err != nil {
			return nil, err
		}
		deleted = shiftEventIDs(target)
		detail = shiftDetail(target)
	} else {
		err := s.store.DeleteByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewRecordNotFoundError(id)
		}
		if err != nil {
			return nil, fmt.Errorf("打刻の削除に失敗しました: %w", err)
		}
		deleted = []string{id}
		detail = map[string]string{"type": string(ev.Type), "dateTime": formatTime(ev.DateTime)}
	}

	s.metrics.RecordShiftChange("record_delete")
	s.audit(ctx, model.AuditEntry{
		Actor:    p.Username,
		Action:   model.AuditRecordDelete,
		TargetID: id,
		Username: ev.Username,
		Reason:   s.sanitizer.Sanitize(reason),
		Detail:   detail,
	})
	return deleted, nil
}

// loadShift はロック取得後にユーザーの打刻を読み直し、出勤IDに対応するシフトを返す。
func (s *Service) loadShift(ctx context.Context, username, shiftID string) (model.Shift, shift.Result, error) {
	events, err := s.store.ListByUser(ctx, username)
	if err != nil {
		return model.Shift{}, shift.Result{}, fmt.Errorf("打刻一覧の取得に失敗しました: %w", err)
	}
	res := shift.Reconstruct(events)
	target, ok := res.Find(shiftID)
	if !ok {
		return model.Shift{}, res, model.NewShiftNotFoundError(shiftID)
	}
	return target, res, nil
}

// updatePair は退勤済みシフトの出勤・退勤時刻を書き換える。
func (s *Service) updatePair(ctx context.Context, actor string, target model.Shift, entry, exit time.Time) error {
	if pw, ok := s.store.(repository.PairWriter); ok {
		err := pw.UpdatePair(ctx, target.Entry.ID, entry, target.Exit.ID, exit)
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewShiftNotFoundError(target.ID())
		}
		if err != nil {
			return fmt.Errorf("シフトの更新に失敗しました: %w", err)
		}
		return nil
	}

	type step struct {
		id       string
		from, to time.Time
	}
	first := step{target.Entry.ID, target.Entry.DateTime, entry}
	second := step{target.Exit.ID, target.Exit.DateTime, exit}
	// 途中状態でも出勤 < 退勤を保つため、後ろへずらす場合は退勤側から更新する
	if !entry.Before(target.Exit.DateTime) {
		first, second = second, first
	}

	if _, err := s.store.UpdateByID(ctx, first.id, model.StampPatch{DateTime: &first.to}); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewShiftNotFoundError(target.ID())
		}
		return fmt.Errorf("打刻 %s の更新に失敗しました: %w", first.id, err)
	}

	if _, err := s.store.UpdateByID(ctx, second.id, model.StampPatch{DateTime: &second.to}); err != nil {
		if _, rbErr := s.store.UpdateByID(ctx, first.id, model.StampPatch{DateTime: &first.from}); rbErr != nil {
			a := model.Anomaly{
				Kind:     model.AnomalyPartialEdit,
				Username: target.Username(),
				EventID:  first.id,
				At:       s.now().UTC(),
				Message: fmt.Sprintf("event %s moved from %s to %s but event %s was not updated (%v); rollback failed (%v)",
					first.id, formatTime(first.from), formatTime(first.to), second.id, err, rbErr),
			}
			s.reportAnomaly(ctx, actor, a)
			return model.NewPartialWriteError(a)
		}
		s.logger.Warn("シフト更新の2件目に失敗したため1件目を元に戻しました",
			slog.String("shift_id", target.ID()),
			slog.String("failed_event_id", second.id),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewShiftNotFoundError(target.ID())
		}
		return fmt.Errorf("打刻 %s の更新に失敗しました: %w", second.id, err)
	}
	return nil
}

// deleteShift はシフトを構成する打刻を削除する。
// 補償処理では出勤側から削除する。退勤側の削除に失敗した場合に残るのは対応の無い退勤で、
// 在席判定を誤らせず、再構築時に orphan_out として必ず表面化する。
func (s *Service) deleteShift(ctx context.Context, actor string, target model.Shift) error {
	if target.IsOpen() {
		err := s.store.DeleteByID(ctx, target.Entry.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewShiftNotFoundError(target.ID())
		}
		if err != nil {
			return fmt.Errorf("打刻 %s の削除に失敗しました: %w", target.Entry.ID, err)
		}
		return nil
	}

	if pw, ok := s.store.(repository.PairWriter); ok {
		err := pw.DeletePair(ctx, target.Entry.ID, target.Exit.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewShiftNotFoundError(target.ID())
		}
		if err != nil {
			return fmt.Errorf("シフトの削除に失敗しました: %w", err)
		}
		return nil
	}

	if err := s.store.DeleteByID(ctx, target.Entry.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewShiftNotFoundError(target.ID())
		}
		return fmt.Errorf("打刻 %s の削除に失敗しました: %w", target.Entry.ID, err)
	}
	if err := s.store.DeleteByID(ctx, target.Exit.ID); err != nil {
		a := model.Anomaly{
			Kind:     model.AnomalyPartialDelete,
			Username: target.Username(),
			EventID:  target.Exit.ID,
			At:       s.now().UTC(),
			Message: fmt.Sprintf("entry %s was deleted but exit %s remains (%v)",
				target.Entry.ID, target.Exit.ID, err),
		}
		s.reportAnomaly(ctx, actor, a)
		return model.NewPartialWriteError(a)
	}
	return nil
}

func shiftEventIDs(sh model.Shift) []string {
	ids := []string{sh.Entry.ID}
	if sh.Exit != nil {
		ids = append(ids, sh.Exit.ID)
	}
	return ids
}

func shiftDetail(sh model.Shift) map[string]string {
	detail := map[string]string{"entry": formatTime(sh.Entry.DateTime)}
	if sh.Exit != nil {
		detail["exit"] = formatTime(sh.Exit.DateTime)
		detail["exit_id"] = sh.Exit.ID
	}
	return detail
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
