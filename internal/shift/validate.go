package shift

import (
	"time"

	"github.com/hitoshi/timeclock/internal/model"
)

// CheckStamp は書き込み時の打刻検証を行う。
// latest はユーザーの時系列上最新の打刻（無ければnil）。
// 打刻が1件も無い状態は退勤済みとみなすため、最初の打刻は in でなければならない。
func CheckStamp(latest *model.StampEvent, t model.StampType, now time.Time) error {
	if latest == nil {
		if t == model.StampOut {
			return model.NewDuplicateStampError(t)
		}
		return nil
	}
	if latest.Type == t {
		return model.NewDuplicateStampError(t)
	}
	if !now.After(latest.DateTime) {
		return model.NewOutOfOrderTimestampError(latest.DateTime, now)
	}
	return nil
}

// CheckRange は退勤時刻が出勤時刻より厳密に後であることを検証する。
func CheckRange(entry, exit time.Time) error {
	if entry.IsZero() || exit.IsZero() || !exit.After(entry) {
		return model.NewInvalidRangeError(entry, exit)
	}
	return nil
}

// Overlaps は区間 [entry, exit) が other と交差するかを返す。
// 勤務中のシフトは終了時刻が無限遠の区間として扱う。
// 端点が一致するだけ（exit == other.Entry）の場合は重なりとみなさない。
func Overlaps(entry, exit time.Time, other model.Shift) bool {
	if other.Exit != nil && !entry.Before(other.Exit.DateTime) {
		return false
	}
	return exit.After(other.Entry.DateTime)
}

// FindOverlap は others の中で [entry, exit) と重なる最初のシフトを返す。
func FindOverlap(entry, exit time.Time, others []model.Shift) (model.Shift, bool) {
	for _, o := range others {
		if Overlaps(entry, exit, o) {
			return o, true
		}
	}
	return model.Shift{}, false
}

// CheckEdit はシフト修正案を検証する。
// userShifts は同一ユーザーの全シフトで、修正対象（shiftID）は重なり判定から除外する。
func CheckEdit(shiftID string, entry, exit time.Time, userShifts []model.Shift) error {
	if err := CheckRange(entry, exit); err != nil {
		return err
	}
	others := make([]model.Shift, 0, len(userShifts))
	for _, s := range userShifts {
		if s.ID() != shiftID {
			others = append(others, s)
		}
	}
	if conflict, ok := FindOverlap(entry, exit, others); ok {
		return model.NewOverlapError(conflict)
	}
	return nil
}

// CheckPlacement は1件の打刻を修正した後の打刻列で、その打刻の前後が
// 同じ種別にならないことを検証する。events は同一ユーザーの修正後の全打刻。
// 修正対象と無関係な既存の不整合では失敗しない。
func CheckPlacement(events []model.StampEvent, eventID string) error {
	sorted := Sequence(events)
	for i, ev := range sorted {
		if ev.ID != eventID {
			continue
		}
		if i > 0 && sorted[i-1].Type == ev.Type {
			return model.NewSequenceViolationError(ev.ID, ev.Type)
		}
		if i == 0 && ev.Type == model.StampOut {
			return model.NewSequenceViolationError(ev.ID, ev.Type)
		}
		if i+1 < len(sorted) && sorted[i+1].Type == ev.Type {
			return model.NewSequenceViolationError(ev.ID, ev.Type)
		}
		return nil
	}
	return model.NewRecordNotFoundError(eventID)
}
