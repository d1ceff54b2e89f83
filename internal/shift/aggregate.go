package shift

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/hitoshi/timeclock/internal/model"
)

// Latest はユーザーごとの時系列上最新の打刻を返す。同時刻の打刻はSequenceの順で判定する。
func Latest(events []model.StampEvent) map[string]model.StampEvent {
	latest := make(map[string]model.StampEvent)
	for _, ev := range Sequence(events) {
		latest[ev.Username] = ev
	}
	return latest
}

// LatestOf は指定ユーザーの最新打刻を返す。打刻が無ければnilを返す。
func LatestOf(events []model.StampEvent, username string) *model.StampEvent {
	var found *model.StampEvent
	for _, ev := range Sequence(events) {
		if ev.Username == username {
			e := ev
			found = &e
		}
	}
	return found
}

// CurrentlyActive は現在勤務中のユーザーを返す。
// ユーザーごとの最新打刻が in であるものを対象とし、ペアリングの結果には依存しない。
// 過去のデータに不整合があっても正しい在席状況を返すため。
func CurrentlyActive(events []model.StampEvent) []model.Presence {
	var active []model.Presence
	for username, ev := range Latest(events) {
		if ev.Type == model.StampIn {
			active = append(active, model.Presence{
				Username: username,
				Since:    ev.DateTime,
				EntryID:  ev.ID,
			})
		}
	}
	slices.SortFunc(active, func(a, b model.Presence) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return active
}

// MonthScoped は表示用タイムゾーンで指定の年月に含まれる打刻のみを返す。
// usernameが空の場合は全ユーザーを対象とする。入力スライスは変更しない。
func MonthScoped(events []model.StampEvent, username string, month, year int, loc *time.Location) []model.StampEvent {
	var out []model.StampEvent
	for _, ev := range events {
		if username != "" && ev.Username != username {
			continue
		}
		local := ev.DateTime.In(loc)
		if local.Year() == year && int(local.Month()) == month {
			out = append(out, ev)
		}
	}
	return out
}

// MonthBounds は表示用タイムゾーンにおける指定年月の開始時刻（含む）と終了時刻（含まない）をUTCで返す。
func MonthBounds(month, year int, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
	return start.UTC(), start.AddDate(0, 1, 0).UTC()
}

// ValidMonth は年月の指定が妥当かどうかを返す。
func ValidMonth(month, year int) bool {
	return month >= 1 && month <= 12 && year >= 1970 && year <= 9999
}

// UserTotal はユーザーごとの退勤済みシフトの合計勤務時間。
type UserTotal struct {
	Username string
	Shifts   int
	Worked   time.Duration
}

// Totals は退勤済みシフトの勤務時間をユーザーごとに合計する。結果はユーザー名順。
func Totals(shifts []model.Shift) []UserTotal {
	byUser := make(map[string]*UserTotal)
	for _, s := range shifts {
		d, ok := s.Duration()
		if !ok {
			continue
		}
		t, exists := byUser[s.Username()]
		if !exists {
			t = &UserTotal{Username: s.Username()}
			byUser[s.Username()] = t
		}
		t.Shifts++
		t.Worked += d
	}

	totals := make([]UserTotal, 0, len(byUser))
	for _, t := range byUser {
		totals = append(totals, *t)
	}
	slices.SortFunc(totals, func(a, b UserTotal) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return totals
}

// FormatDuration は勤務時間を HH:MM:SS 形式に整形する。
// 秒未満は切り捨て、負の値は0として扱う。時間は24を超えてもそのまま表示する。
func FormatDuration(d time.Duration) string {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// LongOpenShifts は開始から limit を超えて勤務中のままのシフトを不整合として返す。
func LongOpenShifts(shifts []model.Shift, now time.Time, limit time.Duration) []model.Anomaly {
	var anomalies []model.Anomaly
	for _, s := range shifts {
		if !s.IsOpen() {
			continue
		}
		if open := now.Sub(s.Entry.DateTime); open > limit {
			anomalies = append(anomalies, model.Anomaly{
				Kind:     model.AnomalyLongOpenShift,
				Username: s.Username(),
				EventID:  s.Entry.ID,
				At:       s.Entry.DateTime,
				Message:  fmt.Sprintf("shift open for %s", FormatDuration(open)),
			})
		}
	}
	return anomalies
}
