// Package shift は打刻イベント列から勤務シフトを再構築し、検証・集計する。
// パッケージ内の関数はすべて純粋関数であり、隠れた状態を持たない。
package shift

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/hitoshi/timeclock/internal/model"
)

// Result は再構築の結果。
// Shifts は出勤時刻の昇順に並び、勤務中のシフト（Exit == nil）も含む。
type Result struct {
	Shifts    []model.Shift
	Anomalies []model.Anomaly
}

// Closed は退勤済みのシフトのみを返す。勤務時間を伴う履歴表示に使用する。
func (r Result) Closed() []model.Shift {
	closed := make([]model.Shift, 0, len(r.Shifts))
	for _, s := range r.Shifts {
		if !s.IsOpen() {
			closed = append(closed, s)
		}
	}
	return closed
}

// Open は勤務中のシフトのみを返す。ユーザーごとに最大1件。
func (r Result) Open() []model.Shift {
	var open []model.Shift
	for _, s := range r.Shifts {
		if s.IsOpen() {
			open = append(open, s)
		}
	}
	return open
}

// Find は出勤イベントIDでシフトを検索する。
func (r Result) Find(shiftID string) (model.Shift, bool) {
	for _, s := range r.Shifts {
		if s.Entry.ID == shiftID {
			return s, true
		}
	}
	return model.Shift{}, false
}

// Containing は指定イベントを出勤または退勤として含むシフトを検索する。
func (r Result) Containing(eventID string) (model.Shift, bool) {
	for _, s := range r.Shifts {
		if s.Entry.ID == eventID || (s.Exit != nil && s.Exit.ID == eventID) {
			return s, true
		}
	}
	return model.Shift{}, false
}

// compareEvents は打刻の並び順を定義する。
// 時刻の昇順、同時刻では in を out より前に置き、最後にIDで順序を確定する。
func compareEvents(a, b model.StampEvent) int {
	if c := a.DateTime.Compare(b.DateTime); c != 0 {
		return c
	}
	if a.Type != b.Type {
		if a.Type == model.StampIn {
			return -1
		}
		return 1
	}
	return cmp.Compare(a.ID, b.ID)
}

// Sort は打刻イベントを時系列順に並べたコピーを返す。入力スライスは変更しない。
func Sort(events []model.StampEvent) []model.StampEvent {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, compareEvents)
	return sorted
}

// Sequence は打刻イベントを処理順に並べたコピーを返す。
// 基本はSortの順序で、同時刻の in と out はユーザーごとの勤務状態で並びを決める。
// 勤務中でなければ in を先に、勤務中なら out を先に置く。
// 退勤と次の出勤が同時刻で接する場合に、前のシフトを閉じてから次のシフトを開始する順序になる。
func Sequence(events []model.StampEvent) []model.StampEvent {
	sorted := Sort(events)
	working := make(map[string]bool)

	for start := 0; start < len(sorted); {
		end := start + 1
		for end < len(sorted) && sorted[end].DateTime.Equal(sorted[start].DateTime) {
			end++
		}
		group := sorted[start:end]
		if len(group) > 1 {
			copy(group, orderTies(group, working))
		}
		for _, ev := range group {
			working[ev.Username] = ev.Type == model.StampIn
		}
		start = end
	}
	return sorted
}

// orderTies は勤務中のユーザーの out（ユーザーごとに1件）を先頭に移し、残りはSortの順序を保つ。
func orderTies(group []model.StampEvent, working map[string]bool) []model.StampEvent {
	var first, rest []model.StampEvent
	closing := make(map[string]bool)
	for _, ev := range group {
		if ev.Type == model.StampOut && working[ev.Username] && !closing[ev.Username] {
			closing[ev.Username] = true
			first = append(first, ev)
			continue
		}
		rest = append(rest, ev)
	}
	return append(first, rest...)
}

// Reconstruct は打刻イベント列を出勤・退勤のペアに変換する。
// 複数ユーザーのイベントが混在してもよく、ユーザーごとに1つの保留スロットを持ってSequenceの順に1回走査する。
//
//   - in: スロットが空なら保留する。既に保留中なら新しい in で上書きし、
//     古い in を superseded_in として報告する（表示用の寛容な解決）。
//   - out: 保留中の in があればシフトとして確定する。無ければ orphan_out として報告する。
//   - 走査終了時に残った in は勤務中のシフトになる。
func Reconstruct(events []model.StampEvent) Result {
	pending := make(map[string]model.StampEvent)
	var result Result

	for _, ev := range Sequence(events) {
		result.apply(ev, pending)
	}

	for _, entry := range pending {
		result.Shifts = append(result.Shifts, model.Shift{Entry: entry})
	}

	slices.SortStableFunc(result.Shifts, func(a, b model.Shift) int {
		return compareEvents(a.Entry, b.Entry)
	})

	return result
}

// apply は1件の打刻を保留スロットに適用する。
func (r *Result) apply(ev model.StampEvent, pending map[string]model.StampEvent) {
	switch ev.Type {
	case model.StampIn:
		if prev, ok := pending[ev.Username]; ok {
			r.Anomalies = append(r.Anomalies, model.Anomaly{
				Kind:     model.AnomalySupersededIn,
				Username: prev.Username,
				EventID:  prev.ID,
				At:       prev.DateTime,
				Message:  fmt.Sprintf("in %s was followed by in %s without out", prev.ID, ev.ID),
			})
		}
		pending[ev.Username] = ev
	case model.StampOut:
		entry, ok := pending[ev.Username]
		if !ok {
			r.Anomalies = append(r.Anomalies, model.Anomaly{
				Kind:     model.AnomalyOrphanOut,
				Username: ev.Username,
				EventID:  ev.ID,
				At:       ev.DateTime,
				Message:  fmt.Sprintf("out %s has no matching in", ev.ID),
			})
			return
		}
		exit := ev
		r.Shifts = append(r.Shifts, model.Shift{Entry: entry, Exit: &exit})
		delete(pending, ev.Username)
	}
}

// ForUser はユーザーのシフトのみを返す。
func ForUser(shifts []model.Shift, username string) []model.Shift {
	var out []model.Shift
	for _, s := range shifts {
		if s.Username() == username {
			out = append(out, s)
		}
	}
	return out
}
