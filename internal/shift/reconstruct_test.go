package shift

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/hitoshi/timeclock/internal/model"
)

// at は2025-03-10のUTC時刻を生成するテストヘルパー。
func at(hhmm string) time.Time {
	t, err := time.Parse("2006-01-02T15:04", "2025-03-10T"+hhmm)
	if err != nil {
		panic(err)
	}
	return t
}

func ev(id, user string, typ model.StampType, ts time.Time) model.StampEvent {
	return model.StampEvent{ID: id, Username: user, Type: typ, DateTime: ts}
}

func TestReconstruct_SingleShift_EightHours(t *testing.T) {
	events := []model.StampEvent{
		ev("e1", "alice", model.StampIn, at("09:00")),
		ev("e2", "alice", model.StampOut, at("17:00")),
	}

	result := Reconstruct(events)

	closed := result.Closed()
	if len(closed) != 1 {
		t.Fatalf("closed shifts = %d, want 1", len(closed))
	}
	d, ok := closed[0].Duration()
	if !ok {
		t.Fatal("expected duration to be defined")
	}
	if got := FormatDuration(d); got != "08:00:00" {
		t.Errorf("duration = %q, want %q", got, "08:00:00")
	}
	if len(result.Open()) != 0 {
		t.Errorf("open shifts = %d, want 0", len(result.Open()))
	}
	if len(result.Anomalies) != 0 {
		t.Errorf("anomalies = %v, want none", result.Anomalies)
	}
}

func TestReconstruct_OnlyIn_IsActiveShift(t *testing.T) {
	events := []model.StampEvent{
		ev("e1", "alice", model.StampIn, at("09:00")),
	}

	result := Reconstruct(events)

	if len(result.Closed()) != 0 {
		t.Errorf("closed shifts = %d, want 0", len(result.Closed()))
	}
	open := result.Open()
	if len(open) != 1 {
		t.Fatalf("open shifts = %d, want 1", len(open))
	}
	if !open[0].Entry.DateTime.Equal(at("09:00")) {
		t.Errorf("open since = %v, want %v", open[0].Entry.DateTime, at("09:00"))
	}
	if _, ok := open[0].Duration(); ok {
		t.Error("open shift must not have a duration")
	}
}

func TestReconstruct_UnsortedInput_PairsChronologically(t *testing.T) {
	events := []model.StampEvent{
		ev("e4", "alice", model.StampOut, at("17:00")),
		ev("e1", "alice", model.StampIn, at("08:00")),
		ev("e3", "alice", model.StampIn, at("13:00")),
		ev("e2", "alice", model.StampOut, at("12:00")),
	}

	closed := Reconstruct(events).Closed()

	if len(closed) != 2 {
		t.Fatalf("closed shifts = %d, want 2", len(closed))
	}
	if closed[0].Entry.ID != "e1" || closed[0].Exit.ID != "e2" {
		t.Errorf("first shift = %s-%s, want e1-e2", closed[0].Entry.ID, closed[0].Exit.ID)
	}
	if closed[1].Entry.ID != "e3" || closed[1].Exit.ID != "e4" {
		t.Errorf("second shift = %s-%s, want e3-e4", closed[1].Entry.ID, closed[1].Exit.ID)
	}
}

// 勤務中でなければ同時刻の in を out より先に処理する
func TestReconstruct_TieBreak_InBeforeOutWhenIdle(t *testing.T) {
	events := []model.StampEvent{
		ev("e2", "alice", model.StampOut, at("12:00")),
		ev("e1", "alice", model.StampIn, at("12:00")),
	}

	result := Reconstruct(events)

	closed := result.Closed()
	if len(closed) != 1 {
		t.Fatalf("closed shifts = %d, want 1", len(closed))
	}
	if closed[0].Entry.ID != "e1" || closed[0].Exit.ID != "e2" {
		t.Errorf("shift = %s-%s, want e1-e2", closed[0].Entry.ID, closed[0].Exit.ID)
	}
	if len(result.Anomalies) != 0 {
		t.Errorf("anomalies = %v, want none", result.Anomalies)
	}
}

// 勤務中なら同時刻の out で前のシフトを閉じてから次の in を処理する
func TestReconstruct_AbuttingShifts_CloseBeforeOpen(t *testing.T) {
	events := []model.StampEvent{
		ev("e1", "alice", model.StampIn, at("08:00")),
		ev("e3", "alice", model.StampIn, at("12:00")),
		ev("e2", "alice", model.StampOut, at("12:00")),
		ev("e4", "alice", model.StampOut, at("16:00")),
	}

	result := Reconstruct(events)

	closed := result.Closed()
	if len(closed) != 2 {
		t.Fatalf("closed shifts = %d, want 2", len(closed))
	}
	want := [][2]string{{"e1", "e2"}, {"e3", "e4"}}
	for i, w := range want {
		if closed[i].Entry.ID != w[0] || closed[i].Exit.ID != w[1] {
			t.Errorf("shift[%d] = %s-%s, want %s-%s", i, closed[i].Entry.ID, closed[i].Exit.ID, w[0], w[1])
		}
	}
	if len(result.Anomalies) != 0 {
		t.Errorf("anomalies = %v, want none", result.Anomalies)
	}
}

func TestReconstruct_AbuttingShifts_PerUserState(t *testing.T) {
	// aliceは勤務中、bobは勤務外で同時刻に in と out が並ぶ
	events := []model.StampEvent{
		ev("a1", "alice", model.StampIn, at("08:00")),
		ev("a3", "alice", model.StampIn, at("12:00")),
		ev("b2", "bob", model.StampOut, at("12:00")),
		ev("a2", "alice", model.StampOut, at("12:00")),
		ev("b1", "bob", model.StampIn, at("12:00")),
	}

	result := Reconstruct(events)

	if len(result.Anomalies) != 0 {
		t.Errorf("anomalies = %v, want none", result.Anomalies)
	}
	if s, ok := result.Find("a1"); !ok || s.Exit == nil || s.Exit.ID != "a2" {
		t.Errorf("alice first shift = %+v, want a1-a2", s)
	}
	if s, ok := result.Find("a3"); !ok || !s.IsOpen() {
		t.Errorf("alice second shift = %+v, want open", s)
	}
	if s, ok := result.Find("b1"); !ok || s.Exit == nil || s.Exit.ID != "b2" {
		t.Errorf("bob shift = %+v, want b1-b2", s)
	}
}

func TestSequence_AbuttingOpenShiftIsLatest(t *testing.T) {
	events := []model.StampEvent{
		ev("e1", "alice", model.StampIn, at("08:00")),
		ev("e3", "alice", model.StampIn, at("12:00")),
		ev("e2", "alice", model.StampOut, at("12:00")),
	}

	var ids []string
	for _, e := range Sequence(events) {
		ids = append(ids, e.ID)
	}
	if !reflect.DeepEqual(ids, []string{"e1", "e2", "e3"}) {
		t.Errorf("sequence = %v, want [e1 e2 e3]", ids)
	}

	latest := LatestOf(events, "alice")
	if latest == nil || latest.ID != "e3" {
		t.Errorf("latest = %+v, want e3", latest)
	}
	active := CurrentlyActive(events)
	if len(active) != 1 || active[0].EntryID != "e3" {
		t.Errorf("active = %+v, want alice since e3", active)
	}
}

func TestReconstruct_DuplicateIn_SupersedesPermissively(t *testing.T) {
	events := []model.StampEvent{
		ev("e1", "alice", model.StampIn, at("08:00")),
		ev("e2", "alice", model.StampIn, at("09:00")),
		ev("e3", "alice", model.StampOut, at("17:00")),
	}

	result := Reconstruct(events)

	closed := result.Closed()
	if len(closed) != 1 {
		t.Fatalf("closed shifts = %d, want 1", len(closed))
	}
	if closed[0].Entry.ID != "e2" {
		t.Errorf("entry = %s, want e2 (most recent in)", closed[0].Entry.ID)
	}
	if len(result.Anomalies) != 1 || result.Anomalies[0].Kind != model.AnomalySupersededIn {
		t.Fatalf("anomalies = %v, want one superseded_in", result.Anomalies)
	}
	if result.Anomalies[0].EventID != "e1" {
		t.Errorf("anomaly event = %s, want e1", result.Anomalies[0].EventID)
	}
}

func TestReconstruct_OrphanOut_ReportedNotPaired(t *testing.T) {
	events := []model.StampEvent{
		ev("e1", "alice", model.StampOut, at("07:00")),
		ev("e2", "alice", model.StampIn, at("09:00")),
		ev("e3", "alice", model.StampOut, at("17:00")),
	}

	result := Reconstruct(events)

	if len(result.Closed()) != 1 {
		t.Errorf("closed shifts = %d, want 1", len(result.Closed()))
	}
	if len(result.Anomalies) != 1 {
		t.Fatalf("anomalies = %d, want 1", len(result.Anomalies))
	}
	a := result.Anomalies[0]
	if a.Kind != model.AnomalyOrphanOut || a.EventID != "e1" {
		t.Errorf("anomaly = %+v, want orphan_out for e1", a)
	}
}

func TestReconstruct_MultipleUsers_IndependentSlots(t *testing.T) {
	events := []model.StampEvent{
		ev("a1", "alice", model.StampIn, at("09:00")),
		ev("b1", "bob", model.StampIn, at("09:30")),
		ev("a2", "alice", model.StampOut, at("12:00")),
		ev("b2", "bob", model.StampOut, at("18:00")),
		ev("a3", "alice", model.StampIn, at("13:00")),
	}

	result := Reconstruct(events)

	if len(result.Closed()) != 2 {
		t.Errorf("closed shifts = %d, want 2", len(result.Closed()))
	}
	open := result.Open()
	if len(open) != 1 || open[0].Username() != "alice" {
		t.Fatalf("open = %v, want one open shift for alice", open)
	}
	if len(ForUser(result.Shifts, "bob")) != 1 {
		t.Errorf("bob shifts = %d, want 1", len(ForUser(result.Shifts, "bob")))
	}
	// 出勤時刻の昇順: a1, b1, a3
	ids := []string{result.Shifts[0].ID(), result.Shifts[1].ID(), result.Shifts[2].ID()}
	if !reflect.DeepEqual(ids, []string{"a1", "b1", "a3"}) {
		t.Errorf("shift order = %v, want [a1 b1 a3]", ids)
	}
}

// 交互に並んだ打刻列では、シフト数が out の数と一致し、区間は重ならず非減少である
func TestReconstruct_AlternatingSequence_Properties(t *testing.T) {
	for _, n := range []int{0, 1, 5, 30} {
		t.Run(fmt.Sprintf("pairs_%d", n), func(t *testing.T) {
			var events []model.StampEvent
			base := at("00:00")
			cursor := base
			outs := 0
			for i := 0; i < n; i++ {
				cursor = cursor.Add(time.Duration(i%3+1) * time.Hour)
				events = append(events, ev(fmt.Sprintf("in-%d", i), "alice", model.StampIn, cursor))
				cursor = cursor.Add(time.Duration(i%4+1) * 30 * time.Minute)
				events = append(events, ev(fmt.Sprintf("out-%d", i), "alice", model.StampOut, cursor))
				outs++
			}

			closed := Reconstruct(events).Closed()

			if len(closed) != outs {
				t.Fatalf("closed shifts = %d, want %d", len(closed), outs)
			}
			for i, s := range closed {
				d, _ := s.Duration()
				if d < 0 {
					t.Errorf("shift %d has negative duration %v", i, d)
				}
				if i > 0 && s.Entry.DateTime.Before(closed[i-1].Exit.DateTime) {
					t.Errorf("shift %d overlaps previous shift", i)
				}
			}
		})
	}
}

func TestReconstruct_Idempotent(t *testing.T) {
	events := []model.StampEvent{
		ev("e3", "bob", model.StampOut, at("16:00")),
		ev("e1", "alice", model.StampIn, at("08:00")),
		ev("e2", "bob", model.StampIn, at("08:00")),
		ev("e4", "alice", model.StampIn, at("10:00")),
		ev("e5", "carol", model.StampOut, at("11:00")),
	}
	snapshot := append([]model.StampEvent(nil), events...)

	first := Reconstruct(events)
	second := Reconstruct(events)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Reconstruct is not deterministic:\nfirst  = %+v\nsecond = %+v", first, second)
	}
	if !reflect.DeepEqual(events, snapshot) {
		t.Error("Reconstruct must not mutate its input")
	}
}

func TestResult_FindAndContaining(t *testing.T) {
	result := Reconstruct([]model.StampEvent{
		ev("e1", "alice", model.StampIn, at("09:00")),
		ev("e2", "alice", model.StampOut, at("17:00")),
	})

	if _, ok := result.Find("e1"); !ok {
		t.Error("Find(e1) should find the shift")
	}
	if _, ok := result.Find("e2"); ok {
		t.Error("Find(e2) should not match an exit id")
	}
	s, ok := result.Containing("e2")
	if !ok || s.ID() != "e1" {
		t.Errorf("Containing(e2) = %v, %v; want shift e1", s.ID(), ok)
	}
}
