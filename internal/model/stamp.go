package model

import "time"

// StampType は打刻の種別（出勤・退勤）を表す。
type StampType string

const (
	// StampIn は出勤打刻。
	StampIn StampType = "in"
	// StampOut は退勤打刻。
	StampOut StampType = "out"
)

// Valid は打刻種別が定義済みの値かどうかを返す。
func (t StampType) Valid() bool {
	return t == StampIn || t == StampOut
}

// StampEvent は1件の打刻イベントを表す。
// ID と Username は作成後に変更されない。DateTime はUTC・秒精度で保持し、
// 管理者による修正でのみ変更される。
type StampEvent struct {
	ID       string
	Username string
	Type     StampType
	DateTime time.Time
}

// StampPatch は打刻イベントの部分更新内容を表す。
// 変更可能なのはDateTimeのみ。
type StampPatch struct {
	DateTime *time.Time
}

// Shift は出勤イベントと退勤イベントの組から導出される勤務区間。
// 永続化されず、読み取りのたびにイベント列から再構築される。
// Exit が nil の場合は勤務中（オープンシフト）を表す。
type Shift struct {
	Entry StampEvent
	Exit  *StampEvent
}

// ID はシフトの識別子を返す。出勤イベントのIDをシフトIDとして扱う。
func (s Shift) ID() string {
	return s.Entry.ID
}

// Username はシフトの所有者を返す。
func (s Shift) Username() string {
	return s.Entry.Username
}

// IsOpen は退勤打刻がまだ無いシフトかどうかを返す。
func (s Shift) IsOpen() bool {
	return s.Exit == nil
}

// Duration は勤務時間を返す。オープンシフトの場合は0とfalseを返す。
func (s Shift) Duration() (time.Duration, bool) {
	if s.Exit == nil {
		return 0, false
	}
	return s.Exit.DateTime.Sub(s.Entry.DateTime), true
}

// Presence は現在勤務中のユーザーと出勤時刻を表す。
type Presence struct {
	Username string
	Since    time.Time
	EntryID  string
}
