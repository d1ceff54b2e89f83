package model

import "time"

// AnomalyKind は既存データの不整合の種類を表す。
type AnomalyKind string

const (
	// AnomalyOrphanOut は対応する出勤の無い退勤打刻。
	AnomalyOrphanOut AnomalyKind = "orphan_out"
	// AnomalySupersededIn は退勤を挟まずに後続の出勤で上書きされた出勤打刻。
	AnomalySupersededIn AnomalyKind = "superseded_in"
	// AnomalyPartialEdit はシフト修正の片側だけが反映され、ロールバックにも失敗した状態。
	AnomalyPartialEdit AnomalyKind = "partial_edit"
	// AnomalyPartialDelete はシフト削除の片側だけが反映された状態。
	AnomalyPartialDelete AnomalyKind = "partial_delete"
	// AnomalyLongOpenShift は上限時間を超えて開いたままのシフト。
	AnomalyLongOpenShift AnomalyKind = "long_open_shift"
)

// Anomaly は検出された不整合の報告。
// 拒否された操作ではなく既存データのずれを表すため、エラーとしては扱わず報告する。
type Anomaly struct {
	Kind     AnomalyKind
	Username string
	EventID  string
	At       time.Time
	Message  string
}

// AuditAction は監査ログに記録する管理操作の種類。
type AuditAction string

const (
	AuditShiftEdit     AuditAction = "shift_edit"
	AuditShiftDelete   AuditAction = "shift_delete"
	AuditRecordUpdate  AuditAction = "record_update"
	AuditRecordDelete  AuditAction = "record_delete"
	AuditAnomalyReport AuditAction = "anomaly"
)

// AuditEntry は管理者による修正操作または不整合の記録。
type AuditEntry struct {
	ID        string
	Actor     string
	Action    AuditAction
	TargetID  string
	Username  string
	Reason    string
	Detail    map[string]string
	CreatedAt time.Time
}
