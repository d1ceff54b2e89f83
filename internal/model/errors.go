// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, validation, record, system
	Action   string            // ユーザー向け対処方法
	Details  map[string]string // 対処に必要な補足情報（重複シフトの範囲など）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthFailed           = "AUTH_FAILED"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeInvalidToken         = "INVALID_TOKEN"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeDuplicateStamp       = "DUPLICATE_STAMP"
	ErrCodeOutOfOrderTimestamp  = "OUT_OF_ORDER_TIMESTAMP"
	ErrCodeInvalidRange         = "INVALID_RANGE"
	ErrCodeOverlap              = "OVERLAP"
	ErrCodeRecordNotFound       = "RECORD_NOT_FOUND"
	ErrCodeShiftNotFound        = "SHIFT_NOT_FOUND"
	ErrCodeShiftOpen            = "SHIFT_OPEN"
	ErrCodeStampConflict        = "STAMP_CONFLICT"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeUserExists           = "USER_EXISTS"
	ErrCodeInvalidMonth         = "INVALID_MONTH"
	ErrCodePartialWrite         = "PARTIAL_WRITE"
	ErrCodeSequenceViolation    = "SEQUENCE_VIOLATION"
	ErrCodeInvalidStampType     = "INVALID_STAMP_TYPE"
	ErrCodeAdminSignupForbidden = "ADMIN_SIGNUP_FORBIDDEN"
	ErrCodeFutureTimestamp      = "FUTURE_TIMESTAMP"
)

// timeLayout はエラー詳細に含める時刻の書式。
const timeLayout = time.RFC3339

// NewAuthFailedError は認証情報が不正な場合のエラーを生成する。
func NewAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewUnauthorizedError はトークンが無い場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidTokenError はトークンが不正または期限切れの場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "認証トークンが無効です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewForbiddenError は権限が不足している場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者に問い合わせてください。",
	}
}

// NewDuplicateStampError は同じ種別の打刻が連続した場合のエラーを生成する。
func NewDuplicateStampError(t StampType) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateStamp,
		Message:  fmt.Sprintf("already clocked %s", t),
		Category: "record",
		Action:   "現在の勤務状態を確認してから打刻してください。",
		Details:  map[string]string{"type": string(t)},
	}
}

// NewOutOfOrderTimestampError は打刻時刻が直前の打刻より後でない場合のエラーを生成する。
func NewOutOfOrderTimestampError(last, now time.Time) *APIError {
	return &APIError{
		Code:     ErrCodeOutOfOrderTimestamp,
		Message:  "打刻時刻が直前の打刻より前です。",
		Category: "record",
		Action:   "しばらく待ってから再度打刻してください。",
		Details: map[string]string{
			"last": last.UTC().Format(timeLayout),
			"now":  now.UTC().Format(timeLayout),
		},
	}
}

// NewInvalidRangeError は退勤時刻が出勤時刻より後でない場合のエラーを生成する。
func NewInvalidRangeError(entry, exit time.Time) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRange,
		Message:  "退勤時刻は出勤時刻より後でなければなりません。",
		Category: "validation",
		Action:   "出勤・退勤の時刻を確認してください。",
		Details: map[string]string{
			"entry": entry.UTC().Format(timeLayout),
			"exit":  exit.UTC().Format(timeLayout),
		},
	}
}

// NewFutureTimestampError は修正後の時刻が現在時刻より後の場合のエラーを生成する。
func NewFutureTimestampError(at, now time.Time) *APIError {
	return &APIError{
		Code:     ErrCodeFutureTimestamp,
		Message:  "未来の時刻は指定できません。",
		Category: "validation",
		Action:   "現在時刻以前の時刻を指定してください。",
		Details: map[string]string{
			"at":  at.UTC().Format(timeLayout),
			"now": now.UTC().Format(timeLayout),
		},
	}
}

// NewOverlapError は修正後のシフトが他のシフトと重なる場合のエラーを生成する。
// 重なった相手シフトの範囲を詳細に含める。exitがnilの場合は勤務中のシフト。
func NewOverlapError(other Shift) *APIError {
	details := map[string]string{
		"shift_id": other.ID(),
		"entry":    other.Entry.DateTime.UTC().Format(timeLayout),
	}
	bounds := other.Entry.DateTime.UTC().Format(timeLayout) + " - "
	if other.Exit != nil {
		details["exit"] = other.Exit.DateTime.UTC().Format(timeLayout)
		bounds += details["exit"]
	} else {
		bounds += "(勤務中)"
	}
	return &APIError{
		Code:     ErrCodeOverlap,
		Message:  fmt.Sprintf("他のシフトと重なっています: %s", bounds),
		Category: "validation",
		Action:   "重ならない時刻を指定してください。",
		Details:  details,
	}
}

// NewRecordNotFoundError は打刻レコードが見つからない場合のエラーを生成する。
func NewRecordNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeRecordNotFound,
		Message:  fmt.Sprintf("指定された打刻が見つかりません: %s", id),
		Category: "record",
		Action:   "打刻IDを確認してください。",
	}
}

// NewLatestNotFoundError はユーザーの打刻が1件も無い場合のエラーを生成する。
func NewLatestNotFoundError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeRecordNotFound,
		Message:  fmt.Sprintf("打刻がありません: %s", username),
		Category: "record",
		Action:   "出勤打刻を行ってください。",
	}
}

// NewShiftNotFoundError はシフトが見つからない場合のエラーを生成する。
func NewShiftNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeShiftNotFound,
		Message:  fmt.Sprintf("指定されたシフトが見つかりません: %s", id),
		Category: "record",
		Action:   "シフトIDには出勤打刻のIDを指定してください。",
	}
}

// NewShiftOpenError は勤務中のシフトを修正しようとした場合のエラーを生成する。
func NewShiftOpenError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeShiftOpen,
		Message:  fmt.Sprintf("勤務中のシフトは修正できません: %s", id),
		Category: "record",
		Action:   "退勤打刻の後に修正してください。",
	}
}

// NewStampConflictError は同一ユーザーの打刻が同時に行われた場合のエラーを生成する。
func NewStampConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeStampConflict,
		Message:  "同時に別の打刻が行われました。",
		Category: "record",
		Action:   "現在の勤務状態を確認してから打刻してください。",
	}
}

// NewInvalidRequestError はリクエストの形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidStampTypeError は打刻種別が in/out 以外の場合のエラーを生成する。
func NewInvalidStampTypeError(t string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidStampType,
		Message:  fmt.Sprintf("無効な打刻種別です: %s", t),
		Category: "validation",
		Action:   "打刻種別には in または out を指定してください。",
	}
}

// NewUserExistsError はユーザー名が既に登録されている場合のエラーを生成する。
func NewUserExistsError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUserExists,
		Message:  fmt.Sprintf("ユーザーは既に存在します: %s", username),
		Category: "auth",
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewAdminSignupForbiddenError は管理者ロールでの自己登録が無効な場合のエラーを生成する。
func NewAdminSignupForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeAdminSignupForbidden,
		Message:  "管理者ロールでの登録は許可されていません。",
		Category: "auth",
		Action:   "一般ユーザーとして登録し、管理者に権限付与を依頼してください。",
	}
}

// NewInvalidMonthError は月・年の指定が不正な場合のエラーを生成する。
func NewInvalidMonthError(month, year string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidMonth,
		Message:  fmt.Sprintf("無効な年月です: %s/%s", month, year),
		Category: "validation",
		Action:   "月には1から12、年には4桁の数値を指定してください。",
	}
}

// NewSequenceViolationError は修正後の打刻列が出勤・退勤の交互順序を満たさない場合のエラーを生成する。
func NewSequenceViolationError(eventID string, t StampType) *APIError {
	return &APIError{
		Code:     ErrCodeSequenceViolation,
		Message:  fmt.Sprintf("修正後の打刻順序が不正になります: %s が連続します", t),
		Category: "validation",
		Action:   "出勤と退勤が交互になる時刻を指定してください。",
		Details:  map[string]string{"event_id": eventID, "type": string(t)},
	}
}

// NewPartialWriteError はシフト単位の書き込みが片側だけ反映された場合のエラーを生成する。
// 不整合は監査ログにも記録される。
func NewPartialWriteError(a Anomaly) *APIError {
	return &APIError{
		Code:     ErrCodePartialWrite,
		Message:  fmt.Sprintf("シフトの更新が一部のみ反映されました: %s", a.Message),
		Category: "system",
		Action:   "不整合一覧を確認し、該当の打刻を手動で修正してください。",
		Details: map[string]string{
			"kind":     string(a.Kind),
			"event_id": a.EventID,
			"username": a.Username,
		},
	}
}
