// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの権限ロールを表す。
type Role string

const (
	// RoleAdmin は全ユーザーの記録を参照・修正できる管理者ロール。
	RoleAdmin Role = "admin"
	// RoleUser は自分の記録のみ参照・打刻できる一般ロール。
	RoleUser Role = "user"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User は打刻を行うサービス利用ユーザーを表す。
// usernameが主キーであり、打刻イベントの所有者を識別する。
type User struct {
	Username     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// Principal は認証済みリクエストの主体（識別子とロール）を表す。
// コアの全操作に明示的に渡され、グローバル状態やコンテキストから暗黙に参照しない。
type Principal struct {
	Username string
	Role     Role
}

// IsAdmin は管理者ロールかどうかを返す。
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanAccess は指定ユーザーの記録にアクセスできるかを返す。
// 本人または管理者のみアクセスできる。
func (p Principal) CanAccess(username string) bool {
	return p.IsAdmin() || p.Username == username
}
