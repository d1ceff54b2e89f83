// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/timeclock/internal/model"
)

// ErrNotFound は指定IDのレコードが存在しない場合に返される。
var ErrNotFound = errors.New("record not found")

// ErrConflict は比較付き追記で、ユーザーの最新打刻が想定と異なる場合に返される。
var ErrConflict = errors.New("latest record changed concurrently")

// ErrDuplicate は一意制約に違反した場合に返される。
var ErrDuplicate = errors.New("duplicate key")

// EventStore は打刻イベントの永続化インターフェース。
// 一覧系の操作はすべて時系列順（同時刻では in が先）で返す。
type EventStore interface {
	// ListByUser は指定ユーザーの全打刻を返す。
	ListByUser(ctx context.Context, username string) ([]model.StampEvent, error)

	// ListAll は全ユーザーの全打刻を返す。
	ListAll(ctx context.Context) ([]model.StampEvent, error)

	// ListByUserAndMonth は表示用タイムゾーンで指定年月に含まれる指定ユーザーの打刻を返す。
	ListByUserAndMonth(ctx context.Context, username string, month, year int, loc *time.Location) ([]model.StampEvent, error)

	// ListByMonth は表示用タイムゾーンで指定年月に含まれる全ユーザーの打刻を返す。
	ListByMonth(ctx context.Context, month, year int, loc *time.Location) ([]model.StampEvent, error)

	// FindByID は指定IDの打刻を返す。見つからない場合はErrNotFoundを返す。
	FindByID(ctx context.Context, id string) (*model.StampEvent, error)

	// LatestByUser は指定ユーザーの時系列上最新の打刻を返す。打刻が無い場合はnilを返す。
	LatestByUser(ctx context.Context, username string) (*model.StampEvent, error)

	// Append は打刻を追記する。
	// prevID はユーザーの最新打刻として呼び出し側が検証したID（打刻が無ければ空文字）。
	// 追記時点の最新打刻がprevIDと異なる場合はErrConflictを返し、何も書き込まない。
	Append(ctx context.Context, event *model.StampEvent, prevID string) error

	// UpdateByID は指定IDの打刻を部分更新し、更新後の打刻を返す。
	// 見つからない場合はErrNotFoundを返す。
	UpdateByID(ctx context.Context, id string, patch model.StampPatch) (*model.StampEvent, error)

	// DeleteByID は指定IDの打刻を削除する。見つからない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error
}

// PairWriter はシフトを構成する2件の打刻を同一トランザクションで書き換えられるストアが実装する。
// 実装しないストアではサービス層が補償処理（1件目の巻き戻し）を行う。
type PairWriter interface {
	// UpdatePair は出勤・退勤の時刻を同一トランザクションで更新する。
	UpdatePair(ctx context.Context, entryID string, entryAt time.Time, exitID string, exitAt time.Time) error

	// DeletePair は指定IDの打刻を同一トランザクションで削除する。
	DeletePair(ctx context.Context, entryID, exitID string) error
}

// UserRepository はユーザー（認証情報）の永続化インターフェース。
type UserRepository interface {
	// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成する。ユーザー名が重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error
}

// AuditRepository は管理操作と不整合の監査ログの永続化インターフェース。
type AuditRepository interface {
	// Create は監査ログを1件記録する。
	Create(ctx context.Context, entry *model.AuditEntry) error

	// ListRecent は新しい順に最大limit件の監査ログを返す。
	ListRecent(ctx context.Context, limit int) ([]model.AuditEntry, error)
}

// TokenRevocationRepository はログアウト済みトークンの失効リストの永続化インターフェース。
type TokenRevocationRepository interface {
	// Revoke はトークンIDを有効期限まで失効させる。
	Revoke(ctx context.Context, tokenID, username string, expiresAt time.Time) error

	// IsRevoked はトークンIDが失効済みかどうかを返す。
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}
