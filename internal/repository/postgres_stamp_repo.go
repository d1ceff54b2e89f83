package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/shift"
)

// stampOrder は打刻の時系列順を表すORDER BY句。同時刻では in を先にする。
const stampOrder = `date_time ASC, CASE type WHEN 'in' THEN 0 ELSE 1 END ASC, id ASC`

// stampLatestOrder は最新打刻を先頭にするORDER BY句。
// 同時刻に out と in がある場合は、退勤直後に出勤したとみなして in を最新とする。
const stampLatestOrder = `date_time DESC, CASE type WHEN 'in' THEN 0 ELSE 1 END ASC, id DESC`

// PostgresStampRepo はPostgreSQLを使用した打刻イベントストア。
type PostgresStampRepo struct {
	db *sql.DB
}

// NewPostgresStampRepo はPostgresStampRepoを生成する。
func NewPostgresStampRepo(db *sql.DB) *PostgresStampRepo {
	return &PostgresStampRepo{db: db}
}

// ListByUser は指定ユーザーの全打刻を時系列順に返す。
func (r *PostgresStampRepo) ListByUser(ctx context.Context, username string) ([]model.StampEvent, error) {
	return r.query(ctx,
		`SELECT id, username, type, date_time FROM stamp_events
		 WHERE username = $1 ORDER BY `+stampOrder,
		username,
	)
}

// ListAll は全ユーザーの全打刻を時系列順に返す。
func (r *PostgresStampRepo) ListAll(ctx context.Context) ([]model.StampEvent, error) {
	return r.query(ctx,
		`SELECT id, username, type, date_time FROM stamp_events ORDER BY ` + stampOrder,
	)
}

// ListByUserAndMonth は表示用タイムゾーンで指定年月に含まれる指定ユーザーの打刻を返す。
func (r *PostgresStampRepo) ListByUserAndMonth(ctx context.Context, username string, month, year int, loc *time.Location) ([]model.StampEvent, error) {
	start, end := shift.MonthBounds(month, year, loc)
	return r.query(ctx,
		`SELECT id, username, type, date_time FROM stamp_events
		 WHERE username = $1 AND date_time >= $2 AND date_time < $3
		 ORDER BY `+stampOrder,
		username, start, end,
	)
}

// ListByMonth は表示用タイムゾーンで指定年月に含まれる全ユーザーの打刻を返す。
func (r *PostgresStampRepo) ListByMonth(ctx context.Context, month, year int, loc *time.Location) ([]model.StampEvent, error) {
	start, end := shift.MonthBounds(month, year, loc)
	return r.query(ctx,
		`SELECT id, username, type, date_time FROM stamp_events
		 WHERE date_time >= $1 AND date_time < $2
		 ORDER BY `+stampOrder,
		start, end,
	)
}

// FindByID は指定IDの打刻を返す。見つからない場合はErrNotFoundを返す。
func (r *PostgresStampRepo) FindByID(ctx context.Context, id string) (*model.StampEvent, error) {
	ev, err := scanStamp(r.db.QueryRowContext(ctx,
		`SELECT id, username, type, date_time FROM stamp_events WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find stamp event: %w", err)
	}
	return ev, nil
}

// LatestByUser は指定ユーザーの最新の打刻を返す。打刻が無い場合はnilを返す。
func (r *PostgresStampRepo) LatestByUser(ctx context.Context, username string) (*model.StampEvent, error) {
	ev, err := scanStamp(r.db.QueryRowContext(ctx,
		`SELECT id, username, type, date_time FROM stamp_events
		 WHERE username = $1 ORDER BY `+stampLatestOrder+` LIMIT 1`,
		username,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest stamp event: %w", err)
	}
	return ev, nil
}

// Append は打刻を比較付きで追記する。
// ユーザー単位のアドバイザリロックを取得した上で最新打刻のIDを再確認するため、
// 複数インスタンスから同時に打刻されても交互順序が崩れない。
func (r *PostgresStampRepo) Append(ctx context.Context, event *model.StampEvent, prevID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, lockUserQuery, event.Username); err != nil {
		return fmt.Errorf("failed to acquire stamp lock: %w", err)
	}

	var latestID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM stamp_events WHERE username = $1 ORDER BY `+stampLatestOrder+` LIMIT 1`,
		event.Username,
	).Scan(&latestID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read latest stamp event: %w", err)
	}
	if latestID != prevID {
		return ErrConflict
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO stamp_events (id, username, type, date_time) VALUES ($1, $2, $3, $4)`,
		event.ID, event.Username, string(event.Type), event.DateTime.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert stamp event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateByID は指定IDの打刻時刻を更新する。
func (r *PostgresStampRepo) UpdateByID(ctx context.Context, id string, patch model.StampPatch) (*model.StampEvent, error) {
	if patch.DateTime == nil {
		return r.FindByID(ctx, id)
	}

	ev, err := scanStamp(r.db.QueryRowContext(ctx,
		`UPDATE stamp_events SET date_time = $2, updated_at = now() WHERE id = $1
		 RETURNING id, username, type, date_time`,
		id, patch.DateTime.UTC(),
	))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update stamp event: %w", err)
	}
	return ev, nil
}

// DeleteByID は指定IDの打刻を削除する。
func (r *PostgresStampRepo) DeleteByID(ctx context.Context, id string) error {
	return deleteStamp(ctx, r.db, id)
}

// UpdatePair は出勤・退勤の時刻を同一トランザクションで更新する。
// Appendと同じユーザー単位のアドバイザリロックを取得し、他インスタンスの打刻と直列化する。
func (r *PostgresStampRepo) UpdatePair(ctx context.Context, entryID string, entryAt time.Time, exitID string, exitAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockOwner(ctx, tx, entryID); err != nil {
		return err
	}

	for _, u := range []struct {
		id string
		at time.Time
	}{{entryID, entryAt}, {exitID, exitAt}} {
		result, err := tx.ExecContext(ctx,
			`UPDATE stamp_events SET date_time = $2, updated_at = now() WHERE id = $1`,
			u.id, u.at.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to update stamp event %s: %w", u.id, err)
		}
		if err := requireAffected(result); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeletePair は2件の打刻を同一トランザクションで削除する。ロックはUpdatePairと同じ。
func (r *PostgresStampRepo) DeletePair(ctx context.Context, entryID, exitID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockOwner(ctx, tx, entryID); err != nil {
		return err
	}

	for _, id := range []string{entryID, exitID} {
		if err := deleteStamp(ctx, tx, id); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// lockUserQuery はユーザー単位のアドバイザリロックをトランザクション終了まで取得する。
const lockUserQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`

// lockOwner は打刻の持ち主のアドバイザリロックを取得する。打刻が無ければErrNotFoundを返す。
func lockOwner(ctx context.Context, tx *sql.Tx, id string) error {
	var username string
	err := tx.QueryRowContext(ctx, `SELECT username FROM stamp_events WHERE id = $1`, id).Scan(&username)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to find stamp owner: %w", err)
	}
	if _, err := tx.ExecContext(ctx, lockUserQuery, username); err != nil {
		return fmt.Errorf("failed to acquire stamp lock: %w", err)
	}
	return nil
}

// execer は *sql.DB と *sql.Tx の共通部分。
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func deleteStamp(ctx context.Context, db execer, id string) error {
	result, err := db.ExecContext(ctx, `DELETE FROM stamp_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete stamp event: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresStampRepo) query(ctx context.Context, query string, args ...any) ([]model.StampEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stamp events: %w", err)
	}
	defer rows.Close()

	var events []model.StampEvent
	for rows.Next() {
		ev, err := scanStamp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stamp event: %w", err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stamp events: %w", err)
	}
	return events, nil
}

// rowScanner は *sql.Row と *sql.Rows の共通部分。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanStamp(row rowScanner) (*model.StampEvent, error) {
	var (
		ev  model.StampEvent
		typ string
	)
	if err := row.Scan(&ev.ID, &ev.Username, &typ, &ev.DateTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	ev.Type = model.StampType(typ)
	ev.DateTime = ev.DateTime.UTC()
	return &ev, nil
}

// compile-time interface check
var (
	_ EventStore = (*PostgresStampRepo)(nil)
	_ PairWriter = (*PostgresStampRepo)(nil)
)
