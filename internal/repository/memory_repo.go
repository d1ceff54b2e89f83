package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/shift"
)

// MemoryStampRepo はプロセス内メモリに打刻を保持するイベントストア。
// 開発・テスト用で、PairWriterは実装しない。
type MemoryStampRepo struct {
	mu     sync.RWMutex
	events []model.StampEvent
}

// NewMemoryStampRepo はMemoryStampRepoを生成する。
func NewMemoryStampRepo(seed ...model.StampEvent) *MemoryStampRepo {
	return &MemoryStampRepo{events: slices.Clone(seed)}
}

func (r *MemoryStampRepo) ListByUser(ctx context.Context, username string) ([]model.StampEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.filter(func(ev model.StampEvent) bool { return ev.Username == username }), nil
}

func (r *MemoryStampRepo) ListAll(ctx context.Context) ([]model.StampEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return shift.Sort(r.events), nil
}

func (r *MemoryStampRepo) ListByUserAndMonth(ctx context.Context, username string, month, year int, loc *time.Location) ([]model.StampEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return shift.Sort(shift.MonthScoped(r.events, username, month, year, loc)), nil
}

func (r *MemoryStampRepo) ListByMonth(ctx context.Context, month, year int, loc *time.Location) ([]model.StampEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return shift.Sort(shift.MonthScoped(r.events, "", month, year, loc)), nil
}

func (r *MemoryStampRepo) FindByID(ctx context.Context, id string) (*model.StampEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := r.index(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	ev := r.events[i]
	return &ev, nil
}

func (r *MemoryStampRepo) LatestByUser(ctx context.Context, username string) (*model.StampEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest(username), nil
}

// Append は最新打刻がprevIDと一致する場合のみ追記する。
func (r *MemoryStampRepo) Append(ctx context.Context, event *model.StampEvent, prevID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	latestID := ""
	if latest := r.latest(event.Username); latest != nil {
		latestID = latest.ID
	}
	if latestID != prevID {
		return ErrConflict
	}

	ev := *event
	ev.DateTime = ev.DateTime.UTC()
	r.events = append(r.events, ev)
	return nil
}

func (r *MemoryStampRepo) UpdateByID(ctx context.Context, id string, patch model.StampPatch) (*model.StampEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	if patch.DateTime != nil {
		r.events[i].DateTime = patch.DateTime.UTC()
	}
	ev := r.events[i]
	return &ev, nil
}

func (r *MemoryStampRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.index(id)
	if i < 0 {
		return ErrNotFound
	}
	r.events = slices.Delete(r.events, i, i+1)
	return nil
}

func (r *MemoryStampRepo) index(id string) int {
	return slices.IndexFunc(r.events, func(ev model.StampEvent) bool { return ev.ID == id })
}

func (r *MemoryStampRepo) latest(username string) *model.StampEvent {
	return shift.LatestOf(r.events, username)
}

func (r *MemoryStampRepo) filter(keep func(model.StampEvent) bool) []model.StampEvent {
	var out []model.StampEvent
	for _, ev := range r.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return shift.Sort(out)
}

// MemoryUserRepo はプロセス内メモリのユーザーリポジトリ。
type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[string]model.User
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[string]model.User)}
}

func (r *MemoryUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[username]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *MemoryUserRepo) Create(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.Username]; ok {
		return ErrDuplicate
	}
	r.users[user.Username] = *user
	return nil
}

// MemoryAuditRepo はプロセス内メモリの監査ログリポジトリ。
type MemoryAuditRepo struct {
	mu      sync.RWMutex
	entries []model.AuditEntry
}

// NewMemoryAuditRepo はMemoryAuditRepoを生成する。
func NewMemoryAuditRepo() *MemoryAuditRepo {
	return &MemoryAuditRepo{}
}

func (r *MemoryAuditRepo) Create(ctx context.Context, entry *model.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemoryAuditRepo) ListRecent(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.AuditEntry, 0, min(limit, len(r.entries)))
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.entries[i])
	}
	return out, nil
}

// MemoryRevocationRepo はプロセス内メモリのトークン失効リスト。
type MemoryRevocationRepo struct {
	mu      sync.RWMutex
	now     func() time.Time
	revoked map[string]time.Time
}

// NewMemoryRevocationRepo はMemoryRevocationRepoを生成する。
func NewMemoryRevocationRepo() *MemoryRevocationRepo {
	return &MemoryRevocationRepo{now: time.Now, revoked: make(map[string]time.Time)}
}

func (r *MemoryRevocationRepo) Revoke(ctx context.Context, tokenID, username string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, exp := range r.revoked {
		if !exp.After(r.now()) {
			delete(r.revoked, id)
		}
	}
	r.revoked[tokenID] = expiresAt
	return nil
}

func (r *MemoryRevocationRepo) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exp, ok := r.revoked[tokenID]
	return ok && exp.After(r.now()), nil
}

// compile-time interface check
var (
	_ EventStore                = (*MemoryStampRepo)(nil)
	_ UserRepository            = (*MemoryUserRepo)(nil)
	_ AuditRepository           = (*MemoryAuditRepo)(nil)
	_ TokenRevocationRepository = (*MemoryRevocationRepo)(nil)
)
