package repository

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/hitoshi/timeclock/internal/model"
)

func TestMemoryStampRepo_ListsInChronologicalOrder(t *testing.T) {
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	repo := NewMemoryStampRepo(
		model.StampEvent{ID: "2", Username: "alice", Type: model.StampOut, DateTime: base},
		model.StampEvent{ID: "1", Username: "alice", Type: model.StampIn, DateTime: base},
		model.StampEvent{ID: "0", Username: "bob", Type: model.StampIn, DateTime: base.Add(-time.Hour)},
	)

	all, err := repo.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	want := []string{"0", "1", "2"}
	for i, id := range want {
		if all[i].ID != id {
			t.Errorf("all[%d].ID = %q, want %q", i, all[i].ID, id)
		}
	}

	mine, _ := repo.ListByUser(context.Background(), "alice")
	if len(mine) != 2 {
		t.Errorf("len(ListByUser) = %d, want 2", len(mine))
	}
}

func TestMemoryStampRepo_AppendComparesLatest(t *testing.T) {
	repo := NewMemoryStampRepo()
	ctx := context.Background()
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	if err := repo.Append(ctx, &model.StampEvent{ID: "1", Username: "alice", Type: model.StampIn, DateTime: base}, ""); err != nil {
		t.Fatalf("Append: %v", err)
	}
	err := repo.Append(ctx, &model.StampEvent{ID: "2", Username: "alice", Type: model.StampOut, DateTime: base.Add(time.Hour)}, "")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	if err := repo.Append(ctx, &model.StampEvent{ID: "2", Username: "alice", Type: model.StampOut, DateTime: base.Add(time.Hour)}, "1"); err != nil {
		t.Errorf("Append with correct prevID: %v", err)
	}

	latest, _ := repo.LatestByUser(ctx, "alice")
	if latest == nil || latest.ID != "2" {
		t.Errorf("latest = %+v, want 2", latest)
	}
}

func TestMemoryStampRepo_MonthScopedByDisplayZone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	repo := NewMemoryStampRepo(
		model.StampEvent{ID: "m1", Username: "alice", Type: model.StampIn, DateTime: time.Date(2025, 3, 31, 20, 0, 0, 0, time.UTC)},
		model.StampEvent{ID: "m2", Username: "alice", Type: model.StampOut, DateTime: time.Date(2025, 3, 31, 23, 30, 0, 0, time.UTC)},
	)

	march, _ := repo.ListByUserAndMonth(context.Background(), "alice", 3, 2025, berlin)
	if len(march) != 1 || march[0].ID != "m1" {
		t.Errorf("march = %+v, want only m1", march)
	}
	april, _ := repo.ListByMonth(context.Background(), 4, 2025, berlin)
	if len(april) != 1 || april[0].ID != "m2" {
		t.Errorf("april = %+v, want only m2", april)
	}
}

func TestMemoryStampRepo_UpdateAndDelete(t *testing.T) {
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	repo := NewMemoryStampRepo(model.StampEvent{ID: "1", Username: "alice", Type: model.StampIn, DateTime: base})
	ctx := context.Background()

	moved := base.Add(time.Hour)
	got, err := repo.UpdateByID(ctx, "1", model.StampPatch{DateTime: &moved})
	if err != nil {
		t.Fatalf("UpdateByID: %v", err)
	}
	if !got.DateTime.Equal(moved) {
		t.Errorf("DateTime = %v, want %v", got.DateTime, moved)
	}
	if _, err := repo.UpdateByID(ctx, "x", model.StampPatch{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateByID(x) err = %v, want ErrNotFound", err)
	}
	if err := repo.DeleteByID(ctx, "1"); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if err := repo.DeleteByID(ctx, "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteByID err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStampRepo_IsNotPairWriter(t *testing.T) {
	var store EventStore = NewMemoryStampRepo()
	if _, ok := store.(PairWriter); ok {
		t.Error("MemoryStampRepo should not implement PairWriter")
	}
}

func TestMemoryUserRepo_Duplicate(t *testing.T) {
	repo := NewMemoryUserRepo()
	ctx := context.Background()
	u := &model.User{Username: "alice", Role: model.RoleUser}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, u); !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
	got, _ := repo.FindByUsername(ctx, "alice")
	if got == nil || got.Username != "alice" {
		t.Errorf("FindByUsername = %+v", got)
	}
	missing, _ := repo.FindByUsername(ctx, "bob")
	if missing != nil {
		t.Errorf("expected nil for bob, got %+v", missing)
	}
}

func TestMemoryAuditRepo_ListRecentNewestFirst(t *testing.T) {
	repo := NewMemoryAuditRepo()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := repo.Create(ctx, &model.AuditEntry{ID: id}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	got, _ := repo.ListRecent(ctx, 2)
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("ListRecent = %+v, want [c b]", got)
	}
}

func TestMemoryRevocationRepo_Expiry(t *testing.T) {
	repo := NewMemoryRevocationRepo()
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	_ = repo.Revoke(ctx, "live", "alice", now.Add(time.Hour))
	_ = repo.Revoke(ctx, "dead", "alice", now.Add(-time.Hour))

	if ok, _ := repo.IsRevoked(ctx, "live"); !ok {
		t.Error("live token should be revoked")
	}
	if ok, _ := repo.IsRevoked(ctx, "dead"); ok {
		t.Error("expired revocation should not count")
	}
}

func TestMemoryStampRepo_LatestByUser_AbuttingIn(t *testing.T) {
	base := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	repo := NewMemoryStampRepo(
		model.StampEvent{ID: "a1", Username: "alice", Type: model.StampIn, DateTime: base},
		model.StampEvent{ID: "a3", Username: "alice", Type: model.StampIn, DateTime: base.Add(4 * time.Hour)},
		model.StampEvent{ID: "a2", Username: "alice", Type: model.StampOut, DateTime: base.Add(4 * time.Hour)},
	)

	latest, err := repo.LatestByUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("LatestByUser: %v", err)
	}
	if latest == nil || latest.ID != "a3" {
		t.Errorf("latest = %+v, want a3", latest)
	}

	// 比較付き追記も同じ最新打刻を基準にする
	out := &model.StampEvent{ID: "a4", Username: "alice", Type: model.StampOut, DateTime: base.Add(8 * time.Hour)}
	if err := repo.Append(context.Background(), out, "a3"); err != nil {
		t.Errorf("Append after abutting in: %v", err)
	}
}
