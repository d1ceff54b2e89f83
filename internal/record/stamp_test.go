package record

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/repository"
)

func TestSubmitStamp_Sequence(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStampRepo())
	ctx := context.Background()

	f.clock.Set(at("09:00"))
	in, err := f.svc.SubmitStamp(ctx, alice, model.StampIn)
	if err != nil {
		t.Fatalf("SubmitStamp(in): %v", err)
	}
	if in.Username != "alice" || in.Type != model.StampIn || !in.DateTime.Equal(at("09:00")) {
		t.Errorf("stamp = %+v", in)
	}

	f.clock.Set(at("10:00"))
	_, err = f.svc.SubmitStamp(ctx, alice, model.StampIn)
	if got := errCode(t, err); got != model.ErrCodeDuplicateStamp {
		t.Errorf("second in code = %q, want %q", got, model.ErrCodeDuplicateStamp)
	}
	if msg := err.(*model.APIError).Message; msg != "already clocked in" {
		t.Errorf("message = %q", msg)
	}

	f.clock.Set(at("17:00"))
	if _, err := f.svc.SubmitStamp(ctx, alice, model.StampOut); err != nil {
		t.Fatalf("SubmitStamp(out): %v", err)
	}

	if n := len(f.events(t, "alice")); n != 2 {
		t.Errorf("stored events = %d, want 2", n)
	}
	if len(f.collector.stamps) != 2 {
		t.Errorf("recorded stamps = %v", f.collector.stamps)
	}
	if len(f.collector.rejected) != 1 || f.collector.rejected[0] != model.ErrCodeDuplicateStamp {
		t.Errorf("recorded rejections = %v", f.collector.rejected)
	}
}

func TestSubmitStamp_FirstStampMustBeIn(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStampRepo())

	_, err := f.svc.SubmitStamp(context.Background(), alice, model.StampOut)
	if got := errCode(t, err); got != model.ErrCodeDuplicateStamp {
		t.Errorf("code = %q, want %q", got, model.ErrCodeDuplicateStamp)
	}
	if msg := err.(*model.APIError).Message; msg != "already clocked out" {
		t.Errorf("message = %q", msg)
	}
}

func TestSubmitStamp_OutOfOrder(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStampRepo(ev("in1", "alice", model.StampIn, at("09:00"))))

	// 秒未満は切り捨てられるため、同じ秒の打刻は順序違反になる
	f.clock.Set(at("09:00").Add(500 * time.Millisecond))
	_, err := f.svc.SubmitStamp(context.Background(), alice, model.StampOut)
	if got := errCode(t, err); got != model.ErrCodeOutOfOrderTimestamp {
		t.Errorf("code = %q, want %q", got, model.ErrCodeOutOfOrderTimestamp)
	}
}

func TestSubmitStamp_InvalidType(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStampRepo())

	_, err := f.svc.SubmitStamp(context.Background(), alice, model.StampType("lunch"))
	if got := errCode(t, err); got != model.ErrCodeInvalidStampType {
		t.Errorf("code = %q, want %q", got, model.ErrCodeInvalidStampType)
	}
}

func TestSubmitStamp_ConcurrentSameUserOnlyOneSucceeds(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStampRepo())
	f.clock.Set(at("09:00"))

	const n = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, dups int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitStamp(context.Background(), alice, model.StampIn)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if apiErr, isAPI := err.(*model.APIError); isAPI && apiErr.Code == model.ErrCodeDuplicateStamp {
				dups++
			}
		}()
	}
	wg.Wait()

	if ok != 1 || dups != n-1 {
		t.Errorf("ok = %d, duplicates = %d; want 1 and %d", ok, dups, n-1)
	}
	if got := len(f.events(t, "alice")); got != 1 {
		t.Errorf("stored events = %d, want 1", got)
	}
}

func TestSubmitStamp_DifferentUsersInParallel(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStampRepo())
	f.clock.Set(at("09:00"))

	users := []model.Principal{alice, bob, {Username: "carol", Role: model.RoleUser}}
	var wg sync.WaitGroup
	errs := make([]error, len(users))
	for i, p := range users {
		wg.Add(1)
		go func(i int, p model.Principal) {
			defer wg.Done()
			_, errs[i] = f.svc.SubmitStamp(context.Background(), p, model.StampIn)
		}(i, p)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("%s: unexpected error %v", users[i].Username, err)
		}
	}
}

// conflictStore は最新打刻の読み取り後に他インスタンスが追記した状況を再現する。
type conflictStore struct {
	*repository.MemoryStampRepo
	appendFn func(ctx context.Context, event *model.StampEvent, prevID string) error
}

func (s *conflictStore) Append(ctx context.Context, event *model.StampEvent, prevID string) error {
	if s.appendFn != nil {
		return s.appendFn(ctx, event, prevID)
	}
	return s.MemoryStampRepo.Append(ctx, event, prevID)
}

func TestSubmitStamp_StoreConflict(t *testing.T) {
	var gotPrev string
	store := &conflictStore{
		MemoryStampRepo: repository.NewMemoryStampRepo(ev("in1", "alice", model.StampIn, at("09:00"))),
		appendFn: func(ctx context.Context, event *model.StampEvent, prevID string) error {
			gotPrev = prevID
			return repository.ErrConflict
		},
	}
	f := newFixture(t, store)
	f.clock.Set(at("17:00"))

	_, err := f.svc.SubmitStamp(context.Background(), alice, model.StampOut)
	if got := errCode(t, err); got != model.ErrCodeStampConflict {
		t.Errorf("code = %q, want %q", got, model.ErrCodeStampConflict)
	}
	if gotPrev != "in1" {
		t.Errorf("prevID = %q, want in1", gotPrev)
	}
}
