package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/repository"
	"github.com/hitoshi/timeclock/internal/shift"
)

// SubmitStamp は認証済みユーザー本人の打刻を受け付ける。
// 打刻時刻はサーバーの現在時刻（秒精度UTC）を使用する。
//
// 同一ユーザーの打刻はプロセス内のロックで直列化し、さらにストアの比較付き追記で
// 最新打刻が検証時から変わっていないことを確認する。他インスタンスとの競合に負けた場合は
// STAMP_CONFLICT を返し、自動での再試行は行わない。
func (s *Service) SubmitStamp(ctx context.Context, p model.Principal, t model.StampType) (*model.StampEvent, error) {
	if !t.Valid() {
		return nil, model.NewInvalidStampTypeError(string(t))
	}

	unlock := s.locks.Lock(p.Username)
	defer unlock()

	latest, err := s.store.LatestByUser(ctx, p.Username)
	if err != nil {
		return nil, fmt.Errorf("最新打刻の取得に失敗しました: %w", err)
	}

	now := s.clock()
	if err := shift.CheckStamp(latest, t, now); err != nil {
		s.rejectStamp(p.Username, t, err)
		return nil, err
	}

	prevID := ""
	if latest != nil {
		prevID = latest.ID
	}

	ev := &model.StampEvent{
		ID:       s.newID(),
		Username: p.Username,
		Type:     t,
		DateTime: now,
	}
	if err := s.store.Append(ctx, ev, prevID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			conflict := model.NewStampConflictError()
			s.rejectStamp(p.Username, t, conflict)
			return nil, conflict
		}
		return nil, fmt.Errorf("打刻の保存に失敗しました: %w", err)
	}

	s.metrics.RecordStamp(string(t))
	s.logger.Info("打刻を受け付けました",
		slog.String("username", p.Username),
		slog.String("type", string(t)),
		slog.String("event_id", ev.ID),
	)
	return ev, nil
}

func (s *Service) rejectStamp(username string, t model.StampType, err error) {
	code := "UNKNOWN"
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.Code
	}
	s.metrics.RecordStampRejected(code)
	s.logger.Info("打刻を拒否しました",
		slog.String("username", username),
		slog.String("type", string(t)),
		slog.String("code", code),
	)
}
