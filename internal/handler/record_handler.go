package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/timeclock/internal/model"
)

// RecordServiceInterface は打刻ハンドラーが必要とするサービスインターフェース。
// 認可はサービス層で行うため、すべての操作に認証主体を渡す。
type RecordServiceInterface interface {
	SubmitStamp(ctx context.Context, p model.Principal, t model.StampType) (*model.StampEvent, error)
	ListAll(ctx context.Context, p model.Principal) ([]model.StampEvent, error)
	ListByUser(ctx context.Context, p model.Principal, username string) ([]model.StampEvent, error)
	ListByUserAndMonth(ctx context.Context, p model.Principal, username string, month, year int) ([]model.StampEvent, error)
	ListByMonth(ctx context.Context, p model.Principal, month, year int) ([]model.StampEvent, error)
	Latest(ctx context.Context, p model.Principal, username string) (*model.StampEvent, error)
	Active(ctx context.Context, p model.Principal) ([]model.Presence, error)
	UpdateRecord(ctx context.Context, p model.Principal, id string, patch model.StampPatch, reason string) (*model.StampEvent, error)
	DeleteRecord(ctx context.Context, p model.Principal, id, reason string) ([]string, error)
}

// RecordHandler は打刻記録のHTTPハンドラー。
type RecordHandler struct {
	service RecordServiceInterface
}

// NewRecordHandler はRecordHandlerを生成する。
func NewRecordHandler(service RecordServiceInterface) *RecordHandler {
	return &RecordHandler{service: service}
}

type stampRequest struct {
	Type string `json:"type"`
}

// updateRecordRequest は打刻修正リクエストのボディ。
// 変更できるのはdateTimeのみで、id・username・typeの指定は拒否する。
type updateRecordRequest struct {
	DateTime *string `json:"dateTime"`
	Reason   string  `json:"reason"`
	ID       *string `json:"id"`
	Username *string `json:"username"`
	Type     *string `json:"type"`
}

type presenceResponse struct {
	Username string `json:"username"`
	Since    string `json:"since"`
	EntryID  string `json:"entryId"`
}

// Create はログインユーザー本人の打刻を記録する。時刻はサーバー時刻を使用する。
// POST /api/records
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req stampRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ev, err := h.service.SubmitStamp(r.Context(), p, model.StampType(req.Type))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordResponse(*ev))
}

// ListAll は全打刻を返す。
// GET /api/records
func (h *RecordHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	events, err := h.service.ListAll(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponses(events))
}

// ListByUser はユーザーの全打刻を返す。
// GET /api/records/{username}
func (h *RecordHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	events, err := h.service.ListByUser(r.Context(), p, chi.URLParam(r, "username"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponses(events))
}

// ListByUserAndMonth はユーザーの指定年月の打刻を返す。
// GET /api/records/{username}/month/{month}/{year}
func (h *RecordHandler) ListByUserAndMonth(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	month, year, ok := monthParams(w, r)
	if !ok {
		return
	}
	events, err := h.service.ListByUserAndMonth(r.Context(), p, chi.URLParam(r, "username"), month, year)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponses(events))
}

// ListByMonth は全ユーザーの指定年月の打刻を返す。
// GET /api/records/month/{month}/{year}
func (h *RecordHandler) ListByMonth(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	month, year, ok := monthParams(w, r)
	if !ok {
		return
	}
	events, err := h.service.ListByMonth(r.Context(), p, month, year)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponses(events))
}

// Latest はユーザーの最新打刻を返す。打刻が無い場合は404。
// GET /api/records/{username}/latest
func (h *RecordHandler) Latest(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	ev, err := h.service.Latest(r.Context(), p, chi.URLParam(r, "username"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(*ev))
}

// LatestAll は現在勤務中のユーザーを返す。
// GET /api/records/latest-all
func (h *RecordHandler) LatestAll(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	active, err := h.service.Active(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	resp := make([]presenceResponse, len(active))
	for i, a := range active {
		resp[i] = presenceResponse{
			Username: a.Username,
			Since:    formatWireTime(a.Since),
			EntryID:  a.EntryID,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Update は打刻の時刻を修正する。
// PUT /api/records/{id}
func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req updateRecordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID != nil || req.Username != nil || req.Type != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("id, username and type cannot be changed"))
		return
	}

	var patch model.StampPatch
	if req.DateTime != nil {
		at, err := parseWireTime("dateTime", *req.DateTime)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		patch.DateTime = &at
	}

	ev, err := h.service.UpdateRecord(r.Context(), p, chi.URLParam(r, "id"), patch, req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(*ev))
}

// Delete は打刻を削除する。打刻がシフトに属する場合はシフト全体を削除する。
// 削除理由はクエリパラメータreasonで指定する。
// DELETE /api/records/{id}
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	deleted, err := h.service.DeleteRecord(r.Context(), p, chi.URLParam(r, "id"), r.URL.Query().Get("reason"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"deleted": deleted,
	})
}
