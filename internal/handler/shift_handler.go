package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/record"
	"github.com/hitoshi/timeclock/internal/shift"
)

// ShiftServiceInterface はシフトハンドラーが必要とするサービスインターフェース。
type ShiftServiceInterface interface {
	Shifts(ctx context.Context, p model.Principal, username string, month, year int) (*record.ShiftView, error)
	ProposeEdit(ctx context.Context, p model.Principal, shiftID string, entry, exit time.Time, reason string) (*model.Shift, error)
	DeleteShift(ctx context.Context, p model.Principal, shiftID, reason string) error
	Location() *time.Location
}

// ShiftHandler はシフトの参照・修正・削除のHTTPハンドラー。
type ShiftHandler struct {
	service ShiftServiceInterface
}

// NewShiftHandler はShiftHandlerを生成する。
func NewShiftHandler(service ShiftServiceInterface) *ShiftHandler {
	return &ShiftHandler{service: service}
}

type editShiftRequest struct {
	Entry  string `json:"entry"`
	Exit   string `json:"exit"`
	Reason string `json:"reason"`
}

type totalResponse struct {
	Username      string `json:"username"`
	Shifts        int    `json:"shifts"`
	Worked        string `json:"worked"`
	WorkedSeconds int64  `json:"workedSeconds"`
}

type shiftViewResponse struct {
	Month     int               `json:"month"`
	Year      int               `json:"year"`
	TimeZone  string            `json:"timeZone"`
	Shifts    []shiftResponse   `json:"shifts"`
	Totals    []totalResponse   `json:"totals"`
	Anomalies []anomalyResponse `json:"anomalies"`
}

// ListByUserAndMonth はユーザーの指定年月のシフトを返す。
// GET /api/shifts/{username}/month/{month}/{year}
func (h *ShiftHandler) ListByUserAndMonth(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, chi.URLParam(r, "username"))
}

// ListByMonth は全ユーザーの指定年月のシフトを返す。
// GET /api/shifts/month/{month}/{year}
func (h *ShiftHandler) ListByMonth(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "")
}

func (h *ShiftHandler) list(w http.ResponseWriter, r *http.Request, username string) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	month, year, ok := monthParams(w, r)
	if !ok {
		return
	}

	view, err := h.service.Shifts(r.Context(), p, username, month, year)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	loc := h.service.Location()
	resp := shiftViewResponse{
		Month:     month,
		Year:      year,
		TimeZone:  loc.String(),
		Shifts:    make([]shiftResponse, len(view.Shifts)),
		Totals:    make([]totalResponse, len(view.Totals)),
		Anomalies: toAnomalyResponses(view.Anomalies),
	}
	for i, s := range view.Shifts {
		resp.Shifts[i] = toShiftResponse(s, loc)
		if view.ContinuesAfterMonth[s.ID()] {
			resp.Shifts[i].Open = false
			resp.Shifts[i].ContinuesAfterMonth = true
		}
	}
	for i, t := range view.Totals {
		resp.Totals[i] = totalResponse{
			Username:      t.Username,
			Shifts:        t.Shifts,
			Worked:        shift.FormatDuration(t.Worked),
			WorkedSeconds: int64(t.Worked / time.Second),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Edit はシフトの出勤・退勤時刻を修正する。シフトIDは出勤打刻のID。
// PUT /api/shifts/{id}
func (h *ShiftHandler) Edit(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var req editShiftRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entry, err := parseWireTime("entry", req.Entry)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	exit, err := parseWireTime("exit", req.Exit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	updated, err := h.service.ProposeEdit(r.Context(), p, chi.URLParam(r, "id"), entry, exit, req.Reason)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toShiftResponse(*updated, h.service.Location()))
}

// Delete はシフトを構成する打刻をすべて削除する。
// 削除理由はクエリパラメータreasonで指定する。
// DELETE /api/shifts/{id}
func (h *ShiftHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteShift(r.Context(), p, chi.URLParam(r, "id"), r.URL.Query().Get("reason")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
