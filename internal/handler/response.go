// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/timeclock/internal/middleware"
	"github.com/hitoshi/timeclock/internal/model"
	"github.com/hitoshi/timeclock/internal/shift"
)

// maxRequestBody はリクエストボディの上限バイト数。
const maxRequestBody = 1 << 16

// wireTimeLayout はAPIで扱う時刻の書式。UTC・秒精度。
const wireTimeLayout = "2006-01-02T15:04:05Z"

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAuthFailed, model.ErrCodeUnauthorized, model.ErrCodeInvalidToken:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeAdminSignupForbidden:
		return http.StatusForbidden
	case model.ErrCodeRecordNotFound, model.ErrCodeShiftNotFound:
		return http.StatusNotFound
	case model.ErrCodeDuplicateStamp, model.ErrCodeOutOfOrderTimestamp, model.ErrCodeOverlap,
		model.ErrCodeStampConflict, model.ErrCodeUserExists, model.ErrCodeShiftOpen:
		return http.StatusConflict
	case model.ErrCodeInvalidRange, model.ErrCodeInvalidRequest, model.ErrCodeInvalidMonth,
		model.ErrCodeSequenceViolation, model.ErrCodeInvalidStampType, model.ErrCodeFutureTimestamp:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON はリクエストボディをvにデコードする。失敗時はINVALID_REQUESTを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return false
	}
	return true
}

// requirePrincipal はコンテキストの認証主体を返す。無い場合は401を書き込みfalseを返す。
func requirePrincipal(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return model.Principal{}, false
	}
	return p, true
}

// monthParams はURLパラメータの月・年を解析する。数値でない場合はINVALID_MONTHを書き込む。
// 範囲の検証はサービス層で行う。
func monthParams(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	rawMonth, rawYear := chi.URLParam(r, "month"), chi.URLParam(r, "year")
	month, errM := strconv.Atoi(rawMonth)
	year, errY := strconv.Atoi(rawYear)
	if errM != nil || errY != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidMonthError(rawMonth, rawYear))
		return 0, 0, false
	}
	return month, year, true
}

// parseWireTime はRFC3339の時刻を解析し、UTC・秒精度に正規化する。
func parseWireTime(field, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, model.NewInvalidRequestError(field + " must be an RFC3339 timestamp")
	}
	return t.UTC().Truncate(time.Second), nil
}

func formatWireTime(t time.Time) string {
	return t.UTC().Format(wireTimeLayout)
}

// --- レスポンス型 ---

// recordResponse は打刻イベントのAPIレスポンス。
type recordResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Type     string `json:"type"`
	DateTime string `json:"dateTime"`
}

func toRecordResponse(ev model.StampEvent) recordResponse {
	return recordResponse{
		ID:       ev.ID,
		Username: ev.Username,
		Type:     string(ev.Type),
		DateTime: formatWireTime(ev.DateTime),
	}
}

func toRecordResponses(events []model.StampEvent) []recordResponse {
	out := make([]recordResponse, len(events))
	for i, ev := range events {
		out[i] = toRecordResponse(ev)
	}
	return out
}

// shiftResponse はシフトのAPIレスポンス。勤務中のシフトはexitとdurationを持たない。
type shiftResponse struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Date     string          `json:"date"` // 表示用タイムゾーンでの出勤日
	Entry    recordResponse  `json:"entry"`
	Exit     *recordResponse `json:"exit,omitempty"`
	Open     bool            `json:"open"` // 勤務中のシフト
	// ContinuesAfterMonth は退勤が翌月以降にあり、表示中の月では閉じていないシフト。
	ContinuesAfterMonth bool   `json:"continuesAfterMonth,omitempty"`
	Duration            string `json:"duration,omitempty"`
	DurationSeconds     int64  `json:"durationSeconds,omitempty"`
}

func toShiftResponse(s model.Shift, loc *time.Location) shiftResponse {
	resp := shiftResponse{
		ID:       s.ID(),
		Username: s.Username(),
		Date:     s.Entry.DateTime.In(loc).Format(time.DateOnly),
		Entry:    toRecordResponse(s.Entry),
		Open:     s.IsOpen(),
	}
	if d, ok := s.Duration(); ok {
		exit := toRecordResponse(*s.Exit)
		resp.Exit = &exit
		resp.Duration = shift.FormatDuration(d)
		resp.DurationSeconds = int64(d / time.Second)
	}
	return resp
}

// anomalyResponse は不整合のAPIレスポンス。
type anomalyResponse struct {
	Kind     string `json:"kind"`
	Username string `json:"username"`
	EventID  string `json:"eventId"`
	At       string `json:"at"`
	Message  string `json:"message"`
}

func toAnomalyResponses(anomalies []model.Anomaly) []anomalyResponse {
	out := make([]anomalyResponse, len(anomalies))
	for i, a := range anomalies {
		out[i] = anomalyResponse{
			Kind:     string(a.Kind),
			Username: a.Username,
			EventID:  a.EventID,
			At:       formatWireTime(a.At),
			Message:  a.Message,
		}
	}
	return out
}
