package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/hitoshi/timeclock/internal/model"
)

// AdminServiceInterface は管理者向けハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	Anomalies(ctx context.Context, p model.Principal) ([]model.Anomaly, error)
	Audits(ctx context.Context, p model.Principal, limit int) ([]model.AuditEntry, error)
}

// AdminHandler は不整合一覧と監査ログのHTTPハンドラー。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

type auditResponse struct {
	ID        string            `json:"id"`
	Actor     string            `json:"actor"`
	Action    string            `json:"action"`
	TargetID  string            `json:"targetId"`
	Username  string            `json:"username"`
	Reason    string            `json:"reason"`
	Detail    map[string]string `json:"detail"`
	CreatedAt string            `json:"createdAt"`
}

// Anomalies は全期間の打刻から検出される不整合を返す。
// GET /api/anomalies
func (h *AdminHandler) Anomalies(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	anomalies, err := h.service.Anomalies(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnomalyResponses(anomalies))
}

// Audits は新しい順に監査ログを返す。件数はクエリパラメータlimitで指定する。
// GET /api/audits?limit=100
func (h *AdminHandler) Audits(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("limit must be an integer"))
			return
		}
		limit = n
	}

	entries, err := h.service.Audits(r.Context(), p, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]auditResponse, len(entries))
	for i, e := range entries {
		resp[i] = auditResponse{
			ID:        e.ID,
			Actor:     e.Actor,
			Action:    string(e.Action),
			TargetID:  e.TargetID,
			Username:  e.Username,
			Reason:    e.Reason,
			Detail:    e.Detail,
			CreatedAt: formatWireTime(e.CreatedAt),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
