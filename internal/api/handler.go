// Package api 提供请求调度服务的 HTTP 处理程序。
// 这一层保持很薄：校验载荷、提交给执行器、读取存储快照或打开
// 日志流，任何阻塞性工作都不在连接处理上下文中执行。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oriys/stratus/internal/auth"
	"github.com/oriys/stratus/internal/domain"
	"github.com/oriys/stratus/internal/executor"
	"github.com/oriys/stratus/internal/logstream"
	"github.com/sirupsen/logrus"
)

// Handler 聚合 HTTP 层的依赖。
type Handler struct {
	store    domain.RequestStore
	exec     *executor.Executor
	streamer *logstream.Streamer
	logger   *logrus.Logger
}

// NewHandler 创建 HTTP 处理器。
func NewHandler(store domain.RequestStore, exec *executor.Executor, streamer *logstream.Streamer, logger *logrus.Logger) *Handler {
	return &Handler{store: store, exec: exec, streamer: streamer, logger: logger}
}

// scheduleRequestBody 是 POST /api/v1/requests 的请求体。
type scheduleRequestBody struct {
	// RequestID 可选，缺省时由服务端生成
	RequestID string `json:"request_id,omitempty"`
	// Operation 是操作种类（如 "cluster.launch"）
	Operation string `json:"operation"`
	// Payload 是操作的输入参数
	Payload json.RawMessage `json:"payload,omitempty"`
	// ScheduleType 可选，缺省按操作种类取默认值
	ScheduleType string `json:"schedule_type,omitempty"`
}

// ScheduleRequest 处理 POST /api/v1/requests。
// 载荷在记录持久化之前完成全量校验；提交成功返回 202 与
// pending 状态的记录快照，结果通过轮询或日志流观察。
func (h *Handler) ScheduleRequest(w http.ResponseWriter, r *http.Request) {
	var body scheduleRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	kind := domain.OperationKind(body.Operation)
	payload, err := domain.ParsePayload(kind, body.Payload)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	// 重新序列化规范化后的载荷，保证记录里保存的是校验过的形态
	raw, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rec, err := h.exec.Schedule(r.Context(), executor.ScheduleParams{
		ID:           body.RequestID,
		Kind:         kind,
		Payload:      raw,
		ScheduleType: domain.ScheduleType(body.ScheduleType),
		UserID:       auth.UserID(r.Context()),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// GetRequest 处理 GET /api/v1/requests/{id}，返回记录当前快照。
// 轮询客户端在 status 到达终止值之前重试本端点。
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListRequests 处理 GET /api/v1/requests。
// 支持 status（逗号分隔）、user_id 与 include_system 过滤，
// 结果按创建时间排序；系统请求默认不出现。
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	filter := domain.ListFilter{
		UserID:        r.URL.Query().Get("user_id"),
		IncludeSystem: r.URL.Query().Get("include_system") == "true",
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := domain.RequestStatus(strings.TrimSpace(s))
			if !status.Valid() {
				writeError(w, http.StatusBadRequest, "unknown status: "+s)
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	recs, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if recs == nil {
		recs = []*domain.RequestRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// LatestRequest 处理 GET /api/v1/requests/latest，
// 返回最近创建的记录，作为日志流的默认目标。
func (h *Handler) LatestRequest(w http.ResponseWriter, r *http.Request) {
	id, err := h.store.LatestID(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// cancelRequestBody 是 POST /api/v1/requests/cancel 的请求体。
// request_ids 与 all 二选一。
type cancelRequestBody struct {
	RequestIDs []string `json:"request_ids,omitempty"`
	All        bool     `json:"all,omitempty"`
	UserID     string   `json:"user_id,omitempty"`
}

// CancelRequests 处理 POST /api/v1/requests/cancel。
// 终止状态与未知 id 是静默空操作；返回实际取消的 id 列表。
func (h *Handler) CancelRequests(w http.ResponseWriter, r *http.Request) {
	var body cancelRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if !body.All && len(body.RequestIDs) == 0 {
		writeError(w, http.StatusBadRequest, "either request_ids or all must be given")
		return
	}
	cancelled, err := h.exec.Cancel(r.Context(), body.RequestIDs, body.All, body.UserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if cancelled == nil {
		cancelled = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled})
}

// streamOptions 从查询参数解析日志流选项。
func streamOptions(r *http.Request) (logstream.Options, error) {
	opts := logstream.Options{Follow: true}
	q := r.URL.Query()
	if raw := q.Get("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, errors.New("tail must be a non-negative integer")
		}
		opts.Tail = n
	}
	opts.Plain = q.Get("plain_logs") == "true"
	if q.Get("follow") == "false" {
		opts.Follow = false
	}
	return opts, nil
}

// StreamRequestLogs 处理 GET /api/v1/requests/{id}/logs。
// 响应是开放式的分块文本流，直到记录终止或客户端断开。
func (h *Handler) StreamRequestLogs(w http.ResponseWriter, r *http.Request) {
	opts, err := streamOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	// 打开流之前先确认记录存在，使 404 仍是结构化响应
	if _, err := h.store.Get(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if err := h.streamer.StreamRequest(r.Context(), id, opts, w); err != nil &&
		!errors.Is(err, context.Canceled) {
		h.logger.WithError(err).WithField("request_id", id).Debug("Log stream ended with error")
	}
}

// StreamPathLogs 处理 GET /api/v1/logs?path=...。
// 显式路径在任何文件访问之前对日志根目录做逃逸检查。
func (h *Handler) StreamPathLogs(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	opts, err := streamOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if err := h.streamer.StreamPath(r.Context(), path, opts, w); err != nil {
		if errors.Is(err, domain.ErrPathOutsideLogRoot) {
			// 头还没写数据时仍可返回结构化错误
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if !errors.Is(err, context.Canceled) {
			h.logger.WithError(err).WithField("path", path).Debug("Log stream ended with error")
		}
	}
}

// Health 处理 GET /health。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDomainError 把领域错误映射为 HTTP 状态码。
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrUnknownPayloadKind),
		errors.Is(err, domain.ErrUnknownOperation),
		errors.Is(err, domain.ErrInvalidScheduleType),
		errors.Is(err, domain.ErrPathOutsideLogRoot):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrExecutorStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.WithError(err).Error("Internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeJSON 输出 JSON 响应。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError 输出结构化错误响应。
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
