package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/oriys/stratus/internal/domain"
	"github.com/oriys/stratus/internal/logstream"
	"github.com/sirupsen/logrus"
)

// WSHandler 通过 WebSocket 推送日志流。
// 与分块 HTTP 流相比便于浏览器端消费，语义完全相同。
type WSHandler struct {
	store    domain.RequestStore
	streamer *logstream.Streamer
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler 创建 WebSocket 日志流处理器。
func NewWSHandler(store domain.RequestStore, streamer *logstream.Streamer, logger *logrus.Logger) *WSHandler {
	return &WSHandler{
		store:    store,
		streamer: streamer,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// wsWriter 把日志流输出适配为 WebSocket 文本帧。
type wsWriter struct {
	conn *websocket.Conn
}

func (w *wsWriter) Write(p []byte) (int, error) {
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// StreamRequestLogs 处理 GET /api/v1/requests/{id}/logs/ws。
// 升级失败或记录不存在时回退为普通 HTTP 错误响应。
func (h *WSHandler) StreamRequestLogs(w http.ResponseWriter, r *http.Request) {
	opts, err := streamOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.store.Get(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// 客户端关闭连接时取消流
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	err = h.streamer.StreamRequest(ctx, id, opts, &wsWriter{conn: conn})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.WithError(err).WithField("request_id", id).Debug("WebSocket log stream ended with error")
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
