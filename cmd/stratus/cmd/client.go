// Package cmd 提供 stratus 命令行工具的所有子命令实现。
// 本文件实现 API 客户端，用于与请求调度服务通信。
//
// Client 封装了与服务端的全部交互，包括：
//   - 请求提交与查询
//   - 请求取消
//   - 日志流读取（分块 HTTP 与 WebSocket 两种形态）
//
// 客户端使用 HTTP/JSON 协议与服务器通信。
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/viper"
)

// Client 是请求调度服务的 API 客户端。
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

// NewClient 创建一个新的 API 客户端实例。
// 从 viper 配置中读取 api_url 与 user。日志流是长连接，
// 因此 HTTP 客户端不设置整体超时。
func NewClient() *Client {
	baseURL := viper.GetString("api_url")
	if baseURL == "" {
		baseURL = "http://localhost:46580"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     viper.GetString("user"),
		httpClient: &http.Client{},
	}
}

// RequestRecord 是服务端请求记录的客户端视图。
type RequestRecord struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Status       string          `json:"status"`
	ScheduleType string          `json:"schedule_type"`
	UserID       string          `json:"user_id"`
	IsSystem     bool            `json:"is_system,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *RequestError   `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// RequestError 是请求失败时的结构化错误。
type RequestError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// apiError 是服务端错误响应体。
type apiError struct {
	Error string `json:"error"`
}

// do 发送一次 HTTP 请求并解码 JSON 响应。
func (c *Client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set("X-Stratus-User", c.userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server error: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SubmitRequest 提交一个新请求，返回 pending 状态的记录快照。
func (c *Client) SubmitRequest(operation string, payload json.RawMessage, scheduleType string) (*RequestRecord, error) {
	body := map[string]any{"operation": operation}
	if len(payload) > 0 {
		body["payload"] = payload
	}
	if scheduleType != "" {
		body["schedule_type"] = scheduleType
	}
	var rec RequestRecord
	if err := c.do(http.MethodPost, "/api/v1/requests", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetRequest 查询单个请求的当前快照。
func (c *Client) GetRequest(id string) (*RequestRecord, error) {
	var rec RequestRecord
	if err := c.do(http.MethodGet, "/api/v1/requests/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestRequest 查询最近创建的请求。
func (c *Client) LatestRequest() (*RequestRecord, error) {
	var rec RequestRecord
	if err := c.do(http.MethodGet, "/api/v1/requests/latest", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRequests 按过滤条件列出请求。
func (c *Client) ListRequests(statuses []string, allUsers bool) ([]RequestRecord, error) {
	q := url.Values{}
	if len(statuses) > 0 {
		q.Set("status", strings.Join(statuses, ","))
	}
	if !allUsers && c.userID != "" {
		q.Set("user_id", c.userID)
	}
	path := "/api/v1/requests"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var recs []RequestRecord
	if err := c.do(http.MethodGet, path, nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// CancelRequests 取消一组请求，返回实际取消的 id 列表。
func (c *Client) CancelRequests(ids []string, all bool) ([]string, error) {
	body := map[string]any{}
	if all {
		body["all"] = true
		if c.userID != "" {
			body["user_id"] = c.userID
		}
	} else {
		body["request_ids"] = ids
	}
	var result struct {
		Cancelled []string `json:"cancelled"`
	}
	if err := c.do(http.MethodPost, "/api/v1/requests/cancel", body, &result); err != nil {
		return nil, err
	}
	return result.Cancelled, nil
}

// StreamLogs 通过分块 HTTP 读取日志流并写到 w。
// 连接持续到请求终止（follow 模式）或文件读完。
func (c *Client) StreamLogs(ctx context.Context, id string, tail int, follow, plain bool, w io.Writer) error {
	q := url.Values{}
	if tail > 0 {
		q.Set("tail", fmt.Sprintf("%d", tail))
	}
	if !follow {
		q.Set("follow", "false")
	}
	if plain {
		q.Set("plain_logs", "true")
	}
	path := fmt.Sprintf("%s/api/v1/requests/%s/logs?%s", c.baseURL, url.PathEscape(id), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if c.userID != "" {
		req.Header.Set("X-Stratus-User", c.userID)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server error: %s", resp.Status)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// StreamLogsWS 通过 WebSocket 读取日志流并写到标准输出。
func (c *Client) StreamLogsWS(ctx context.Context, id string, tail int, plain bool) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1)
	q := url.Values{}
	if tail > 0 {
		q.Set("tail", fmt.Sprintf("%d", tail))
	}
	if plain {
		q.Set("plain_logs", "true")
	}
	endpoint := fmt.Sprintf("%s/api/v1/requests/%s/logs/ws?%s", wsURL, url.PathEscape(id), q.Encode())

	header := http.Header{}
	if c.userID != "" {
		header.Set("X-Stratus-User", c.userID)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return fmt.Errorf("failed to connect log stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		os.Stdout.Write(message)
	}
}
