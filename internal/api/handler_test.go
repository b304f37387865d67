// Package api 提供请求调度服务的 HTTP 处理程序。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oriys/stratus/internal/auth"
	"github.com/oriys/stratus/internal/config"
	"github.com/oriys/stratus/internal/domain"
	"github.com/oriys/stratus/internal/executor"
	"github.com/oriys/stratus/internal/logstream"
	"github.com/oriys/stratus/internal/ops"
	"github.com/oriys/stratus/internal/storage"
	"github.com/sirupsen/logrus"
)

// newTestServer 组装内存存储 + 进程内运行器的完整 HTTP 服务。
func newTestServer(t *testing.T) (*httptest.Server, domain.RequestStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logRoot := t.TempDir()

	registry := executor.NewRegistry()
	ops.RegisterAll(registry)

	exec := executor.New(executor.Options{
		Config: config.ExecutorConfig{
			BlockingWorkers:    2,
			NonBlockingWorkers: 4,
			SpillThreshold:     1000,
		},
		Store:    store,
		Registry: registry,
		Runner:   executor.NewLocalRunner(store, registry, logger),
		Logger:   logger,
		LogRoot:  logRoot,
	})
	if err := exec.Start(); err != nil {
		t.Fatalf("executor Start() error: %v", err)
	}
	t.Cleanup(exec.Stop)

	streamer := logstream.New(store, logRoot, logger)
	handler := NewHandler(store, exec, streamer, logger)
	wsHandler := NewWSHandler(store, streamer, logger)
	authMW := auth.NewMiddleware(nil, false)

	srv := httptest.NewServer(NewRouter(handler, wsHandler, authMW))
	t.Cleanup(srv.Close)
	return srv, store
}

// postJSON 发送 JSON POST 请求并解码响应。
func postJSON(t *testing.T, url string, body any, out any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

// waitTerminal 轮询记录直到终止状态。
func waitTerminal(t *testing.T, store domain.RequestStore, id string) *domain.RequestRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get(%s) error: %v", id, err)
		}
		if rec.Finished() {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("request %s did not finish", id)
	return nil
}

// TestScheduleAndGetRequest 测试提交、轮询到成功终态的完整 HTTP 路径。
func TestScheduleAndGetRequest(t *testing.T) {
	srv, store := newTestServer(t)

	var rec domain.RequestRecord
	resp := postJSON(t, srv.URL+"/api/v1/requests", map[string]any{
		"operation": "cluster.launch",
		"payload":   map[string]any{"cluster_name": "dev", "provider": "aws", "num_nodes": 2},
	}, &rec)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("schedule status = %d, want 202", resp.StatusCode)
	}
	if rec.Status != domain.RequestStatusPending {
		t.Errorf("scheduled status = %s, want pending", rec.Status)
	}
	// 重型操作默认走 blocking 池
	if rec.ScheduleType != domain.ScheduleTypeBlocking {
		t.Errorf("schedule type = %s, want blocking", rec.ScheduleType)
	}

	waitTerminal(t, store, rec.ID)

	getResp, err := http.Get(srv.URL + "/api/v1/requests/" + rec.ID)
	if err != nil {
		t.Fatalf("GET request: %v", err)
	}
	defer getResp.Body.Close()
	var final domain.RequestRecord
	if err := json.NewDecoder(getResp.Body).Decode(&final); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if final.Status != domain.RequestStatusSucceeded {
		t.Fatalf("final status = %s (error: %v)", final.Status, final.Error)
	}
	if len(final.Result) == 0 {
		t.Error("finished request should carry a result")
	}
}

// TestScheduleRequest_Validation 测试提交路径的错误映射。
func TestScheduleRequest_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{
			name:       "unknown operation",
			body:       map[string]any{"operation": "cluster.resize"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "invalid payload",
			body: map[string]any{
				"operation": "cluster.launch",
				"payload":   map[string]any{"provider": "aws"},
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "invalid schedule type",
			body: map[string]any{
				"operation":     "cluster.status",
				"schedule_type": "batch",
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/v1/requests", tt.body, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

// TestScheduleRequest_DuplicateID 测试重复 request_id 返回 409。
func TestScheduleRequest_DuplicateID(t *testing.T) {
	srv, _ := newTestServer(t)

	body := map[string]any{"operation": "cluster.status", "request_id": "fixed-id"}
	resp := postJSON(t, srv.URL+"/api/v1/requests", body, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first schedule status = %d", resp.StatusCode)
	}
	resp = postJSON(t, srv.URL+"/api/v1/requests", body, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate schedule status = %d, want 409", resp.StatusCode)
	}
}

// TestGetRequest_NotFound 测试未知 id 返回 404。
func TestGetRequest_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/requests/nonexistent")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// TestListRequests 测试列表的状态过滤与非法状态拒绝。
func TestListRequests(t *testing.T) {
	srv, store := newTestServer(t)

	var rec domain.RequestRecord
	postJSON(t, srv.URL+"/api/v1/requests", map[string]any{"operation": "cluster.status"}, &rec)
	waitTerminal(t, store, rec.ID)

	resp, err := http.Get(srv.URL + "/api/v1/requests?status=succeeded")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	defer resp.Body.Close()
	var recs []domain.RequestRecord
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != rec.ID {
		t.Errorf("list = %v", recs)
	}

	bad, err := http.Get(srv.URL + "/api/v1/requests?status=bogus")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("bad status filter response = %d, want 400", bad.StatusCode)
	}
}

// TestCancelRequests 测试取消端点：已终止的目标是静默空操作。
func TestCancelRequests(t *testing.T) {
	srv, store := newTestServer(t)

	var rec domain.RequestRecord
	postJSON(t, srv.URL+"/api/v1/requests", map[string]any{"operation": "cluster.status"}, &rec)
	waitTerminal(t, store, rec.ID)

	var result struct {
		Cancelled []string `json:"cancelled"`
	}
	resp := postJSON(t, srv.URL+"/api/v1/requests/cancel", map[string]any{
		"request_ids": []string{rec.ID, "nonexistent"},
	}, &result)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	if len(result.Cancelled) != 0 {
		t.Errorf("cancelled = %v, want empty (already finished)", result.Cancelled)
	}

	// 既没有 ids 也没有 all 是参数错误
	resp = postJSON(t, srv.URL+"/api/v1/requests/cancel", map[string]any{}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty cancel status = %d, want 400", resp.StatusCode)
	}
}

// TestStreamRequestLogs 测试日志流端点输出处理函数的文本。
func TestStreamRequestLogs(t *testing.T) {
	srv, store := newTestServer(t)

	var rec domain.RequestRecord
	postJSON(t, srv.URL+"/api/v1/requests", map[string]any{
		"operation": "cluster.launch",
		"payload":   map[string]any{"cluster_name": "dev", "provider": "aws"},
	}, &rec)
	waitTerminal(t, store, rec.ID)

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/requests/%s/logs?follow=false", srv.URL, rec.ID))
	if err != nil {
		t.Fatalf("GET logs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs status = %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(data, []byte("Launching cluster")) {
		t.Errorf("log stream = %q", data)
	}
	// 非纯文本模式保留控制载荷行
	if !bytes.Contains(data, []byte("<stratus-payload>")) {
		t.Error("payload control line missing from raw stream")
	}

	// 纯文本模式丢弃控制载荷行
	plain, err := http.Get(fmt.Sprintf("%s/api/v1/requests/%s/logs?follow=false&plain_logs=true", srv.URL, rec.ID))
	if err != nil {
		t.Fatalf("GET plain logs: %v", err)
	}
	defer plain.Body.Close()
	plainData, _ := io.ReadAll(plain.Body)
	if bytes.Contains(plainData, []byte("<stratus-payload>")) {
		t.Error("payload control line should be dropped in plain mode")
	}
}

// TestStreamPathLogs_Traversal 测试显式路径端点的逃逸防护。
func TestStreamPathLogs_Traversal(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/logs?path=../../etc/passwd&follow=false")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("traversal path status = %d, want 400", resp.StatusCode)
	}
}

// TestUserScoping 测试请求归属取自请求方身份。
func TestUserScoping(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"operation": "cluster.status"})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/requests", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.UserHeader, "alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	var rec domain.RequestRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.UserID != "alice" {
		t.Errorf("request user = %s, want alice", rec.UserID)
	}

	// 未携带身份时归属 anonymous
	var anon domain.RequestRecord
	postJSON(t, srv.URL+"/api/v1/requests", map[string]any{"operation": "cluster.status"}, &anon)
	if anon.UserID != auth.AnonymousUser {
		t.Errorf("anonymous request user = %s, want %s", anon.UserID, auth.AnonymousUser)
	}
}

// TestHealth 测试健康检查端点。
func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
}
