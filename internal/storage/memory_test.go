// Package storage 提供请求记录的持久化实现。
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/oriys/stratus/internal/domain"
)

// newTestRecord 创建一条测试用的 pending 记录。
func newTestRecord(id, userID string, isSystem bool) *domain.RequestRecord {
	return domain.NewRequest(id, "stratus.cluster.status", nil, domain.ScheduleTypeNonBlocking, userID, isSystem)
}

// TestMemoryStore_CreateAndGet 测试记录创建、查询与重复 id 拒绝。
func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec := newTestRecord("req-1", "alice", false)
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := store.Create(ctx, rec); !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Errorf("duplicate Create() error = %v, want ErrDuplicateRequest", err)
	}

	got, err := store.Get(ctx, "req-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != domain.RequestStatusPending {
		t.Errorf("stored status = %s, want pending", got.Status)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrRequestNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrRequestNotFound", err)
	}
}

// TestMemoryStore_GetReturnsCopy 测试读取返回的是快照而非内部指针。
func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Create(ctx, newTestRecord("req-1", "alice", false))

	got, _ := store.Get(ctx, "req-1")
	got.Status = domain.RequestStatusFailed

	again, _ := store.Get(ctx, "req-1")
	if again.Status != domain.RequestStatusPending {
		t.Error("mutating a returned record must not affect stored state")
	}
}

// TestMemoryStore_Transition 测试状态转换的单调序与字段写入。
func TestMemoryStore_Transition(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Create(ctx, newTestRecord("req-1", "alice", false))

	if err := store.Transition(ctx, "req-1", domain.RequestStatusRunning, &domain.TransitionUpdate{WorkerPID: 4242}); err != nil {
		t.Fatalf("Transition(running) error: %v", err)
	}
	got, _ := store.Get(ctx, "req-1")
	if got.WorkerPID != 4242 {
		t.Errorf("worker_pid = %d, want 4242", got.WorkerPID)
	}
	if got.StartedAt == nil {
		t.Error("started_at should be set on running")
	}

	result := json.RawMessage(`{"answer": 42}`)
	if err := store.Transition(ctx, "req-1", domain.RequestStatusSucceeded, &domain.TransitionUpdate{Result: result}); err != nil {
		t.Fatalf("Transition(succeeded) error: %v", err)
	}
	got, _ = store.Get(ctx, "req-1")
	if got.FinishedAt == nil {
		t.Error("finished_at should be set on terminal state")
	}
	if got.WorkerPID != 0 {
		t.Error("worker_pid should be cleared on terminal state")
	}
	if string(got.Result) != `{"answer": 42}` {
		t.Errorf("result = %s", got.Result)
	}

	// 终止后的任何转换都被拒绝
	err := store.Transition(ctx, "req-1", domain.RequestStatusCancelled, nil)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Transition after terminal error = %v, want ErrInvalidTransition", err)
	}

	err = store.Transition(ctx, "missing", domain.RequestStatusRunning, nil)
	if !errors.Is(err, domain.ErrRequestNotFound) {
		t.Errorf("Transition(missing) error = %v, want ErrRequestNotFound", err)
	}
}

// TestMemoryStore_List 测试列表过滤：状态、用户与系统请求排除。
func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Create(ctx, newTestRecord("req-1", "alice", false))
	store.Create(ctx, newTestRecord("req-2", "bob", false))
	store.Create(ctx, newTestRecord("req-3", "stratus-system", true))
	store.Transition(ctx, "req-2", domain.RequestStatusRunning, nil)

	// 默认排除系统请求
	recs, err := store.List(ctx, domain.ListFilter{})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("List() returned %d records, want 2", len(recs))
	}

	recs, _ = store.List(ctx, domain.ListFilter{IncludeSystem: true})
	if len(recs) != 3 {
		t.Errorf("List(include_system) returned %d records, want 3", len(recs))
	}

	recs, _ = store.List(ctx, domain.ListFilter{UserID: "alice"})
	if len(recs) != 1 || recs[0].ID != "req-1" {
		t.Errorf("List(user=alice) = %v", recs)
	}

	recs, _ = store.List(ctx, domain.ListFilter{
		Statuses: []domain.RequestStatus{domain.RequestStatusRunning},
	})
	if len(recs) != 1 || recs[0].ID != "req-2" {
		t.Errorf("List(status=running) = %v", recs)
	}
}

// TestMemoryStore_LatestID 测试最近创建记录的查询。
func TestMemoryStore_LatestID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.LatestID(ctx); !errors.Is(err, domain.ErrRequestNotFound) {
		t.Errorf("LatestID on empty store error = %v, want ErrRequestNotFound", err)
	}

	store.Create(ctx, newTestRecord("req-1", "alice", false))
	store.Create(ctx, newTestRecord("req-2", "alice", false))
	id, err := store.LatestID(ctx)
	if err != nil {
		t.Fatalf("LatestID() error: %v", err)
	}
	if id != "req-2" {
		t.Errorf("LatestID() = %s, want req-2", id)
	}
}

// TestMemoryStore_ReconcileInterrupted 测试启动时对孤儿 running 记录的清理。
func TestMemoryStore_ReconcileInterrupted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Create(ctx, newTestRecord("req-1", "alice", false))
	store.Create(ctx, newTestRecord("req-2", "alice", false))
	store.Create(ctx, newTestRecord("req-3", "alice", false))
	store.Transition(ctx, "req-1", domain.RequestStatusRunning, nil)
	store.Transition(ctx, "req-2", domain.RequestStatusRunning, nil)
	store.Transition(ctx, "req-2", domain.RequestStatusSucceeded, nil)

	n, err := store.ReconcileInterrupted(ctx)
	if err != nil {
		t.Fatalf("ReconcileInterrupted() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("ReconcileInterrupted() = %d, want 1", n)
	}

	got, _ := store.Get(ctx, "req-1")
	if got.Status != domain.RequestStatusFailed {
		t.Errorf("interrupted record status = %s, want failed", got.Status)
	}
	if got.Error == nil || got.Error.Kind != "interrupted" {
		t.Errorf("interrupted record error = %v", got.Error)
	}

	// pending 与已终止的记录不受影响
	got, _ = store.Get(ctx, "req-2")
	if got.Status != domain.RequestStatusSucceeded {
		t.Errorf("succeeded record touched by reconcile: %s", got.Status)
	}
	got, _ = store.Get(ctx, "req-3")
	if got.Status != domain.RequestStatusPending {
		t.Errorf("pending record touched by reconcile: %s", got.Status)
	}
}
