// Package storage 提供请求记录的持久化实现。
// 本文件实现内存存储，用于本地单进程模式和测试。
// 内存模式下执行器使用进程内运行器，不涉及跨进程共享状态。
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oriys/stratus/internal/domain"
)

// MemoryStore 是 domain.RequestStore 的内存实现。
// 所有操作在单个互斥锁下完成；Transition 内部检查单调序，
// 与 Postgres 实现的条件更新语义保持一致。
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*domain.RequestRecord
	// order 按创建顺序保存 id，用于 List 排序与 LatestID
	order []string
}

// NewMemoryStore 创建一个空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*domain.RequestRecord),
	}
}

// clone 返回记录的浅拷贝，避免调用方持有内部指针后绕过存储修改状态。
func clone(rec *domain.RequestRecord) *domain.RequestRecord {
	cp := *rec
	return &cp
}

// Create 创建一条新记录；id 已存在时返回 ErrDuplicateRequest。
func (s *MemoryStore) Create(ctx context.Context, rec *domain.RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return domain.ErrDuplicateRequest
	}
	s.records[rec.ID] = clone(rec)
	s.order = append(s.order, rec.ID)
	return nil
}

// Get 按 id 获取记录。
func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.RequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	return clone(rec), nil
}

// List 返回按创建时间排序的记录序列。
func (s *MemoryStore) List(ctx context.Context, filter domain.ListFilter) ([]*domain.RequestRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[domain.RequestStatus]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses[st] = true
	}

	var out []*domain.RequestRecord
	for _, id := range s.order {
		rec := s.records[id]
		if rec.IsSystem && !filter.IncludeSystem {
			continue
		}
		if filter.UserID != "" && rec.UserID != filter.UserID {
			continue
		}
		if len(statuses) > 0 && !statuses[rec.Status] {
			continue
		}
		out = append(out, clone(rec))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Transition 将记录转换到 next 状态并应用 update。
// 违反单调序时返回 ErrInvalidTransition，由此解决取消与
// 自然完成的竞争：后落地的一方被拒绝。
func (s *MemoryStore) Transition(ctx context.Context, id string, next domain.RequestStatus, update *domain.TransitionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.ErrRequestNotFound
	}
	if !rec.Status.CanTransitionTo(next) {
		return domain.ErrInvalidTransition
	}

	now := time.Now().UTC()
	rec.Status = next
	switch {
	case next == domain.RequestStatusRunning:
		rec.StartedAt = &now
		if update != nil {
			rec.WorkerPID = update.WorkerPID
		}
	case next.IsTerminal():
		rec.FinishedAt = &now
		rec.WorkerPID = 0
		if update != nil {
			rec.Result = update.Result
			rec.Error = update.Error
		}
	}
	return nil
}

// LatestID 返回最近创建的记录 id。
func (s *MemoryStore) LatestID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return "", domain.ErrRequestNotFound
	}
	return s.order[len(s.order)-1], nil
}

// ReconcileInterrupted 将所有 running 状态的孤儿记录标记为 failed。
func (s *MemoryStore) ReconcileInterrupted(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now().UTC()
	for _, rec := range s.records {
		if rec.Status != domain.RequestStatusRunning {
			continue
		}
		rec.Status = domain.RequestStatusFailed
		rec.FinishedAt = &now
		rec.WorkerPID = 0
		rec.Error = &domain.RequestError{
			Kind:    "interrupted",
			Message: "request interrupted by server restart",
		}
		n++
	}
	return n, nil
}

// Close 释放资源，内存实现为空操作。
func (s *MemoryStore) Close() error {
	return nil
}
