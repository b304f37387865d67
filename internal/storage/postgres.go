// Package storage 提供请求记录的持久化实现。
// 本文件实现 PostgreSQL 存储，是多进程部署下请求记录的
// 唯一事实来源：状态转换通过条件 UPDATE 落盘，数据库天然
// 充当单写者裁决点。
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/oriys/stratus/internal/domain"
)

// PostgresConfig 是 PostgreSQL 连接配置。
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN 返回 lib/pq 连接字符串。
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// PostgresStore 是 domain.RequestStore 的 PostgreSQL 实现。
type PostgresStore struct {
	db *sql.DB
}

// requestsSchema 定义请求表结构。启动时幂等创建。
const requestsSchema = `
CREATE TABLE IF NOT EXISTS requests (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	status        TEXT NOT NULL,
	schedule_type TEXT NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	is_system     BOOLEAN NOT NULL DEFAULT FALSE,
	payload       JSONB,
	result        JSONB,
	error         JSONB,
	log_path      TEXT NOT NULL DEFAULT '',
	worker_pid    INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	finished_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_requests_status ON requests (status);
CREATE INDEX IF NOT EXISTS idx_requests_user_id ON requests (user_id);
CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests (created_at);
`

// NewPostgresStore 建立数据库连接并初始化表结构。
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, requestsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create requests schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

const requestColumns = `id, name, status, schedule_type, user_id, is_system,
	payload, result, error, log_path, worker_pid, created_at, started_at, finished_at`

// scanRequest 从一行查询结果构造请求记录。
func scanRequest(row interface{ Scan(...any) error }) (*domain.RequestRecord, error) {
	var (
		rec      domain.RequestRecord
		payload  []byte
		result   []byte
		errJSON  []byte
		started  sql.NullTime
		finished sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.Status, &rec.ScheduleType, &rec.UserID,
		&rec.IsSystem, &payload, &result, &errJSON, &rec.LogPath, &rec.WorkerPID,
		&rec.CreatedAt, &started, &finished)
	if err != nil {
		return nil, err
	}
	rec.Payload = payload
	rec.Result = result
	if len(errJSON) > 0 {
		var reqErr domain.RequestError
		if err := json.Unmarshal(errJSON, &reqErr); err == nil {
			rec.Error = &reqErr
		}
	}
	if started.Valid {
		t := started.Time
		rec.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		rec.FinishedAt = &t
	}
	return &rec, nil
}

// Create 插入一条新记录；主键冲突映射为 ErrDuplicateRequest。
func (s *PostgresStore) Create(ctx context.Context, rec *domain.RequestRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (id, name, status, schedule_type, user_id, is_system,
			payload, log_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.Name, rec.Status, rec.ScheduleType, rec.UserID, rec.IsSystem,
		nullableJSON(rec.Payload), rec.LogPath, rec.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.ErrDuplicateRequest
		}
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

// nullableJSON 将空的 RawMessage 映射为 NULL，避免写入非法的空 JSONB。
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// Get 按 id 获取记录。
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.RequestRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	rec, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return rec, nil
}

// List 返回按创建时间排序的记录序列。
func (s *PostgresStore) List(ctx context.Context, filter domain.ListFilter) ([]*domain.RequestRecord, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE 1=1`
	args := []any{}
	if !filter.IncludeSystem {
		query += ` AND is_system = FALSE`
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(` AND user_id = $%d`, len(args))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var out []*domain.RequestRecord
	for rows.Next() {
		rec, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Transition 通过条件 UPDATE 执行状态转换。
// WHERE 子句只匹配满足单调序的前驱状态，零行更新即为被拒绝：
// 并发的取消与自然完成由先提交的一方获胜。
func (s *PostgresStore) Transition(ctx context.Context, id string, next domain.RequestStatus, update *domain.TransitionUpdate) error {
	now := time.Now().UTC()
	var (
		res sql.Result
		err error
	)
	switch {
	case next == domain.RequestStatusRunning:
		pid := 0
		if update != nil {
			pid = update.WorkerPID
		}
		res, err = s.db.ExecContext(ctx, `
			UPDATE requests SET status = $2, started_at = $3, worker_pid = $4
			WHERE id = $1 AND status = 'pending'`,
			id, next, now, pid)
	case next.IsTerminal():
		var result json.RawMessage
		var reqErr *domain.RequestError
		if update != nil {
			result = update.Result
			reqErr = update.Error
		}
		var errJSON any
		if reqErr != nil {
			b, merr := json.Marshal(reqErr)
			if merr != nil {
				return fmt.Errorf("failed to marshal request error: %w", merr)
			}
			errJSON = b
		}
		res, err = s.db.ExecContext(ctx, `
			UPDATE requests SET status = $2, finished_at = $3, result = $4,
				error = $5, worker_pid = 0
			WHERE id = $1 AND status IN ('pending', 'running')`,
			id, next, now, nullableJSON(result), errJSON)
	default:
		return domain.ErrInvalidTransition
	}
	if err != nil {
		return fmt.Errorf("failed to transition request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		// 区分记录不存在与转换被拒绝
		if _, err := s.Get(ctx, id); errors.Is(err, domain.ErrRequestNotFound) {
			return domain.ErrRequestNotFound
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

// LatestID 返回最近创建的记录 id。
func (s *PostgresStore) LatestID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM requests ORDER BY created_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrRequestNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get latest request id: %w", err)
	}
	return id, nil
}

// ReconcileInterrupted 将崩溃遗留的 running 记录统一标记为 failed。
// 服务启动时、接受外部流量之前调用一次。
func (s *PostgresStore) ReconcileInterrupted(ctx context.Context) (int, error) {
	reqErr, err := json.Marshal(&domain.RequestError{
		Kind:    "interrupted",
		Message: "request interrupted by server restart",
	})
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = 'failed', finished_at = $1, error = $2, worker_pid = 0
		WHERE status = 'running'`, time.Now().UTC(), reqErr)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile interrupted requests: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Close 关闭数据库连接。
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
