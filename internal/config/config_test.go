// Package config 提供了请求调度服务的配置管理功能。
package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoad_MissingFileUsesDefaults 测试无配置文件时的零配置默认值。
func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 46580 {
		t.Errorf("default port = %d, want 46580", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("default driver = %s, want memory", cfg.Storage.Driver)
	}
	if cfg.Executor.Isolation != "goroutine" {
		t.Errorf("default isolation = %s, want goroutine", cfg.Executor.Isolation)
	}
	// 工作池规模按 CPU 推导，且满足下限
	if cfg.Executor.BlockingWorkers < 1 || cfg.Executor.BlockingWorkers > 4 {
		t.Errorf("blocking workers = %d, want within [1,4]", cfg.Executor.BlockingWorkers)
	}
	if cfg.Executor.NonBlockingWorkers < 8 {
		t.Errorf("non-blocking workers = %d, want >= 8", cfg.Executor.NonBlockingWorkers)
	}
}

// TestLoad_FileOverridesDefaults 测试 YAML 配置覆盖默认值。
func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
storage:
  driver: postgres
  postgres:
    host: db.internal
executor:
  blocking_workers: 3
  isolation: process
logs:
  root: /var/log/stratus
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Storage.Postgres.Host != "db.internal" {
		t.Errorf("postgres host = %s", cfg.Storage.Postgres.Host)
	}
	if cfg.Executor.BlockingWorkers != 3 {
		t.Errorf("blocking workers = %d, want 3", cfg.Executor.BlockingWorkers)
	}
}

// TestLoad_EnvOverrides 测试敏感配置项的环境变量覆盖。
func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STRATUS_POSTGRES_PASSWORD", "s3cret")
	t.Setenv("STRATUS_JWT_SECRET", "jwt-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Storage.Postgres.Password != "s3cret" {
		t.Error("postgres password env override not applied")
	}
	if cfg.Auth.JWTSecret != "jwt-key" {
		t.Error("jwt secret env override not applied")
	}
}

// TestLoad_Validation 测试启动前的一致性检查。
func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "unknown driver",
			content: "storage:\n  driver: sqlite\n",
		},
		{
			name:    "unknown isolation",
			content: "executor:\n  isolation: container\n",
		},
		{
			// process 隔离需要跨进程共享的存储
			name:    "process isolation with memory store",
			content: "executor:\n  isolation: process\n",
		},
		{
			name:    "auth enabled without secret",
			content: "auth:\n  enabled: true\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() should reject invalid config")
			}
		})
	}
}
