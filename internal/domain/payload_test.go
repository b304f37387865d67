// Package domain 定义了请求调度与执行子系统的核心领域模型。
package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

// TestParsePayload 测试准入路径上的载荷解码与校验。
// 覆盖各操作种类的合法输入、字段缺失、未知种类与畸形 JSON。
func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		kind    OperationKind
		raw     string
		wantErr error
	}{
		{
			name: "valid cluster launch",
			kind: OpClusterLaunch,
			raw:  `{"cluster_name": "dev", "provider": "aws", "num_nodes": 2}`,
		},
		{
			name:    "launch missing cluster name",
			kind:    OpClusterLaunch,
			raw:     `{"provider": "aws"}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "launch missing provider",
			kind:    OpClusterLaunch,
			raw:     `{"cluster_name": "dev"}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "launch negative nodes",
			kind:    OpClusterLaunch,
			raw:     `{"cluster_name": "dev", "provider": "aws", "num_nodes": -1}`,
			wantErr: ErrInvalidPayload,
		},
		{
			// 空载荷的 status 查询表示查询全部集群
			name: "empty status payload",
			kind: OpClusterStatus,
			raw:  "",
		},
		{
			name:    "status with empty cluster name",
			kind:    OpClusterStatus,
			raw:     `{"cluster_names": ["dev", ""]}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name: "valid job submit",
			kind: OpJobSubmit,
			raw:  `{"cluster_name": "dev", "command": "python train.py"}`,
		},
		{
			name:    "job submit missing command",
			kind:    OpJobSubmit,
			raw:     `{"cluster_name": "dev"}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "stop missing cluster name",
			kind:    OpClusterStop,
			raw:     `{}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name: "valid down with purge",
			kind: OpClusterDown,
			raw:  `{"cluster_name": "dev", "purge": true}`,
		},
		{
			name:    "unknown kind",
			kind:    OperationKind("cluster.resize"),
			raw:     `{}`,
			wantErr: ErrUnknownPayloadKind,
		},
		{
			name:    "malformed json",
			kind:    OpJobQueue,
			raw:     `{"cluster_name": `,
			wantErr: ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePayload(tt.kind, json.RawMessage(tt.raw))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParsePayload() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePayload() unexpected error: %v", err)
			}
			if p.Kind() != tt.kind {
				t.Errorf("parsed payload kind = %s, want %s", p.Kind(), tt.kind)
			}
		})
	}
}
