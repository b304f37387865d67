// Package logstream 实现请求日志的流式读取：tail 环形缓冲、
// 控制载荷行的识别与过滤、终端转义序列的剥离，以及在记录到达
// 终止状态前跟随文件追加的 live 模式。
package logstream

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// 控制载荷行的保留包裹标记。
// 结构化数据以单行文本的形式搭载在日志流里，供程序化消费者
// 提取；纯文本模式下这些行被解码后丢弃，不展示给人类读者。
const (
	payloadOpen  = "<stratus-payload>"
	payloadClose = "</stratus-payload>"
)

// EncodePayload 把结构化数据编码为一行控制载荷。
func EncodePayload(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return payloadOpen + string(data) + payloadClose + "\n", nil
}

// DecodePayload 判断一行是否为控制载荷并提取其结构化内容。
// 包裹标记存在但内容不是合法 JSON 的行同样按载荷处理（返回
// raw=nil），保证纯文本消费者不会因畸形载荷中断。
func DecodePayload(line string) (raw json.RawMessage, isPayload bool) {
	trimmed := strings.TrimSuffix(line, "\n")
	if !strings.HasPrefix(trimmed, payloadOpen) || !strings.HasSuffix(trimmed, payloadClose) {
		return nil, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(trimmed, payloadOpen), payloadClose)
	if !json.Valid([]byte(body)) {
		return nil, true
	}
	return json.RawMessage(body), true
}

// ansiPattern 匹配终端颜色与控制转义序列。
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]`)

// StripANSI 去掉终端转义序列，用于纯文本展示模式。
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// tailBuffer 是固定容量的环形行缓冲。
// tail 模式只保留最后 N 行可见文本，整个文件从不载入内存。
type tailBuffer struct {
	lines []string
	next  int
	full  bool
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{lines: make([]string, capacity)}
}

// Push 追加一行，容量满后覆盖最旧的行。
func (b *tailBuffer) Push(line string) {
	if len(b.lines) == 0 {
		return
	}
	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
}

// Ordered 按原始顺序返回缓冲中的行。
func (b *tailBuffer) Ordered() []string {
	if !b.full {
		return b.lines[:b.next]
	}
	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.next:]...)
	out = append(out, b.lines[:b.next]...)
	return out
}
