package logstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oriys/stratus/internal/domain"
	"github.com/sirupsen/logrus"
)

// defaultPollInterval 是没有文件系统通知可用时的回退轮询间隔。
// 保持在远低于 100ms 的水平，使短命请求的观察延迟不受影响。
const defaultPollInterval = 50 * time.Millisecond

// waitingMarkerInterval 是等待 blocking 请求开始执行时
// 进度标记行的发送间隔。
const waitingMarkerInterval = 2 * time.Second

// Options 控制一次日志流的行为。
type Options struct {
	// Tail 大于 0 时先输出最后 N 行可见文本，再进入 live 模式
	Tail int
	// Plain 为 true 时剥离终端转义序列并丢弃控制载荷行
	Plain bool
	// Follow 为 false 时到达文件末尾即结束，不等待追加
	Follow bool
}

// Streamer 按请求 id 或显式路径产生日志文本流。
// 每个流持有自己的文件游标、缓冲与文件监视器，多个并发流
// （无论是否指向同一请求）互不干扰。
type Streamer struct {
	store        domain.RequestStore
	logRoot      string
	logger       *logrus.Logger
	pollInterval time.Duration
}

// New 创建日志流读取器。logRoot 是允许访问的日志根目录。
func New(store domain.RequestStore, logRoot string, logger *logrus.Logger) *Streamer {
	return &Streamer{
		store:        store,
		logRoot:      logRoot,
		logger:       logger,
		pollInterval: defaultPollInterval,
	}
}

// ResolvePath 把请求的日志路径解析到允许的根目录内。
// 相对路径相对根目录解析；解析结果逃逸根目录时在任何文件
// 访问发生之前返回 ErrPathOutsideLogRoot。
func (s *Streamer) ResolvePath(path string) (string, error) {
	root, err := filepath.Abs(s.logRoot)
	if err != nil {
		return "", err
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", domain.ErrPathOutsideLogRoot, path)
	}
	return resolved, nil
}

// StreamRequest 流式输出指定请求的日志。
// 记录尚未进入 running 时先等待（blocking 请求周期性地输出
// 人类可读的进度标记），随后进入文件流；live 模式持续到记录
// 到达终止状态或 ctx 结束。
func (s *Streamer) StreamRequest(ctx context.Context, id string, opts Options, w io.Writer) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	lastMarker := time.Time{}
	for rec.Status == domain.RequestStatusPending {
		if rec.ScheduleType == domain.ScheduleTypeBlocking && time.Since(lastMarker) >= waitingMarkerInterval {
			fmt.Fprintf(w, "Waiting for request %s to be scheduled...\n", id)
			flush(w)
			lastMarker = time.Now()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
		rec, err = s.store.Get(ctx, id)
		if err != nil {
			return err
		}
	}

	return s.streamFile(ctx, rec.LogPath, id, opts, w)
}

// StreamPath 流式输出根目录内任意日志文件。
// 没有所属记录时，live 模式只在 ctx 结束（调用方断开）时停止。
func (s *Streamer) StreamPath(ctx context.Context, path string, opts Options, w io.Writer) error {
	resolved, err := s.ResolvePath(path)
	if err != nil {
		return err
	}
	return s.streamFile(ctx, resolved, "", opts, w)
}

// streamFile 是两种入口共用的文件流主体。
func (s *Streamer) streamFile(ctx context.Context, path, ownerID string, opts Options, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	var pending strings.Builder

	emit := func(line string) {
		if _, isPayload := DecodePayload(line); isPayload {
			// 纯文本模式下控制载荷行解码后丢弃
			if opts.Plain {
				return
			}
			io.WriteString(w, line)
			flush(w)
			return
		}
		if opts.Plain {
			line = StripANSI(line)
		}
		io.WriteString(w, line)
		flush(w)
	}

	// tail 阶段：流过整个文件，只保留最后 N 行可见文本
	if opts.Tail > 0 {
		buf := newTailBuffer(opts.Tail)
		for {
			line, ok, rerr := readLine(reader, &pending)
			if ok {
				if _, isPayload := DecodePayload(line); !isPayload {
					buf.Push(line)
				}
				continue
			}
			if rerr != nil && !errors.Is(rerr, io.EOF) {
				return rerr
			}
			break
		}
		for _, line := range buf.Ordered() {
			emit(line)
		}
	}

	// 每个流独立的文件监视器：追加即唤醒，失败时退回轮询
	var watchCh chan fsnotify.Event
	if opts.Follow {
		if watcher, werr := fsnotify.NewWatcher(); werr == nil {
			defer watcher.Close()
			if werr := watcher.Add(path); werr == nil {
				watchCh = make(chan fsnotify.Event, 1)
				go forwardWrites(watcher, watchCh)
			}
		}
	}

	ownerFinished := false
	for {
		line, ok, rerr := readLine(reader, &pending)
		if ok {
			emit(line)
			continue
		}
		if rerr != nil && !errors.Is(rerr, io.EOF) {
			return rerr
		}

		// 文件末尾
		if !opts.Follow {
			break
		}
		if ownerFinished {
			// 终态确认后的最后一次补读也已结束
			break
		}
		if ownerID != "" {
			rec, err := s.store.Get(ctx, ownerID)
			if err != nil {
				return err
			}
			if rec.Finished() {
				// 先标记再补读一轮，避免漏掉与终态转换竞争的尾部输出
				ownerFinished = true
				continue
			}
		}
		if err := s.waitForAppend(ctx, watchCh); err != nil {
			return err
		}
	}

	// 不完整的最后一行原样输出
	if pending.Len() > 0 {
		emit(pending.String())
	}
	return nil
}

// readLine 读出下一行完整文本；文件暂时没有完整行时返回 ok=false。
// 不完整的尾部在 pending 中累积，等待后续追加补全。
func readLine(reader *bufio.Reader, pending *strings.Builder) (string, bool, error) {
	chunk, err := reader.ReadString('\n')
	pending.WriteString(chunk)
	if strings.HasSuffix(chunk, "\n") {
		line := pending.String()
		pending.Reset()
		return line, true, nil
	}
	return "", false, err
}

// waitForAppend 等待文件追加：优先使用文件系统通知，回退到
// 有界短轮询，两者都保持远低于 100ms 的观察延迟。
func (s *Streamer) waitForAppend(ctx context.Context, watchCh chan fsnotify.Event) error {
	if watchCh != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-watchCh:
			return nil
		case <-time.After(s.pollInterval):
			return nil
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.pollInterval):
		return nil
	}
}

// forwardWrites 把写事件压缩转发到容量为 1 的通道。
func forwardWrites(watcher *fsnotify.Watcher, ch chan fsnotify.Event) {
	for ev := range watcher.Events {
		if ev.Op&fsnotify.Write == 0 {
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// flush 在底层写入器支持时立刻冲刷缓冲（HTTP 分块响应）。
func flush(w io.Writer) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
