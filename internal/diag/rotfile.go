package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// 日志文件名：当前文件固定名，轮转后为 prefire-msk-<UTC 时间戳>.log。
const (
	currentLogName = "prefire-msk-current.log"
	rotatedPrefix  = "prefire-msk-"
	rotatedSuffix  = ".log"
	rotatedLayout  = "20060102-150405.000000000"
)

// RotatingFile 是 zap 的 WriteSyncer：按大小轮转，保留最近 maxBackups 个轮转文件。
// 单条超过上限的条目写入空的当前文件，不触发轮转。
type RotatingFile struct {
	mu         sync.Mutex
	dir        string
	maxBytes   int64
	maxBackups int
	f          *os.File
	size       int64
}

// NewRotatingFile 创建轮转 sink；maxBytes<=0 取 10 MiB，maxBackups<=0 表示不清理。
// 目录与文件在首次写入时创建。
func NewRotatingFile(dir string, maxBytes int64, maxBackups int) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &RotatingFile{dir: dir, maxBytes: maxBytes, maxBackups: maxBackups}
}

func (w *RotatingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.open(); err != nil {
		return 0, err
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingFile) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	return w.f.Sync()
}

// Close 关闭当前文件；可重复调用。
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *RotatingFile) open() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(w.dir, currentLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	w.size = 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	return nil
}

func (w *RotatingFile) rotate() error {
	if w.f == nil {
		return w.open()
	}
	_ = w.f.Close()
	w.f = nil
	// 纳秒精度，避免同秒覆盖
	name := rotatedPrefix + time.Now().UTC().Format(rotatedLayout) + rotatedSuffix
	if err := os.Rename(filepath.Join(w.dir, currentLogName), filepath.Join(w.dir, name)); err != nil {
		return fmt.Errorf("rename rotated log: %w", err)
	}
	w.prune()
	return w.open()
}

// prune 删除超出 maxBackups 的最旧轮转文件（时间戳文件名按字典序即时间序）。
func (w *RotatingFile) prune() {
	if w.maxBackups <= 0 {
		return
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	var rotated []string
	for _, e := range entries {
		n := e.Name()
		if n != currentLogName && strings.HasPrefix(n, rotatedPrefix) && strings.HasSuffix(n, rotatedSuffix) {
			rotated = append(rotated, n)
		}
	}
	if len(rotated) <= w.maxBackups {
		return
	}
	sort.Strings(rotated)
	for _, n := range rotated[:len(rotated)-w.maxBackups] {
		_ = os.Remove(filepath.Join(w.dir, n))
	}
}
