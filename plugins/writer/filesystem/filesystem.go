package filesystem

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"prefiremsk/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 默认值：true。未提供该字段时采用原子写；显式 false 可关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用实现/平台默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用实现默认。
	BufSize int `json:"buf_size,omitempty"`
}

// cborModule: 产品容器编码库，其版本记录为 netCDF_lib_version。
const cborModule = "github.com/fxamacker/cbor/v2"

type FS struct {
	atomic  bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
	enc     cbor.EncMode
}

// New 创建文件系统 Writer 实现。
func New(opts *Options) (*FS, error) {
	if opts == nil {
		opts = &Options{}
	}
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = 64 * 1024
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	atomic := true
	if opts.Atomic != nil {
		atomic = *opts.Atomic
	}
	// 规范编码：相同 Payload 得到逐字节相同的文件
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("%w: cbor encoder: %v", contract.ErrWrite, err)
	}
	return &FS{atomic: atomic, permF: pf, permD: pd, bufSize: bsz, enc: enc}, nil
}

var _ contract.Writer = (*FS)(nil)

var libVersion = sync.OnceValue(func() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, dep := range info.Deps {
		if dep.Path == cborModule {
			if dep.Replace != nil {
				dep = dep.Replace
			}
			return dep.Version
		}
	}
	return "unknown"
})

// LibraryVersion 返回编码库版本（构建信息不可用时为 "unknown"）。
func (w *FS) LibraryVersion() string { return libVersion() }

// Write 依据产品规格校验并编码 Payload，落盘到 destPath。
// 失败时 destPath 保持原状（原子模式）。
func (w *FS) Write(ctx context.Context, p contract.Payload, destPath, specPath string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := checkDest(destPath); err != nil {
		return err
	}
	spec, err := LoadFilespec(specPath)
	if err != nil {
		return err
	}
	doc, err := spec.Build(p)
	if err != nil {
		return err
	}
	body, err := w.enc.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: encode product: %v", contract.ErrWrite, err)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), w.permD); err != nil {
		return fmt.Errorf("%w: %w", contract.ErrWrite, err)
	}
	if w.atomic {
		err = w.writeAtomic(ctx, destPath, bytes.NewReader(body))
	} else {
		err = w.writeOverwrite(ctx, destPath, bytes.NewReader(body))
	}
	if err != nil {
		return fmt.Errorf("%w: %w", contract.ErrWrite, err)
	}
	return nil
}

// checkDest: 目标必须是具体文件名。
func checkDest(dest string) error {
	base := filepath.Base(filepath.Clean(dest))
	if dest == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		return fmt.Errorf("%w: %w: %q", contract.ErrWrite, contract.ErrPathInvalid, dest)
	}
	if st, err := os.Stat(dest); err == nil && st.IsDir() {
		return fmt.Errorf("%w: %w: %q is a directory", contract.ErrWrite, contract.ErrPathInvalid, dest)
	}
	return nil
}

func (w *FS) writeOverwrite(ctx context.Context, dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	return bw.Flush()
}

func (w *FS) writeAtomic(ctx context.Context, dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, w.permF)

	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 同目录 rename：目标要么是旧产品，要么是完整的新产品
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 最佳努力：同步父目录，提升崩溃安全性
	_ = syncDir(dir)
	return nil
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}
