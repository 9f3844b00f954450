// Package exec 以子进程方式运行外部云掩膜推理程序。
//
// 协议：请求以 JSON 写入子进程 stdin；子进程把结果以 CBOR 写入 result_path，
// 结构为 {group: {var: {dims: [...], data: [...]}}}。非零退出、超时或结果不可解码
// 均以 ErrInference 上抛，并附带 stderr 尾部。
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"prefiremsk/pkg/contract"
)

// Options: 子进程调用选项。
type Options struct {
	// Command: argv（必需）。
	Command []string `json:"command"`
	// Env: 追加到当前进程环境的 KEY=VALUE。
	Env []string `json:"env,omitempty"`
	// TimeoutSeconds: <=0 表示不设超时。
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	// KeepWorkDir: 保留私有工作目录（排查用）。
	KeepWorkDir bool `json:"keep_work_dir,omitempty"`
}

// stderrTail: 错误信息中保留的 stderr 尾部字节数。
const stderrTail = 2048

// Runner 调用外部推理程序。
type Runner struct {
	argv    []string
	env     []string
	timeout time.Duration
	keep    bool
}

// New 创建 Runner；Command 为空时返回 ErrConfig。
func New(opts *Options) (*Runner, error) {
	if opts == nil || len(opts.Command) == 0 || strings.TrimSpace(opts.Command[0]) == "" {
		return nil, fmt.Errorf("%w: exec inference requires a command", contract.ErrConfig)
	}
	for _, kv := range opts.Env {
		if !strings.Contains(kv, "=") {
			return nil, fmt.Errorf("%w: exec inference env entry %q is not KEY=VALUE", contract.ErrConfig, kv)
		}
	}
	argv := append([]string(nil), opts.Command...)
	// 子进程在私有工作目录中启动；相对路径需先固定
	if strings.ContainsRune(argv[0], filepath.Separator) && !filepath.IsAbs(argv[0]) {
		abs, err := filepath.Abs(argv[0])
		if err != nil {
			return nil, fmt.Errorf("%w: exec inference command: %v", contract.ErrConfig, err)
		}
		argv[0] = abs
	}
	r := &Runner{
		argv: argv,
		env:  append([]string(nil), opts.Env...),
		keep: opts.KeepWorkDir,
	}
	if opts.TimeoutSeconds > 0 {
		r.timeout = time.Duration(opts.TimeoutSeconds) * time.Second
	}
	return r, nil
}

var _ contract.Inference = (*Runner)(nil)

// Request 为写入子进程 stdin 的 JSON。
type Request struct {
	L1BPath     string   `json:"l1b_path"`
	AuxMetPath  string   `json:"aux_met_path"`
	ModelPaths  []string `json:"model_paths"`
	OutputDir   string   `json:"output_dir"`
	NXtrack     int      `json:"n_xtrack"`
	AtrackStart int      `json:"atrack_start"`
	// AtrackStop: 半开上界；null 表示直到末尾。
	AtrackStop *int   `json:"atrack_stop"`
	ReturnData bool   `json:"return_data"`
	ResultPath string `json:"result_path"`
}

// ResultVar 为结果文件中的单个变量。
type ResultVar struct {
	Dims []string `cbor:"dims"`
	Data any      `cbor:"data"`
}

// Result 为结果文件的顶层结构。
type Result map[string]map[string]ResultVar

// Run 执行一次推理。
func (r *Runner) Run(ctx context.Context, req contract.InferenceRequest) (map[string]contract.Group, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	work, err := os.MkdirTemp("", "prefire-msk-inference-*")
	if err != nil {
		return nil, fmt.Errorf("%w: work dir: %v", contract.ErrInference, err)
	}
	if !r.keep {
		defer os.RemoveAll(work)
	}
	resultPath := filepath.Join(work, "result.cbor")
	// 子进程的工作目录是 work，请求中的路径须相对调用方 cwd 固定为绝对路径
	paths, err := absRequest(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrInference, err)
	}
	body, err := json.Marshal(Request{
		L1BPath:     paths.L1BPath,
		AuxMetPath:  paths.AuxMetPath,
		ModelPaths:  paths.ModelPaths,
		OutputDir:   paths.OutputDir,
		NXtrack:     req.NXtrack,
		AtrackStart: req.Range.Start,
		AtrackStop:  req.Range.Stop,
		ReturnData:  req.ReturnData,
		ResultPath:  resultPath,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", contract.ErrInference, err)
	}

	cmd := osexec.CommandContext(ctx, r.argv[0], r.argv[1:]...)
	cmd.Dir = work
	cmd.Env = append(os.Environ(), r.env...)
	cmd.Stdin = bytes.NewReader(body)
	tail := &tailBuffer{max: stderrTail}
	cmd.Stdout = tail
	cmd.Stderr = tail
	// 子进程被杀后，管道拷贝最多再等待该时长
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %s: %w (output: %s)", contract.ErrInference, filepath.Base(r.argv[0]), ctxErr, tail.String())
		}
		var exitErr *osexec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s exited with code %d (output: %s)", contract.ErrInference, filepath.Base(r.argv[0]), exitErr.ExitCode(), tail.String())
		}
		return nil, fmt.Errorf("%w: start %s: %v", contract.ErrInference, r.argv[0], err)
	}
	return readResult(resultPath)
}

// absRequest 返回路径字段均为绝对路径的请求副本；空路径保持为空。
func absRequest(req contract.InferenceRequest) (contract.InferenceRequest, error) {
	abs := func(p string) (string, error) {
		if p == "" || filepath.IsAbs(p) {
			return p, nil
		}
		a, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", p, err)
		}
		return a, nil
	}
	out := req
	var err error
	if out.L1BPath, err = abs(req.L1BPath); err != nil {
		return out, err
	}
	if out.AuxMetPath, err = abs(req.AuxMetPath); err != nil {
		return out, err
	}
	if out.OutputDir, err = abs(req.OutputDir); err != nil {
		return out, err
	}
	out.ModelPaths = make([]string, len(req.ModelPaths))
	for i, p := range req.ModelPaths {
		if out.ModelPaths[i], err = abs(p); err != nil {
			return out, err
		}
	}
	return out, nil
}

func readResult(path string) (map[string]contract.Group, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: result missing: %v", contract.ErrInference, err)
	}
	var res Result
	if err := cbor.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: decode result: %v", contract.ErrInference, err)
	}
	out := make(map[string]contract.Group, len(res))
	for gname, vars := range res {
		grp := make(contract.Group, len(vars))
		for vname, v := range vars {
			grp[vname] = contract.Variable{Dims: v.Dims, Data: v.Data}
		}
		out[gname] = grp
	}
	if _, ok := out[contract.GroupMsk]; !ok {
		return nil, fmt.Errorf("%w: result has no %q group", contract.ErrInference, contract.GroupMsk)
	}
	return out, nil
}

// tailBuffer 只保留最后 max 字节输出。
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
