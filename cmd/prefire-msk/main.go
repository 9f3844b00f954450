package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cfgpkg "prefiremsk/internal/config"
	"prefiremsk/internal/diag"
	"prefiremsk/internal/pipeline"
)

var pipelineRun = pipeline.Run

// 退出码
const (
	exitOK      = 0
	exitRuntime = 1
	exitUsage   = 2
	exitConfig  = 3
)

// 单粒度 CLI：默认命令处理一个 L1B 粒度；init-env 生成 .env 模板。
// 所有输入经环境变量给出（可由 .env 提供，不覆盖已有 ENV）。
func main() {
	os.Exit(run(os.Args[1:]))
}

type rootFlags struct {
	envFile  string
	logLevel string
	status   bool
}

func run(args []string) int {
	code := exitOK
	root := newRootCmd(&code)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		// 旗标解析等用法错误；运行期错误已在 RunE 内处理并设置 code
		if code == exitOK {
			code = exitUsage
		}
	}
	return code
}

func newRootCmd(code *int) *cobra.Command {
	var f rootFlags
	root := &cobra.Command{
		Use:           "prefire-msk",
		Short:         "Assemble the PREFIRE 2B-MSK cloud-mask product for one L1B granule",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			*code = runProduct(cmd.Context(), f, cmd.ErrOrStderr())
			if *code != exitOK {
				return errors.New("run failed")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "在读取 ENV 前加载的 .env 文件（不覆盖已有 ENV；不存在时忽略）")
	root.Flags().StringVar(&f.logLevel, "log-level", "", "日志级别（覆盖 PREFIRE_MSK_LOG_LEVEL）")
	root.Flags().BoolVar(&f.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")

	root.AddCommand(&cobra.Command{
		Use:   "init-env [dir]",
		Short: "Write a .env template (existing files are left untouched)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			path, created, err := writeDotEnv(dir)
			if err != nil {
				fprintf(cmd.ErrOrStderr(), "生成 .env 模板失败: %v\n", err)
				*code = exitConfig
				return err
			}
			if created {
				fprintf(cmd.OutOrStdout(), "已生成 %s\n", path)
			} else {
				fprintf(cmd.OutOrStdout(), "%s 已存在，跳过\n", path)
			}
			return nil
		},
	})
	return root
}

func runProduct(parent context.Context, f rootFlags, stderr io.Writer) int {
	start := time.Now()
	corrID := uuid.NewString()

	// 在任何 ENV 读取前加载 .env（不覆盖已有 ENV）
	if err := loadDotEnv(f.envFile); err != nil {
		fprintf(stderr, "读取 %s 失败: %v\n", f.envFile, err)
		return exitConfig
	}

	cfg, err := cfgpkg.Load(os.Environ())
	if err == nil {
		if lv := strings.TrimSpace(f.logLevel); lv != "" {
			cfg.Logging.Level = lv
		}
		err = cfgpkg.Validate(cfg)
	}
	logger := diag.NewLogger(corrID, cfg.Logging.Level, cfg.Logging.Dir)
	defer func() { _ = logger.Sync() }()
	if err != nil {
		fprintf(stderr, "配置校验失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), err.Error(), &start)
		return exitConfig
	}

	if err := preflightCheckOutputDir(cfg.OutputDir); err != nil {
		fprintf(stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("config", string(diag.CodeConfig), err.Error(), &start)
		return exitConfig
	}

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fprintf(stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), err.Error(), &start)
		return exitConfig
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if ep := cfg.OTelEndpoint; ep != "" {
		// 遥测不可用不影响产品生成
		setups := []struct {
			comp  string
			setup func(context.Context, string, string) (func(context.Context) error, error)
		}{{"trace", diag.SetupTracing}, {"metrics", diag.SetupMetrics}}
		for _, s := range setups {
			shutdown, err := s.setup(ctx, "prefire-msk", ep)
			if err != nil {
				logger.Error(s.comp, string(diag.CodeIO), err.Error(), nil)
				continue
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(sctx)
			}()
		}
	}

	term := diag.NewTerminal(stderr, f.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	if term != nil {
		term.RunStart(cfg.L1BPath, cfg.RangeSpec)
	}

	logger.DebugStart("config", "effective", filepath.Base(cfg.L1BPath), map[string]string{
		"range":        cfg.RangeSpec,
		"full_version": cfg.FullVersion,
		"granule":      cfg.Components.Granule,
		"inference":    cfg.Components.Inference,
		"writer":       cfg.Components.Writer,
		"output_dir":   cfg.OutputDir,
		"product_spec": cfg.Sidecars.ProductSpec,
	})

	t := logger.Start("pipeline", "run")
	p, err := pipelineRun(ctx, comp, set, logger)
	if err != nil {
		code := diag.Classify(err)
		logger.Error("pipeline", string(code), "first error", &start)
		diag.IncOp("pipeline", "error", "error")
		if code != diag.CodeUnknown {
			diag.IncError("pipeline", string(code))
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(stderr, "运行失败: %v\n", err)
		}
		if term != nil {
			term.RunFinish(false, "", 0, time.Since(start))
		}
		return exitRuntime
	}
	t.Finish("run", 1)
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	if term != nil {
		var size int64
		if st, err := os.Stat(p.Path); err == nil {
			size = st.Size()
		}
		term.RunFinish(true, p.Path, size, time.Since(start))
	}
	return exitOK
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

// loadDotEnv 将 .env 注入进程环境；文件不存在时忽略，已有 ENV 优先。
func loadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// writeDotEnv 在 dir 下生成 .env 模板；已存在时不覆盖。
func writeDotEnv(dir string) (path string, created bool, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	path = filepath.Join(dir, ".env")
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return path, false, nil
		}
		return "", false, err
	}
	defer fh.Close()
	if _, err := fh.WriteString(cfgpkg.DotEnvTemplate()); err != nil {
		return "", false, err
	}
	return path, true, nil
}

// preflightCheckOutputDir 在运行前检查输出目录可写性：
// - 目录已存在：尝试创建并删除临时文件；
// - 目录不存在：向上找到最近的已存在祖先并检查其可写性（目录由写出阶段创建）。
func preflightCheckOutputDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	for {
		st, err := os.Stat(dir)
		if err == nil {
			if !st.IsDir() {
				return fmt.Errorf("路径存在但不是目录: %s", dir)
			}
			f, err := os.CreateTemp(dir, ".wcheck-*")
			if err != nil {
				return err
			}
			name := f.Name()
			_ = f.Close()
			_ = os.Remove(name)
			return nil
		}
		if !os.IsNotExist(err) {
			return err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return fmt.Errorf("无法确定父目录: %s", dir)
		}
		dir = parent
	}
}
