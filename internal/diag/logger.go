package diag

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 为结构化日志门面：JSON 行写入轮转文件，error 级别同时写 stderr。
// 字段约定：comp, stage(start|finish|error), code, dur_ms, count, corr_id, granule, kv。
// nil 接收者上的调用均为 no-op。
type Logger struct {
	z    *zap.Logger
	sink *RotatingFile
}

// NewLogger 以 level 初始化，日志写入 dir/prefire-msk-current.log，10 MiB 轮转，保留 5 个旧文件。
func NewLogger(corrID, level, dir string) *Logger {
	if strings.TrimSpace(dir) == "" {
		dir = "logs"
	}
	sink := NewRotatingFile(dir, 10<<20, 5)
	enc := zapcore.NewJSONEncoder(encoderConfig())
	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.AddSync(sink), ParseLevel(level)),
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zapcore.ErrorLevel),
	)
	return &Logger{z: zap.New(core).With(zap.String("corr_id", corrID)), sink: sink}
}

// NewLoggerFrom 包装已有 zap.Logger（测试或嵌入方自定义 core）。
func NewLoggerFrom(z *zap.Logger, corrID string) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z.With(zap.String("corr_id", corrID))}
}

// Nop 返回丢弃一切的日志器。
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.MessageKey = "msg"
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	return cfg
}

// ParseLevel 解析 debug|info|warn|error；未知值按 info。
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sync 刷新并关闭文件 sink。
func (l *Logger) Sync() error {
	if l == nil || l.z == nil {
		return nil
	}
	_ = l.z.Sync()
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

func (l *Logger) emit(lv zapcore.Level, comp, stage, msg string, fields ...zap.Field) {
	if l == nil || l.z == nil {
		return
	}
	ce := l.z.Check(lv, msg)
	if ce == nil {
		return
	}
	ce.Write(append([]zap.Field{zap.String("comp", comp), zap.String("stage", stage)}, fields...)...)
}

func kvField(kv map[string]string) zap.Field {
	return zap.Any("kv", kv)
}

func optGranule(granule string) []zap.Field {
	if granule == "" {
		return nil
	}
	return []zap.Field{zap.String("granule", granule)}
}

func durSinceField(since *time.Time) []zap.Field {
	if since == nil {
		return nil
	}
	return []zap.Field{zap.Int64("dur_ms", time.Since(*since).Milliseconds())}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.emit(zapcore.InfoLevel, comp, "start", msg)
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 granule 的 start。
func (l *Logger) StartWith(comp, msg, granule string) *Timer {
	l.emit(zapcore.InfoLevel, comp, "start", msg, optGranule(granule)...)
	return &Timer{l: l, comp: comp, granule: granule, t0: time.Now()}
}

// StartWithKV 记录带 granule 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, granule string, kv map[string]string) *Timer {
	l.emit(zapcore.InfoLevel, comp, "start", msg, append(optGranule(granule), kvField(kv))...)
	return &Timer{l: l, comp: comp, granule: granule, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", nil)
}

// ErrorWith 支持 granule。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, granule string) {
	l.ErrorWithKV(comp, code, msg, durSince, granule, nil)
}

// ErrorWithKV 支持附带键值对（例如子进程退出码、stderr 尾部）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, granule string, kv map[string]string) {
	fields := append([]zap.Field{zap.String("code", code)}, durSinceField(durSince)...)
	fields = append(fields, optGranule(granule)...)
	if len(kv) > 0 {
		fields = append(fields, kvField(kv))
	}
	l.emit(zapcore.ErrorLevel, comp, "error", msg, fields...)
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.emit(zapcore.InfoLevel, comp, "finish", msg,
		zap.Int64("dur_ms", time.Since(start).Milliseconds()), zap.Int64("count", count))
}

// DebugStart 输出调试级别的 start 事件（仅 level=debug 生效）。
func (l *Logger) DebugStart(comp, msg, granule string, kv map[string]string) {
	fields := optGranule(granule)
	if len(kv) > 0 {
		fields = append(fields, kvField(kv))
	}
	l.emit(zapcore.DebugLevel, comp, "start", msg, fields...)
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l       *Logger
	comp    string
	granule string
	t0      time.Time
}

// Elapsed 返回自 start 起的耗时。
func (t *Timer) Elapsed() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.t0)
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	fields := []zap.Field{zap.Int64("dur_ms", t.Elapsed().Milliseconds()), zap.Int64("count", count)}
	t.l.emit(zapcore.InfoLevel, t.comp, "finish", msg, append(fields, optGranule(t.granule)...)...)
}
