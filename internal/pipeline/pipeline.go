package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/codes"

	"prefiremsk/internal/attrs"
	"prefiremsk/internal/diag"
	"prefiremsk/internal/model"
	"prefiremsk/internal/naming"
	"prefiremsk/pkg/contract"
)

// - 单线程、同步、单趟：一次调用处理一个粒度。
// - 输入句柄按阶段打开与关闭（探测、透传各一次），不跨推理阶段持有。
// - 任一阶段失败即整体失败；产品只在最后由 Writer 一次性落盘。

// Components 聚合运行所需的协作方。
type Components struct {
	Granules  contract.GranuleOpener
	Inference contract.Inference
	Writer    contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	AncillaryDir string
	L1BPath      string
	AuxMetPath   string
	OutputDir    string

	Overrides   model.Overrides
	Range       contract.RangeRequest
	FullVersion string

	// 边车文件：provenance 模板、算法版本、产品规格
	PrdGitVPath     string
	VersionPath     string
	ProductSpecPath string

	// Now: 创建时间来源；nil 使用 time.Now。
	Now func() time.Time
}

// Product: Assemble 的结果。Payload 交给 Writer 后不再修改。
type Product struct {
	Payload   contract.Payload
	FileName  string
	OutputDir string
	Path      string
	Selection contract.ModelSelection
	Range     contract.AtrackRange
}

// inspection 为第一次打开输入文件得到的信息。
type inspection struct {
	identity contract.SensorIdentity
	nXtrack  int
	rng      contract.AtrackRange
}

// passthrough 为第二次打开输入文件复制的内容。
type passthrough struct {
	geometry contract.Group
	geoAttrs contract.Attrs
	globals  contract.Attrs
}

// Run 执行 Assemble，创建输出目录后交给 Writer 落盘。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Product, error) {
	p, err := Assemble(ctx, comp, set, logger)
	if err != nil {
		return Product{}, err
	}
	granule := filepath.Base(set.L1BPath)
	err = stage(ctx, logger, "writer", granule, func(ctx context.Context) error {
		// 目录已存在不是错误
		if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
			return fmt.Errorf("%w: output dir: %w", contract.ErrWrite, err)
		}
		return comp.Writer.Write(ctx, p.Payload, p.Path, set.ProductSpecPath)
	})
	if err != nil {
		return Product{}, fmt.Errorf("writer write: %w", err)
	}
	return p, nil
}

// Assemble 执行探测 → 模型选择 → 推理 → 透传 → 合并 → 全局属性 → 命名。
// 不产生任何文件。
func Assemble(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Product, error) {
	if err := sanity(comp, set); err != nil {
		return Product{}, fmt.Errorf("sanity: %w", err)
	}
	granule := filepath.Base(set.L1BPath)

	var pr inspection
	if err := stage(ctx, logger, "inspect", granule, func(ctx context.Context) error {
		var err error
		pr, err = inspectGranule(ctx, comp.Granules, set)
		return err
	}); err != nil {
		return Product{}, fmt.Errorf("inspect: %w", err)
	}

	sel := model.Select(set.AncillaryDir, pr.identity.SensorID, pr.nXtrack, set.Overrides)
	logger.DebugStart("model", "select", granule, map[string]string{
		"sensor":           pr.identity.SensorID,
		"training_version": sel.TrainingVersion,
		"models":           fmt.Sprintf("%d", len(sel.ModelPaths)),
	})

	var inferred map[string]contract.Group
	if err := stage(ctx, logger, "inference", granule, func(ctx context.Context) error {
		out, err := comp.Inference.Run(ctx, contract.InferenceRequest{
			L1BPath:    set.L1BPath,
			AuxMetPath: set.AuxMetPath,
			ModelPaths: sel.ModelPaths,
			OutputDir:  set.OutputDir,
			NXtrack:    pr.nXtrack,
			ReturnData: true,
			Range:      pr.rng,
		})
		if err != nil {
			if !errors.Is(err, contract.ErrInference) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %w", contract.ErrInference, err)
			}
			return err
		}
		if _, ok := out[contract.GroupMsk]; !ok {
			return fmt.Errorf("%w: result has no %q group", contract.ErrInference, contract.GroupMsk)
		}
		inferred = out
		return nil
	}); err != nil {
		return Product{}, fmt.Errorf("inference: %w", err)
	}

	var pt passthrough
	if err := stage(ctx, logger, "passthrough", granule, func(ctx context.Context) error {
		var err error
		pt, err = copyPassthrough(ctx, comp.Granules, set.L1BPath, pr.rng)
		return err
	}); err != nil {
		return Product{}, fmt.Errorf("passthrough: %w", err)
	}

	var prod Product
	if err := stage(ctx, logger, "assemble", granule, func(ctx context.Context) error {
		var err error
		prod, err = build(comp, set, pr, sel, inferred, pt)
		return err
	}); err != nil {
		return Product{}, fmt.Errorf("assemble: %w", err)
	}
	return prod, nil
}

// inspectGranule 读取传感器标识、跨轨大小并针对实际 atrack 大小解析区间。
func inspectGranule(ctx context.Context, opener contract.GranuleOpener, set Settings) (pr inspection, err error) {
	g, err := opener.Open(ctx, set.L1BPath)
	if err != nil {
		return inspection{}, err
	}
	defer func() {
		if cerr := g.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close: %w", contract.ErrInputRead, cerr)
		}
	}()
	sc, err := lastCharAttr(g, attrs.KeySpacecraftID)
	if err != nil {
		return inspection{}, err
	}
	sensor, err := lastCharAttr(g, attrs.KeySensorID)
	if err != nil {
		return inspection{}, err
	}
	nx, err := g.DimSize(contract.DimXtrack)
	if err != nil {
		return inspection{}, err
	}
	full, err := g.DimSize(contract.DimAtrack)
	if err != nil {
		return inspection{}, err
	}
	rng, err := contract.Resolve(set.Range, full)
	if err != nil {
		return inspection{}, err
	}
	return inspection{
		identity: contract.SensorIdentity{SpacecraftID: sc, SensorID: sensor},
		nXtrack:  nx,
		rng:      rng,
	}, nil
}

// copyPassthrough 复制 Geometry 组（按区间子集）、其组属性与全局描述字段。
func copyPassthrough(ctx context.Context, opener contract.GranuleOpener, path string, rng contract.AtrackRange) (pt passthrough, err error) {
	g, err := opener.Open(ctx, path)
	if err != nil {
		return passthrough{}, err
	}
	defer func() {
		if cerr := g.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close: %w", contract.ErrInputRead, cerr)
		}
	}()
	geo, err := g.GroupVariables(contract.GroupGeometry, rng)
	if err != nil {
		return passthrough{}, err
	}
	geoAttrs, err := g.GroupAttributes(contract.GroupGeometry)
	if err != nil {
		return passthrough{}, err
	}
	globals := contract.Attrs{}
	for _, name := range attrs.Passthrough {
		v, ok := g.Attr(name)
		if !ok {
			return passthrough{}, &contract.AttrError{Name: name, Reason: "missing"}
		}
		globals[name] = v
	}
	return passthrough{geometry: geo, geoAttrs: geoAttrs, globals: globals}, nil
}

// build 合并推理结果与透传内容，生成全局属性与文件名。
func build(comp Components, set Settings, pr inspection, sel contract.ModelSelection, inferred map[string]contract.Group, pt passthrough) (Product, error) {
	p := contract.NewPayload()
	p.Groups[contract.GroupGeometry] = pt.geometry
	p.GroupAttrs[contract.GroupGeometry] = pt.geoAttrs

	// 浅合并：推理结果的键覆盖同名键
	msk := contract.Group{}
	for k, v := range inferred[contract.GroupMsk] {
		msk[k] = v
	}
	p.Groups[contract.GroupMsk] = msk
	p.GroupAttrs[contract.GroupMsk] = contract.Attrs{attrs.KeyTrainingVersion: sel.TrainingVersion}

	for k, v := range pt.globals {
		p.Global[k] = v
	}

	tmpl, err := attrs.ReadFirstLine(set.PrdGitVPath)
	if err != nil {
		return Product{}, err
	}
	prov, err := attrs.SpliceProvenance(tmpl, set.FullVersion)
	if err != nil {
		return Product{}, err
	}
	p.Global[attrs.KeyProvenance] = prov

	algID, err := attrs.ProcessingAlgorithmID(set.VersionPath)
	if err != nil {
		return Product{}, err
	}
	p.Global[attrs.KeyProcessingAlgorithm] = algID
	p.Global[attrs.KeyInputProductFiles] = attrs.InputProductFiles(set.L1BPath, set.AuxMetPath)

	archival, err := attrs.ArchivalVersion(set.FullVersion)
	if err != nil {
		return Product{}, err
	}
	p.Global[attrs.KeyFullVersion] = set.FullVersion
	p.Global[attrs.KeyArchivalVersion] = archival
	p.Global[attrs.KeyLibVersion] = comp.Writer.LibraryVersion()

	granuleID, ok := pt.globals[attrs.KeyGranuleID].(string)
	if !ok {
		return Product{}, &contract.AttrError{Name: attrs.KeyGranuleID, Reason: "not a string"}
	}
	token, err := naming.InputToken(set.L1BPath)
	if err != nil {
		return Product{}, err
	}
	name, err := naming.Build(naming.Fields{
		SpacecraftID: pr.identity.SpacecraftID,
		FullVersion:  set.FullVersion,
		InputToken:   token,
		GranuleID:    granuleID,
		Range:        pr.rng,
	})
	if err != nil {
		return Product{}, err
	}
	p.Global[attrs.KeyFileName] = name

	now := time.Now
	if set.Now != nil {
		now = set.Now
	}
	p.Global[attrs.KeyCreationTime] = attrs.CreationTime(now())

	return Product{
		Payload:   p,
		FileName:  name,
		OutputDir: set.OutputDir,
		Path:      filepath.Join(set.OutputDir, name),
		Selection: sel,
		Range:     pr.rng,
	}, nil
}

// stage 执行单个阶段：结构化日志、指标、span 与终端提示。
func stage(ctx context.Context, logger *diag.Logger, comp, granule string, fn func(context.Context) error) error {
	ctx, span := diag.StartSpan(ctx, "msk."+comp)
	defer span.End()
	if t := diag.GetTerminal(); t != nil {
		t.StageStart(comp)
	}
	timer := logger.StartWith(comp, "start", granule)
	t0 := time.Now()
	if err := fn(ctx); err != nil {
		code := diag.Classify(err)
		logger.ErrorWith(comp, string(code), err.Error(), &t0, granule)
		diag.IncOp(comp, "error", "error")
		if code != diag.CodeUnknown {
			diag.IncError(comp, string(code))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
		return err
	}
	timer.Finish("done", 0)
	diag.IncOp(comp, "finish", "success")
	diag.ObserveDuration(comp, "finish", time.Since(t0).Milliseconds())
	if t := diag.GetTerminal(); t != nil {
		t.StageDone(comp, time.Since(t0))
	}
	return nil
}

// lastCharAttr 取字符串属性的最后一个字符（如 "PREFIRE02" → "2"）。
func lastCharAttr(g contract.Granule, name string) (string, error) {
	s, err := contract.StringAttr(g, name)
	if err != nil {
		return "", err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &contract.AttrError{Name: name, Reason: "empty"}
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	return string(r), nil
}

func sanity(c Components, s Settings) error {
	if c.Granules == nil || c.Inference == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if strings.TrimSpace(s.L1BPath) == "" || strings.TrimSpace(s.OutputDir) == "" {
		return fmt.Errorf("%w: pipeline: input or output path empty", contract.ErrConfig)
	}
	return nil
}
