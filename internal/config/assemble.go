package config

import (
	"errors"
	"fmt"
	"strings"

	"prefiremsk/internal/attrs"
	"prefiremsk/internal/model"
	"prefiremsk/internal/pipeline"
	"prefiremsk/pkg/contract"
	"prefiremsk/pkg/registry"
)

// Validate 对配置做静态校验；所有失败包裹 contract.ErrConfig。
func Validate(cfg Config) error {
	var missing []string
	for _, f := range []struct{ name, val string }{
		{"ANCILLARY_DATA_DIR", cfg.AncillaryDir},
		{"L1B_RAD_FILE", cfg.L1BPath},
		{"AUX_MET_FILE", cfg.AuxMetPath},
		{"OUTPUT_DIR", cfg.OutputDir},
	} {
		if strings.TrimSpace(f.val) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: required variables not set: %s", contract.ErrConfig, strings.Join(missing, ", "))
	}
	if cfg.Range.Dim != contract.DimAtrack {
		return fmt.Errorf("%w: range dimension %q, want %q", contract.ErrConfig, cfg.Range.Dim, contract.DimAtrack)
	}
	if cfg.Range.Start < 0 {
		return fmt.Errorf("%w: range start %d < 0", contract.ErrConfig, cfg.Range.Start)
	}
	if cfg.Range.Stop != nil && *cfg.Range.Stop <= cfg.Range.Start {
		return fmt.Errorf("%w: range stop index %d < start %d", contract.ErrConfig, *cfg.Range.Stop-1, cfg.Range.Start)
	}
	if !attrs.ValidFullVersion(cfg.FullVersion) {
		return fmt.Errorf("%w: PRODUCT_FULLVER %q does not match Rzz_Pxx", contract.ErrConfig, cfg.FullVersion)
	}
	for _, s := range []struct{ name, val string }{
		{"provenance template", cfg.Sidecars.PrdGitV},
		{"version file", cfg.Sidecars.Version},
		{"product spec", cfg.Sidecars.ProductSpec},
	} {
		if strings.TrimSpace(s.val) == "" {
			return fmt.Errorf("%w: %s path empty", contract.ErrConfig, s.name)
		}
	}
	if registry.Granule[cfg.Components.Granule] == nil {
		return fmt.Errorf("%w: granule reader %q not registered", contract.ErrConfig, cfg.Components.Granule)
	}
	if registry.Inference[cfg.Components.Inference] == nil {
		return fmt.Errorf("%w: inference %q not registered", contract.ErrConfig, cfg.Components.Inference)
	}
	if registry.Writer[cfg.Components.Writer] == nil {
		return fmt.Errorf("%w: writer %q not registered", contract.ErrConfig, cfg.Components.Writer)
	}
	return nil
}

// Assemble 构造 pipeline 的 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	g, err := registry.Granule[cfg.Components.Granule](cfg.Options.Granule)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, optionsErr("granule", err)
	}
	inf, err := registry.Inference[cfg.Components.Inference](cfg.Options.Inference)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, optionsErr("inference", err)
	}
	w, err := registry.Writer[cfg.Components.Writer](cfg.Options.Writer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, optionsErr("writer", err)
	}
	comp := pipeline.Components{Granules: g, Inference: inf, Writer: w}
	set := pipeline.Settings{
		AncillaryDir: cfg.AncillaryDir,
		L1BPath:      cfg.L1BPath,
		AuxMetPath:   cfg.AuxMetPath,
		OutputDir:    cfg.OutputDir,
		Overrides: model.Overrides{
			Moniker:    cloneOpt(cfg.ModelMoniker),
			SubVersion: cloneOpt(cfg.ModelSubVersion),
		},
		Range:           cloneRange(cfg.Range),
		FullVersion:     cfg.FullVersion,
		PrdGitVPath:     cfg.Sidecars.PrdGitV,
		VersionPath:     cfg.Sidecars.Version,
		ProductSpecPath: cfg.Sidecars.ProductSpec,
	}
	return comp, set, nil
}

// optionsErr: 选项解析失败归为配置错误；工厂已分类的错误保持原样。
func optionsErr(comp string, err error) error {
	if errors.Is(err, contract.ErrConfig) {
		return err
	}
	return fmt.Errorf("%w: %s options: %v", contract.ErrConfig, comp, err)
}

func cloneOpt(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneRange(r contract.RangeRequest) contract.RangeRequest {
	out := r
	if r.Stop != nil {
		v := *r.Stop
		out.Stop = &v
	}
	return out
}
