package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"

	"prefiremsk/internal/attrs"
	"prefiremsk/pkg/contract"
)

// DefaultRangeSpec: ATRACK_IDX_RANGE_0BI 缺失时处理整个粒度。
const DefaultRangeSpec = "atrack:0:END"

// 边车文件默认名（相对 ANCILLARY_DATA_DIR）。
const (
	PrdGitVName     = "prdgitv.txt"
	VersionName     = "VERSION.txt"
	ProductSpecName = "Msk_product_filespecs.json"
)

// Defaults 返回组件与日志的默认值。
func Defaults() Config {
	return Config{
		RangeSpec:   DefaultRangeSpec,
		Range:       contract.RangeRequest{Dim: contract.DimAtrack},
		FullVersion: attrs.DefaultFullVersion,
		Logging:     Logging{Level: "info", Dir: "logs"},
		Components: Components{
			Granule:   "fixture",
			Inference: "exec",
			Writer:    "fs",
		},
	}
}

// rawEnv 为环境变量的原始映射；归一化在 Load 中完成。
type rawEnv struct {
	AncillaryDir string `env:"ANCILLARY_DATA_DIR"`
	L1BPath      string `env:"L1B_RAD_FILE"`
	AuxMetPath   string `env:"AUX_MET_FILE"`
	OutputDir    string `env:"OUTPUT_DIR"`
	Moniker      string `env:"NN_MODEL_MONIKER"`
	SubVersion   string `env:"NN_MODEL_SUBV"`
	RangeSpec    string `env:"ATRACK_IDX_RANGE_0BI" envDefault:"atrack:0:END"`
	FullVersion  string `env:"PRODUCT_FULLVER"`

	LogLevel string `env:"PREFIRE_MSK_LOG_LEVEL" envDefault:"info"`
	LogDir   string `env:"PREFIRE_MSK_LOG_DIR" envDefault:"logs"`

	Granule          string `env:"PREFIRE_MSK_GRANULE"`
	Inference        string `env:"PREFIRE_MSK_INFERENCE"`
	Writer           string `env:"PREFIRE_MSK_WRITER"`
	GranuleOptions   string `env:"PREFIRE_MSK_GRANULE_OPTIONS_JSON"`
	InferenceOptions string `env:"PREFIRE_MSK_INFERENCE_OPTIONS_JSON"`
	WriterOptions    string `env:"PREFIRE_MSK_WRITER_OPTIONS_JSON"`

	PrdGitVFile     string `env:"PREFIRE_MSK_PRDGITV_FILE"`
	VersionFile     string `env:"PREFIRE_MSK_VERSION_FILE"`
	ProductSpecFile string `env:"PREFIRE_MSK_PRODUCT_SPEC_FILE"`
	OTelEndpoint    string `env:"PREFIRE_MSK_OTEL_ENDPOINT"`
}

// Load 从环境（KEY=VALUE 列表）构造 Config。
// 空白的可选值视为未设置；区间与 JSON 语法错误在此返回，其余边界由 Validate 检查。
// 所有错误包裹 contract.ErrConfig。
func Load(environ []string) (Config, error) {
	var raw rawEnv
	if err := env.ParseWithOptions(&raw, env.Options{Environment: env.ToMap(environ)}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", contract.ErrConfig, err)
	}
	cfg := Defaults()
	cfg.AncillaryDir = strings.TrimSpace(raw.AncillaryDir)
	cfg.L1BPath = strings.TrimSpace(raw.L1BPath)
	cfg.AuxMetPath = strings.TrimSpace(raw.AuxMetPath)
	cfg.OutputDir = strings.TrimSpace(raw.OutputDir)
	cfg.ModelMoniker = optional(raw.Moniker)
	cfg.ModelSubVersion = optional(raw.SubVersion)

	if v := strings.TrimSpace(raw.RangeSpec); v != "" {
		cfg.RangeSpec = v
	}
	rng, err := ParseRangeSpec(cfg.RangeSpec)
	if err != nil {
		return Config{}, err
	}
	cfg.Range = rng

	if v := strings.TrimSpace(raw.FullVersion); v != "" {
		cfg.FullVersion = v
	}

	if v := strings.TrimSpace(raw.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(raw.LogDir); v != "" {
		cfg.Logging.Dir = v
	}
	cfg.Components.Granule = effName(raw.Granule, cfg.Components.Granule)
	cfg.Components.Inference = effName(raw.Inference, cfg.Components.Inference)
	cfg.Components.Writer = effName(raw.Writer, cfg.Components.Writer)

	for _, o := range []struct {
		name string
		val  string
		dst  *json.RawMessage
	}{
		{"PREFIRE_MSK_GRANULE_OPTIONS_JSON", raw.GranuleOptions, &cfg.Options.Granule},
		{"PREFIRE_MSK_INFERENCE_OPTIONS_JSON", raw.InferenceOptions, &cfg.Options.Inference},
		{"PREFIRE_MSK_WRITER_OPTIONS_JSON", raw.WriterOptions, &cfg.Options.Writer},
	} {
		// 空值视为未设置，工厂使用零值选项
		if strings.TrimSpace(o.val) == "" {
			continue
		}
		if !json.Valid([]byte(o.val)) {
			return Config{}, fmt.Errorf("%w: %s is not valid JSON", contract.ErrConfig, o.name)
		}
		*o.dst = json.RawMessage(o.val)
	}

	cfg.Sidecars = Sidecars{
		PrdGitV:     orJoin(raw.PrdGitVFile, cfg.AncillaryDir, PrdGitVName),
		Version:     orJoin(raw.VersionFile, cfg.AncillaryDir, VersionName),
		ProductSpec: orJoin(raw.ProductSpecFile, cfg.AncillaryDir, ProductSpecName),
	}
	cfg.OTelEndpoint = strings.TrimSpace(raw.OTelEndpoint)
	return cfg, nil
}

// ParseRangeSpec 解析 atrack:<start>:<stop|END>。stop 为闭区间索引，
// 返回的 RangeRequest 为半开形式（stop+1）；END 得到 Stop=nil。
func ParseRangeSpec(spec string) (contract.RangeRequest, error) {
	tokens := strings.Split(strings.TrimSpace(spec), ":")
	if len(tokens) != 3 {
		return contract.RangeRequest{}, fmt.Errorf("%w: range %q must be <dim>:<start>:<stop|END>", contract.ErrConfig, spec)
	}
	dim := strings.TrimSpace(tokens[0])
	if dim != contract.DimAtrack {
		return contract.RangeRequest{}, fmt.Errorf("%w: range %q must name dimension %q", contract.ErrConfig, spec, contract.DimAtrack)
	}
	start, err := strconv.Atoi(strings.TrimSpace(tokens[1]))
	if err != nil || start < 0 {
		return contract.RangeRequest{}, fmt.Errorf("%w: range start %q is not a non-negative integer", contract.ErrConfig, tokens[1])
	}
	out := contract.RangeRequest{Dim: dim, Start: start}
	stopTok := strings.TrimSpace(tokens[2])
	if stopTok == "END" {
		return out, nil
	}
	last, err := strconv.Atoi(stopTok)
	if err != nil {
		return contract.RangeRequest{}, fmt.Errorf("%w: range stop %q is neither an index nor END", contract.ErrConfig, tokens[2])
	}
	if last < start {
		return contract.RangeRequest{}, fmt.Errorf("%w: range stop %d < start %d", contract.ErrConfig, last, start)
	}
	stop := last + 1
	out.Stop = &stop
	return out, nil
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	v := strings.TrimSpace(s)
	return &v
}

func orJoin(explicit, dir, name string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, name)
}

func effName(got, def string) string {
	if v := strings.TrimSpace(got); v != "" {
		return v
	}
	return def
}
