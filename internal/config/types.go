package config

import (
	"encoding/json"

	"prefiremsk/pkg/contract"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// 产品契约字段只来自环境变量；日志/组件等环境字段使用 PREFIRE_MSK_ 前缀。
type Config struct {
	AncillaryDir string
	L1BPath      string
	AuxMetPath   string
	OutputDir    string

	// 模型覆盖：nil 表示使用标称值；两者相互独立。
	ModelMoniker    *string
	ModelSubVersion *string

	// RangeSpec 为原始 atrack:<start>:<stop|END> 文本；Range 为其半开形式。
	RangeSpec string
	Range     contract.RangeRequest

	FullVersion string

	Sidecars     Sidecars
	Logging      Logging
	Components   Components
	Options      Options
	OTelEndpoint string
}

// Sidecars: 辅助数据目录下的边车文件路径（默认由 AncillaryDir 推出）。
type Sidecars struct {
	PrdGitV     string
	Version     string
	ProductSpec string
}

// Logging: 日志等级与轮转目录。
type Logging struct {
	Level string
	Dir   string
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Granule   string
	Inference string
	Writer    string
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Granule   json.RawMessage
	Inference json.RawMessage
	Writer    json.RawMessage
}
