package registry

import (
	"bytes"
	"encoding/json"

	"prefiremsk/pkg/contract"
	fixture "prefiremsk/plugins/granule/fixture"
	iexec "prefiremsk/plugins/inference/exec"
	imock "prefiremsk/plugins/inference/mock"
	wfs "prefiremsk/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewGranule 工厂签名：接收原样 JSON Options。
type NewGranule func(raw json.RawMessage) (contract.GranuleOpener, error)

// NewInference 工厂签名：接收原样 JSON Options。
type NewInference func(raw json.RawMessage) (contract.Inference, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Granule 读取器工厂注册表（显式、零反射）。
var Granule = map[string]NewGranule{
	// fixture: YAML/JSON 描述的粒度（离线运行与测试）
	"fixture": func(raw json.RawMessage) (contract.GranuleOpener, error) {
		var opts fixture.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return fixture.New(&opts), nil
	},
}

// Inference 推理工厂注册表。
var Inference = map[string]NewInference{
	// exec: 以子进程运行外部推理程序
	"exec": func(raw json.RawMessage) (contract.Inference, error) {
		var opts iexec.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return iexec.New(&opts)
	},
	// mock: 确定性输出，用于联调
	"mock": func(raw json.RawMessage) (contract.Inference, error) {
		var opts imock.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return imock.New(&opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 规格驱动的 CBOR 容器写出（原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
