package contract

import "context"

// InferenceRequest: 推理协作方的最小输入。
type InferenceRequest struct {
	L1BPath    string
	AuxMetPath string
	ModelPaths []string
	OutputDir  string
	NXtrack    int
	// ReturnData: 要求返回数据而非自行写文件（本核心总是 true）。
	ReturnData bool
	Range      AtrackRange
}

// Inference: 云掩膜推理（黑盒）。
// 返回组名 → 变量集合，至少包含 "Msk" 组。单次同步调用；失败即整体失败。
type Inference interface {
	Run(ctx context.Context, req InferenceRequest) (map[string]Group, error)
}
