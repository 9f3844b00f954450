package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"prefiremsk/pkg/contract"
)

// Options: 最小调试配置（可选）。
type Options struct {
	// Mode: 响应模式（用于集成测试与离线联调）。
	//  - "" / "mask": 产出 Msk 组 cloud_mask(int8) 与 cloud_probability(float32)，形状 [atrack, xtrack]。
	//  - "no_msk": 返回不含 Msk 组的结果。
	//  - "fail": 返回 ErrInference。
	Mode string `json:"mode,omitempty"`
	// Extra: 额外附加到 Msk 组的常量标量变量（变量名 → 值），便于测试浅合并。
	Extra map[string]float64 `json:"extra,omitempty"`
}

// Client 为确定性的推理实现：输出只依赖请求中的区间与跨轨大小。
// 可被多个 goroutine 共享。
type Client struct {
	mode  string
	extra map[string]float64

	mu    sync.Mutex
	calls []contract.InferenceRequest
}

// New 创建 mock 推理。
func New(opts *Options) (*Client, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	mode := strings.TrimSpace(o.Mode)
	if mode == "" {
		mode = "mask"
	}
	switch mode {
	case "mask", "no_msk", "fail":
	default:
		return nil, fmt.Errorf("%w: mock inference mode %q", contract.ErrConfig, mode)
	}
	return &Client{mode: mode, extra: o.Extra}, nil
}

var _ contract.Inference = (*Client)(nil)

// Calls 返回已收到的请求（测试用）。
func (c *Client) Calls() []contract.InferenceRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]contract.InferenceRequest(nil), c.calls...)
}

// Run 按模式生成结果。模型路径数必须等于跨轨大小。
func (c *Client) Run(ctx context.Context, req contract.InferenceRequest) (map[string]contract.Group, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()
	if len(req.ModelPaths) != req.NXtrack {
		return nil, fmt.Errorf("%w: %d model paths for %d xtrack positions", contract.ErrInference, len(req.ModelPaths), req.NXtrack)
	}
	switch c.mode {
	case "fail":
		return nil, fmt.Errorf("%w: mock failure", contract.ErrInference)
	case "no_msk":
		return map[string]contract.Group{"Aux": {}}, nil
	}

	na := req.Range.Len()
	mask := make([][]int8, na)
	prob := make([][]float32, na)
	for i := 0; i < na; i++ {
		mask[i] = make([]int8, req.NXtrack)
		prob[i] = make([]float32, req.NXtrack)
		at := req.Range.Start + i
		for j := 0; j < req.NXtrack; j++ {
			mask[i][j] = int8((at + j) % 4)
			prob[i][j] = float32((at+j)%4) / 4
		}
	}
	dims := []string{contract.DimAtrack, contract.DimXtrack}
	msk := contract.Group{
		"cloud_mask":        {Dims: dims, Data: mask},
		"cloud_probability": {Dims: []string{contract.DimAtrack, contract.DimXtrack}, Data: prob},
	}
	for k, v := range c.extra {
		msk[k] = contract.Variable{Data: v}
	}
	return map[string]contract.Group{contract.GroupMsk: msk}, nil
}
