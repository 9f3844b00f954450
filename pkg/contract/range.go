package contract

import "fmt"

// Resolve 将配置层的子集请求与输入文件中读到的实际维度大小结合，
// 得到半开区间 AtrackRange。Stop 为 nil 时保持 nil（直到末尾）。
// 约束：full 必须取自实际输入文件，而非用户给定值。
func Resolve(req RangeRequest, full int) (AtrackRange, error) {
	dim := req.Dim
	if dim == "" {
		dim = DimAtrack
	}
	if full < 1 {
		return AtrackRange{}, fmt.Errorf("%w: dimension %q has size %d", ErrInputRead, dim, full)
	}
	if req.Start < 0 || req.Start > full {
		return AtrackRange{}, fmt.Errorf("%w: %s start %d outside [0,%d]", ErrConfig, dim, req.Start, full)
	}
	out := AtrackRange{Dim: dim, Start: req.Start, Full: full}
	if req.Stop != nil {
		stop := *req.Stop
		if stop < req.Start || stop > full {
			return AtrackRange{}, fmt.Errorf("%w: %s stop %d outside [%d,%d]", ErrConfig, dim, stop, req.Start, full)
		}
		out.Stop = &stop
	}
	return out, nil
}

// CoversFull 判定区间是否覆盖整个粒度：Start==0 且（Stop 为 nil 或 Stop-1 == Full-1）。
func (r AtrackRange) CoversFull() bool {
	if r.Start != 0 {
		return false
	}
	return r.Stop == nil || *r.Stop-1 == r.Full-1
}

// Bound 返回显式的半开上界（Stop 为 nil 时取 Full）。
func (r AtrackRange) Bound() int {
	if r.Stop == nil {
		return r.Full
	}
	return *r.Stop
}

// LastIndex 返回闭区间末索引：Stop 为 nil 时为 Full-1，否则 Stop-1。
func (r AtrackRange) LastIndex() int { return r.Bound() - 1 }

// Len 返回子集长度。
func (r AtrackRange) Len() int { return r.Bound() - r.Start }
