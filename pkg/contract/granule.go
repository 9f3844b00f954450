package contract

import "context"

// Granule: 只读打开的输入粒度文件（读取协作方）。
// 约束：
//  1. 句柄由调用方及时 Close，不跨阶段持有；
//  2. GroupVariables 按 AtrackRange 对含该维度的变量做子集，其余变量整体返回；
//  3. 失败以 ErrInputRead 包装返回。
type Granule interface {
	Attr(name string) (any, bool)
	DimSize(name string) (int, error)
	GroupVariables(group string, rng AtrackRange) (Group, error)
	GroupAttributes(group string) (Attrs, error)
	Close() error
}

// GranuleOpener: 以只读方式打开粒度文件。
type GranuleOpener interface {
	Open(ctx context.Context, path string) (Granule, error)
}

// StringAttr 读取字符串类型的全局属性；缺失或类型不符时返回 ErrInputRead。
func StringAttr(g Granule, name string) (string, error) {
	v, ok := g.Attr(name)
	if !ok {
		return "", &AttrError{Name: name, Reason: "missing"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &AttrError{Name: name, Reason: "not a string"}
	}
	return s, nil
}

// AttrError: 全局属性缺失或类型错误。
type AttrError struct {
	Name   string
	Reason string
}

func (e *AttrError) Error() string { return "attribute " + e.Name + ": " + e.Reason }

func (e *AttrError) Unwrap() error { return ErrInputRead }
