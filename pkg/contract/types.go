package contract

// Attrs: 属性集合（全局或组级）。值为标量或字符串，原样透传。
type Attrs map[string]any

// Variable: 单个数组变量。
// Dims 给出各轴的维度名（最外层在前）；Data 为按 Dims 嵌套的切片，
// 标量变量 Dims 为空。
type Variable struct {
	Dims []string
	Data any
}

// Group: 组内变量名 → 变量。
type Group map[string]Variable

// Payload: 交给 Writer 的产品内存表示。
// 约束：由 Assembler 一次性构建；交给 Writer 后不再修改。
type Payload struct {
	Groups     map[string]Group
	GroupAttrs map[string]Attrs
	Global     Attrs
}

// NewPayload 返回各映射均已初始化的空 Payload。
func NewPayload() Payload {
	return Payload{
		Groups:     map[string]Group{},
		GroupAttrs: map[string]Attrs{},
		Global:     Attrs{},
	}
}

// SensorIdentity: 航天器/传感器判别字符（取自输入文件属性的最后一个字符）。
type SensorIdentity struct {
	SpacecraftID string
	SensorID     string
}

// ModelSelection: 预训练模型选择结果。
type ModelSelection struct {
	Moniker         string
	SubVersion      string
	TrainingVersion string // {moniker}-SAT{sensor}-{subv}
	ModelPaths      []string
}

// RangeRequest: 配置层给出的 atrack 子集请求（半开区间）。
// Stop 为 nil 表示直到粒度末尾。
type RangeRequest struct {
	Dim   string
	Start int
	Stop  *int
}

// AtrackRange: 针对实际输入文件解析后的子集区间。
// 约束：0 <= Start <= Stop <= Full（Stop 非 nil 时）。
type AtrackRange struct {
	Dim   string
	Start int
	Stop  *int
	Full  int
}

// DimAtrack / DimXtrack: 扫描带的两个空间维度名。
const (
	DimAtrack = "atrack"
	DimXtrack = "xtrack"
)

// 组名。
const (
	GroupGeometry = "Geometry"
	GroupMsk      = "Msk"
)
