// Package model 选择预训练云掩膜模型变体并生成逐跨轨位置的模型文件路径。
package model

import (
	"fmt"
	"path/filepath"

	"prefiremsk/pkg/contract"
)

// 运行业务上的标称选择；传感器 '1' 使用较早的子版本。
const (
	NominalMoniker    = "VIIRS"
	SubVersionSensor1 = "03"
	SubVersionOther   = "05"
)

// Overrides: 两个覆盖值相互独立；nil 表示使用标称值。
type Overrides struct {
	Moniker    *string
	SubVersion *string
}

// TrainingVersion 返回复合训练版本标签 {moniker}-SAT{sensor}-{subv}。
func TrainingVersion(moniker, sensor, subv string) string {
	return fmt.Sprintf("%s-SAT%s-%s", moniker, sensor, subv)
}

// Select 依据传感器字符与覆盖值得到 ModelSelection。
// 模型路径为 <ancDir>/<label>/SAT<sensor>_xscene<i>，i 取 1..nXtrack；不检查路径是否存在。
func Select(ancDir, sensor string, nXtrack int, ov Overrides) contract.ModelSelection {
	moniker, subv := NominalMoniker, SubVersionOther
	if sensor == "1" {
		subv = SubVersionSensor1
	}
	if ov.Moniker != nil {
		moniker = *ov.Moniker
	}
	if ov.SubVersion != nil {
		subv = *ov.SubVersion
	}
	label := TrainingVersion(moniker, sensor, subv)
	dir := filepath.Join(ancDir, label)
	paths := make([]string, 0, max(nXtrack, 0))
	for i := 1; i <= nXtrack; i++ {
		paths = append(paths, filepath.Join(dir, fmt.Sprintf("SAT%s_xscene%d", sensor, i)))
	}
	return contract.ModelSelection{
		Moniker:         moniker,
		SubVersion:      subv,
		TrainingVersion: label,
		ModelPaths:      paths,
	}
}
