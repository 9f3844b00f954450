// Package naming 构造 MSK 产品输出文件名。
//
// 文件名需逐字节稳定：下游依据是否带区间后缀区分整粒度与子集运行，
// 并从后缀恢复原始区间。
package naming

import (
	"fmt"
	"path/filepath"
	"strings"

	"prefiremsk/pkg/contract"
)

// Prefix: 所有输出文件名的前缀。
const Prefix = "raw-"

// maxPadded: 5 位零填充可表示的最大值；更大的区间或维度不在支持范围内。
const maxPadded = 99999

// Fields: 构造文件名所需的全部输入。
type Fields struct {
	SpacecraftID string // 单字符
	FullVersion  string // Rzz_Pxx
	InputToken   string // 输入文件名的第 6 个下划线字段
	GranuleID    string
	Range        contract.AtrackRange
}

// Base 返回不含前缀与区间后缀的规范名。
func Base(f Fields) string {
	return fmt.Sprintf("PREFIRE_SAT%s_2B-MSK_%s_%s_%s.nc", f.SpacecraftID, f.FullVersion, f.InputToken, f.GranuleID)
}

// Build 返回输出文件名：
//   - 覆盖整个粒度：raw-<base>
//   - 子集：raw-<base 去 .nc>-<dim>_<start>_<last>_of_<full>f.nc（均 5 位零填充）
func Build(f Fields) (string, error) {
	base := Base(f)
	r := f.Range
	if r.CoversFull() {
		return Prefix + base, nil
	}
	if r.Len() < 1 {
		return "", fmt.Errorf("%w: empty %s range [%d,%d)", contract.ErrInvariantViolation, r.Dim, r.Start, r.Bound())
	}
	if r.Full > maxPadded {
		return "", fmt.Errorf("%w: %s size %d exceeds 5-digit naming", contract.ErrInvariantViolation, r.Dim, r.Full)
	}
	suffix := fmt.Sprintf("-%s_%05d_%05d_of_%05df.nc", r.Dim, r.Start, r.LastIndex(), r.Full)
	return Prefix + strings.TrimSuffix(base, ".nc") + suffix, nil
}

// InputToken 返回输入文件基名按 '_' 切分后的第 6 个字段（下标 5），原样保留。
func InputToken(path string) (string, error) {
	parts := strings.Split(filepath.Base(path), "_")
	if len(parts) < 6 {
		return "", fmt.Errorf("%w: input file name %q has %d '_' fields, need 6", contract.ErrInputRead, filepath.Base(path), len(parts))
	}
	return parts[5], nil
}
