// Package attrs 实现输出文件全局属性的派生规则。
package attrs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"prefiremsk/pkg/contract"
)

// 全局属性键。
const (
	KeyGranuleID           = "granule_ID"
	KeySpacecraftID        = "spacecraft_ID"
	KeySensorID            = "sensor_ID"
	KeyProvenance          = "provenance"
	KeyProcessingAlgorithm = "processing_algorithmID"
	KeyInputProductFiles   = "input_product_files"
	KeyFullVersion         = "full_versionID"
	KeyArchivalVersion     = "archival_versionID"
	KeyLibVersion          = "netCDF_lib_version"
	KeyFileName            = "file_name"
	KeyCreationTime        = "UTC_of_file_creation"

	// KeyTrainingVersion 为 Msk 组属性。
	KeyTrainingVersion = "cldmask_training_version"
)

// Passthrough 列出从输入粒度原样复制的全局属性。
var Passthrough = []string{
	KeyGranuleID,
	KeySpacecraftID,
	KeySensorID,
	"ctime_coverage_start_s",
	"ctime_coverage_end_s",
	"UTC_coverage_start",
	"UTC_coverage_end",
	"orbit_sim_version",
	"SRF_NEdR_version",
}

// DefaultFullVersion: 版本变量缺失或空白时的产品完整版本。
const DefaultFullVersion = "R01_P00"

var fullVersionRe = regexp.MustCompile(`^R\d\d_P\d\d$`)

// ValidFullVersion 判断版本串是否符合 Rzz_Pxx。
func ValidFullVersion(v string) bool { return fullVersionRe.MatchString(v) }

// ArchivalVersion 取完整版本首个 '_' 字段并去掉 'R'："R01_P00" -> "01"。
// 不符合 Rzz_Pxx 的输入返回 ErrConfig，而不是静默截断。
func ArchivalVersion(full string) (string, error) {
	if !ValidFullVersion(full) {
		return "", fmt.Errorf("%w: full version %q does not match Rzz_Pxx", contract.ErrConfig, full)
	}
	head, _, _ := strings.Cut(full, "_")
	return strings.ReplaceAll(head, "R", ""), nil
}

// SpliceProvenance 在模板首个 '(' 处切开，重组为 {prefix}{fullVersion} ( {strip(rest)}。
// prefix 去掉尾部空白，版本号紧接其后："PREFIRE_MSK (h)" -> "PREFIRE_MSKR02_P01 ( h)"。
func SpliceProvenance(template, fullVersion string) (string, error) {
	prefix, rest, ok := strings.Cut(template, "(")
	if !ok {
		return "", fmt.Errorf("%w: provenance template %q has no '('", contract.ErrInputRead, template)
	}
	return strings.TrimRight(prefix, " \t") + fullVersion + " ( " + strings.TrimSpace(rest), nil
}

// ReadFirstLine 读取边车文本文件的首行（去掉行尾换行符）。空文件得到空串。
func ReadFirstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open sidecar: %v", contract.ErrInputRead, err)
	}
	defer f.Close()
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%w: read sidecar %s: %v", contract.ErrInputRead, filepath.Base(path), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ProcessingAlgorithmID 读取版本边车文件首行并去除首尾空白。
func ProcessingAlgorithmID(path string) (string, error) {
	line, err := ReadFirstLine(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// InputProductFiles 将输入文件基名以 ", " 连接。
func InputProductFiles(paths ...string) string {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return strings.Join(names, ", ")
}

// CreationTimeLayout: 微秒精度的 UTC 时间，无时区后缀。
const CreationTimeLayout = "2006-01-02T15:04:05.000000"

// CreationTime 格式化文件创建时间。
func CreationTime(t time.Time) string { return t.UTC().Format(CreationTimeLayout) }
