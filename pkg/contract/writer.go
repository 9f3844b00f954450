package contract

import "context"

// Writer: 按产品规格文件将 Payload 持久化到 destPath。
// 约束：
//  1. 原子落盘：失败时不得留下部分产品；
//  2. 不修改 Payload；
//  3. 错误以 ErrWrite 包装直接上抛（不做重试）。
type Writer interface {
	Write(ctx context.Context, p Payload, destPath, specPath string) error
	// LibraryVersion: 运行期编码库版本，记录为 netCDF_lib_version。
	LibraryVersion() string
}
