package contract

import "errors"

// 最小错误分类。所有失败均致命、直接上抛，不做重试。
var (
	// ErrConfig: 配置缺失或格式错误。
	ErrConfig = errors.New("config error")
	// ErrInputRead: 输入文件不可读或缺少预期结构。
	ErrInputRead = errors.New("input read error")
	// ErrInference: 推理协作方失败（不透明上抛）。
	ErrInference = errors.New("inference error")
	// ErrWrite: 最终写出失败。
	ErrWrite = errors.New("write error")
	// ErrPathInvalid: 目标路径无效。
	ErrPathInvalid = errors.New("path invalid")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
