//go:build windows

package filesystem

// syncDir: Windows 上目录无法 fsync；os.Rename 已以 MOVEFILE_REPLACE_EXISTING 替换目标。
func syncDir(string) error { return nil }
