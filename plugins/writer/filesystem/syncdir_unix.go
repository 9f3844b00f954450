//go:build !windows

package filesystem

import "os"

// syncDir 尽力 fsync 目录，使 rename 的元数据落盘。
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
