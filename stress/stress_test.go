package stress

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	cfgpkg "prefiremsk/internal/config"
	"prefiremsk/internal/diag"
	"prefiremsk/internal/pipeline"
)

const granuleName = "PREFIRE_SAT2_1B-RAD_R01_P00_20241007175332_01985.yaml"

// environ 构造单次运行的 ENV；不同 full version 使产品名互不冲突。
func environ(anc, l1b, outDir string, run int) []string {
	return []string{
		"ANCILLARY_DATA_DIR=" + anc,
		"L1B_RAD_FILE=" + l1b,
		"AUX_MET_FILE=" + filepath.Join(filepath.Dir(l1b), "PREFIRE_SAT2_AUX-MET_R01_P00_20241007175332_01985.nc"),
		"OUTPUT_DIR=" + outDir,
		fmt.Sprintf("PRODUCT_FULLVER=R01_P%02d", run),
		fmt.Sprintf("ATRACK_IDX_RANGE_0BI=atrack:%d:END", run%5),
		"PREFIRE_MSK_INFERENCE=mock",
		"PREFIRE_MSK_LOG_LEVEL=error",
	}
}

// runPipeline 执行完整流水线。
func runPipeline(env []string) (pipeline.Product, error) {
	cfg, err := cfgpkg.Load(env)
	if err != nil {
		return pipeline.Product{}, err
	}
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return pipeline.Product{}, err
	}
	return pipeline.Run(context.Background(), comp, set, diag.Nop())
}

// TestStress 以不同并发度并行处理多个粒度，写入同一输出目录，记录延迟统计。
func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress")
	}
	src := filepath.Join("..", "testdata")
	levels := []int{1, 4, 16, 32}
	for _, conc := range levels {
		t.Run(fmt.Sprintf("concurrency_%d", conc), func(t *testing.T) {
			dataDir := t.TempDir()
			anc := filepath.Join(dataDir, "anc")
			if err := os.MkdirAll(anc, 0o755); err != nil {
				t.Fatalf("mkdir: %v", err)
			}
			for _, name := range []string{"prdgitv.txt", "VERSION.txt", "Msk_product_filespecs.json"} {
				if err := copyFile(filepath.Join(src, "anc", name), filepath.Join(anc, name)); err != nil {
					t.Fatalf("copy %s: %v", name, err)
				}
			}
			l1b := filepath.Join(dataDir, granuleName)
			if err := copyFile(filepath.Join(src, granuleName), l1b); err != nil {
				t.Fatalf("copy granule: %v", err)
			}
			outDir := filepath.Join(dataDir, "out")

			var (
				mu        sync.Mutex
				wg        sync.WaitGroup
				latencies = make([]time.Duration, 0, conc)
				names     = map[string]struct{}{}
			)
			for i := 0; i < conc; i++ {
				wg.Add(1)
				go func(run int) {
					defer wg.Done()
					start := time.Now()
					p, err := runPipeline(environ(anc, l1b, outDir, run))
					dur := time.Since(start)
					if err != nil {
						t.Errorf("run %d: %v", run, err)
						return
					}
					mu.Lock()
					latencies = append(latencies, dur)
					names[p.FileName] = struct{}{}
					mu.Unlock()
				}(i)
			}
			wg.Wait()
			if len(latencies) == 0 {
				t.Fatalf("全部运行失败")
			}
			entries, err := os.ReadDir(outDir)
			if err != nil {
				t.Fatalf("readdir: %v", err)
			}
			if len(entries) != len(names) {
				t.Fatalf("输出文件数 %d，成功运行 %d", len(entries), len(names))
			}
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			var total time.Duration
			for _, d := range latencies {
				total += d
			}
			avg := total / time.Duration(len(latencies))
			idx := int(math.Ceil(float64(len(latencies))*0.95)) - 1
			if idx < 0 {
				idx = 0
			}
			t.Logf("并发%d 成功率%.2f 平均%v 95%%延迟%v", conc, float64(len(latencies))/float64(conc), avg, latencies[idx])
		})
	}
}

// copyFile 复制文件内容。
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
