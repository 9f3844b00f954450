package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"prefiremsk/internal/attrs"
	"prefiremsk/internal/diag"
	"prefiremsk/internal/model"
	"prefiremsk/pkg/contract"
	imock "prefiremsk/plugins/inference/mock"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

const l1bName = "PREFIRE_SAT2_1B-RAD_R01_P00_20241007175332_01985.nc"

// ---- 内存粒度 ----

type memGranule struct {
	attrs  contract.Attrs
	dims   map[string]int
	groups map[string]contract.Group
	gattrs map[string]contract.Attrs
	closed *int
}

func (g *memGranule) Attr(name string) (any, bool) { v, ok := g.attrs[name]; return v, ok }

func (g *memGranule) DimSize(name string) (int, error) {
	n, ok := g.dims[name]
	if !ok {
		return 0, contract.ErrInputRead
	}
	return n, nil
}

func (g *memGranule) GroupVariables(group string, rng contract.AtrackRange) (contract.Group, error) {
	src, ok := g.groups[group]
	if !ok {
		return nil, contract.ErrInputRead
	}
	out := contract.Group{}
	for k, v := range src {
		if len(v.Dims) > 0 && v.Dims[0] == rng.Dim {
			sub, err := contract.Subset(v, rng.Dim, rng.Start, rng.Bound())
			if err != nil {
				return nil, err
			}
			out[k] = sub
			continue
		}
		out[k] = v
	}
	return out, nil
}

func (g *memGranule) GroupAttributes(group string) (contract.Attrs, error) {
	a, ok := g.gattrs[group]
	if !ok {
		return nil, contract.ErrInputRead
	}
	out := contract.Attrs{}
	for k, v := range a {
		out[k] = v
	}
	return out, nil
}

func (g *memGranule) Close() error { *g.closed++; return nil }

type memOpener struct {
	tmpl   memGranule
	opens  int
	closed int
	err    error
}

func (o *memOpener) Open(_ context.Context, _ string) (contract.Granule, error) {
	if o.err != nil {
		return nil, o.err
	}
	o.opens++
	g := o.tmpl
	g.closed = &o.closed
	return &g, nil
}

func newOpener(natrack, nxtrack int) *memOpener {
	lat := make([][]float32, natrack)
	for i := range lat {
		lat[i] = make([]float32, nxtrack)
		for j := range lat[i] {
			lat[i][j] = float32(i*10 + j)
		}
	}
	ga := contract.Attrs{
		attrs.KeyGranuleID:       "01985",
		attrs.KeySpacecraftID:    "PREFIRE02",
		attrs.KeySensorID:        "PREFIRE_SAT2",
		"ctime_coverage_start_s": 1.0,
		"ctime_coverage_end_s":   2.0,
		"UTC_coverage_start":     "2024-10-07T17:53:32",
		"UTC_coverage_end":       "2024-10-07T19:27:10",
		"orbit_sim_version":      "v1",
		"SRF_NEdR_version":       "v2",
		"unrelated":              "dropped",
	}
	return &memOpener{tmpl: memGranule{
		attrs: ga,
		dims:  map[string]int{contract.DimAtrack: natrack, contract.DimXtrack: nxtrack},
		groups: map[string]contract.Group{
			contract.GroupGeometry: {
				"latitude": {Dims: []string{contract.DimAtrack, contract.DimXtrack}, Data: lat},
				"orbit":    {Data: int32(7)},
			},
		},
		gattrs: map[string]contract.Attrs{contract.GroupGeometry: {"description": "geo"}},
	}}
}

// ---- 写出端 ----

type memWriter struct {
	calls []string
	last  contract.Payload
	err   error
}

func (w *memWriter) Write(_ context.Context, p contract.Payload, dest, _ string) error {
	w.calls = append(w.calls, dest)
	w.last = p
	return w.err
}

func (w *memWriter) LibraryVersion() string { return "v9.9.9" }

func sidecars(t *testing.T) (prdgitv, version string) {
	t.Helper()
	dir := t.TempDir()
	prdgitv = filepath.Join(dir, "prdgitv.txt")
	version = filepath.Join(dir, "VERSION.txt")
	require.NoError(t, os.WriteFile(prdgitv, []byte("PREFIRE_MSK (git-hash-xyz)\nignored\n"), 0o644))
	require.NoError(t, os.WriteFile(version, []byte("  2B-MSK_v1.0  \n"), 0o644))
	return prdgitv, version
}

func baseSettings(t *testing.T) Settings {
	prd, ver := sidecars(t)
	return Settings{
		AncillaryDir: "/anc",
		L1BPath:      "/in/" + l1bName,
		AuxMetPath:   "/in/PREFIRE_SAT2_AUX-MET_R01_P00_20241007175332_01985.nc",
		OutputDir:    t.TempDir(),
		Range:        contract.RangeRequest{Dim: contract.DimAtrack},
		FullVersion:  "R02_P01",
		PrdGitVPath:  prd,
		VersionPath:  ver,
		Now:          func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 600000000, time.UTC) },
	}
}

func newInference(t *testing.T, opts *imock.Options) *imock.Client {
	t.Helper()
	c, err := imock.New(opts)
	require.NoError(t, err)
	return c
}

// UT-PIPE-01 全范围：文件名、全局属性与 Msk 组属性
func TestAssemble_FullRange(t *testing.T) {
	op := newOpener(6, 8)
	inf := newInference(t, nil)
	w := &memWriter{}
	set := baseSettings(t)

	p, err := Assemble(context.Background(), Components{Granules: op, Inference: inf, Writer: w}, set, diag.Nop())
	require.NoError(t, err)

	require.Equal(t, "raw-PREFIRE_SAT2_2B-MSK_R02_P01_20241007175332_01985.nc", p.FileName)
	require.Equal(t, filepath.Join(set.OutputDir, p.FileName), p.Path)
	require.True(t, p.Range.CoversFull())
	require.Equal(t, 2, op.opens)
	require.Equal(t, 2, op.closed)
	require.Empty(t, w.calls)

	wantGlobal := contract.Attrs{
		attrs.KeyGranuleID:           "01985",
		attrs.KeySpacecraftID:        "PREFIRE02",
		attrs.KeySensorID:            "PREFIRE_SAT2",
		"ctime_coverage_start_s":     1.0,
		"ctime_coverage_end_s":       2.0,
		"UTC_coverage_start":         "2024-10-07T17:53:32",
		"UTC_coverage_end":           "2024-10-07T19:27:10",
		"orbit_sim_version":          "v1",
		"SRF_NEdR_version":           "v2",
		attrs.KeyProvenance:          "PREFIRE_MSKR02_P01 ( git-hash-xyz)",
		attrs.KeyProcessingAlgorithm: "2B-MSK_v1.0",
		attrs.KeyInputProductFiles:   l1bName + ", PREFIRE_SAT2_AUX-MET_R01_P00_20241007175332_01985.nc",
		attrs.KeyFullVersion:         "R02_P01",
		attrs.KeyArchivalVersion:     "02",
		attrs.KeyLibVersion:          "v9.9.9",
		attrs.KeyFileName:            p.FileName,
		attrs.KeyCreationTime:        "2025-01-02T03:04:05.600000",
	}
	if diff := cmp.Diff(wantGlobal, p.Payload.Global); diff != "" {
		t.Fatalf("全局属性不符 (-want +got):\n%s", diff)
	}
	require.Equal(t, contract.Attrs{attrs.KeyTrainingVersion: "VIIRS-SAT2-05"}, p.Payload.GroupAttrs[contract.GroupMsk])
	require.Equal(t, contract.Attrs{"description": "geo"}, p.Payload.GroupAttrs[contract.GroupGeometry])
	require.Contains(t, p.Payload.Groups[contract.GroupMsk], "cloud_mask")
	require.Len(t, p.Payload.Groups[contract.GroupGeometry]["latitude"].Data, 6)
}

// UT-PIPE-02 子集区间：推理请求与 Geometry 子集一致，文件名带区间后缀
func TestAssemble_SubsetRange(t *testing.T) {
	op := newOpener(10, 8)
	inf := newInference(t, nil)
	set := baseSettings(t)
	stop := 7
	set.Range = contract.RangeRequest{Dim: contract.DimAtrack, Start: 2, Stop: &stop}

	p, err := Assemble(context.Background(), Components{Granules: op, Inference: inf, Writer: &memWriter{}}, set, diag.Nop())
	require.NoError(t, err)
	require.Equal(t, "raw-PREFIRE_SAT2_2B-MSK_R02_P01_20241007175332_01985-atrack_00002_00006_of_00010f.nc", p.FileName)

	calls := inf.Calls()
	require.Len(t, calls, 1)
	req := calls[0]
	require.True(t, req.ReturnData)
	require.Equal(t, 8, req.NXtrack)
	require.Len(t, req.ModelPaths, 8)
	require.Equal(t, filepath.Join("/anc", "VIIRS-SAT2-05", "SAT2_xscene1"), req.ModelPaths[0])
	require.Equal(t, 2, req.Range.Start)
	require.Equal(t, 5, req.Range.Len())

	lat := p.Payload.Groups[contract.GroupGeometry]["latitude"].Data.([][]float32)
	require.Len(t, lat, 5)
	require.Equal(t, float32(20), lat[0][0])
	require.Equal(t, int32(7), p.Payload.Groups[contract.GroupGeometry]["orbit"].Data)
	require.Len(t, p.Payload.Groups[contract.GroupMsk]["cloud_mask"].Data, 5)
}

// UT-PIPE-03 覆写：模型与子版本覆写反映在训练版本上
func TestAssemble_Overrides(t *testing.T) {
	moniker, subv := "MODIS", "07"
	set := baseSettings(t)
	set.Overrides = model.Overrides{Moniker: &moniker, SubVersion: &subv}

	p, err := Assemble(context.Background(), Components{Granules: newOpener(4, 8), Inference: newInference(t, nil), Writer: &memWriter{}}, set, diag.Nop())
	require.NoError(t, err)
	require.Equal(t, "MODIS-SAT2-07", p.Selection.TrainingVersion)
	require.Equal(t, "MODIS-SAT2-07", p.Payload.GroupAttrs[contract.GroupMsk][attrs.KeyTrainingVersion])
}

// UT-PIPE-04 浅合并：推理结果的附加变量进入 Msk 组
func TestAssemble_ShallowMerge(t *testing.T) {
	inf := newInference(t, &imock.Options{Extra: map[string]float64{"quality_flag": 1}})
	p, err := Assemble(context.Background(), Components{Granules: newOpener(3, 8), Inference: inf, Writer: &memWriter{}}, baseSettings(t), diag.Nop())
	require.NoError(t, err)
	got := make([]string, 0)
	for k := range p.Payload.Groups[contract.GroupMsk] {
		got = append(got, k)
	}
	require.ElementsMatch(t, []string{"cloud_mask", "cloud_probability", "quality_flag"}, got)
}

// UT-PIPE-05 失败分类：各阶段错误保留哨兵错误
func TestAssemble_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*memOpener, *Settings) contract.Inference
		want   error
	}{
		{"open", func(o *memOpener, _ *Settings) contract.Inference {
			o.err = contract.ErrInputRead
			return nil
		}, contract.ErrInputRead},
		{"missing sensor", func(o *memOpener, _ *Settings) contract.Inference {
			delete(o.tmpl.attrs, attrs.KeySensorID)
			return nil
		}, contract.ErrInputRead},
		{"missing passthrough", func(o *memOpener, _ *Settings) contract.Inference {
			delete(o.tmpl.attrs, "orbit_sim_version")
			return nil
		}, contract.ErrInputRead},
		{"range beyond", func(_ *memOpener, s *Settings) contract.Inference {
			stop := 99
			s.Range.Stop = &stop
			return nil
		}, contract.ErrConfig},
		{"inference fail", func(_ *memOpener, _ *Settings) contract.Inference {
			c, _ := imock.New(&imock.Options{Mode: "fail"})
			return c
		}, contract.ErrInference},
		{"no msk", func(_ *memOpener, _ *Settings) contract.Inference {
			c, _ := imock.New(&imock.Options{Mode: "no_msk"})
			return c
		}, contract.ErrInference},
		{"no provenance paren", func(_ *memOpener, s *Settings) contract.Inference {
			require.NoError(t, os.WriteFile(s.PrdGitVPath, []byte("PREFIRE_MSK git\n"), 0o644))
			return nil
		}, contract.ErrInputRead},
		{"missing version file", func(_ *memOpener, s *Settings) contract.Inference {
			s.VersionPath = filepath.Join(t.TempDir(), "absent")
			return nil
		}, contract.ErrInputRead},
		{"bad input name", func(_ *memOpener, s *Settings) contract.Inference {
			s.L1BPath = "/in/short_name.nc"
			return nil
		}, contract.ErrInputRead},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op := newOpener(4, 8)
			op.tmpl.attrs = copyAttrs(op.tmpl.attrs)
			set := baseSettings(t)
			inf := tc.mutate(op, &set)
			if inf == nil {
				inf = newInference(t, nil)
			}
			_, err := Assemble(context.Background(), Components{Granules: op, Inference: inf, Writer: &memWriter{}}, set, diag.Nop())
			require.Error(t, err)
			require.True(t, errors.Is(err, tc.want), "got %v", err)
			require.Equal(t, op.opens, op.closed, "句柄未关闭")
		})
	}
}

// UT-PIPE-06 取消：已取消的上下文不得调用推理
func TestAssemble_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inf := newInference(t, nil)
	_, err := Assemble(ctx, Components{Granules: newOpener(4, 8), Inference: inf, Writer: &memWriter{}}, baseSettings(t), diag.Nop())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, diag.CodeCancel, diag.Classify(err))
}

// UT-PIPE-07 Run：创建输出目录并调用写出端一次
func TestRun_WritesOnce(t *testing.T) {
	set := baseSettings(t)
	set.OutputDir = filepath.Join(set.OutputDir, "nested", "out")
	w := &memWriter{}
	p, err := Run(context.Background(), Components{Granules: newOpener(4, 8), Inference: newInference(t, nil), Writer: w}, set, diag.Nop())
	require.NoError(t, err)
	require.Equal(t, []string{p.Path}, w.calls)
	st, err := os.Stat(set.OutputDir)
	require.NoError(t, err)
	require.True(t, st.IsDir())
	require.Equal(t, p.FileName, w.last.Global[attrs.KeyFileName])
}

// UT-PIPE-08 Run：写出失败上抛 ErrWrite
func TestRun_WriterError(t *testing.T) {
	w := &memWriter{err: contract.ErrWrite}
	_, err := Run(context.Background(), Components{Granules: newOpener(4, 8), Inference: newInference(t, nil), Writer: w}, baseSettings(t), diag.Nop())
	require.ErrorIs(t, err, contract.ErrWrite)
	require.Equal(t, diag.CodeWrite, diag.Classify(err))
}

// UT-PIPE-09 缺少协作方
func TestAssemble_MissingComponents(t *testing.T) {
	_, err := Assemble(context.Background(), Components{}, baseSettings(t), diag.Nop())
	require.Error(t, err)
}

func copyAttrs(a contract.Attrs) contract.Attrs {
	out := contract.Attrs{}
	for k, v := range a {
		out[k] = v
	}
	return out
}
