package fixture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prefiremsk/pkg/contract"
)

const sample = `
attributes:
  granule_ID: "01985"
  spacecraft_ID: PREFIRE02
  sensor_ID: TIRS2
  ctime_coverage_start_s: 1412345678.5
dimensions: {atrack: 4, xtrack: 2, spectral: 3}
groups:
  Geometry:
    attributes: {title: geometry}
    variables:
      latitude:
        dims: [atrack, xtrack]
        type: float32
        data: [[0, 0.5], [1, 1.5], [2, 2.5], [3, 3.5]]
      time_UTC_values:
        dims: [atrack]
        type: string
        data: [a, b, c, d]
      band_center:
        dims: [spectral]
        type: float64
        data: [1, 2, 3]
      xtrack_index:
        dims: [xtrack, atrack]
        type: int16
        data: [[0, 1, 2, 3], [10, 11, 12, 13]]
`

func write(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "granule.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func open(t *testing.T, body string) contract.Granule {
	t.Helper()
	g, err := New(nil).Open(context.Background(), write(t, body))
	require.NoError(t, err)
	return g
}

func rng(t *testing.T, start int, stop *int) contract.AtrackRange {
	t.Helper()
	r, err := contract.Resolve(contract.RangeRequest{Dim: contract.DimAtrack, Start: start, Stop: stop}, 4)
	require.NoError(t, err)
	return r
}

func TestOpenAttributesAndDims(t *testing.T) {
	g := open(t, sample)
	defer g.Close()

	sc, err := contract.StringAttr(g, "spacecraft_ID")
	require.NoError(t, err)
	assert.Equal(t, "PREFIRE02", sc)

	v, ok := g.Attr("ctime_coverage_start_s")
	require.True(t, ok)
	assert.InDelta(t, 1412345678.5, v, 1e-6)

	_, err = contract.StringAttr(g, "ctime_coverage_start_s")
	assert.ErrorIs(t, err, contract.ErrInputRead)

	n, err := g.DimSize(contract.DimXtrack)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = g.DimSize("nope")
	assert.ErrorIs(t, err, contract.ErrInputRead)
}

func TestGroupVariablesSubset(t *testing.T) {
	g := open(t, sample)
	defer g.Close()
	stop := 3
	vars, err := g.GroupVariables(contract.GroupGeometry, rng(t, 1, &stop))
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{1, 1.5}, {2, 2.5}}, vars["latitude"].Data)
	assert.Equal(t, []string{"b", "c"}, vars["time_UTC_values"].Data)
	// 不含 atrack 的变量整体返回
	assert.Equal(t, []float64{1, 2, 3}, vars["band_center"].Data)
	// atrack 在内层轴
	assert.Equal(t, [][]int16{{1, 2}, {11, 12}}, vars["xtrack_index"].Data)
	assert.Equal(t, []string{"xtrack", "atrack"}, vars["xtrack_index"].Dims)

	full, err := g.GroupVariables(contract.GroupGeometry, rng(t, 0, nil))
	require.NoError(t, err)
	assert.Len(t, full["latitude"].Data, 4)

	attrs, err := g.GroupAttributes(contract.GroupGeometry)
	require.NoError(t, err)
	assert.Equal(t, contract.Attrs{"title": "geometry"}, attrs)
	attrs["title"] = "changed"
	again, _ := g.GroupAttributes(contract.GroupGeometry)
	assert.Equal(t, "geometry", again["title"])
}

func TestGroupErrors(t *testing.T) {
	g := open(t, sample)
	_, err := g.GroupVariables("Missing", rng(t, 0, nil))
	assert.ErrorIs(t, err, contract.ErrInputRead)
	_, err = g.GroupAttributes("Missing")
	assert.ErrorIs(t, err, contract.ErrInputRead)

	// 区间基于不同的 full 解析
	bad, err := contract.Resolve(contract.RangeRequest{Dim: contract.DimAtrack}, 5)
	require.NoError(t, err)
	_, err = g.GroupVariables(contract.GroupGeometry, bad)
	assert.ErrorIs(t, err, contract.ErrInputRead)

	require.NoError(t, g.Close())
	_, err = g.DimSize(contract.DimAtrack)
	assert.ErrorIs(t, err, contract.ErrInputRead)
	_, ok := g.Attr("granule_ID")
	assert.False(t, ok)
}

func TestOpenRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"shape mismatch": `
dimensions: {atrack: 3}
groups: {Geometry: {variables: {v: {dims: [atrack], type: int8, data: [1, 2]}}}}`,
		"undeclared dim": `
dimensions: {atrack: 2}
groups: {Geometry: {variables: {v: {dims: [xtrack], type: int8, data: [1, 2]}}}}`,
		"bad type": `
dimensions: {atrack: 2}
groups: {Geometry: {variables: {v: {dims: [atrack], type: complex64, data: [1, 2]}}}}`,
		"ragged": `
dimensions: {atrack: 2, xtrack: 2}
groups: {Geometry: {variables: {v: {dims: [atrack, xtrack], type: int8, data: [[1, 2], [3]]}}}}`,
		"negative dim": `dimensions: {atrack: -1}`,
		"not yaml":     "attributes: [unclosed",
	}
	for name, body := range cases {
		_, err := New(nil).Open(context.Background(), write(t, body))
		assert.ErrorIs(t, err, contract.ErrInputRead, name)
	}

	_, err := New(nil).Open(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, contract.ErrInputRead)

	_, err = New(&Options{MaxBytes: 16}).Open(context.Background(), write(t, sample))
	assert.ErrorIs(t, err, contract.ErrInputRead)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(nil).Open(ctx, write(t, sample))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenAcceptsJSON(t *testing.T) {
	g := open(t, `{"attributes": {"granule_ID": "7"}, "dimensions": {"atrack": 1},
 "groups": {"Geometry": {"variables": {"v": {"dims": ["atrack"], "type": "uint8", "data": [9]}}}}}`)
	vars, err := g.GroupVariables(contract.GroupGeometry, rng1(t))
	require.NoError(t, err)
	assert.Equal(t, []uint8{9}, vars["v"].Data)
}

func rng1(t *testing.T) contract.AtrackRange {
	r, err := contract.Resolve(contract.RangeRequest{Dim: contract.DimAtrack}, 1)
	require.NoError(t, err)
	return r
}
