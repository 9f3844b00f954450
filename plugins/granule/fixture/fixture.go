// Package fixture 实现基于 YAML/JSON 描述文件的粒度读取器。
//
// 文件结构：
//
//	attributes: {name: value}           # 全局属性
//	dimensions: {atrack: 6, xtrack: 8}  # 维度大小
//	groups:
//	  Geometry:
//	    attributes: {name: value}
//	    variables:
//	      latitude: {dims: [atrack, xtrack], type: float32, data: [[...], ...]}
//
// 变量在打开时即转换为强类型嵌套切片，并按声明的维度大小校验形状。
package fixture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"prefiremsk/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// MaxBytes: 描述文件大小上限；<=0 使用默认 256 MiB。
	MaxBytes int64 `json:"max_bytes,omitempty"`
}

const defaultMaxBytes = 256 << 20

// Opener 打开夹具粒度文件。
type Opener struct {
	maxBytes int64
}

// New 创建夹具读取器。
func New(opts *Options) *Opener {
	mb := int64(defaultMaxBytes)
	if opts != nil && opts.MaxBytes > 0 {
		mb = opts.MaxBytes
	}
	return &Opener{maxBytes: mb}
}

var _ contract.GranuleOpener = (*Opener)(nil)

type document struct {
	Attributes map[string]any      `yaml:"attributes"`
	Dimensions map[string]int      `yaml:"dimensions"`
	Groups     map[string]groupDoc `yaml:"groups"`
}

type groupDoc struct {
	Attributes map[string]any    `yaml:"attributes"`
	Variables  map[string]varDoc `yaml:"variables"`
}

type varDoc struct {
	Dims []string `yaml:"dims"`
	Type string   `yaml:"type"`
	Data any      `yaml:"data"`
}

// Open 读取并校验整个描述文件；返回的句柄不持有文件描述符。
func (o *Opener) Open(ctx context.Context, path string) (contract.Granule, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrInputRead, err)
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, o.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", contract.ErrInputRead, path, err)
	}
	if int64(len(raw)) > o.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", contract.ErrInputRead, path, o.maxBytes)
	}
	return parse(raw)
}

func parse(raw []byte) (*Granule, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode granule: %v", contract.ErrInputRead, err)
	}
	g := &Granule{
		attrs:  contract.Attrs{},
		dims:   map[string]int{},
		groups: map[string]group{},
	}
	for k, v := range doc.Attributes {
		g.attrs[k] = v
	}
	for k, v := range doc.Dimensions {
		if v < 0 {
			return nil, fmt.Errorf("%w: dimension %s has negative size %d", contract.ErrInputRead, k, v)
		}
		g.dims[k] = v
	}
	for gname, gd := range doc.Groups {
		grp := group{attrs: contract.Attrs{}, vars: contract.Group{}}
		for k, v := range gd.Attributes {
			grp.attrs[k] = v
		}
		for _, vname := range sortedKeys(gd.Variables) {
			vd := gd.Variables[vname]
			v, err := g.load(vd)
			if err != nil {
				return nil, fmt.Errorf("%w: %s/%s: %v", contract.ErrInputRead, gname, vname, err)
			}
			grp.vars[vname] = v
		}
		g.groups[gname] = grp
	}
	return g, nil
}

// load 将单个变量转换为强类型并校验形状。
func (g *Granule) load(vd varDoc) (contract.Variable, error) {
	v, err := contract.Coerce(contract.Variable{Dims: vd.Dims, Data: vd.Data}, vd.Type)
	if err != nil {
		return contract.Variable{}, err
	}
	shape, err := contract.Shape(v)
	if err != nil {
		return contract.Variable{}, err
	}
	for i, d := range v.Dims {
		want, ok := g.dims[d]
		if !ok {
			return contract.Variable{}, fmt.Errorf("undeclared dimension %q", d)
		}
		if shape[i] != want {
			return contract.Variable{}, fmt.Errorf("dimension %s: length %d, declared %d", d, shape[i], want)
		}
	}
	return v, nil
}

// Granule: 已载入内存的只读粒度。
type Granule struct {
	mu     sync.Mutex
	closed bool
	attrs  contract.Attrs
	dims   map[string]int
	groups map[string]group
}

type group struct {
	attrs contract.Attrs
	vars  contract.Group
}

var errClosed = errors.New("granule closed")

func (g *Granule) check() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return fmt.Errorf("%w: %v", contract.ErrInputRead, errClosed)
	}
	return nil
}

// Attr 返回全局属性。
func (g *Granule) Attr(name string) (any, bool) {
	if g.check() != nil {
		return nil, false
	}
	v, ok := g.attrs[name]
	return v, ok
}

// DimSize 返回维度大小。
func (g *Granule) DimSize(name string) (int, error) {
	if err := g.check(); err != nil {
		return 0, err
	}
	n, ok := g.dims[name]
	if !ok {
		return 0, fmt.Errorf("%w: dimension %q not found", contract.ErrInputRead, name)
	}
	return n, nil
}

// GroupVariables 返回组内全部变量；含 rng.Dim 的变量按 [Start,Bound) 子集。
func (g *Granule) GroupVariables(name string, rng contract.AtrackRange) (contract.Group, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	grp, ok := g.groups[name]
	if !ok {
		return nil, fmt.Errorf("%w: group %q not found", contract.ErrInputRead, name)
	}
	if size, ok := g.dims[rng.Dim]; ok && size != rng.Full {
		return nil, fmt.Errorf("%w: %s size %d, range resolved against %d", contract.ErrInputRead, rng.Dim, size, rng.Full)
	}
	out := make(contract.Group, len(grp.vars))
	for vname, v := range grp.vars {
		sub, err := contract.Subset(v, rng.Dim, rng.Start, rng.Bound())
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s: %v", contract.ErrInputRead, name, vname, err)
		}
		out[vname] = sub
	}
	return out, nil
}

// GroupAttributes 返回组属性副本。
func (g *Granule) GroupAttributes(name string) (contract.Attrs, error) {
	if err := g.check(); err != nil {
		return nil, err
	}
	grp, ok := g.groups[name]
	if !ok {
		return nil, fmt.Errorf("%w: group %q not found", contract.ErrInputRead, name)
	}
	out := make(contract.Attrs, len(grp.attrs))
	for k, v := range grp.attrs {
		out[k] = v
	}
	return out, nil
}

// Close 释放句柄；之后的读取均失败。
func (g *Granule) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
