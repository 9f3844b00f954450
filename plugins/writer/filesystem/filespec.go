package filesystem

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"prefiremsk/pkg/contract"
)

// Filespec 描述产品文件应包含的全局属性、组、组属性与变量。
// 文件可为 YAML 或 JSON。
type Filespec struct {
	GlobalAttributes []string             `yaml:"global_attributes"`
	Groups           map[string]GroupSpec `yaml:"groups"`
}

// GroupSpec: 单个组的规格。
type GroupSpec struct {
	Attributes []string           `yaml:"attributes"`
	Variables  map[string]VarSpec `yaml:"variables"`
}

// VarSpec: 单个变量的规格；Dims 为空表示标量。
type VarSpec struct {
	Dims     []string `yaml:"dims"`
	Type     string   `yaml:"type"`
	Optional bool     `yaml:"optional"`
}

// LoadFilespec 严格解析规格文件（拒绝未知字段、未知类型）。
func LoadFilespec(path string) (*Filespec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: product spec: %v", contract.ErrWrite, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var fs Filespec
	if err := dec.Decode(&fs); err != nil {
		return nil, fmt.Errorf("%w: product spec %s: %v", contract.ErrWrite, path, err)
	}
	for gname, g := range fs.Groups {
		for vname, v := range g.Variables {
			if !contract.KnownType(v.Type) {
				return nil, fmt.Errorf("%w: product spec %s/%s: unsupported type %q", contract.ErrWrite, gname, vname, v.Type)
			}
		}
	}
	return &fs, nil
}

// Container 为写出文件的 CBOR 顶层结构。
type Container struct {
	GlobalAttributes map[string]any      `cbor:"global_attributes"`
	Groups           map[string]GroupOut `cbor:"groups"`
}

type GroupOut struct {
	Attributes map[string]any    `cbor:"attributes"`
	Variables  map[string]VarOut `cbor:"variables"`
}

type VarOut struct {
	Dims  []string `cbor:"dims"`
	Type  string   `cbor:"type"`
	Shape []int    `cbor:"shape"`
	Data  any      `cbor:"data"`
}

// Build 依据规格从 Payload 构造容器：
//   - 列出的全局属性、组、组属性与非 optional 变量必须存在；
//   - 变量维度名须与规格一致，数据转换为规格类型；
//   - 未列出的条目被丢弃。
func (fs *Filespec) Build(p contract.Payload) (Container, error) {
	out := Container{
		GlobalAttributes: make(map[string]any, len(fs.GlobalAttributes)),
		Groups:           make(map[string]GroupOut, len(fs.Groups)),
	}
	for _, name := range fs.GlobalAttributes {
		v, ok := p.Global[name]
		if !ok {
			return Container{}, fmt.Errorf("%w: global attribute %q missing", contract.ErrWrite, name)
		}
		out.GlobalAttributes[name] = v
	}
	for gname, gs := range fs.Groups {
		vars, ok := p.Groups[gname]
		if !ok {
			return Container{}, fmt.Errorf("%w: group %q missing", contract.ErrWrite, gname)
		}
		g := GroupOut{
			Attributes: make(map[string]any, len(gs.Attributes)),
			Variables:  make(map[string]VarOut, len(gs.Variables)),
		}
		gattrs := p.GroupAttrs[gname]
		for _, a := range gs.Attributes {
			v, ok := gattrs[a]
			if !ok {
				return Container{}, fmt.Errorf("%w: group %q attribute %q missing", contract.ErrWrite, gname, a)
			}
			g.Attributes[a] = v
		}
		for vname, vs := range gs.Variables {
			v, ok := vars[vname]
			if !ok {
				if vs.Optional {
					continue
				}
				return Container{}, fmt.Errorf("%w: variable %s/%s missing", contract.ErrWrite, gname, vname)
			}
			if !slices.Equal(v.Dims, vs.Dims) {
				return Container{}, fmt.Errorf("%w: variable %s/%s dims %v, spec %v", contract.ErrWrite, gname, vname, v.Dims, vs.Dims)
			}
			typed, err := contract.Coerce(v, vs.Type)
			if err != nil {
				return Container{}, fmt.Errorf("%w: variable %s/%s: %w", contract.ErrWrite, gname, vname, err)
			}
			shape, err := contract.Shape(typed)
			if err != nil {
				return Container{}, fmt.Errorf("%w: variable %s/%s: %w", contract.ErrWrite, gname, vname, err)
			}
			dims := typed.Dims
			if dims == nil {
				dims = []string{}
			}
			g.Variables[vname] = VarOut{Dims: dims, Type: vs.Type, Shape: shape, Data: typed.Data}
		}
		out.Groups[gname] = g
	}
	return out, nil
}
