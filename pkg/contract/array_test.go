package contract

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

// TestCoerceNested: 通用嵌套切片（如 YAML/CBOR 解码结果）转换为强类型切片。
func TestCoerceNested(t *testing.T) {
	v := Variable{Dims: []string{"atrack", "xtrack"}, Data: []any{[]any{1, 2.5}, []any{int64(3), uint64(4)}}}
	got, err := Coerce(v, "float32")
	if err != nil {
		t.Fatalf("coerce: %v", err)
	}
	want := [][]float32{{1, 2.5}, {3, 4}}
	if !reflect.DeepEqual(got.Data, want) {
		t.Fatalf("got %#v want %#v", got.Data, want)
	}
	s, err := Coerce(Variable{Data: "abc"}, "string")
	if err != nil || s.Data != "abc" {
		t.Fatalf("标量字符串: %v %#v", err, s.Data)
	}
}

// TestCoerceErrors 覆盖类型与秩不符。
func TestCoerceErrors(t *testing.T) {
	cases := []struct {
		name string
		v    Variable
		typ  string
	}{
		{"unknown type", Variable{Data: 1}, "complex64"},
		{"rank too high", Variable{Dims: []string{"a", "b"}, Data: []any{1, 2}}, "int8"},
		{"string into number", Variable{Dims: []string{"a"}, Data: []any{"x"}}, "int16"},
		{"number into string", Variable{Dims: []string{"a"}, Data: []any{1}}, "string"},
		{"nil", Variable{}, "int8"},
		{"float above int8", Variable{Dims: []string{"a"}, Data: []any{1.0, 300.0}}, "int8"},
		{"int above int8", Variable{Dims: []string{"a"}, Data: []any{128}}, "int8"},
		{"negative into uint8", Variable{Dims: []string{"a"}, Data: []any{int64(-1)}}, "uint8"},
		{"uint64 above int64", Variable{Data: uint64(1) << 63}, "int64"},
		{"float above float32", Variable{Data: 1e40}, "float32"},
		{"NaN into int16", Variable{Data: math.NaN()}, "int16"},
		{"huge float into uint32", Variable{Data: 5e9}, "uint32"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Coerce(tt.v, tt.typ); !errors.Is(err, ErrInvariantViolation) {
				t.Fatalf("want invariant violation, got %v", err)
			}
		})
	}
}

// TestCoerceBoundaries: 边界值与截断在范围内时接受。
func TestCoerceBoundaries(t *testing.T) {
	cases := []struct {
		v    any
		typ  string
		want any
	}{
		{127, "int8", int8(127)},
		{-128.9, "int8", int8(-128)},
		{uint64(255), "uint8", uint8(255)},
		{int64(-32768), "int16", int16(-32768)},
		{3.9, "uint16", uint16(3)},
		{-1.5, "float32", float32(-1.5)},
		{math.Inf(1), "float32", float32(math.Inf(1))},
	}
	for _, tt := range cases {
		got, err := Coerce(Variable{Data: tt.v}, tt.typ)
		if err != nil {
			t.Fatalf("%v -> %s: %v", tt.v, tt.typ, err)
		}
		if got.Data != tt.want {
			t.Fatalf("%v -> %s = %#v, want %#v", tt.v, tt.typ, got.Data, tt.want)
		}
	}
}

// TestShape 验证规则数组形状与锯齿检测。
func TestShape(t *testing.T) {
	shape, err := Shape(Variable{Dims: []string{"atrack", "xtrack"}, Data: [][]int8{{1, 2, 3}, {4, 5, 6}}})
	if err != nil || !reflect.DeepEqual(shape, []int{2, 3}) {
		t.Fatalf("shape=%v err=%v", shape, err)
	}
	if _, err := Shape(Variable{Dims: []string{"a", "b"}, Data: [][]int8{{1}, {1, 2}}}); err == nil {
		t.Fatalf("锯齿数组应失败")
	}
	scalar, err := Shape(Variable{Data: 3.0})
	if err != nil || len(scalar) != 0 {
		t.Fatalf("标量形状应为空: %v %v", scalar, err)
	}
}

// TestSubsetAxis 沿内层轴与外层轴子集，且不共享底层数组。
func TestSubsetAxis(t *testing.T) {
	src := [][]float32{{0, 1, 2, 3}, {10, 11, 12, 13}}
	inner, err := Subset(Variable{Dims: []string{"xtrack", "atrack"}, Data: src}, "atrack", 1, 3)
	if err != nil {
		t.Fatalf("inner: %v", err)
	}
	if want := [][]float32{{1, 2}, {11, 12}}; !reflect.DeepEqual(inner.Data, want) {
		t.Fatalf("inner got %#v", inner.Data)
	}
	outer, err := Subset(Variable{Dims: []string{"atrack", "xtrack"}, Data: src}, "atrack", 1, 2)
	if err != nil {
		t.Fatalf("outer: %v", err)
	}
	got := outer.Data.([][]float32)
	if len(got) != 1 || got[0][0] != 10 {
		t.Fatalf("outer got %#v", got)
	}
	got[0] = nil
	if src[1] == nil {
		t.Fatalf("子集与源共享了外层数组")
	}
	// 不含该维度：原样返回
	same, err := Subset(Variable{Dims: []string{"xtrack"}, Data: []int8{1, 2}}, "atrack", 0, 1)
	if err != nil || !reflect.DeepEqual(same.Data, []int8{1, 2}) {
		t.Fatalf("无 atrack 维度应原样返回: %v %#v", err, same.Data)
	}
	if _, err := Subset(Variable{Dims: []string{"atrack"}, Data: []int8{1}}, "atrack", 0, 5); err == nil {
		t.Fatalf("越界子集应失败")
	}
}
