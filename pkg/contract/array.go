package contract

import (
	"fmt"
	"math"
	"reflect"
)

// 支持的元素类型（产品规格与夹具文件中的 type 字段）。
var elemTypes = map[string]reflect.Type{
	"float32": reflect.TypeOf(float32(0)),
	"float64": reflect.TypeOf(float64(0)),
	"int8":    reflect.TypeOf(int8(0)),
	"int16":   reflect.TypeOf(int16(0)),
	"int32":   reflect.TypeOf(int32(0)),
	"int64":   reflect.TypeOf(int64(0)),
	"uint8":   reflect.TypeOf(uint8(0)),
	"uint16":  reflect.TypeOf(uint16(0)),
	"uint32":  reflect.TypeOf(uint32(0)),
	"string":  reflect.TypeOf(""),
}

// KnownType 判断类型名是否受支持。
func KnownType(typ string) bool {
	_, ok := elemTypes[typ]
	return ok
}

// Coerce 将变量数据转换为 rank=len(Dims) 的强类型嵌套切片（如 [][]float32）。
// 输入可以是任意嵌套的切片/数组（含 []any）；浮点转整数截断小数，超出目标类型范围返回错误。
func Coerce(v Variable, typ string) (Variable, error) {
	et, ok := elemTypes[typ]
	if !ok {
		return Variable{}, fmt.Errorf("%w: unsupported type %q", ErrInvariantViolation, typ)
	}
	out, err := coerce(reflect.ValueOf(v.Data), et, len(v.Dims))
	if err != nil {
		return Variable{}, err
	}
	return Variable{Dims: cloneDims(v.Dims), Data: out.Interface()}, nil
}

func coerce(src reflect.Value, et reflect.Type, rank int) (reflect.Value, error) {
	src = deref(src)
	if !src.IsValid() {
		return reflect.Value{}, fmt.Errorf("%w: nil value", ErrInvariantViolation)
	}
	if rank == 0 {
		return convertScalar(src, et)
	}
	if src.Kind() != reflect.Slice && src.Kind() != reflect.Array {
		return reflect.Value{}, fmt.Errorf("%w: expected rank-%d array, got %s", ErrInvariantViolation, rank, src.Kind())
	}
	t := et
	for i := 0; i < rank; i++ {
		t = reflect.SliceOf(t)
	}
	n := src.Len()
	out := reflect.MakeSlice(t, n, n)
	for i := 0; i < n; i++ {
		e, err := coerce(src.Index(i), et, rank-1)
		if err != nil {
			return reflect.Value{}, err
		}
		out.Index(i).Set(e)
	}
	return out, nil
}

func convertScalar(src reflect.Value, et reflect.Type) (reflect.Value, error) {
	if et.Kind() == reflect.String {
		if src.Kind() != reflect.String {
			return reflect.Value{}, fmt.Errorf("%w: expected string, got %s", ErrInvariantViolation, src.Kind())
		}
		return src.Convert(et), nil
	}
	if !isNumber(src.Kind()) {
		return reflect.Value{}, fmt.Errorf("%w: expected number, got %s", ErrInvariantViolation, src.Kind())
	}
	if overflows(src, et) {
		return reflect.Value{}, fmt.Errorf("%w: value %v out of range for %s", ErrInvariantViolation, src.Interface(), et)
	}
	return src.Convert(et), nil
}

// overflows 判断 src 转换为 et 时是否越界；浮点转整数时小数部分按截断处理。
func overflows(src reflect.Value, et reflect.Type) bool {
	dst := reflect.New(et).Elem()
	switch {
	case src.CanInt():
		i := src.Int()
		switch {
		case dst.CanInt():
			return dst.OverflowInt(i)
		case dst.CanUint():
			return i < 0 || dst.OverflowUint(uint64(i))
		}
	case src.CanUint():
		u := src.Uint()
		switch {
		case dst.CanInt():
			return u > math.MaxInt64 || dst.OverflowInt(int64(u))
		case dst.CanUint():
			return dst.OverflowUint(u)
		}
	case src.CanFloat():
		f := src.Float()
		switch {
		case dst.CanFloat():
			return dst.OverflowFloat(f)
		case dst.CanInt():
			t := math.Trunc(f)
			return math.IsNaN(f) || t < math.MinInt64 || t >= math.MaxInt64 || dst.OverflowInt(int64(t))
		case dst.CanUint():
			t := math.Trunc(f)
			return math.IsNaN(f) || t < 0 || t >= math.MaxUint64 || dst.OverflowUint(uint64(t))
		}
	}
	return false
}

// Shape 返回变量各轴长度；要求数据为规则（非锯齿）数组。
func Shape(v Variable) ([]int, error) {
	shape := make([]int, len(v.Dims))
	seen := make([]bool, len(v.Dims))
	if err := walkShape(reflect.ValueOf(v.Data), shape, seen, 0); err != nil {
		return nil, err
	}
	return shape, nil
}

func walkShape(src reflect.Value, shape []int, seen []bool, depth int) error {
	if depth == len(shape) {
		return nil
	}
	src = deref(src)
	if !src.IsValid() || (src.Kind() != reflect.Slice && src.Kind() != reflect.Array) {
		return fmt.Errorf("%w: expected array at depth %d", ErrInvariantViolation, depth)
	}
	n := src.Len()
	if !seen[depth] {
		shape[depth] = n
		seen[depth] = true
	} else if shape[depth] != n {
		return fmt.Errorf("%w: ragged array at depth %d (%d != %d)", ErrInvariantViolation, depth, n, shape[depth])
	}
	for i := 0; i < n; i++ {
		if err := walkShape(src.Index(i), shape, seen, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Subset 沿维度 dim 取 [start,stop) 子集；变量不含该维度时原样返回。
// 结果为新分配的切片，不与输入共享底层数组。
func Subset(v Variable, dim string, start, stop int) (Variable, error) {
	axis := -1
	for i, d := range v.Dims {
		if d == dim {
			axis = i
			break
		}
	}
	if axis < 0 {
		return Variable{Dims: cloneDims(v.Dims), Data: v.Data}, nil
	}
	if start < 0 || stop < start {
		return Variable{}, fmt.Errorf("%w: bad subset [%d,%d)", ErrInvariantViolation, start, stop)
	}
	out, err := sliceAxis(reflect.ValueOf(v.Data), axis, start, stop)
	if err != nil {
		return Variable{}, err
	}
	return Variable{Dims: cloneDims(v.Dims), Data: out.Interface()}, nil
}

func sliceAxis(src reflect.Value, axis, start, stop int) (reflect.Value, error) {
	src = deref(src)
	if !src.IsValid() || src.Kind() != reflect.Slice {
		return reflect.Value{}, fmt.Errorf("%w: expected slice on axis walk", ErrInvariantViolation)
	}
	if axis == 0 {
		if stop > src.Len() {
			return reflect.Value{}, fmt.Errorf("%w: subset stop %d exceeds length %d", ErrInvariantViolation, stop, src.Len())
		}
		out := reflect.MakeSlice(src.Type(), stop-start, stop-start)
		reflect.Copy(out, src.Slice(start, stop))
		return out, nil
	}
	n := src.Len()
	out := reflect.MakeSlice(src.Type(), n, n)
	for i := 0; i < n; i++ {
		e, err := sliceAxis(src.Index(i), axis-1, start, stop)
		if err != nil {
			return reflect.Value{}, err
		}
		out.Index(i).Set(e)
	}
	return out, nil
}

func deref(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func cloneDims(d []string) []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d))
	copy(out, d)
	return out
}
