package dispatch

import (
	"fmt"
	"reflect"

	"github.com/roadrunner-server/errors"
)

const opReflect = errors.Op("host_ops_reflect")

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return v
		}
		v = v.Elem()
	}
	return v
}

func reflectGet(target any, member string) (any, error) {
	if m, ok := target.(map[string]any); ok {
		v, ok := m[member]
		if !ok {
			return nil, errors.E(opReflect, errors.Str(fmt.Sprintf("no member %q", member)))
		}
		return v, nil
	}

	rv := indirect(reflect.ValueOf(target))
	if rv.Kind() != reflect.Struct {
		return nil, errors.E(opReflect, errors.Str(fmt.Sprintf("cannot get %q on %T", member, target)))
	}
	field := rv.FieldByName(member)
	if !field.IsValid() || !field.CanInterface() {
		return nil, errors.E(opReflect, errors.Str(fmt.Sprintf("no exported field %q on %T", member, target)))
	}
	return field.Interface(), nil
}

func reflectSet(target any, member string, value any) error {
	if m, ok := target.(map[string]any); ok {
		m[member] = value
		return nil
	}

	rv := indirect(reflect.ValueOf(target))
	if rv.Kind() != reflect.Struct || !rv.CanSet() {
		return errors.E(opReflect, errors.Str(fmt.Sprintf("cannot set %q on %T", member, target)))
	}
	field := rv.FieldByName(member)
	if !field.IsValid() || !field.CanSet() {
		return errors.E(opReflect, errors.Str(fmt.Sprintf("no settable field %q on %T", member, target)))
	}
	field.Set(reflect.ValueOf(value).Convert(field.Type()))
	return nil
}

func reflectCall(target any, member string, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.E(opReflect, errors.Str(fmt.Sprintf("panic calling %s: %v", member, r)))
		}
	}()

	rv := reflect.ValueOf(target)
	method := rv.MethodByName(member)
	if !method.IsValid() {
		return nil, errors.E(opReflect, errors.Str(fmt.Sprintf("no method %q on %T", member, target)))
	}
	return invokeMethod(method, args)
}

func reflectInvokeValue(target any, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.E(opReflect, errors.Str(fmt.Sprintf("panic invoking %T: %v", target, r)))
		}
	}()

	if fn, ok := target.(func(args []any) (any, error)); ok {
		return fn(args)
	}
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Func {
		return nil, errors.E(opReflect, errors.Str(fmt.Sprintf("%T is not invokable", target)))
	}
	return invokeMethod(rv, args)
}

// invokeMethod adapts a loosely-typed argument slice to fn's declared
// parameter types on a best-effort basis, then runs it and folds its
// return values into a single result: zero returns -> nil, one -> itself,
// many -> []any. A trailing error return is peeled off and reported.
func invokeMethod(fn reflect.Value, args []any) (any, error) {
	t := fn.Type()
	numIn := t.NumIn()
	if t.IsVariadic() {
		numIn--
	}

	in := make([]reflect.Value, 0, len(args))
	for i, a := range args {
		var want reflect.Type
		switch {
		case i < numIn:
			want = t.In(i)
		case t.IsVariadic():
			want = t.In(t.NumIn() - 1).Elem()
		default:
			break
		}
		in = append(in, convertArg(a, want))
	}

	out := fn.Call(in)
	return foldReturns(out)
}

func convertArg(a any, want reflect.Type) reflect.Value {
	if want == nil {
		return reflect.ValueOf(a)
	}
	av := reflect.ValueOf(a)
	if !av.IsValid() {
		return reflect.Zero(want)
	}
	if av.Type().ConvertibleTo(want) {
		return av.Convert(want)
	}
	return av
}

func foldReturns(out []reflect.Value) (any, error) {
	if len(out) == 0 {
		return nil, nil
	}
	last := out[len(out)-1]
	if last.Type().Implements(reflect.TypeOf((*error)(nil)).Elem()) {
		var callErr error
		if !last.IsNil() {
			callErr = last.Interface().(error)
		}
		vals := out[:len(out)-1]
		switch len(vals) {
		case 0:
			return nil, callErr
		case 1:
			return vals[0].Interface(), callErr
		default:
			return foldValues(vals), callErr
		}
	}
	if len(out) == 1 {
		return out[0].Interface(), nil
	}
	return foldValues(out), nil
}

func foldValues(vals []reflect.Value) []any {
	result := make([]any, len(vals))
	for i, v := range vals {
		result[i] = v.Interface()
	}
	return result
}

func reflectUnset(target any, member string) error {
	if m, ok := target.(map[string]any); ok {
		delete(m, member)
		return nil
	}
	return errors.E(opReflect, errors.Str(fmt.Sprintf("cannot unset %q on %T", member, target)))
}

func reflectProps(target any) ([]string, error) {
	if m, ok := target.(map[string]any); ok {
		names := make([]string, 0, len(m))
		for k := range m {
			names = append(names, k)
		}
		return names, nil
	}

	rv := indirect(reflect.ValueOf(target))
	if rv.Kind() != reflect.Struct {
		return nil, errors.E(opReflect, errors.Str(fmt.Sprintf("cannot enumerate properties on %T", target)))
	}
	rt := rv.Type()
	names := make([]string, 0, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		if rt.Field(i).IsExported() {
			names = append(names, rt.Field(i).Name)
		}
	}
	return names, nil
}

type sliceIterator struct {
	v reflect.Value
	i int
}

func (s *sliceIterator) Next() (any, bool, error) {
	if s.i >= s.v.Len() {
		return nil, true, nil
	}
	val := s.v.Index(s.i).Interface()
	s.i++
	return val, false, nil
}

type mapIterator struct {
	v    reflect.Value
	keys []reflect.Value
	i    int
}

func (m *mapIterator) Next() (any, bool, error) {
	if m.i >= len(m.keys) {
		return nil, true, nil
	}
	k := m.keys[m.i]
	val := m.v.MapIndex(k).Interface()
	m.i++
	return map[string]any{"key": k.Interface(), "value": val}, false, nil
}

func reflectIterator(target any) (Iterator, error) {
	rv := reflect.ValueOf(target)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return &sliceIterator{v: rv}, nil
	case reflect.Map:
		return &mapIterator{v: rv, keys: rv.MapKeys()}, nil
	default:
		return nil, errors.E(opReflect, errors.Str(fmt.Sprintf("%T is not iterable", target)))
	}
}
