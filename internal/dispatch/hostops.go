// Package dispatch implements the dispatcher: it drives the control
// channel, serves reverse requests by invoking host operations, and
// composes the DATA replies PHP waits on.
package dispatch

import (
	"fmt"
	"sort"

	"github.com/roadrunner-server/errors"
)

const opHost = errors.Op("host_ops")

// Iterator backs CLASS_GET_ITERATOR/iteration support: a host value handed
// back to PHP as a fresh handle, whose Next method PHP drives through
// ordinary CLASS_CALL records.
type Iterator interface {
	Next() (value any, done bool, err error)
}

// SymbolResolver is consulted when PHP asks for a global symbol the host
// object does not already have, mirroring the onsymbol config option.
type SymbolResolver func(name string) (any, bool)

// HostOps implements every operation a reverse request can name: resolve,
// construct, get, set, call, invoke, iterate, stringify, isset, unset,
// enumerate properties, static call, function call.
type HostOps interface {
	Resolve(name string) (any, bool)
	Construct(className string, args []any) (any, error)
	Get(target any, member string) (any, error)
	Set(target any, member string, value any) error
	Call(target any, member string, args []any) (any, error)
	Invoke(target any, args []any) (any, error)
	Iterator(target any) (Iterator, error)
	ToString(target any) (string, error)
	Isset(target any, member string) (bool, error)
	Unset(target any, member string) error
	Props(target any) ([]string, error)
	StaticCall(class, method string, args []any) (any, error)
	FunctionCall(name string, args []any) (any, error)
}

// ClassFactory builds a registered host class from its construction
// arguments.
type ClassFactory func(args []any) (any, error)

// HostFunction is a registered host function or static method body.
type HostFunction func(args []any) (any, error)

// ReflectOps is the default HostOps: a flat symbol table for global values,
// a name -> constructor table for classes, a name -> body table for
// functions/static methods, and reflection over whatever values those
// tables hand back for member access.
type ReflectOps struct {
	Global    map[string]any
	Classes   map[string]ClassFactory
	Functions map[string]HostFunction
	OnSymbol  SymbolResolver
}

// NewReflectOps returns an empty, ready-to-register ReflectOps.
func NewReflectOps() *ReflectOps {
	return &ReflectOps{
		Global:    make(map[string]any),
		Classes:   make(map[string]ClassFactory),
		Functions: make(map[string]HostFunction),
	}
}

func (r *ReflectOps) Resolve(name string) (any, bool) {
	if v, ok := r.Global[name]; ok {
		return v, true
	}
	if r.OnSymbol != nil {
		return r.OnSymbol(name)
	}
	return nil, false
}

func (r *ReflectOps) Construct(className string, args []any) (any, error) {
	factory, ok := r.Classes[className]
	if !ok {
		return nil, errors.E(opHost, errors.Str(fmt.Sprintf("unknown host class %q", className)))
	}
	return factory(args)
}

func (r *ReflectOps) Get(target any, member string) (any, error) {
	return reflectGet(target, member)
}

func (r *ReflectOps) Set(target any, member string, value any) error {
	return reflectSet(target, member, value)
}

func (r *ReflectOps) Call(target any, member string, args []any) (any, error) {
	return reflectCall(target, member, args)
}

func (r *ReflectOps) Invoke(target any, args []any) (any, error) {
	return reflectInvokeValue(target, args)
}

func (r *ReflectOps) Iterator(target any) (Iterator, error) {
	if it, ok := target.(Iterator); ok {
		return it, nil
	}
	return reflectIterator(target)
}

func (r *ReflectOps) ToString(target any) (string, error) {
	if s, ok := target.(fmt.Stringer); ok {
		return s.String(), nil
	}
	return fmt.Sprintf("%v", target), nil
}

func (r *ReflectOps) Isset(target any, member string) (bool, error) {
	_, err := reflectGet(target, member)
	return err == nil, nil
}

func (r *ReflectOps) Unset(target any, member string) error {
	return reflectUnset(target, member)
}

func (r *ReflectOps) Props(target any) ([]string, error) {
	names, err := reflectProps(target)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (r *ReflectOps) StaticCall(class, method string, args []any) (any, error) {
	fn, ok := r.Functions[class+"::"+method]
	if !ok {
		return nil, errors.E(opHost, errors.Str(fmt.Sprintf("unknown static method %s::%s", class, method)))
	}
	return fn(args)
}

func (r *ReflectOps) FunctionCall(name string, args []any) (any, error) {
	fn, ok := r.Functions[name]
	if !ok {
		return nil, errors.E(opHost, errors.Str(fmt.Sprintf("unknown host function %q", name)))
	}
	return fn(args)
}
