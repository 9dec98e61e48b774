package proxy

import (
	"golang.org/x/net/context"

	"github.com/roadrunner-server/phpbridge/internal/dispatch"
	"github.com/roadrunner-server/phpbridge/internal/protocol"
)

// ClassPath is the builder for a PHP class: construction, and the
// CLASSSTATIC_* family for static properties/methods
type ClassPath struct {
	d    *dispatch.Dispatcher
	name string
}

// Ctor constructs a new instance, emitting CONSTRUCT.
func (c *ClassPath) Ctor(ctx context.Context, args ...any) (*Instance, error) {
	if err := validateClassComponent(c.name); err != nil {
		return nil, err
	}
	payload := c.name
	if len(args) > 0 {
		argsJSON, err := encodeArgsReg(c.d, args)
		if err != nil {
			return nil, err
		}
		payload = c.name + " " + argsJSON
	}
	result, err := c.d.Do(ctx, protocol.OpConstruct, payload)
	if err != nil {
		return nil, err
	}
	return bindInstance(c.d, result)
}

// Static starts a path over a static property/constant.
func (c *ClassPath) Static(name string) *StaticPath {
	return &StaticPath{d: c.d, class: c.name, name: name}
}

// StaticMethod starts a call builder for a static method.
func (c *ClassPath) StaticMethod(name string) *StaticCall {
	return &StaticCall{d: c.d, class: c.name, name: name}
}

// StaticPath mirrors VarPath for CLASSSTATIC_GET/SET/UNSET.
type StaticPath struct {
	d      *dispatch.Dispatcher
	class  string
	name   string
	suffix []string
}

func (s *StaticPath) Path(components ...string) *StaticPath {
	return &StaticPath{d: s.d, class: s.class, name: s.name, suffix: append(append([]string{}, s.suffix...), components...)}
}

func (s *StaticPath) target() string { return s.class + " " + s.name }

func (s *StaticPath) Get(ctx context.Context) (any, error) {
	if len(s.suffix) > 0 && s.suffix[len(s.suffix)-1] == "this" {
		payload, err := s.pathPayload(s.suffix[:len(s.suffix)-1])
		if err != nil {
			return nil, err
		}
		result, err := s.d.Do(ctx, protocol.OpClassStaticGetThis, payload)
		if err != nil {
			return nil, err
		}
		return bindInstance(s.d, result)
	}
	payload, err := s.pathPayload(s.suffix)
	if err != nil {
		return nil, err
	}
	return s.d.Do(ctx, protocol.OpClassStaticGet, payload)
}

func (s *StaticPath) pathPayload(suffix []string) (string, error) {
	if len(suffix) == 0 {
		return s.target(), nil
	}
	pathJSON, err := encodeJSON(stringsToAny(suffix))
	if err != nil {
		return "", err
	}
	return s.target() + " " + pathJSON, nil
}

func (s *StaticPath) Set(ctx context.Context, value any) error {
	encoded, eligible, err := encodeSettable(s.d.Registry(), value)
	if err != nil {
		return err
	}
	if len(s.suffix) == 0 {
		op := protocol.OpClassStaticSet
		if eligible {
			op = protocol.OpClassStaticSetInst
		}
		_, err := s.d.Do(ctx, op, s.target()+" "+encoded)
		return err
	}
	tuple, err := encodeJSON([]any{stringsToAny(s.suffix), rawJSON(encoded)})
	if err != nil {
		return err
	}
	op := protocol.OpClassStaticSetPath
	if eligible {
		op = protocol.OpClassStaticSetPathInst
	}
	_, err = s.d.Do(ctx, op, s.target()+" "+tuple)
	return err
}

func (s *StaticPath) Delete(ctx context.Context) error {
	_, err := s.d.Do(ctx, protocol.OpClassStaticUnset, s.target())
	return err
}

// StaticCall builds a CLASSSTATIC_CALL-style invocation. The closed
// forward opcode set has no dedicated static-call opcode distinct from
// CLASS_CALL's instance form, so static calls ride CLASS_CALL targeting
// the class name in place of a handle id.
type StaticCall struct {
	d     *dispatch.Dispatcher
	class string
	name  string
}

func (s *StaticCall) Call(ctx context.Context, args ...any) (any, error) {
	target := s.class + " " + s.name
	if len(args) == 0 {
		return s.d.Do(ctx, protocol.OpClassCall, target)
	}
	argsJSON, err := encodeArgsReg(s.d, args)
	if err != nil {
		return nil, err
	}
	return s.d.Do(ctx, protocol.OpClassCall, target+" "+argsJSON)
}
