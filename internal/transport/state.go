// Package transport owns the duplex control channel, the authenticated
// listener, and the two spawn/attach back ends (child process, FastCGI).
package transport

import "go.uber.org/atomic"

// State is the connection-state machine governing a session. Transitions
// only move forward except Terminated -> Uninitialized, which happens
// automatically on the next operation (the bridge auto-respawns).
type State int32

const (
	Uninitialized State = iota
	Initializing
	Initialized
	InitFailed
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	case InitFailed:
		return "init-failed"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// StateBox is an atomically readable/writable State.
type StateBox struct {
	v atomic.Int32
}

func (b *StateBox) Load() State     { return State(b.v.Load()) }
func (b *StateBox) Store(s State)   { b.v.Store(int32(s)) }
func (b *StateBox) Swap(s State) State {
	return State(b.v.Swap(int32(s)))
}

// ResetIfTerminated performs the Terminated -> Uninitialized transition and
// reports whether it did so.
func (b *StateBox) ResetIfTerminated() bool {
	return b.v.CompareAndSwap(int32(Terminated), int32(Uninitialized))
}
