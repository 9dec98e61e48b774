// Package handle implements the object-reference registry: integer handles
// naming host objects that the PHP side retains references to, plus the
// frame-scoped bulk-free stack built on top of it.
package handle

import (
	"context"
	"sync"

	"github.com/roadrunner-server/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const op = errors.Op("handle_registry")

// Pinned slots: ID 0 names the bridge instance itself, ID 1 the host global
// namespace. Neither is ever released by Clear.
const (
	BridgeInstanceID int32 = 0
	GlobalNamespaceID int32 = 1

	firstAllocatableID int32 = 2
	maxHandleID         int32 = 1<<31 - 1
)

// ErrUnknownHandle is returned by Lookup and Release for an id with no live
// mapping.
var ErrUnknownHandle = errors.Str("unknown handle")

// Disposer is implemented by registered objects that need cleanup when
// their handle is released.
type Disposer interface {
	Dispose() error
}

// AsyncDisposer is the asynchronous counterpart of Disposer.
type AsyncDisposer interface {
	DisposeContext(ctx context.Context) error
}

// Registry maps handle IDs to host objects. It is only ever touched from the
// dispatcher's single goroutine, but the counter is kept atomic so metrics
// collectors can read it concurrently without contending the map lock.
type Registry struct {
	log *zap.Logger

	mu      sync.RWMutex
	objects map[int32]any

	counter atomic.Int32 // last allocated id
	live    atomic.Int32 // count of live (non-pinned) entries, for metrics
}

// New creates a Registry with the two pinned slots populated.
func New(log *zap.Logger, bridgeInstance, globalNamespace any) *Registry {
	r := &Registry{
		log:     log,
		objects: make(map[int32]any, 64),
	}
	r.objects[BridgeInstanceID] = bridgeInstance
	r.objects[GlobalNamespaceID] = globalNamespace
	r.counter.Store(firstAllocatableID - 1)
	return r
}

// Register allocates the next free id, skipping occupied ids on wrap, and
// stores the mapping.
func (r *Registry) Register(obj any) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		next := r.counter.Add(1)
		if next < firstAllocatableID {
			// wrapped past the 31-bit range; resume from the first
			// allocatable id and keep skipping occupied slots below.
			r.counter.Store(firstAllocatableID)
			next = firstAllocatableID
		}
		if next > maxHandleID {
			r.counter.Store(firstAllocatableID - 1)
			continue
		}
		if _, taken := r.objects[next]; taken {
			continue
		}
		r.objects[next] = obj
		r.live.Add(1)
		return next
	}
}

// Lookup returns the object for id, or ErrUnknownHandle.
func (r *Registry) Lookup(id int32) (any, error) {
	r.mu.RLock()
	obj, ok := r.objects[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.E(op, ErrUnknownHandle)
	}
	return obj, nil
}

// Release removes the mapping for id and runs its disposal hook, if any,
// swallowing any error it returns.
func (r *Registry) Release(ctx context.Context, id int32) {
	if id == BridgeInstanceID || id == GlobalNamespaceID {
		return
	}

	r.mu.Lock()
	obj, ok := r.objects[id]
	if ok {
		delete(r.objects, id)
		r.live.Add(-1)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	r.dispose(ctx, obj)
}

func (r *Registry) dispose(ctx context.Context, obj any) {
	defer func() {
		if rec := recover(); rec != nil && r.log != nil {
			r.log.Warn("panic while disposing released handle", zap.Any("recovered", rec))
		}
	}()

	switch d := obj.(type) {
	case AsyncDisposer:
		if err := d.DisposeContext(ctx); err != nil && r.log != nil {
			r.log.Debug("handle disposal returned an error", zap.Error(err))
		}
	case Disposer:
		if err := d.Dispose(); err != nil && r.log != nil {
			r.log.Debug("handle disposal returned an error", zap.Error(err))
		}
	}
}

// ReleaseAbove releases every handle with id strictly greater than marker,
// running each one's disposal hook; Clear uses it to drop every
// non-pinned entry.
func (r *Registry) ReleaseAbove(ctx context.Context, marker int32) {
	r.mu.Lock()
	victims := make([]any, 0)
	for id, obj := range r.objects {
		if id > marker {
			victims = append(victims, obj)
			delete(r.objects, id)
		}
	}
	r.live.Add(int32(-len(victims)))
	r.mu.Unlock()

	for _, obj := range victims {
		r.dispose(ctx, obj)
	}
}

// Clear releases every entry except the two pinned slots, for use when a
// session terminates and the registry is about to be reused.
func (r *Registry) Clear(ctx context.Context) {
	r.ReleaseAbove(ctx, GlobalNamespaceID)
	r.mu.Lock()
	r.counter.Store(firstAllocatableID - 1)
	r.mu.Unlock()
}

// LiveCount returns the number of registered handles excluding the two
// pinned slots, used to feed metrics. (N_OBJECTS is answered by PHP, not
// by this count.)
func (r *Registry) LiveCount() int32 {
	return r.live.Load()
}

// HighWaterMark returns the most recently allocated handle id, the value a
// FrameStack push should record as its marker.
func (r *Registry) HighWaterMark() int32 {
	return r.counter.Load()
}
