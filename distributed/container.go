/*
 *	Copyright 2025 The DynaGrad Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package distributed implements the per-worker registry of distributed
// gradient-computation sessions.
//
// Each worker of a cluster owns one Container, initialized once with the
// worker's identity. The container allocates cluster-unique session
// identifiers -- the top 16 bits encode the worker id, the low 48 bits a
// per-worker monotonically increasing counter -- and tracks the live
// sessions by id. Each goroutine additionally carries a "current session"
// pointer, set when it creates a session, so distributed messaging code can
// recover the active session without threading the id explicitly.
//
// Unlike the autograd package, whose failures are programming-contract
// violations and panic, the registry returns errors: it is consumed by
// messaging code for which "session released concurrently by another
// goroutine" is a legitimate, recoverable condition (see ErrContextNotFound).
package distributed

import (
	"math"
	"sync"

	"github.com/dynagrad/dynagrad/types/xsync"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// ContextIDBits is the number of low bits of a context id holding the
	// per-worker counter; the bits above encode the worker id.
	ContextIDBits = 48

	// ContextIDMask selects the counter bits of a context id.
	ContextIDMask = (int64(1) << ContextIDBits) - 1

	// MaxWorkerID is the largest worker identity that fits the high bits.
	MaxWorkerID = 65535

	// MaxContextID is the largest per-worker counter value.
	MaxContextID = ContextIDMask
)

// noContextID is the sentinel for "no active session on this goroutine".
const noContextID = int64(-1)

// ErrContextNotFound reports a lookup of a context id with no live entry,
// typically because another goroutine released it concurrently. Callers
// should test with errors.Is and treat it as recoverable.
var ErrContextNotFound = errors.New("autograd context not found")

// Container is the per-worker registry of distributed autograd contexts.
//
// It must be initialized exactly once with Init before any context
// operation. All methods are safe for concurrent use: the context map and
// the id counter are guarded by a single mutex, while the per-goroutine
// current-context pointer is goroutine-private.
//
// The zero value is not usable; create one with NewContainer and keep it
// alive for the process (typically held by the distributed messaging layer).
type Container struct {
	mu            sync.Mutex
	initialized   bool
	workerID      int64
	nextContextID int64
	contexts      map[int64]*Context

	// currentContextID tracks, per goroutine, the id of the session it
	// created last. Deliberately not guarded by mu: it is goroutine-private,
	// and a goroutine may observe a stale id after another goroutine
	// releases that session -- lookups then surface ErrContextNotFound.
	currentContextID xsync.GoroutineLocal[int64]

	// incarnationID distinguishes restarts of the same worker id, for
	// correlation by the messaging layer.
	incarnationID uuid.UUID
}

// NewContainer returns an uninitialized Container.
func NewContainer() *Container {
	return &Container{contexts: make(map[int64]*Context)}
}

// Init records the worker identity and makes the container ready. workerID
// must be in [0, 65535], and Init must be called exactly once: both
// violations return an error.
func (c *Container) Init(workerID int64) error {
	if workerID < 0 || workerID > MaxWorkerID {
		return errors.Errorf("distributed: worker id %d outside the valid range [0, %d]", workerID, MaxWorkerID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return errors.Errorf("distributed: container already initialized for worker %d", c.workerID)
	}
	c.workerID = workerID
	c.nextContextID = workerID << ContextIDBits
	c.incarnationID = uuid.New()
	c.initialized = true
	klog.V(1).Infof("distributed: autograd container initialized for worker %d (incarnation %s)", workerID, c.incarnationID)
	return nil
}

// WorkerID returns the worker identity the container was initialized with,
// or -1 if it wasn't initialized yet.
func (c *Container) WorkerID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return -1
	}
	return c.workerID
}

// IncarnationID identifies this initialization of the container: it changes
// when a worker restarts and re-initializes under the same worker id.
func (c *Container) IncarnationID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incarnationID
}

// NewContext creates a fresh autograd context keyed by the next context id
// and makes it the calling goroutine's current context.
//
// It fails if the container wasn't initialized, or if the worker's 48-bit id
// space is exhausted -- ids are never recycled.
func (c *Container) NewContext() (*Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, errNotInitialized()
	}
	if c.nextContextID == math.MaxInt64 ||
		c.nextContextID > (MaxContextID|(c.workerID<<ContextIDBits)) {
		return nil, errors.Errorf("distributed: worker %d has run out of autograd context ids", c.workerID)
	}
	ctx := newContext(c.nextContextID)
	c.contexts[c.nextContextID] = ctx
	c.nextContextID++

	// The goroutine-local store is thread-private, no need for mu.
	c.currentContextID.Store(ctx.ContextID())
	klog.V(2).Infof("distributed: worker %d created autograd context %d", c.workerID, ctx.ContextID())
	return ctx, nil
}

// HasValidContext returns whether the calling goroutine has a current
// context. It does not check whether that context is still live -- a
// concurrent ReleaseContext from another goroutine leaves the pointer
// dangling, and CurrentContext surfaces that as ErrContextNotFound.
func (c *Container) HasValidContext() bool {
	return c.loadCurrentContextID() != noContextID
}

// CurrentContext returns the calling goroutine's current context.
//
// It fails if the goroutine has no current context, and it fails wrapping
// ErrContextNotFound if the current id no longer has a live entry -- which
// legitimately happens when another goroutine released it. The latter is
// recoverable; the stale pointer is left in place on purpose.
func (c *Container) CurrentContext() (*Context, error) {
	id := c.loadCurrentContextID()
	if id == noContextID {
		return nil, errors.New("distributed: current goroutine doesn't have a valid autograd context")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, errNotInitialized()
	}
	ctx, found := c.contexts[id]
	if !found {
		return nil, errors.Wrapf(ErrContextNotFound, "distributed: no context data for current autograd context id %d", id)
	}
	return ctx, nil
}

// ReleaseContext erases the context with the given id. If id is the calling
// goroutine's current context, the goroutine's current-context pointer is
// reset; other goroutines pointing at the same id are left untouched and
// will observe ErrContextNotFound on their next CurrentContext call.
func (c *Container) ReleaseContext(contextID int64) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return errNotInitialized()
	}
	if _, found := c.contexts[contextID]; !found {
		c.mu.Unlock()
		return errors.Wrapf(ErrContextNotFound, "distributed: could not release autograd context with id %d", contextID)
	}
	delete(c.contexts, contextID)
	c.mu.Unlock()

	if c.loadCurrentContextID() == contextID {
		c.currentContextID.Delete()
	}
	klog.V(2).Infof("distributed: worker %d released autograd context %d", c.WorkerID(), contextID)
	return nil
}

// RetrieveContext looks up a context by explicit id, regardless of which
// goroutine created it.
func (c *Container) RetrieveContext(contextID int64) (*Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, errNotInitialized()
	}
	ctx, found := c.contexts[contextID]
	if !found {
		return nil, errors.Wrapf(ErrContextNotFound, "distributed: could not find autograd context with id %d", contextID)
	}
	return ctx, nil
}

// NumLiveContexts returns how many contexts are currently registered.
func (c *Container) NumLiveContexts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.contexts)
}

func (c *Container) loadCurrentContextID() int64 {
	id, ok := c.currentContextID.Load()
	if !ok {
		return noContextID
	}
	return id
}

func errNotInitialized() error {
	return errors.New("distributed: autograd container is not initialized, call Container.Init with this worker's id first")
}
