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

package distributed

import (
	"sync"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	c := NewContainer()
	require.Error(t, c.Init(-1))
	require.Error(t, c.Init(MaxWorkerID+1))
	require.Equal(t, int64(-1), c.WorkerID())

	require.NoError(t, c.Init(7))
	require.Equal(t, int64(7), c.WorkerID())
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", c.IncarnationID().String())

	// A second Init must fail, even with the same worker id.
	require.ErrorContains(t, c.Init(7), "already initialized")
	require.Equal(t, int64(7), c.WorkerID())
}

func TestOperationsRequireInit(t *testing.T) {
	c := NewContainer()
	_, err := c.NewContext()
	require.ErrorContains(t, err, "not initialized")
	_, err = c.RetrieveContext(0)
	require.ErrorContains(t, err, "not initialized")
	require.ErrorContains(t, c.ReleaseContext(0), "not initialized")
}

func TestContextIDAllocation(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Init(3))

	ctx0 := must.M1(c.NewContext())
	ctx1 := must.M1(c.NewContext())

	// Ids carry the worker in the high 16 bits and the counter in the low 48.
	require.Equal(t, int64(3)<<ContextIDBits, ctx0.ContextID())
	require.Equal(t, int64(3)<<ContextIDBits|1, ctx1.ContextID())
	assert.Equal(t, int64(3), ctx0.WorkerID())
	assert.Equal(t, int64(3), ctx1.WorkerID())
	assert.Equal(t, int64(0), ctx0.ContextID()&ContextIDMask)
	assert.Equal(t, int64(1), ctx1.ContextID()&ContextIDMask)
	assert.Equal(t, 2, c.NumLiveContexts())
}

func TestContextIDAllocationHighWorkerID(t *testing.T) {
	// Worker ids >= 32768 set bit 63 of the allocated context ids, making
	// them negative as int64. The decode back to the worker id must not
	// sign-extend.
	c := NewContainer()
	require.NoError(t, c.Init(40000))

	ctx0 := must.M1(c.NewContext())
	ctx1 := must.M1(c.NewContext())
	require.Negative(t, ctx0.ContextID())
	require.Equal(t, int64(40000), ctx0.WorkerID())
	require.Equal(t, int64(40000), ctx1.WorkerID())
	assert.Equal(t, int64(0), ctx0.ContextID()&ContextIDMask)
	assert.Equal(t, int64(1), ctx1.ContextID()&ContextIDMask)

	c = NewContainer()
	require.NoError(t, c.Init(MaxWorkerID))
	ctx := must.M1(c.NewContext())
	require.Equal(t, int64(MaxWorkerID), ctx.WorkerID())
}

func TestCurrentContext(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Init(1))

	require.False(t, c.HasValidContext())
	_, err := c.CurrentContext()
	require.ErrorContains(t, err, "doesn't have a valid autograd context")

	ctx := must.M1(c.NewContext())
	require.True(t, c.HasValidContext())
	require.Same(t, ctx, must.M1(c.CurrentContext()))

	// The current pointer is per goroutine: a fresh goroutine has none.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.False(t, c.HasValidContext())
	}()
	wg.Wait()
}

func TestReleaseContext(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Init(2))

	ctxA := must.M1(c.NewContext())
	ctxB := must.M1(c.NewContext())

	require.NoError(t, c.ReleaseContext(ctxA.ContextID()))
	_, err := c.RetrieveContext(ctxA.ContextID())
	require.ErrorIs(t, err, ErrContextNotFound)
	require.Same(t, ctxB, must.M1(c.RetrieveContext(ctxB.ContextID())))
	assert.Equal(t, 1, c.NumLiveContexts())

	// Releasing again reports not-found.
	require.ErrorIs(t, c.ReleaseContext(ctxA.ContextID()), ErrContextNotFound)

	// ctxB was the goroutine's current context; once released, the current
	// pointer is reset too.
	require.NoError(t, c.ReleaseContext(ctxB.ContextID()))
	require.False(t, c.HasValidContext())
}

func TestCrossGoroutineRelease(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Init(4))
	ctx := must.M1(c.NewContext())

	// Another goroutine releases the session this goroutine created.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, c.ReleaseContext(ctx.ContextID()))
	}()
	wg.Wait()

	// The creator's current pointer is now stale: still set, but the lookup
	// fails with the recoverable sentinel.
	require.True(t, c.HasValidContext())
	_, err := c.CurrentContext()
	require.ErrorIs(t, err, ErrContextNotFound)
}

func TestConcurrentNewContext(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Init(9))

	const numGoroutines = 50
	const perGoroutine = 20
	ids := make(chan int64, numGoroutines*perGoroutine)
	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				ids <- must.M1(c.NewContext()).ContextID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		require.False(t, seen[id], "context id %d allocated twice", id)
		seen[id] = true
		require.Equal(t, int64(9), int64(uint64(id)>>ContextIDBits))
	}
	require.Len(t, seen, numGoroutines*perGoroutine)
	require.Equal(t, numGoroutines*perGoroutine, c.NumLiveContexts())
}

func TestContextMessageCounts(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Init(0))
	ctx := must.M1(c.NewContext())

	ctx.RecordSend(5)
	ctx.RecordSend(5)
	ctx.RecordRecv(8)
	assert.Equal(t, int64(2), ctx.SendCount(5))
	assert.Equal(t, int64(0), ctx.SendCount(8))
	assert.Equal(t, int64(1), ctx.RecvCount(8))
}

func TestErrContextNotFoundIsWrapped(t *testing.T) {
	c := NewContainer()
	require.NoError(t, c.Init(0))
	_, err := c.RetrieveContext(12345)
	require.True(t, errors.Is(err, ErrContextNotFound))
	require.Contains(t, err.Error(), "12345")
}
