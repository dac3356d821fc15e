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

package xsync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoroutineLocal(t *testing.T) {
	var local GoroutineLocal[int]

	_, ok := local.Load()
	require.False(t, ok)

	local.Store(42)
	got, ok := local.Load()
	require.True(t, ok)
	require.Equal(t, 42, got)

	// Another goroutine doesn't see this goroutine's value, and its own
	// stores don't leak back.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := local.Load()
		assert.False(t, ok)
		local.Store(7)
		got, ok := local.Load()
		assert.True(t, ok)
		assert.Equal(t, 7, got)
	}()
	<-done

	got, ok = local.Load()
	require.True(t, ok)
	require.Equal(t, 42, got)

	local.Delete()
	_, ok = local.Load()
	require.False(t, ok)
}

func TestGoroutineLocalConcurrent(t *testing.T) {
	var local GoroutineLocal[int]
	var wg sync.WaitGroup
	for ii := 0; ii < 100; ii++ {
		wg.Add(1)
		go func(ii int) {
			defer wg.Done()
			local.Store(ii)
			got, ok := local.Load()
			assert.True(t, ok)
			assert.Equal(t, ii, got)
			local.Delete()
		}(ii)
	}
	wg.Wait()
}
