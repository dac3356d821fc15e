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

// Package xsync implements some extra synchronization tools.
package xsync

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	"github.com/gomlx/exceptions"
)

// GoroutineLocal holds one value of type T per goroutine, a "thread-local"
// for Go. It is implemented as a central mutex-guarded map keyed by the
// goroutine id, so it is safe for concurrent use from any goroutine.
//
// Values are not inherited by spawned goroutines, and a goroutine that never
// called Store observes the zero value. Call Delete when a goroutine is done
// with its value, otherwise the entry lives until the GoroutineLocal itself
// is garbage collected.
type GoroutineLocal[T any] struct {
	mu     sync.Mutex
	values map[int64]T
}

// Load returns the value stored for the calling goroutine.
// The ok result indicates whether a value was stored.
func (l *GoroutineLocal[T]) Load() (value T, ok bool) {
	id := goroutineID()
	l.mu.Lock()
	defer l.mu.Unlock()
	value, ok = l.values[id]
	return
}

// Store sets the value for the calling goroutine.
func (l *GoroutineLocal[T]) Store(value T) {
	id := goroutineID()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.values == nil {
		l.values = make(map[int64]T)
	}
	l.values[id] = value
}

// Delete removes the calling goroutine's value, if any.
func (l *GoroutineLocal[T]) Delete() {
	id := goroutineID()
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.values, id)
}

var goroutinePrefix = []byte("goroutine ")

// goroutineID parses the goroutine id from the first line of a stack dump,
// which is of the form "goroutine 123 [running]:". The runtime offers no
// cheaper public identity for the current goroutine.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	header := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	end := bytes.IndexByte(header, ' ')
	if end < 0 {
		exceptions.Panicf("xsync: cannot parse goroutine id from stack header %q", buf[:n])
	}
	id, err := strconv.ParseInt(string(header[:end]), 10, 64)
	if err != nil {
		exceptions.Panicf("xsync: cannot parse goroutine id from stack header %q: %v", buf[:n], err)
	}
	return id
}
