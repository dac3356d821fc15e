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
	"fmt"
	"sync"
)

// Context is one distributed gradient-computation session. It is created and
// owned by a Container, identified by a cluster-unique id, and carries the
// session-scoped state accumulated by the messaging layer while the
// computation is in flight.
type Context struct {
	contextID int64

	mu        sync.Mutex
	sendCount map[int64]int64 // messages sent per destination worker
	recvCount map[int64]int64 // messages received per source worker
}

func newContext(contextID int64) *Context {
	return &Context{
		contextID: contextID,
		sendCount: make(map[int64]int64),
		recvCount: make(map[int64]int64),
	}
}

// ContextID returns the session's cluster-unique identifier.
func (ctx *Context) ContextID() int64 { return ctx.contextID }

// WorkerID returns the identity of the worker that created the session,
// decoded from the high bits of its id.
//
// The shift must be unsigned: worker ids >= 32768 set bit 63 of the context
// id, and a signed shift would sign-extend them to negative values.
func (ctx *Context) WorkerID() int64 {
	return int64(uint64(ctx.contextID) >> ContextIDBits)
}

// RecordSend bumps the count of messages sent to the given worker within
// this session. Safe for concurrent use.
func (ctx *Context) RecordSend(toWorkerID int64) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.sendCount[toWorkerID]++
}

// RecordRecv bumps the count of messages received from the given worker
// within this session. Safe for concurrent use.
func (ctx *Context) RecordRecv(fromWorkerID int64) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.recvCount[fromWorkerID]++
}

// SendCount returns how many messages were sent to the given worker.
func (ctx *Context) SendCount(toWorkerID int64) int64 {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.sendCount[toWorkerID]
}

// RecvCount returns how many messages were received from the given worker.
func (ctx *Context) RecvCount(fromWorkerID int64) int64 {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.recvCount[fromWorkerID]
}

// String implements fmt.Stringer.
func (ctx *Context) String() string {
	return fmt.Sprintf("Context(#%d, worker %d)", ctx.contextID, ctx.WorkerID())
}
