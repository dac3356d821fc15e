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

package autograd

import "fmt"

// Function is a user-defined differentiable operation: the pair of routines
// a custom graph node delegates to.
//
// Forward receives the per-invocation Context and the original argument list
// passed to Apply -- tracked *Variable arguments mixed with opaque data. It
// returns the raw output variables. Forward runs with gradient tracking
// suspended, so operations inside it don't build graph history. Variables
// can be saved for the backward with Context.SaveForBackward and other data
// in Context.SavedData.
//
// Backward receives the same Context and one incoming gradient per tracked
// output of the forward. It must return one gradient per original forward
// argument, in order: nil for opaque arguments and for tracked inputs it has
// no gradient for. Trailing extra nil entries are tolerated.
//
// Implementations may also provide a `Name() string` method, used in error
// messages and logs; otherwise the Go type name is used.
type Function interface {
	Forward(ctx *Context, args ...any) []*Variable
	Backward(ctx *Context, gradOutputs []*Variable) []*Variable
}

// functionName returns fn's self-reported name, or its Go type.
func functionName(fn Function) string {
	if named, ok := fn.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", fn)
}
