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

// Package autograd implements the extensibility core of a define-by-run
// reverse-mode differentiation engine: user-supplied operations become
// first-class nodes of a dynamically built computation graph.
//
// A custom operation implements the Function interface with a forward and a
// backward routine. Apply invokes the forward with gradient tracking
// suspended, wraps its outputs as graph-tracked Variables, and wires the
// resulting Node so that a graph executor can later call Node.Backward to
// obtain the gradients with respect to the forward inputs.
//
// Example:
//
//	type Scale struct{ Factor float64 }
//
//	func (s *Scale) Forward(ctx *autograd.Context, args ...any) []*autograd.Variable {
//		x := args[0].(*autograd.Variable)
//		ctx.SaveForBackward(x)
//		return []*autograd.Variable{scaleTensor(x, s.Factor)}
//	}
//
//	func (s *Scale) Backward(ctx *autograd.Context, gradOutputs []*autograd.Variable) []*autograd.Variable {
//		return []*autograd.Variable{scaleTensor(gradOutputs[0], s.Factor)}
//	}
//
//	y := autograd.Apply(&Scale{Factor: 2}, x)
//
// Errors in this package are contract violations (wrong gradient counts,
// misuse of the per-invocation Context) and are reported as panics, in the
// style of github.com/gomlx/exceptions. Nothing here is retried or logged
// and ignored: the correctness of a gradient computation depends on every
// reconciliation failure surfacing to the caller.
package autograd

import (
	"github.com/dynagrad/dynagrad/types/xsync"
)

// gradModeDisabled marks goroutines that suspended gradient tracking.
// Absence of an entry means tracking is enabled, the default.
var gradModeDisabled xsync.GoroutineLocal[bool]

// IsGradEnabled returns whether gradient tracking is enabled on the calling
// goroutine. It defaults to true.
func IsGradEnabled() bool {
	disabled, _ := gradModeDisabled.Load()
	return !disabled
}

// SetGradEnabled enables or disables gradient tracking on the calling
// goroutine. While disabled, Apply runs forwards without building graph
// history.
func SetGradEnabled(enabled bool) {
	if enabled {
		gradModeDisabled.Delete()
	} else {
		gradModeDisabled.Store(true)
	}
}

// NoGrad runs fn with gradient tracking disabled on the calling goroutine,
// restoring the previous mode afterwards.
func NoGrad(fn func()) {
	previous := IsGradEnabled()
	SetGradEnabled(false)
	defer SetGradEnabled(previous)
	fn()
}
