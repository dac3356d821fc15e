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

import (
	"github.com/dynagrad/dynagrad/types"
	"github.com/dynagrad/dynagrad/types/tensors"
	"github.com/gomlx/exceptions"
)

// Context is the per-invocation side-channel between a Function's forward
// and backward routines. A fresh Context is created for every Apply call;
// the forward stashes whatever the backward will need, the orchestrator
// finalizes it right after the forward returns, and the backward reads it.
type Context struct {
	// SavedData holds arbitrary non-variable data stashed by the forward
	// for the backward, keyed by string.
	SavedData map[string]any

	// node is a non-owning handle to the owning Node, used for error
	// messages and resolved into durable snapshots at finalize time.
	node *Node

	// toSave holds the variables requested by SaveForBackward until the
	// finalize step converts them into saved snapshots.
	toSave []*Variable
	saved  []savedVariable

	dirty   types.Set[*tensors.Tensor]
	nonDiff types.Set[*tensors.Tensor]

	saveCalled    bool
	dirtyCalled   bool
	nonDiffCalled bool

	buffersReleased bool
}

// savedVariable is a snapshot of a saved variable: the variable plus the
// version of its tensor at the finalize step, used to detect in-place
// mutation between forward and backward.
type savedVariable struct {
	variable *Variable
	version  int64
}

func newContext() Context {
	return Context{
		SavedData: make(map[string]any),
		dirty:     types.MakeSet[*tensors.Tensor](),
		nonDiff:   types.MakeSet[*tensors.Tensor](),
	}
}

// SaveForBackward records variables to be preserved for the backward pass,
// retrievable there with SavedVariables. It may be called at most once per
// forward invocation; a second call panics.
func (ctx *Context) SaveForBackward(variables ...*Variable) {
	if ctx.saveCalled {
		exceptions.Panicf("autograd: SaveForBackward called twice during the forward of function %q; it may be called at most once per invocation", ctx.ownerName())
	}
	ctx.saveCalled = true
	ctx.toSave = variables
}

// MarkDirty records that the listed variables, which must all be forward
// inputs, were mutated in place by the forward. It may be called at most
// once per forward invocation.
func (ctx *Context) MarkDirty(inputs ...*Variable) {
	if ctx.dirtyCalled {
		exceptions.Panicf("autograd: MarkDirty called twice during the forward of function %q; it may be called at most once per invocation", ctx.ownerName())
	}
	ctx.dirtyCalled = true
	for _, v := range inputs {
		ctx.dirty.Insert(v.Tensor())
	}
}

// MarkNonDifferentiable records that the listed variables, which must all be
// forward outputs, carry no gradient. It may be called at most once per
// forward invocation.
func (ctx *Context) MarkNonDifferentiable(outputs ...*Variable) {
	if ctx.nonDiffCalled {
		exceptions.Panicf("autograd: MarkNonDifferentiable called twice during the forward of function %q; it may be called at most once per invocation", ctx.ownerName())
	}
	ctx.nonDiffCalled = true
	for _, v := range outputs {
		ctx.nonDiff.Insert(v.Tensor())
	}
}

// SavedVariables returns the variables saved by the forward with
// SaveForBackward.
//
// It panics if the node's backward buffers were already released, and it
// panics if any saved tensor was mutated in place after the forward without
// having been marked dirty -- silently returning corrupted values would
// poison the gradients.
func (ctx *Context) SavedVariables() []*Variable {
	if ctx.buffersReleased {
		exceptions.Panicf("autograd: SavedVariables of function %q called after its buffers have already been released; they are freed once backward ran or ReleaseVariables was called", ctx.ownerName())
	}
	variables := make([]*Variable, len(ctx.saved))
	for ii, saved := range ctx.saved {
		if version := saved.variable.Tensor().Version(); version != saved.version {
			exceptions.Panicf("autograd: variable #%d saved for the backward of function %q was modified in place (version %d, expected %d) without being marked dirty",
				ii, ctx.ownerName(), version, saved.version)
		}
		variables[ii] = saved.variable
	}
	return variables
}

// Dirty returns the tensors marked as mutated in place by the forward.
func (ctx *Context) Dirty() []*tensors.Tensor {
	return ctx.dirty.Elements()
}

// NonDifferentiable returns the tensors marked as non-differentiable by the
// forward.
func (ctx *Context) NonDifferentiable() []*tensors.Tensor {
	return ctx.nonDiff.Elements()
}

// saveVariables is the finalize step: invoked once by the orchestrator right
// after the forward returns and before outputs are wrapped, it converts the
// raw to-save list into durable snapshots bound to the owning node.
func (ctx *Context) saveVariables() {
	ctx.saved = make([]savedVariable, 0, len(ctx.toSave))
	for _, v := range ctx.toSave {
		ctx.saved = append(ctx.saved, savedVariable{variable: v, version: v.Tensor().Version()})
	}
	ctx.toSave = nil
}

// releaseVariables drops the saved snapshots. Retrieval afterwards fails.
func (ctx *Context) releaseVariables() {
	ctx.saved = nil
	ctx.buffersReleased = true
}

func (ctx *Context) isDirty(t *tensors.Tensor) bool {
	return ctx.dirty.Has(t)
}

func (ctx *Context) isNonDifferentiable(t *tensors.Tensor) bool {
	return ctx.nonDiff.Has(t)
}

func (ctx *Context) ownerName() string {
	if ctx.node == nil {
		return "<detached>"
	}
	return ctx.node.Name()
}
