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
	"github.com/dynagrad/dynagrad/types/xslices"
	"github.com/gomlx/exceptions"
)

// Apply invokes the user-defined fn as a node of the differentiation graph
// and returns its outputs wrapped as graph-tracked variables.
//
// Arguments may mix tracked *Variable values with opaque data of any type.
// Only direct *Variable arguments are registered in the graph: containers
// holding variables are not traversed, they are passed through to the
// forward as opaque data. This is a documented limitation.
//
// The forward runs with gradient tracking suspended on the calling
// goroutine, so operations inside it don't record history of their own.
// Errors raised by the forward are not caught here; they propagate to the
// caller.
//
// Concurrent Apply calls are safe: each call builds its own node. What is
// not supported is invoking Backward concurrently (or twice) on the same
// returned node.
func Apply(fn Function, args ...any) []*Variable {
	node := &Node{
		fn:   fn,
		name: functionName(fn),
		ctx:  newContext(),
	}
	node.ctx.node = node

	// Partition arguments into the is-tracked list and the tracked inputs.
	node.isVariableInput = make([]bool, len(args))
	inputVars := make([]*Variable, 0, len(args))
	for ii, arg := range args {
		if v, ok := arg.(*Variable); ok && v.IsDefined() {
			node.isVariableInput[ii] = true
			inputVars = append(inputVars, v)
		}
	}

	isExecutable := IsGradEnabled() && anyRequiresGrad(inputVars)
	node.nextEdges = collectNextEdges(inputVars)
	node.inputInfo = xslices.Map(inputVars, newVariableInfo)

	var rawOutputs []*Variable
	func() {
		wasEnabled := IsGradEnabled()
		SetGradEnabled(false)
		defer SetGradEnabled(wasEnabled)
		rawOutputs = fn.Forward(&node.ctx, args...)
	}()

	// Finalize the context before wrapping: snapshots of the saved
	// variables are taken here, and the dirty set is validated against the
	// forward inputs.
	node.ctx.saveVariables()
	validateDirtyAreInputs(node, inputVars)

	return wrapOutputs(node, inputVars, rawOutputs, isExecutable)
}

// anyRequiresGrad returns whether at least one tracked input requires
// gradient.
func anyRequiresGrad(inputVars []*Variable) bool {
	for _, v := range inputVars {
		if v.RequiresGrad() {
			return true
		}
	}
	return false
}

// collectNextEdges builds the graph edges to each tracked input's producer,
// with a leaf marker (nil Node) for inputs without one.
func collectNextEdges(inputVars []*Variable) []Edge {
	return xslices.Map(inputVars, func(v *Variable) Edge {
		return Edge{Node: v.Node(), OutputNr: v.OutputNr()}
	})
}

// validateDirtyAreInputs panics if the forward marked a tensor dirty that is
// not among its tracked inputs.
func validateDirtyAreInputs(node *Node, inputVars []*Variable) {
	if len(node.ctx.dirty) == 0 {
		return
	}
	inputs := types.MakeSet[*tensors.Tensor](len(inputVars))
	for _, v := range inputVars {
		inputs.Insert(v.Tensor())
	}
	for t := range node.ctx.dirty {
		if !inputs.Has(t) {
			exceptions.Panicf("autograd: function %q marked a tensor dirty that is not one of its forward inputs (%s)",
				node.name, t)
		}
	}
}

// wrapOutputs attaches the raw forward outputs to the graph.
//
// A dirty output reuses the original input tensor's identity, so the
// in-place mutation stays visible through both the input and the output
// variable. A non-differentiable output is wrapped with tracking disabled.
// Every other output, when the node is executable, becomes a tracked
// variable whose producer is this node at the next tracked-output slot --
// and only those get a VariableInfo recorded for gradient synthesis.
//
// Outputs that alias a tracked input share its *tensors.Tensor, so aliasing
// semantics are preserved for memory-management purposes regardless of the
// gradient metadata on the wrapper.
func wrapOutputs(node *Node, inputVars []*Variable, rawOutputs []*Variable, isExecutable bool) []*Variable {
	inputTensors := types.MakeSet[*tensors.Tensor](len(inputVars))
	for _, v := range inputVars {
		inputTensors.Insert(v.Tensor())
	}

	wrapped := make([]*Variable, len(rawOutputs))
	matchedNonDiff := types.MakeSet[*tensors.Tensor](len(node.ctx.nonDiff))
	for ii, out := range rawOutputs {
		if !out.IsDefined() {
			continue
		}
		t := out.Tensor()
		if node.ctx.isDirty(t) {
			// Dirty outputs must be (in-place modified) inputs: rewrap the
			// same tensor so mutation is reflected on both sides.
			if !inputTensors.Has(t) {
				exceptions.Panicf("autograd: function %q returned a dirty output that is not one of its forward inputs (%s)",
					node.name, t)
			}
		}
		if node.ctx.isNonDifferentiable(t) {
			matchedNonDiff.Insert(t)
			wrapped[ii] = &Variable{tensor: t, requiresGrad: false}
			continue
		}
		if !isExecutable {
			wrapped[ii] = &Variable{tensor: t, requiresGrad: false}
			continue
		}
		wrapped[ii] = &Variable{
			tensor:       t,
			requiresGrad: true,
			node:         node,
			outputNr:     len(node.outputInfo),
		}
		node.outputInfo = append(node.outputInfo, newVariableInfo(wrapped[ii]))
	}

	if len(matchedNonDiff) != len(node.ctx.nonDiff) {
		exceptions.Panicf("autograd: function %q marked a tensor non-differentiable that is not one of its forward outputs",
			node.name)
	}
	return wrapped
}
