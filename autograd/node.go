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
	"fmt"

	"github.com/dynagrad/dynagrad/types/tensors"
	"github.com/gomlx/exceptions"
)

// Edge points from a node to the producer of one of its tracked inputs: the
// producing node and which of its tracked-output slots the input came from.
// A nil Node marks a leaf input, one with no producer.
type Edge struct {
	Node     *Node
	OutputNr int
}

// Node is one instance of a user-defined Function in the differentiation
// graph. It is allocated by Apply, owns the invocation's Context and the
// metadata needed to reconcile the backward pass, and is retained by the
// graph for as long as any downstream variable references it as producer.
type Node struct {
	fn   Function
	name string
	ctx  Context

	// isVariableInput marks, per original Apply argument, whether it was a
	// tracked variable. Its length always equals the original argument count.
	isVariableInput []bool

	// inputInfo has one entry per tracked input, outputInfo one entry per
	// tracked output actually produced (only recorded when executable).
	inputInfo  []VariableInfo
	outputInfo []VariableInfo

	// nextEdges point to the producers of the tracked inputs, in order.
	nextEdges []Edge
}

// Name identifies the function this node executes, for error messages and
// engine introspection.
func (n *Node) Name() string { return n.name }

// Context returns the node's per-invocation context.
func (n *Node) Context() *Context { return &n.ctx }

// NextEdges returns the edges to the producers of the node's tracked inputs,
// one per tracked input, with Edge.Node nil for leaves.
func (n *Node) NextEdges() []Edge { return n.nextEdges }

// NumInputs returns the number of original Apply arguments, tracked or not.
func (n *Node) NumInputs() int { return len(n.isVariableInput) }

// IsVariableInput returns whether the i-th original argument was a tracked
// variable.
func (n *Node) IsVariableInput(i int) bool { return n.isVariableInput[i] }

// NumTrackedOutputs returns the number of graph-tracked outputs this node
// produced, which is the number of gradient slots Backward expects.
func (n *Node) NumTrackedOutputs() int { return len(n.outputInfo) }

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("Node(%s: %d inputs, %d tracked outputs)", n.name, n.NumInputs(), n.NumTrackedOutputs())
}

// Backward runs the node's backward pass: it reconciles the incoming
// gradients, delegates to the user's backward routine and reconciles the
// results against the forward's argument list.
//
// gradOutputs holds one gradient per tracked output; nil entries mean no
// gradient flowed through that slot and are replaced by zero-filled values
// of the output's captured shape/dtype/device. The returned slice has one
// entry per tracked input: the gradient returned by the user's backward, a
// synthesized zero if it returned nil for an input requiring gradient, or
// nil for an input not requiring one.
//
// The node's backward buffers (its saved variables) are released when
// Backward completes; invoking it twice on the same node is not a supported
// pattern.
//
// It panics on an incorrect number of gradients from the user's backward and
// on a gradient returned for a position whose forward argument was opaque.
func (n *Node) Backward(gradOutputs []*Variable) []*Variable {
	if len(gradOutputs) != len(n.outputInfo) {
		exceptions.Panicf("autograd: node %q received %d output gradients, expected one per tracked output (%d)",
			n.name, len(gradOutputs), len(n.outputInfo))
	}

	// The first defined gradient's device selects the execution context that
	// guides zero construction.
	var guard tensors.DeviceGuard
	for _, grad := range gradOutputs {
		if grad.IsDefined() {
			guard.MaybeApply(grad.Device())
			break
		}
	}

	backwardInputs := make([]*Variable, len(gradOutputs))
	for ii, grad := range gradOutputs {
		if grad.IsDefined() {
			backwardInputs[ii] = grad
		} else {
			backwardInputs[ii] = n.outputInfo[ii].Zeros(&guard)
		}
	}

	grads := n.fn.Backward(&n.ctx, backwardInputs)

	// Returning too many results is ok, but only as long as they're all
	// undefined: truncate the extras in that case.
	numForwardArgs := len(n.isVariableInput)
	if len(grads) > numForwardArgs {
		allUndefined := true
		for _, extra := range grads[numForwardArgs:] {
			if extra.IsDefined() {
				allUndefined = false
				break
			}
		}
		if allUndefined {
			grads = grads[:numForwardArgs]
		}
	}
	if len(grads) != numForwardArgs {
		exceptions.Panicf("autograd: function %q returned an incorrect number of gradients (expected %d, got %d)",
			n.name, numForwardArgs, len(grads))
	}

	results := make([]*Variable, 0, len(n.inputInfo))
	for position, isVariable := range n.isVariableInput {
		if !isVariable {
			if grads[position].IsDefined() {
				exceptions.Panicf("autograd: function %q returned a gradient at position %d, but the corresponding forward argument was not a tracked variable",
					n.name, position+1)
			}
			continue
		}
		grad := grads[position]
		if !grad.IsDefined() {
			info := n.inputInfo[len(results)]
			if info.RequiresGrad() {
				grad = info.Zeros(&guard)
			} else {
				grad = nil
			}
		}
		results = append(results, grad)
	}

	n.ctx.releaseVariables()
	return results
}

// ReleaseVariables frees the node's backward buffers (its saved variables)
// without running the backward pass. Retrieving saved variables afterwards
// panics.
func (n *Node) ReleaseVariables() {
	n.ctx.releaseVariables()
}
