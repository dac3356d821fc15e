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

	"github.com/dynagrad/dynagrad/types/shapes"
	"github.com/dynagrad/dynagrad/types/tensors"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Variable is a tensor participating in the differentiation graph: it
// carries a gradient requirement and, if it was produced by a custom
// operation, the linkage to its producer Node and output slot.
//
// A nil *Variable denotes an "undefined" value: a gradient slot through
// which no gradient flowed. All methods other than IsDefined must be called
// on defined variables.
//
// Two Variables may share the same underlying *tensors.Tensor, in which case
// they alias the same memory -- wrapping never copies tensor data.
type Variable struct {
	tensor       *tensors.Tensor
	requiresGrad bool

	// node is the producer of this variable, nil for leaves.
	node     *Node
	outputNr int
}

// NewVariable returns a leaf Variable wrapping the given tensor.
func NewVariable(tensor *tensors.Tensor, requiresGrad bool) *Variable {
	if tensor == nil {
		exceptions.Panicf("autograd.NewVariable: tensor is nil")
	}
	return &Variable{tensor: tensor, requiresGrad: requiresGrad}
}

// IsDefined returns whether v holds a value. It is safe on a nil receiver.
func (v *Variable) IsDefined() bool { return v != nil && v.tensor != nil }

// Tensor returns the underlying tensor.
func (v *Variable) Tensor() *tensors.Tensor { return v.tensor }

// Shape of the underlying tensor.
func (v *Variable) Shape() shapes.Shape { return v.tensor.Shape() }

// DType of the underlying tensor.
func (v *Variable) DType() dtypes.DType { return v.tensor.DType() }

// Device placement of the underlying tensor.
func (v *Variable) Device() tensors.Device { return v.tensor.Device() }

// RequiresGrad returns whether gradients should be computed for this
// variable.
func (v *Variable) RequiresGrad() bool { return v.requiresGrad }

// Node returns the producer node of this variable, or nil if it is a leaf.
func (v *Variable) Node() *Node { return v.node }

// OutputNr returns which tracked-output slot of the producer node this
// variable came from. Zero for leaves.
func (v *Variable) OutputNr() int { return v.outputNr }

// IsLeaf returns whether the variable has no producer node.
func (v *Variable) IsLeaf() bool { return v.node == nil }

// String implements fmt.Stringer.
func (v *Variable) String() string {
	if v == nil {
		return "Variable(undefined)"
	}
	var attrs string
	if v.requiresGrad {
		attrs = ", requires_grad"
	}
	if v.node != nil {
		attrs += fmt.Sprintf(", from %s#%d", v.node.Name(), v.outputNr)
	}
	return fmt.Sprintf("Variable(%s on %s%s)", v.Shape(), v.Device(), attrs)
}
