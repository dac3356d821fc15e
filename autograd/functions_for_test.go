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
	"slices"
	"testing"

	"github.com/dynagrad/dynagrad/types/tensors"
	"github.com/stretchr/testify/require"
)

// Small custom operations used across the package tests.

// leaf builds a rank-1 float32 leaf variable.
func leaf(requiresGrad bool, values ...float32) *Variable {
	return NewVariable(tensors.FromFlatDataAndDimensions(values, len(values)), requiresGrad)
}

// flatValues copies out a variable's float32 data.
func flatValues(t *testing.T, v *Variable) []float32 {
	t.Helper()
	require.True(t, v.IsDefined())
	var out []float32
	v.Tensor().ConstFlatData(func(flat any) {
		out = slices.Clone(flat.([]float32))
	})
	return out
}

// scaled returns a fresh leaf with v's float32 values multiplied by scale.
func scaled(v *Variable, scale float32) *Variable {
	out := tensors.FromShape(v.Shape())
	v.Tensor().ConstFlatData(func(src any) {
		out.MutableFlatData(func(dst any) {
			for ii, value := range src.([]float32) {
				dst.([]float32)[ii] = value * scale
			}
		})
	})
	return NewVariable(out, false)
}

// mul returns a fresh leaf with the element-wise product of a and b.
func mul(a, b *Variable) *Variable {
	out := tensors.FromShape(a.Shape())
	a.Tensor().ConstFlatData(func(aFlat any) {
		b.Tensor().ConstFlatData(func(bFlat any) {
			out.MutableFlatData(func(dst any) {
				for ii, value := range aFlat.([]float32) {
					dst.([]float32)[ii] = value * bFlat.([]float32)[ii]
				}
			})
		})
	})
	return NewVariable(out, false)
}

// requirePanicsWith asserts fn panics with a message containing substr.
func requirePanicsWith(t *testing.T, substr string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic containing %q", substr)
		require.Contains(t, fmt.Sprint(r), substr)
	}()
	fn()
}

// scaleFn multiplies a variable by an opaque float32 factor: args are
// (x *Variable, factor float32).
type scaleFn struct{}

func (scaleFn) Name() string { return "Scale" }

func (scaleFn) Forward(ctx *Context, args ...any) []*Variable {
	x := args[0].(*Variable)
	factor := args[1].(float32)
	ctx.SavedData["factor"] = factor
	return []*Variable{scaled(x, factor)}
}

func (scaleFn) Backward(ctx *Context, gradOutputs []*Variable) []*Variable {
	factor := ctx.SavedData["factor"].(float32)
	return []*Variable{scaled(gradOutputs[0], factor), nil}
}

// squareFn saves its input for the backward: d(x²)/dx = 2x.
type squareFn struct{}

func (squareFn) Name() string { return "Square" }

func (squareFn) Forward(ctx *Context, args ...any) []*Variable {
	x := args[0].(*Variable)
	ctx.SaveForBackward(x)
	return []*Variable{mul(x, x)}
}

func (squareFn) Backward(ctx *Context, gradOutputs []*Variable) []*Variable {
	x := ctx.SavedVariables()[0]
	return []*Variable{scaled(mul(x, gradOutputs[0]), 2)}
}

// negInPlaceFn negates its input in place and returns it.
type negInPlaceFn struct{}

func (negInPlaceFn) Name() string { return "NegInPlace" }

func (negInPlaceFn) Forward(ctx *Context, args ...any) []*Variable {
	x := args[0].(*Variable)
	x.Tensor().MutableFlatData(func(flat any) {
		values := flat.([]float32)
		for ii := range values {
			values[ii] = -values[ii]
		}
	})
	ctx.MarkDirty(x)
	return []*Variable{x}
}

func (negInPlaceFn) Backward(ctx *Context, gradOutputs []*Variable) []*Variable {
	return []*Variable{scaled(gradOutputs[0], -1)}
}

// valuesAndIndicesFn returns a differentiable copy of x plus a
// non-differentiable index tensor, like a sort or top-k would.
type valuesAndIndicesFn struct{}

func (valuesAndIndicesFn) Name() string { return "ValuesAndIndices" }

func (valuesAndIndicesFn) Forward(ctx *Context, args ...any) []*Variable {
	x := args[0].(*Variable)
	values := scaled(x, 1)
	indices := make([]int32, x.Shape().Size())
	for ii := range indices {
		indices[ii] = int32(ii)
	}
	indicesVar := NewVariable(tensors.FromFlatDataAndDimensions(indices, len(indices)), false)
	ctx.MarkNonDifferentiable(indicesVar)
	return []*Variable{values, indicesVar}
}

func (valuesAndIndicesFn) Backward(ctx *Context, gradOutputs []*Variable) []*Variable {
	return []*Variable{gradOutputs[0]}
}

// recordingFn captures the gradients its backward receives, to observe zero
// synthesis for undefined slots. Its backward returns no gradient.
type recordingFn struct {
	received []*Variable
}

func (*recordingFn) Name() string { return "Recording" }

func (f *recordingFn) Forward(ctx *Context, args ...any) []*Variable {
	x := args[0].(*Variable)
	return []*Variable{scaled(x, 1)}
}

func (f *recordingFn) Backward(ctx *Context, gradOutputs []*Variable) []*Variable {
	f.received = slices.Clone(gradOutputs)
	return []*Variable{nil}
}
