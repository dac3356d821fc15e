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

// Package tensors implements Tensor, a dense host representation of a
// multi-dimensional array, defined by its shape (a data type and its axes'
// dimensions), its device placement and its actual content stored as a flat
// (1D) slice of the underlying DType.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): a tensor with the given shape and zero
//     values, placed on the CPU.
//   - FromShapeOnDevice(shape shapes.Shape, device Device): same, with an
//     explicit device placement.
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int):
//     a tensor with the given dimensions, its flattened values set to data.
//   - FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int):
//     a tensor with the given dimensions filled with a scalar value.
//
// Each Tensor carries a version counter, bumped on every mutable access to
// its data (see MutableFlatData). The differentiation engine uses it to
// detect tensors that were mutated in place after being saved for a backward
// pass.
package tensors

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/dynagrad/dynagrad/types/shapes"
	"github.com/dynagrad/dynagrad/types/xslices"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
)

// MaxSizeToPrint is the largest number of elements Tensor.String prints in
// full; larger tensors print only their shape and memory usage.
const MaxSizeToPrint = 16

// Tensor is a dense host tensor: a shape, a device placement and a flat
// slice of the shape's DType holding the values in row-major order.
//
// The shape and device are immutable after construction. The data is mutable
// through MutableFlatData, which bumps the tensor's version counter.
type Tensor struct {
	shape  shapes.Shape
	device Device

	// flat is a []dtype slice holding the data. nil after Finalize.
	flat any

	// version counts the mutations of flat, see Version.
	version atomic.Int64
}

// FromShape returns a Tensor with the given shape, placed on the CPU, with
// the data initialized with zeros.
func FromShape(shape shapes.Shape) *Tensor {
	return FromShapeOnDevice(shape, CPUDevice)
}

// FromShapeOnDevice returns a zero-filled Tensor with the given shape and
// device placement.
func FromShapeOnDevice(shape shapes.Shape, device Device) *Tensor {
	if !shape.Ok() {
		exceptions.Panicf("tensors.FromShapeOnDevice: invalid shape %s", shape)
	}
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), shape.Size(), shape.Size())
	return &Tensor{
		shape:  shape,
		device: device,
		flat:   flatV.Interface(),
	}
}

// FromFlatDataAndDimensions returns a CPU Tensor with the given dimensions,
// with the flattened values initialized with data. The length of data must
// match the product of the dimensions.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("tensors.FromFlatDataAndDimensions: shape %s requires %d values, got %d",
			shape, shape.Size(), len(data))
	}
	t := FromShapeOnDevice(shape, CPUDevice)
	copy(t.flat.([]T), data)
	return t
}

// FromScalarAndDimensions returns a CPU Tensor with the given dimensions,
// filled with copies of the scalar value.
func FromScalarAndDimensions[T dtypes.Supported](value T, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	return FromFlatDataAndDimensions(xslices.SliceWithValue(shape.Size(), value), dimensions...)
}

// AssertValid panics if t is nil or if its data was already finalized.
func (t *Tensor) AssertValid() {
	if t == nil {
		exceptions.Panicf("tensors.Tensor is nil")
	}
	if t.flat == nil {
		exceptions.Panicf("tensors.Tensor %s has already been finalized", t.shape)
	}
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor's shape.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Device placement of the tensor.
func (t *Tensor) Device() Device { return t.device }

// Size is the number of elements stored, the product of the dimensions.
func (t *Tensor) Size() int { return t.shape.Size() }

// Version returns the mutation counter of the tensor's data. It starts at 0
// and is bumped by every MutableFlatData call. A changed version means the
// values may have changed.
func (t *Tensor) Version() int64 { return t.version.Load() }

// BumpVersion marks the tensor's data as mutated without going through
// MutableFlatData -- used when the data is aliased by external code.
func (t *Tensor) BumpVersion() { t.version.Add(1) }

// ConstFlatData calls accessFn with the tensor's flat data (a []dtype slice).
// The slice must not be modified -- use MutableFlatData for that.
func (t *Tensor) ConstFlatData(accessFn func(flat any)) {
	t.AssertValid()
	accessFn(t.flat)
}

// MutableFlatData calls accessFn with the tensor's flat data (a []dtype
// slice) for modification, and bumps the tensor's version counter.
func (t *Tensor) MutableFlatData(accessFn func(flat any)) {
	t.AssertValid()
	accessFn(t.flat)
	t.version.Add(1)
}

// Equal reports whether t and other have the same shape and the same values.
// Finalized tensors are only equal to themselves.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == other {
		return true
	}
	if t == nil || other == nil || !t.shape.Equal(other.shape) {
		return false
	}
	if t.flat == nil || other.flat == nil {
		return false
	}
	return reflect.DeepEqual(t.flat, other.flat)
}

// IsFinalized returns true if the tensor's data was already released.
func (t *Tensor) IsFinalized() bool {
	return t == nil || t.flat == nil
}

// Finalize releases the tensor's data immediately. Accessing the data
// afterwards panics. It is safe to call more than once.
func (t *Tensor) Finalize() {
	if t == nil {
		return
	}
	t.flat = nil
}

// String implements fmt.Stringer. Small tensors print their values, larger
// ones only shape and memory usage.
func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	if t.IsFinalized() {
		return fmt.Sprintf("Tensor(%s, finalized)", t.shape)
	}
	if t.Size() > MaxSizeToPrint {
		return fmt.Sprintf("Tensor(%s on %s: %s)", t.shape, t.device, humanize.Bytes(uint64(t.shape.Memory())))
	}
	return fmt.Sprintf("Tensor(%s on %s: %v)", t.shape, t.device, t.printableFlat())
}

// printableFlat converts Float16 values to float32 for display, since
// float16.Float16 would otherwise print as its raw uint16 bits.
func (t *Tensor) printableFlat() any {
	if t.shape.DType != dtypes.Float16 {
		return t.flat
	}
	return xslices.Map(t.flat.([]float16.Float16), func(v float16.Float16) float32 {
		return v.Float32()
	})
}
