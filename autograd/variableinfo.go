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
	"slices"

	"github.com/dynagrad/dynagrad/types/shapes"
	"github.com/dynagrad/dynagrad/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
)

// VariableInfo is an immutable snapshot of a tracked variable's metadata,
// taken at the moment the variable was observed by Apply: device placement
// class, concrete device, element type, dimensions and gradient requirement.
//
// A Node keeps one per tracked input and one per tracked output, and uses it
// to synthesize a same-shaped zero-filled gradient when the backward pass
// leaves a slot undefined.
type VariableInfo struct {
	deviceType   tensors.DeviceType
	device       tensors.Device
	dtype        dtypes.DType
	dimensions   []int
	requiresGrad bool
}

// newVariableInfo captures the metadata of v. No side effects beyond the read.
func newVariableInfo(v *Variable) VariableInfo {
	return VariableInfo{
		deviceType:   v.Device().Type,
		device:       v.Device(),
		dtype:        v.DType(),
		dimensions:   slices.Clone(v.Shape().Dimensions),
		requiresGrad: v.RequiresGrad(),
	}
}

// Shape reconstructs the captured shape.
func (info VariableInfo) Shape() shapes.Shape {
	return shapes.Shape{DType: info.dtype, Dimensions: slices.Clone(info.dimensions)}
}

// Device returns the captured concrete device.
func (info VariableInfo) Device() tensors.Device { return info.device }

// RequiresGrad returns the captured gradient requirement.
func (info VariableInfo) RequiresGrad() bool { return info.requiresGrad }

// Zeros allocates a new zero-filled variable matching the captured
// shape/dtype/device. The guard is pointed at the captured device, selecting
// the execution context for this and subsequent allocations.
func (info VariableInfo) Zeros(guard *tensors.DeviceGuard) *Variable {
	guard.Apply(info.device)
	return NewVariable(tensors.FromShapeOnDevice(info.Shape(), info.device), false)
}
