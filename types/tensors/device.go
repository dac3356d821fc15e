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

package tensors

import "fmt"

// DeviceType is the placement class of a device: the family of hardware a
// tensor lives on, independent of which concrete unit.
type DeviceType uint8

const (
	// CPU is host memory.
	CPU DeviceType = iota

	// CUDA is an Nvidia GPU.
	CUDA

	// TPU is a Google TPU.
	TPU
)

// String implements fmt.Stringer.
func (t DeviceType) String() string {
	switch t {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	case TPU:
		return "tpu"
	}
	return fmt.Sprintf("DeviceType(%d)", int(t))
}

// Device identifies a concrete device: a placement class plus the ordinal of
// the unit within that class (e.g. which GPU).
type Device struct {
	Type    DeviceType
	Ordinal int
}

// CPUDevice is the default device for tensors created without an explicit one.
var CPUDevice = Device{Type: CPU}

// String implements fmt.Stringer, e.g. "cpu" or "cuda:1".
func (d Device) String() string {
	if d.Type == CPU {
		return d.Type.String()
	}
	return fmt.Sprintf("%s:%d", d.Type, d.Ordinal)
}

// DeviceGuard tracks the device selected as the execution context for a
// sequence of allocations -- typically the synthesis of zero-filled gradients
// during a backward pass, where no prior operation implied a device.
//
// The zero value is an unset guard.
type DeviceGuard struct {
	device Device
	set    bool
}

// Apply makes device the guard's current execution context.
func (g *DeviceGuard) Apply(device Device) {
	g.device = device
	g.set = true
}

// MaybeApply sets the execution context to device only if the guard is still
// unset. Used to let the first observed device guide subsequent allocations.
func (g *DeviceGuard) MaybeApply(device Device) {
	if !g.set {
		g.Apply(device)
	}
}

// IsSet returns whether any device was selected yet.
func (g *DeviceGuard) IsSet() bool { return g.set }

// Current returns the selected device, or CPUDevice if the guard is unset.
func (g *DeviceGuard) Current() Device {
	if !g.set {
		return CPUDevice
	}
	return g.device
}
