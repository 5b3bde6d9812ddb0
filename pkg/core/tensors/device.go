// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import "fmt"

// DeviceID identifies where a matrix buffer lives: the host (CPUDevice) or an accelerator (0, 1, ...).
type DeviceID int

// CPUDevice is the host memory.
const CPUDevice DeviceID = -1

// IsCPU returns whether the device is the host.
func (d DeviceID) IsCPU() bool { return d < 0 }

// String implements fmt.Stringer.
func (d DeviceID) String() string {
	if d.IsCPU() {
		return "CPU"
	}
	return fmt.Sprintf("GPU:%d", int(d))
}
