// Copyright 2024 The vexide Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dummy provides an emulated device for exercising the boot and
// patch subsystem without hardware: a byte-slice RAM arena at the real
// addresses, a port that records its hardware operations, and a device that
// persists battery-backed RAM across power cycles.
package dummy

import (
	"fmt"

	"github.com/vexide/vexide/layout"
)

// RAM backs the device address space with a single byte slice. Region
// accesses are translated by fixed offset and bounds-checked; nothing
// outside the layout's RAM block is addressable.
type RAM struct {
	span layout.Region
	mem  []byte
}

// NewRAM returns zeroed memory covering the layout's RAM block, as from a
// cold power-up of a freshly flashed device.
func NewRAM(l layout.Layout) *RAM {
	return &RAM{span: l.RAM, mem: make([]byte, l.RAM.Len)}
}

// Slice returns a mutable view of r.
func (m *RAM) Slice(r layout.Region) ([]byte, error) {
	if !m.span.Contains(r) {
		return nil, fmt.Errorf("region %v outside device RAM %v", r, m.span)
	}
	off := r.Base - m.span.Base
	return m.mem[off : off+r.Len : off+r.Len], nil
}

// Bytes returns the whole backing array. Only the persistence layer and
// tests should reach for this.
func (m *RAM) Bytes() []byte {
	return m.mem
}
