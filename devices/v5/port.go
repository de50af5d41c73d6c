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

//go:build v5

package v5

import (
	"fmt"
	"unsafe"

	"github.com/usbarmory/tamago/arm"

	"github.com/vexide/vexide/layout"
)

// defined in exec_arm.s
func barrier()
func jump(entry uint32)

// RAM addresses device memory directly: a region is a slice over its
// physical addresses. Nothing outside the layout's RAM block is reachable.
type RAM struct {
	span layout.Region
}

// NewRAM returns direct access to the layout's RAM block.
func NewRAM(l layout.Layout) *RAM {
	return &RAM{span: l.RAM}
}

// Slice implements boot.RAM.
func (m *RAM) Slice(r layout.Region) ([]byte, error) {
	if !m.span.Contains(r) {
		return nil, fmt.Errorf("region %v outside device RAM %v", r, m.span)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(r.Base))), int(r.Len)), nil
}

// Port performs the boot path's hardware operations on the ARM core.
type Port struct {
	CPU *arm.CPU
}

// InitStack implements boot.Port. The assembly entry stub has already
// loaded the stack pointer before any Go code could run; there is nothing
// left to do from here.
func (p *Port) InitStack(top uint32) {}

// MaskInterrupts implements boot.Port.
func (p *Port) MaskInterrupts() {
	p.CPU.DisableInterrupts()
}

// UnmaskInterrupts implements boot.Port.
func (p *Port) UnmaskInterrupts() {
	p.CPU.EnableInterrupts()
}

// CleanInvalidateDataCache implements boot.Port. The core only offers a
// full-cache sweep, which subsumes the requested range.
func (p *Port) CleanInvalidateDataCache(r layout.Region) {
	p.CPU.FlushDataCache()
}

// InvalidateInstructionCache implements boot.Port.
func (p *Port) InvalidateInstructionCache() {
	p.CPU.FlushInstructionCache()
}

// Barrier implements boot.Port.
func (p *Port) Barrier() {
	barrier()
}

// Exec implements boot.Port. It does not return.
func (p *Port) Exec(entry uint32) {
	jump(entry)
	panic("jump returned")
}
