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

// Package layout describes the fixed memory map of a supported device.
//
// A Layout is pure configuration: it is built once from link-time constants
// and passed explicitly to every component that needs it. The values baked
// into a running image and the values used while reconstructing a new image
// must agree, or the new image is unbootable.
package layout

import (
	"fmt"

	"github.com/vexide/vexide/api"
)

// Region is a fixed, named span of the device address space,
// [Base, Base+Len).
type Region struct {
	Base uint32
	Len  uint32
}

// End returns the first address past the region.
func (r Region) End() uint32 {
	return r.Base + r.Len
}

// Contains reports whether o lies entirely within r.
func (r Region) Contains(o Region) bool {
	return o.Base >= r.Base && o.End() <= r.End() && o.End() >= o.Base
}

// Overlaps reports whether r and o share any address.
func (r Region) Overlaps(o Region) bool {
	return r.Base < o.End() && o.Base < r.End()
}

// String returns the region as an address range.
func (r Region) String() string {
	return fmt.Sprintf("0x%08x..0x%08x", r.Base, r.End())
}

// Layout is the memory layout descriptor for one device class.
type Layout struct {
	// RAM is the whole block the host firmware hands to user code. The
	// live program image is loaded at its base.
	RAM Region

	// PatcherLen is the size of the Patcher RAM reservation carved from
	// the end of RAM. It divides into three equal subsections: the patch
	// record, the base snapshot, and the reconstructed image.
	PatcherLen uint32

	// SigLen is the size of the code signature at the start of a program
	// image.
	SigLen uint32

	// EntryOffset is the offset from the program base at which execution
	// of an image begins.
	EntryOffset uint32

	// StackLen is the stack reservation subtracted from the top of
	// program RAM; the heap ceiling sits directly below it.
	StackLen uint32
}

// V5 returns the memory map of the V5-class device: 72 MiB of user RAM at
// 0x03800000 with a 6 MiB patcher reservation at its end and a 4 MiB stack.
func V5() Layout {
	return Layout{
		RAM:         Region{Base: 0x0380_0000, Len: 0x0480_0000},
		PatcherLen:  0x0060_0000,
		SigLen:      api.SigLen,
		EntryOffset: api.SigLen,
		StackLen:    0x0040_0000,
	}
}

// Validate checks the internal consistency of the descriptor. Boot cannot
// proceed on an invalid layout; there is no fault domain to report into at
// that point, so callers treat a failure here as a boot-time abort.
func (l Layout) Validate() error {
	if l.RAM.Len == 0 {
		return fmt.Errorf("empty RAM region")
	}
	if l.RAM.End() < l.RAM.Base {
		return fmt.Errorf("RAM region %v wraps the address space", l.RAM)
	}
	if l.PatcherLen == 0 || l.PatcherLen >= l.RAM.Len {
		return fmt.Errorf("patcher reservation %d outside RAM length %d", l.PatcherLen, l.RAM.Len)
	}
	if l.PatcherLen%3 != 0 {
		return fmt.Errorf("patcher reservation %d not divisible into three subsections", l.PatcherLen)
	}
	if l.SigLen == 0 || l.EntryOffset < l.SigLen {
		return fmt.Errorf("entry offset %d inside %d byte signature", l.EntryOffset, l.SigLen)
	}
	prog := l.Program()
	if l.StackLen >= prog.Len {
		return fmt.Errorf("stack length %d exceeds program region %v", l.StackLen, prog)
	}
	if sub := l.SubsectionLen(); sub < api.PatchHeaderLen || sub < l.SigLen {
		return fmt.Errorf("subsection length %d too small", sub)
	}
	return nil
}

// Program returns the region holding the live, executing program image:
// everything below the patcher reservation.
func (l Layout) Program() Region {
	return Region{Base: l.RAM.Base, Len: l.RAM.Len - l.PatcherLen}
}

// Patcher returns the Patcher RAM reservation at the end of RAM.
func (l Layout) Patcher() Region {
	return Region{Base: l.RAM.End() - l.PatcherLen, Len: l.PatcherLen}
}

// SubsectionLen returns the fixed size of each patcher subsection.
func (l Layout) SubsectionLen() uint32 {
	return l.PatcherLen / 3
}

// PatchRegion returns the subsection holding the uploaded patch record.
func (l Layout) PatchRegion() Region {
	return Region{Base: l.Patcher().Base, Len: l.SubsectionLen()}
}

// BaseRegion returns the subsection holding the base snapshot of the
// running image.
func (l Layout) BaseRegion() Region {
	return Region{Base: l.Patcher().Base + l.SubsectionLen(), Len: l.SubsectionLen()}
}

// NewRegion returns the subsection the reconstructed image is built in.
func (l Layout) NewRegion() Region {
	return Region{Base: l.Patcher().Base + 2*l.SubsectionLen(), Len: l.SubsectionLen()}
}

// StackTop returns the initial stack pointer: the top of the program
// region, growing down.
func (l Layout) StackTop() uint32 {
	return l.Program().End()
}

// HeapCeiling returns the first address above the static heap span, directly
// below the stack reservation.
func (l Layout) HeapCeiling() uint32 {
	return l.StackTop() - l.StackLen
}

// Entry returns the address execution begins at for an image loaded at the
// program base.
func (l Layout) Entry() uint32 {
	return l.Program().Base + l.EntryOffset
}
