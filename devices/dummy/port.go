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

package dummy

import (
	"fmt"

	"github.com/vexide/vexide/layout"
)

// ExecJump is the panic value the dummy port throws to model the
// overwriter's non-returning jump: control leaves the old image's call
// stack and never comes back. Whoever emulates the processor (the device's
// power-cycle loop, or a test) recovers it and re-enters boot at Entry.
type ExecJump struct {
	Entry uint32
}

// Port records every hardware-level operation the boot path performs, in
// order, so tests can assert the overwriter's mask/copy/cache/barrier
// sequence exactly.
type Port struct {
	ops []string
}

// Ops returns the operations performed so far.
func (p *Port) Ops() []string {
	out := make([]string, len(p.ops))
	copy(out, p.ops)
	return out
}

// InitStack implements boot.Port.
func (p *Port) InitStack(top uint32) {
	p.ops = append(p.ops, fmt.Sprintf("init_stack 0x%08x", top))
}

// MaskInterrupts implements boot.Port.
func (p *Port) MaskInterrupts() {
	p.ops = append(p.ops, "mask_interrupts")
}

// UnmaskInterrupts implements boot.Port.
func (p *Port) UnmaskInterrupts() {
	p.ops = append(p.ops, "unmask_interrupts")
}

// CleanInvalidateDataCache implements boot.Port.
func (p *Port) CleanInvalidateDataCache(r layout.Region) {
	p.ops = append(p.ops, fmt.Sprintf("dcache_clean_invalidate %v", r))
}

// InvalidateInstructionCache implements boot.Port.
func (p *Port) InvalidateInstructionCache() {
	p.ops = append(p.ops, "icache_invalidate")
}

// Barrier implements boot.Port.
func (p *Port) Barrier() {
	p.ops = append(p.ops, "barrier")
}

// Exec implements boot.Port by unwinding to the emulation loop. It does
// not return.
func (p *Port) Exec(entry uint32) {
	p.ops = append(p.ops, fmt.Sprintf("exec 0x%08x", entry))
	panic(ExecJump{Entry: entry})
}
