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

package boot

import (
	"fmt"

	"github.com/vexide/vexide/api"
	"github.com/vexide/vexide/layout"
)

// Overwriter replaces the live program image with the reconstructed one and
// transfers control to it. This is the single most safety-critical
// operation in the system: the processor keeps executing the old image
// while its own instructions are copied over.
type Overwriter struct {
	layout layout.Layout
	ram    RAM
	port   Port
}

// NewOverwriter returns an overwriter for the given device.
func NewOverwriter(l layout.Layout, ram RAM, port Port) *Overwriter {
	return &Overwriter{layout: l, ram: ram, port: port}
}

// Commit copies targetLen bytes of the reconstructed image over the live
// program region and jumps to the new image's entry point. It validates
// everything it can before starting; once the copy begins there is no
// rollback, so it returns only on refusal.
//
// The ordering below is load-bearing. An interrupt handler must never
// observe a half-copied image, and on this processor class the data and
// instruction caches are not coherent: written bytes must be cleaned out of
// the data cache and stale decodes dropped from the instruction cache, with
// a barrier between the maintenance and the first fetch from the
// overwritten range.
func (o *Overwriter) Commit(targetLen uint32) error {
	l := o.layout
	prog := l.Program()
	if targetLen < l.SigLen || targetLen > l.SubsectionLen() || targetLen > prog.Len {
		return fmt.Errorf("target length %d outside 0x%x..0x%x", targetLen, l.SigLen, min(l.SubsectionLen(), prog.Len))
	}

	src, err := o.ram.Slice(l.NewRegion())
	if err != nil {
		return err
	}
	sig, err := api.ParseCodeSignature(src)
	if err != nil {
		return fmt.Errorf("reconstructed image: %w", err)
	}
	if err := sig.Validate(); err != nil {
		return fmt.Errorf("reconstructed image: %w", err)
	}
	dst, err := o.ram.Slice(layout.Region{Base: prog.Base, Len: targetLen})
	if err != nil {
		return err
	}

	o.port.MaskInterrupts()
	copy(dst, src[:targetLen])
	o.port.CleanInvalidateDataCache(layout.Region{Base: prog.Base, Len: targetLen})
	o.port.InvalidateInstructionCache()
	o.port.Barrier()
	o.port.UnmaskInterrupts()

	// A jump, not a call. No cleanup runs after this.
	o.port.Exec(l.Entry())
	panic("exec returned")
}
