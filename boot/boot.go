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

// Package boot brings a device from cold power-up to running user code,
// applying a pending differential patch on the way if one has been
// uploaded.
//
// The sequence per boot cycle is fixed: stack setup, bss zeroing, static
// heap claim, then the patch decision. With no pending patch the Patcher
// RAM reservation is folded into the heap and control is handed to runtime
// init. With a pending patch the record is consumed, a full image is rebuilt
// from it against the base snapshot, and the overwriter replaces the live
// program with the rebuilt image — control never returns from that path.
package boot

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vexide/vexide/boot/banner"
	"github.com/vexide/vexide/heap"
	"github.com/vexide/vexide/layout"
)

// RAM provides bounds-checked access to spans of the device address space.
// The boot path never touches memory except through this interface.
type RAM interface {
	// Slice returns a mutable view of the given region, or an error if the
	// region lies outside the memory this RAM backs.
	Slice(r layout.Region) ([]byte, error)
}

// Port is the narrow interface to the operations the boot path cannot
// express portably: interrupt masking, cache maintenance, and the final
// non-returning jump. Everything else in this package is ordinary code;
// everything genuinely hardware-level funnels through here.
type Port interface {
	// InitStack establishes the boot stack with its top at the given
	// address.
	InitStack(top uint32)
	// MaskInterrupts disables asynchronous interrupt delivery.
	MaskInterrupts()
	// UnmaskInterrupts re-enables interrupt delivery.
	UnmaskInterrupts()
	// CleanInvalidateDataCache cleans and invalidates the data cache over
	// the given range, making written data visible to instruction fetch.
	CleanInvalidateDataCache(r layout.Region)
	// InvalidateInstructionCache drops all cached decoded instructions.
	InvalidateInstructionCache()
	// Barrier completes all outstanding cache maintenance before any
	// further instruction fetch.
	Barrier()
	// Exec transfers control to the instruction at entry. It does not
	// return.
	Exec(entry uint32)
}

// Symbols carries the per-image addresses the linker would otherwise
// provide: the bounds of the uninitialized-data region and the start of the
// static heap span.
type Symbols struct {
	BSSStart  uint32
	BSSEnd    uint32
	HeapStart uint32
}

// Validate checks the symbols against the program region of l.
func (s Symbols) Validate(l layout.Layout) error {
	prog := l.Program()
	if s.BSSEnd < s.BSSStart {
		return fmt.Errorf("bss region inverted: 0x%08x..0x%08x", s.BSSStart, s.BSSEnd)
	}
	bss := layout.Region{Base: s.BSSStart, Len: s.BSSEnd - s.BSSStart}
	if !prog.Contains(bss) {
		return fmt.Errorf("bss region %v outside program region %v", bss, prog)
	}
	if s.HeapStart < s.BSSEnd || s.HeapStart > l.HeapCeiling() {
		return fmt.Errorf("heap start 0x%08x outside 0x%08x..0x%08x", s.HeapStart, s.BSSEnd, l.HeapCeiling())
	}
	return nil
}

// Config assembles everything a Sequencer needs. All fields except Banner
// are required.
type Config struct {
	// Layout is the device memory map baked into the running image.
	Layout layout.Layout
	// RAM backs the device address space.
	RAM RAM
	// Port performs the hardware-level operations.
	Port Port
	// Arena receives the heap claims made during boot.
	Arena *heap.Arena
	// Symbols locates the running image's bss and heap span.
	Symbols Symbols
	// LinkAddr is the address the loader linked the running image at. The
	// patch decision only runs when it equals the program base, which is
	// how differential uploads announce themselves.
	LinkAddr uint32
	// RuntimeInit is the runtime hand-off: called once, with no
	// arguments, after a clean boot. The scheduler, device layer, and
	// user code are its problem from then on.
	RuntimeInit func()
	// Banner, if non-nil, is printed before the runtime hand-off.
	Banner *BannerConfig
}

// BannerConfig enables the startup banner.
type BannerConfig struct {
	Theme banner.Theme
	Info  banner.Info
	// Out defaults to os.Stdout.
	Out io.Writer
}

// Sequencer drives one boot cycle.
type Sequencer struct {
	cfg   Config
	store *PatchStore
	ow    *Overwriter

	patchErr error
	started  time.Time
}

// NewSequencer validates cfg and returns a sequencer for one boot cycle.
func NewSequencer(cfg Config) (*Sequencer, error) {
	if err := cfg.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("memory layout descriptor: %w", err)
	}
	if cfg.RAM == nil || cfg.Port == nil || cfg.Arena == nil || cfg.RuntimeInit == nil {
		return nil, errors.New("incomplete boot config")
	}
	if err := cfg.Symbols.Validate(cfg.Layout); err != nil {
		return nil, fmt.Errorf("image symbols: %w", err)
	}
	return &Sequencer{
		cfg:   cfg,
		store: NewPatchStore(cfg.Layout, cfg.RAM),
		ow:    NewOverwriter(cfg.Layout, cfg.RAM, cfg.Port),
	}, nil
}

// Boot runs the cold-start sequence. It returns nil after handing off to
// runtime init, and does not return at all when a patch is applied: the
// overwriter jumps into the new image instead. Errors are boot-time aborts;
// nothing above this layer exists yet to recover from them.
func (s *Sequencer) Boot() error {
	l := s.cfg.Layout
	s.started = time.Now()

	// 1. Stack first: nothing below may run without one.
	s.cfg.Port.InitStack(l.StackTop())

	// 2. Zero bss. The overwriter copies only the image file proper, so
	// this span may hold leftovers from the previous image.
	if err := s.zeroBSS(); err != nil {
		return fmt.Errorf("zeroing bss: %w", err)
	}

	// 3. Claim the static heap span. The Patcher RAM reservation is NOT
	// claimed here: the reconstructor still needs it.
	sym := s.cfg.Symbols
	if sym.HeapStart < l.HeapCeiling() {
		if err := s.cfg.Arena.Claim(layout.Region{Base: sym.HeapStart, Len: l.HeapCeiling() - sym.HeapStart}); err != nil {
			return fmt.Errorf("claiming static heap: %w", err)
		}
	}

	// 4. Patch decision. Only differential uploads leave a record; direct
	// uploads link the image elsewhere and skip the check entirely.
	if s.cfg.LinkAddr == l.Program().Base && s.store.HasPendingPatch() {
		s.patchErr = s.applyPatch()
		// A rejected patch is recoverable: boot the live image as-is.
		// Running stale-but-correct code beats running a truncated image.
	}

	// 5. Decision finalized; fold the whole reservation into the heap.
	if err := s.cfg.Arena.Claim(l.Patcher()); err != nil {
		return fmt.Errorf("reclaiming patcher RAM: %w", err)
	}

	// 6. Banner, then hand off for the rest of program execution.
	if b := s.cfg.Banner; b != nil {
		out := b.Out
		if out == nil {
			out = os.Stdout
		}
		info := b.Info
		if info.Uptime == 0 {
			info.Uptime = time.Since(s.started)
		}
		banner.Fprint(out, b.Theme, info)
	}
	s.cfg.RuntimeInit()
	return nil
}

// PatchErr reports why the most recent boot cycle declined to apply a
// pending patch, or nil if no patch was pending or the boot never got that
// far. A successfully applied patch is unobservable here: that path does
// not return.
func (s *Sequencer) PatchErr() error {
	return s.patchErr
}

func (s *Sequencer) zeroBSS() error {
	sym := s.cfg.Symbols
	if sym.BSSEnd == sym.BSSStart {
		return nil
	}
	bss, err := s.cfg.RAM.Slice(layout.Region{Base: sym.BSSStart, Len: sym.BSSEnd - sym.BSSStart})
	if err != nil {
		return err
	}
	clear(bss)
	return nil
}

// applyPatch consumes the pending record, rebuilds the image, and — when
// everything checks out — overwrites the live program. It only returns on
// rejection.
func (s *Sequencer) applyPatch() error {
	rec, err := s.store.TakePatch()
	if err != nil {
		return err
	}

	base, err := s.cfg.RAM.Slice(s.cfg.Layout.BaseRegion())
	if err != nil {
		return err
	}
	dst, err := s.cfg.RAM.Slice(s.cfg.Layout.NewRegion())
	if err != nil {
		return err
	}
	if err := Reconstruct(base[:rec.Header.BaseLen], rec.Payload, dst[:rec.Header.TargetLen]); err != nil {
		return fmt.Errorf("reconstructing image: %w", err)
	}

	// Control does not come back from here on success.
	if err := s.ow.Commit(rec.Header.TargetLen); err != nil {
		return fmt.Errorf("overwrite refused: %w", err)
	}
	panic("unreachable")
}
