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

// Package heap implements the claim-based arena the general allocator draws
// from. Memory is never requested from anywhere: ranges of the fixed device
// address space are donated with Claim, first the static heap span during
// boot and later the whole Patcher RAM reservation once the patch decision
// for the boot is finalized.
package heap

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vexide/vexide/layout"
)

// Align is the allocation granularity in bytes.
const Align = 8

// Arena is a first-fit free-list allocator over claimed address ranges.
// The boot path uses it strictly sequentially; the mutex is for the
// post-boot world.
type Arena struct {
	mu      sync.Mutex
	free    []layout.Region // sorted by base, non-adjacent, non-overlapping
	claimed []layout.Region // every range ever donated, in claim order
	allocs  map[uint32]uint32
}

// New returns an arena owning no memory.
func New() *Arena {
	return &Arena{allocs: make(map[uint32]uint32)}
}

// Claim donates an address range to the arena. A range may be claimed at
// most once and must not overlap any previous claim; after a claim the
// donor must never touch the memory again.
func (a *Arena) Claim(r layout.Region) error {
	if r.Len == 0 {
		return fmt.Errorf("claim of empty region %v", r)
	}
	if r.End() < r.Base {
		return fmt.Errorf("claim %v wraps the address space", r)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.claimed {
		if c.Overlaps(r) {
			return fmt.Errorf("claim %v overlaps previous claim %v", r, c)
		}
	}
	a.claimed = append(a.claimed, r)
	a.insert(r)
	return nil
}

// Alloc reserves n bytes and returns their base address.
func (a *Arena) Alloc(n uint32) (uint32, error) {
	if n == 0 {
		return 0, fmt.Errorf("zero-length allocation")
	}
	n = (n + Align - 1) &^ uint32(Align-1)
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, f := range a.free {
		if f.Len < n {
			continue
		}
		base := f.Base
		if f.Len == n {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = layout.Region{Base: f.Base + n, Len: f.Len - n}
		}
		a.allocs[base] = n
		return base, nil
	}
	return 0, fmt.Errorf("out of memory allocating %d bytes", n)
}

// Free returns an allocation made by Alloc to the arena.
func (a *Arena) Free(base uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.allocs[base]
	if !ok {
		return fmt.Errorf("free of unallocated address 0x%08x", base)
	}
	delete(a.allocs, base)
	a.insert(layout.Region{Base: base, Len: n})
	return nil
}

// insert adds r to the free list, coalescing with adjacent spans.
// Caller holds a.mu.
func (a *Arena) insert(r layout.Region) {
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].Base >= r.Base })
	a.free = append(a.free, layout.Region{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = r

	// Merge with the following span, then the preceding one.
	if i+1 < len(a.free) && a.free[i].End() == a.free[i+1].Base {
		a.free[i].Len += a.free[i+1].Len
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].End() == a.free[i].Base {
		a.free[i-1].Len += a.free[i].Len
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

// FreeBytes returns the total bytes currently available.
func (a *Arena) FreeBytes() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n uint32
	for _, f := range a.free {
		n += f.Len
	}
	return n
}

// Claimed returns every range donated so far, in claim order.
func (a *Arena) Claimed() []layout.Region {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]layout.Region, len(a.claimed))
	copy(out, a.claimed)
	return out
}
