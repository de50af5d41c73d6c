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

// Package layout_test holds blackbox tests for the layout package.
package layout_test

import (
	"testing"

	"github.com/vexide/vexide/layout"
)

func TestV5Map(t *testing.T) {
	l := layout.V5()
	if err := l.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// These numbers are a binding contract with the device class; a
	// mismatch between running image and reconstructor is unbootable.
	if got, want := l.Program().Base, uint32(0x03800000); got != want {
		t.Errorf("program base 0x%08x, want 0x%08x", got, want)
	}
	if got, want := l.Patcher().Base, uint32(0x07A00000); got != want {
		t.Errorf("patcher base 0x%08x, want 0x%08x", got, want)
	}
	if got, want := l.Patcher().End(), uint32(0x08000000); got != want {
		t.Errorf("patcher end 0x%08x, want 0x%08x", got, want)
	}
	if got, want := l.SubsectionLen(), uint32(0x00200000); got != want {
		t.Errorf("subsection length 0x%x, want 0x%x", got, want)
	}
	if got, want := l.BaseRegion().Base, uint32(0x07C00000); got != want {
		t.Errorf("base snapshot at 0x%08x, want 0x%08x", got, want)
	}
	if got, want := l.NewRegion().Base, uint32(0x07E00000); got != want {
		t.Errorf("reconstructed image at 0x%08x, want 0x%08x", got, want)
	}
	if got, want := l.Entry(), uint32(0x03800020); got != want {
		t.Errorf("entry 0x%08x, want 0x%08x", got, want)
	}
	if got, want := l.HeapCeiling(), l.StackTop()-l.StackLen; got != want {
		t.Errorf("heap ceiling 0x%08x, want 0x%08x", got, want)
	}
}

func TestSubsectionsDisjoint(t *testing.T) {
	l := layout.V5()
	regions := []layout.Region{l.PatchRegion(), l.BaseRegion(), l.NewRegion()}
	for i, a := range regions {
		if !l.Patcher().Contains(a) {
			t.Errorf("subsection %d (%v) escapes patcher reservation %v", i, a, l.Patcher())
		}
		if a.Len != l.SubsectionLen() {
			t.Errorf("subsection %d has length 0x%x, want 0x%x", i, a.Len, l.SubsectionLen())
		}
		for j, b := range regions[i+1:] {
			if a.Overlaps(b) {
				t.Errorf("subsections %d and %d overlap: %v, %v", i, i+1+j, a, b)
			}
		}
	}
	if l.Patcher().Overlaps(l.Program()) {
		t.Errorf("patcher reservation %v overlaps program region %v", l.Patcher(), l.Program())
	}
}

func TestValidateRejectsBadLayouts(t *testing.T) {
	base := func() layout.Layout { return layout.V5() }
	for _, test := range []struct {
		desc   string
		mutate func(*layout.Layout)
	}{
		{desc: "empty RAM", mutate: func(l *layout.Layout) { l.RAM.Len = 0 }},
		{desc: "patcher swallows RAM", mutate: func(l *layout.Layout) { l.PatcherLen = l.RAM.Len }},
		{desc: "indivisible patcher", mutate: func(l *layout.Layout) { l.PatcherLen = 0x200001 }},
		{desc: "entry inside signature", mutate: func(l *layout.Layout) { l.EntryOffset = 4 }},
		{desc: "stack swallows program", mutate: func(l *layout.Layout) { l.StackLen = l.RAM.Len }},
	} {
		t.Run(test.desc, func(t *testing.T) {
			l := base()
			test.mutate(&l)
			if err := l.Validate(); err == nil {
				t.Fatal("Validate accepted a corrupt descriptor")
			}
		})
	}
}

func TestRegionContainsOverlaps(t *testing.T) {
	r := layout.Region{Base: 100, Len: 50}
	for _, test := range []struct {
		desc     string
		o        layout.Region
		contains bool
		overlaps bool
	}{
		{desc: "identical", o: layout.Region{Base: 100, Len: 50}, contains: true, overlaps: true},
		{desc: "inside", o: layout.Region{Base: 110, Len: 10}, contains: true, overlaps: true},
		{desc: "straddles end", o: layout.Region{Base: 140, Len: 20}, contains: false, overlaps: true},
		{desc: "adjacent above", o: layout.Region{Base: 150, Len: 10}, contains: false, overlaps: false},
		{desc: "below", o: layout.Region{Base: 0, Len: 100}, contains: false, overlaps: false},
	} {
		t.Run(test.desc, func(t *testing.T) {
			if got := r.Contains(test.o); got != test.contains {
				t.Errorf("Contains(%v) = %t, want %t", test.o, got, test.contains)
			}
			if got := r.Overlaps(test.o); got != test.overlaps {
				t.Errorf("Overlaps(%v) = %t, want %t", test.o, got, test.overlaps)
			}
		})
	}
}
