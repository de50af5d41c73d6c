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

// Package boot_test holds blackbox tests for the boot package, run against
// the emulated device in devices/dummy.
package boot_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/vexide/vexide/api"
	"github.com/vexide/vexide/boot"
	"github.com/vexide/vexide/devices/dummy"
	"github.com/vexide/vexide/layout"
)

// testLayout returns a miniature memory map with the same shape as the
// real device: 64 KiB of RAM with a 12 KiB patcher reservation and a 4 KiB
// stack. Small enough that tests can fill whole subsections cheaply.
func testLayout() layout.Layout {
	return layout.Layout{
		RAM:         layout.Region{Base: 0x0010_0000, Len: 0x1_0000},
		PatcherLen:  0x3000,
		SigLen:      api.SigLen,
		EntryOffset: api.SigLen,
		StackLen:    0x1000,
	}
}

// makeImage builds a loadable program image: a valid code signature
// followed by n-SigLen bytes of fill.
func makeImage(n int, fill byte) []byte {
	img := make([]byte, n)
	sig := api.NewCodeSignature(api.ProgramTypeUser, api.OwnerPartner, 0).Marshal()
	copy(img, sig[:])
	for i := api.SigLen; i < n; i++ {
		img[i] = fill
	}
	return img
}

// header builds a pending patch header for a payload of the given length.
func header(payloadLen, baseLen, targetLen uint32) api.PatchHeader {
	return api.PatchHeader{
		Magic:     api.PatchMagic,
		Version:   api.PatchVersion,
		PatchLen:  api.PatchHeaderLen + payloadLen,
		BaseLen:   baseLen,
		TargetLen: targetLen,
	}
}

// writeRecord places a patch record at the base of the Patch subsection.
func writeRecord(t *testing.T, ram boot.RAM, l layout.Layout, h api.PatchHeader, payload []byte) {
	t.Helper()
	sub, err := ram.Slice(l.PatchRegion())
	if err != nil {
		t.Fatalf("Slice(%v): %v", l.PatchRegion(), err)
	}
	hb := h.Marshal()
	copy(sub, hb[:])
	copy(sub[api.PatchHeaderLen:], payload)
}

func TestHasPendingPatch(t *testing.T) {
	l := testLayout()
	for _, test := range []struct {
		desc string
		prep func(t *testing.T, ram boot.RAM)
		want bool
	}{
		{
			desc: "freshly flashed device, zeroed subsection",
			prep: func(t *testing.T, ram boot.RAM) {},
			want: false,
		},
		{
			desc: "pending record",
			prep: func(t *testing.T, ram boot.RAM) {
				writeRecord(t, ram, l, header(8, 100, 100), bytes.Repeat([]byte{1}, 8))
			},
			want: true,
		},
		{
			desc: "consumed record",
			prep: func(t *testing.T, ram boot.RAM) {
				h := header(8, 100, 100)
				h.Magic = api.PatchMagicConsumed
				writeRecord(t, ram, l, h, bytes.Repeat([]byte{1}, 8))
			},
			want: false,
		},
		{
			desc: "unknown payload version",
			prep: func(t *testing.T, ram boot.RAM) {
				h := header(8, 100, 100)
				h.Version = 0x2000
				writeRecord(t, ram, l, h, bytes.Repeat([]byte{1}, 8))
			},
			want: false,
		},
		{
			desc: "declared length below header size",
			prep: func(t *testing.T, ram boot.RAM) {
				h := header(8, 100, 100)
				h.PatchLen = api.PatchHeaderLen - 1
				writeRecord(t, ram, l, h, nil)
			},
			want: false,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			ram := dummy.NewRAM(l)
			test.prep(t, ram)
			s := boot.NewPatchStore(l, ram)
			if got := s.HasPendingPatch(); got != test.want {
				t.Fatalf("HasPendingPatch() = %v, want %v", got, test.want)
			}
			// Probing must not consume.
			if got := s.HasPendingPatch(); got != test.want {
				t.Fatalf("second HasPendingPatch() = %v, want %v", got, test.want)
			}
		})
	}
}

func TestTakePatch(t *testing.T) {
	l := testLayout()
	ram := dummy.NewRAM(l)
	payload := pattern(64, 21)
	h := header(uint32(len(payload)), 512, 768)
	writeRecord(t, ram, l, h, payload)

	s := boot.NewPatchStore(l, ram)
	rec, err := s.TakePatch()
	if err != nil {
		t.Fatalf("TakePatch(): %v", err)
	}
	if diff := cmp.Diff(h, rec.Header); diff != "" {
		t.Errorf("record header mismatch:\n%s", diff)
	}
	if !bytes.Equal(rec.Payload, payload) {
		t.Error("record payload does not match the uploaded bytes")
	}

	// The record is gone: subsequent boots must not see it again.
	if s.HasPendingPatch() {
		t.Error("HasPendingPatch() = true after TakePatch()")
	}
	if _, err := s.TakePatch(); !errors.Is(err, boot.ErrNoPatch) {
		t.Errorf("second TakePatch() = %v, want ErrNoPatch", err)
	}
}

func TestTakePatchAtCapacity(t *testing.T) {
	l := testLayout()
	ram := dummy.NewRAM(l)
	sub := l.SubsectionLen()

	// A record filling its whole subsection, declaring base and target at
	// exactly the capacity limit, is still acceptable.
	payload := pattern(int(sub-api.PatchHeaderLen), 7)
	writeRecord(t, ram, l, header(uint32(len(payload)), sub, sub), payload)

	rec, err := boot.NewPatchStore(l, ram).TakePatch()
	if err != nil {
		t.Fatalf("TakePatch(): %v", err)
	}
	if got := uint32(len(rec.Payload)); got != sub-api.PatchHeaderLen {
		t.Errorf("payload is %d bytes, want %d", got, sub-api.PatchHeaderLen)
	}
}

func TestTakePatchEmptySubsection(t *testing.T) {
	l := testLayout()
	s := boot.NewPatchStore(l, dummy.NewRAM(l))
	if _, err := s.TakePatch(); !errors.Is(err, boot.ErrNoPatch) {
		t.Fatalf("TakePatch() = %v, want ErrNoPatch", err)
	}
}

func TestTakePatchRejects(t *testing.T) {
	l := testLayout()
	sub := l.SubsectionLen()
	for _, test := range []struct {
		desc    string
		mutate  func(h *api.PatchHeader)
		wantErr error
	}{
		{
			desc:    "unknown payload version",
			mutate:  func(h *api.PatchHeader) { h.Version = 0x1001 },
			wantErr: boot.ErrBadPatch,
		},
		{
			desc:    "declared length below header size",
			mutate:  func(h *api.PatchHeader) { h.PatchLen = api.PatchHeaderLen - 4 },
			wantErr: boot.ErrBadPatch,
		},
		{
			desc:    "patch larger than its subsection",
			mutate:  func(h *api.PatchHeader) { h.PatchLen = sub + 1 },
			wantErr: boot.ErrPatchTooLarge,
		},
		{
			desc:    "zero base length",
			mutate:  func(h *api.PatchHeader) { h.BaseLen = 0 },
			wantErr: boot.ErrPatchTooLarge,
		},
		{
			desc:    "base larger than its subsection",
			mutate:  func(h *api.PatchHeader) { h.BaseLen = sub + 1 },
			wantErr: boot.ErrPatchTooLarge,
		},
		{
			desc:    "target smaller than a code signature",
			mutate:  func(h *api.PatchHeader) { h.TargetLen = api.SigLen - 1 },
			wantErr: boot.ErrBadPatch,
		},
		{
			desc:    "target larger than its subsection",
			mutate:  func(h *api.PatchHeader) { h.TargetLen = sub + 1 },
			wantErr: boot.ErrPatchTooLarge,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			ram := dummy.NewRAM(l)
			h := header(32, 256, 256)
			test.mutate(&h)
			writeRecord(t, ram, l, h, pattern(32, 0))

			s := boot.NewPatchStore(l, ram)
			if _, err := s.TakePatch(); !errors.Is(err, test.wantErr) {
				t.Fatalf("TakePatch() = %v, want %v", err, test.wantErr)
			}
			// Even a rejected record is consumed.
			if s.HasPendingPatch() {
				t.Error("HasPendingPatch() = true after rejection")
			}
		})
	}
}
