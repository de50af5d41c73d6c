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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vexide/vexide/api"
	"github.com/vexide/vexide/layout"
)

// Patch rejection errors. All of them are recovered locally by booting the
// unpatched live image; nothing above this layer exists yet to report into.
var (
	// ErrNoPatch means the Patch subsection holds no pending record.
	ErrNoPatch = errors.New("no pending patch")
	// ErrPatchTooLarge means a declared length exceeds its subsection's
	// fixed capacity.
	ErrPatchTooLarge = errors.New("patch exceeds subsection capacity")
	// ErrBadPatch means the record is structurally invalid.
	ErrBadPatch = errors.New("malformed patch record")
)

// PatchRecord is a validated, consumed patch: its metadata and a view of
// the opaque payload still sitting in the Patch subsection. The view stays
// valid until the Heap Reclaimer takes the reservation.
type PatchRecord struct {
	Header  api.PatchHeader
	Payload []byte
}

// PatchStore owns the three fixed subsections of Patcher RAM and hands
// them out as non-overlapping byte spans.
type PatchStore struct {
	layout layout.Layout
	ram    RAM
}

// NewPatchStore returns a store over the patcher reservation of l.
func NewPatchStore(l layout.Layout, ram RAM) *PatchStore {
	return &PatchStore{layout: l, ram: ram}
}

// HasPendingPatch reports whether the Patch subsection holds a record worth
// taking. It never mutates state: a freshly flashed device has a zeroed
// subsection and reports false here forever.
func (s *PatchStore) HasPendingPatch() bool {
	h, err := s.header()
	if err != nil {
		return false
	}
	return h.Pending() && h.Version == api.PatchVersion && h.PatchLen >= api.PatchHeaderLen
}

// TakePatch validates the pending record, marks it consumed, and returns
// it. Consumption happens before any validation verdict is acted on: even a
// rejected record must not be seen again by the next boot, and the
// overwriter's jump re-runs boot from the top.
func (s *PatchStore) TakePatch() (PatchRecord, error) {
	h, err := s.header()
	if err != nil {
		return PatchRecord{}, fmt.Errorf("%w: %v", ErrBadPatch, err)
	}
	if !h.Pending() {
		return PatchRecord{}, ErrNoPatch
	}
	if err := s.consume(); err != nil {
		return PatchRecord{}, fmt.Errorf("marking patch consumed: %w", err)
	}

	sub := s.layout.SubsectionLen()
	switch {
	case h.Version != api.PatchVersion:
		return PatchRecord{}, fmt.Errorf("%w: version 0x%x, want 0x%x", ErrBadPatch, h.Version, api.PatchVersion)
	case h.PatchLen < api.PatchHeaderLen:
		return PatchRecord{}, fmt.Errorf("%w: declared length %d below header size", ErrBadPatch, h.PatchLen)
	case h.PatchLen > sub:
		return PatchRecord{}, fmt.Errorf("%w: patch length %d > %d", ErrPatchTooLarge, h.PatchLen, sub)
	case h.BaseLen == 0 || h.BaseLen > sub:
		return PatchRecord{}, fmt.Errorf("%w: base length %d (capacity %d)", ErrPatchTooLarge, h.BaseLen, sub)
	case h.TargetLen < s.layout.SigLen:
		return PatchRecord{}, fmt.Errorf("%w: target length %d below signature size", ErrBadPatch, h.TargetLen)
	case h.TargetLen > sub:
		return PatchRecord{}, fmt.Errorf("%w: target length %d > %d", ErrPatchTooLarge, h.TargetLen, sub)
	}

	patch, err := s.ram.Slice(s.layout.PatchRegion())
	if err != nil {
		return PatchRecord{}, err
	}
	return PatchRecord{
		Header:  h,
		Payload: patch[api.PatchHeaderLen:h.PatchLen],
	}, nil
}

func (s *PatchStore) header() (api.PatchHeader, error) {
	patch, err := s.ram.Slice(s.layout.PatchRegion())
	if err != nil {
		return api.PatchHeader{}, err
	}
	return api.ParsePatchHeader(patch)
}

// consume rewrites the magic so the record is logically gone. The bytes
// persist physically until the Heap Reclaimer overwrites them.
func (s *PatchStore) consume() error {
	patch, err := s.ram.Slice(s.layout.PatchRegion())
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(patch, api.PatchMagicConsumed)
	return nil
}
