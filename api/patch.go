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

package api

import (
	"encoding/binary"
	"fmt"
)

// Patch record constants. The upload tool writes a patch record at the base
// of the Patch subsection of Patcher RAM; the boot path consumes it.
const (
	// PatchMagic marks a pending, unconsumed patch record.
	PatchMagic uint32 = 0xB1DF
	// PatchMagicConsumed replaces PatchMagic once the record has been
	// taken, so a post-overwrite boot will not re-apply the same patch.
	PatchMagicConsumed uint32 = 0xB2DF
	// PatchVersion is the only patch payload format this firmware
	// understands. Records carrying any other version are rejected.
	PatchVersion uint32 = 0x1000
	// PatchHeaderLen is the size of the patch record metadata in bytes.
	// The opaque payload starts immediately after.
	PatchHeaderLen = 20
)

// PatchHeader is the metadata at the start of a patch record: five
// little-endian u32 fields.
type PatchHeader struct {
	// Magic is PatchMagic while the record is pending.
	Magic uint32
	// Version is the payload format version, PatchVersion.
	Version uint32
	// PatchLen is the total length of the record in bytes, header included.
	PatchLen uint32
	// BaseLen is the length of the image the patch was computed against.
	BaseLen uint32
	// TargetLen is the length of the reconstructed image.
	TargetLen uint32
}

// ParsePatchHeader reads a patch header from the first PatchHeaderLen
// bytes of b.
func ParsePatchHeader(b []byte) (PatchHeader, error) {
	if len(b) < PatchHeaderLen {
		return PatchHeader{}, fmt.Errorf("patch header needs %d bytes, got %d", PatchHeaderLen, len(b))
	}
	return PatchHeader{
		Magic:     binary.LittleEndian.Uint32(b[0:]),
		Version:   binary.LittleEndian.Uint32(b[4:]),
		PatchLen:  binary.LittleEndian.Uint32(b[8:]),
		BaseLen:   binary.LittleEndian.Uint32(b[12:]),
		TargetLen: binary.LittleEndian.Uint32(b[16:]),
	}, nil
}

// Marshal serialises the header into its on-device form.
func (h PatchHeader) Marshal() [PatchHeaderLen]byte {
	var b [PatchHeaderLen]byte
	binary.LittleEndian.PutUint32(b[0:], h.Magic)
	binary.LittleEndian.PutUint32(b[4:], h.Version)
	binary.LittleEndian.PutUint32(b[8:], h.PatchLen)
	binary.LittleEndian.PutUint32(b[12:], h.BaseLen)
	binary.LittleEndian.PutUint32(b[16:], h.TargetLen)
	return b
}

// Pending reports whether the header marks an unconsumed patch record.
// It says nothing about whether the record is otherwise well formed.
func (h PatchHeader) Pending() bool {
	return h.Magic == PatchMagic
}

// String returns a human-readable representation of the header.
func (h PatchHeader) String() string {
	return fmt.Sprintf("patch{magic: 0x%04x, version: 0x%04x, len: %d, base: %d, target: %d}",
		h.Magic, h.Version, h.PatchLen, h.BaseLen, h.TargetLen)
}
