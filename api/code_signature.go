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

// Package api contains the binding wire contracts between user programs,
// the host firmware, and the upload tooling. Changing any layout in this
// package breaks compatibility with devices in the field.
package api

import (
	"encoding/binary"
	"fmt"
)

// SigMagic is the magic value identifying a memory image as a loadable
// user program to the host firmware ("XVX5" in little-endian byte order).
const SigMagic uint32 = 0x35585658

// SigLen is the size of the code signature header in bytes. The signature
// must occupy the first SigLen bytes of a program image or the host
// firmware will refuse to run it.
const SigLen = 32

// ProgramType identifies the kind of binary to the host firmware.
type ProgramType uint32

// ProgramTypeUser is the only publicly documented program type.
const ProgramTypeUser ProgramType = 0

// ProgramOwner identifies the originator of a user program.
type ProgramOwner uint32

// Known program owners.
const (
	// OwnerSystem marks a system binary.
	OwnerSystem ProgramOwner = 0
	// OwnerVex marks a binary originating from the platform vendor.
	OwnerVex ProgramOwner = 1
	// OwnerPartner marks a binary originating from a partner developer.
	OwnerPartner ProgramOwner = 2
)

// ProgramFlags is a bitfield of options that change small aspects of
// program behavior under the host firmware.
type ProgramFlags uint32

// Publicly documented program flags.
const (
	// FlagInvertDefaultGraphics inverts the default background color to
	// pure white.
	FlagInvertDefaultGraphics ProgramFlags = 1 << 0
	// FlagKillTasksOnExit tells the firmware scheduler to kill simple
	// tasks when the program requests exit.
	FlagKillTasksOnExit ProgramFlags = 1 << 1
	// FlagThemedDefaultGraphics inverts the default background color only
	// when the firmware is using its light theme.
	FlagThemedDefaultGraphics ProgramFlags = 1 << 2
)

// CodeSignature is the fixed 32-byte header at the start of every program
// image. The four little-endian u32 fields are followed by 16 reserved
// bytes which must be zero.
type CodeSignature struct {
	Magic uint32
	Type  ProgramType
	Owner ProgramOwner
	Flags ProgramFlags
}

// NewCodeSignature returns a signature with the standard magic and the
// given classification.
func NewCodeSignature(t ProgramType, o ProgramOwner, f ProgramFlags) CodeSignature {
	return CodeSignature{
		Magic: SigMagic,
		Type:  t,
		Owner: o,
		Flags: f,
	}
}

// Marshal serialises the signature into its on-device form.
func (s CodeSignature) Marshal() [SigLen]byte {
	var b [SigLen]byte
	binary.LittleEndian.PutUint32(b[0:], s.Magic)
	binary.LittleEndian.PutUint32(b[4:], uint32(s.Type))
	binary.LittleEndian.PutUint32(b[8:], uint32(s.Owner))
	binary.LittleEndian.PutUint32(b[12:], uint32(s.Flags))
	return b
}

// ParseCodeSignature reads a signature from the first SigLen bytes of b.
func ParseCodeSignature(b []byte) (CodeSignature, error) {
	if len(b) < SigLen {
		return CodeSignature{}, fmt.Errorf("code signature needs %d bytes, got %d", SigLen, len(b))
	}
	return CodeSignature{
		Magic: binary.LittleEndian.Uint32(b[0:]),
		Type:  ProgramType(binary.LittleEndian.Uint32(b[4:])),
		Owner: ProgramOwner(binary.LittleEndian.Uint32(b[8:])),
		Flags: ProgramFlags(binary.LittleEndian.Uint32(b[12:])),
	}, nil
}

// Validate checks that the signature would be accepted by the host firmware.
func (s CodeSignature) Validate() error {
	if s.Magic != SigMagic {
		return fmt.Errorf("bad signature magic 0x%08x, want 0x%08x", s.Magic, SigMagic)
	}
	if s.Type != ProgramTypeUser {
		return fmt.Errorf("unknown program type %d", s.Type)
	}
	if s.Owner > OwnerPartner {
		return fmt.Errorf("unknown program owner %d", s.Owner)
	}
	return nil
}

// String returns a human-readable representation of the signature.
func (s CodeSignature) String() string {
	return fmt.Sprintf("sig{magic: 0x%08x, type: %d, owner: %d, flags: 0x%x}", s.Magic, s.Type, s.Owner, s.Flags)
}
