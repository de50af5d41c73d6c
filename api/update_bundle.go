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

import "fmt"

// UpdateBundle is the differential update artifact produced by the upload
// tool and consumed by a device. The patch record inside is opaque to
// everything except the boot-time reconstructor; the digests let the device
// refuse a patch computed against an image it is not running.
//
// Bundles are serialised as JSON when stored or transferred.
type UpdateBundle struct {
	// DeviceID names the device class the bundle targets.
	DeviceID string

	// PatchZstd is the zstd-compressed patch record (header and payload).
	// Decompressed, it is laid down verbatim at the base of the Patch
	// subsection.
	PatchZstd []byte

	// BaseDigest is the BLAKE3-256 digest of the image the patch was
	// computed against, over its full BaseLen bytes.
	BaseDigest []byte

	// TargetDigest is the BLAKE3-256 digest of the reconstructed image.
	TargetDigest []byte

	// TargetBSSLen is the length of the uninitialized-data region of the
	// reconstructed image, needed to derive its heap start after the
	// overwrite.
	TargetBSSLen uint32
}

// String returns a human-readable representation of the bundle.
func (b UpdateBundle) String() string {
	return fmt.Sprintf("update for %s: %d byte patch, base 0x%x, target 0x%x",
		b.DeviceID, len(b.PatchZstd), b.BaseDigest, b.TargetDigest)
}
