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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// chunkLen bounds how much of an add run is processed at once.
const chunkLen = 4096

// Reconstruct builds the target image in dst by applying a differential
// patch payload against the base snapshot. dst must already be sized to the
// record's declared target length.
//
// The payload is a sequence of instruction triples, each encoded with
// protobuf-style varints:
//
//	add <n>:  n bytes follow; dst gets base byte plus payload byte,
//	          with wrapping addition.
//	copy <n>: n literal bytes follow, written to dst as-is.
//	seek <o>: zigzag-signed offset applied to the base read position.
//
// Triples repeat until dst is full. Reconstruction is deterministic: the
// same payload applied to the same snapshot yields byte-identical output.
func Reconstruct(base, patch, dst []byte) error {
	br := bytes.NewReader(base)
	pr := bytes.NewReader(patch)
	var buf [chunkLen]byte

	out := dst
	for len(out) > 0 {
		addLen, err := readLen(pr)
		if err != nil {
			return fmt.Errorf("reading add length: %w", err)
		}
		progressed := addLen > 0

		for addLen > 0 && len(out) > 0 {
			n := min(addLen, len(out), chunkLen)
			if _, err := io.ReadFull(br, out[:n]); err != nil {
				return fmt.Errorf("base snapshot underrun: %w", err)
			}
			if _, err := io.ReadFull(pr, buf[:n]); err != nil {
				return fmt.Errorf("patch payload truncated in add run: %w", err)
			}
			for i := 0; i < n; i++ {
				out[i] += buf[i]
			}
			out = out[n:]
			addLen -= n
		}
		if addLen > 0 {
			// Target filled mid-run; the remainder is irrelevant.
			break
		}

		copyLen, err := readLen(pr)
		if err != nil {
			return fmt.Errorf("reading copy length: %w", err)
		}
		progressed = progressed || copyLen > 0
		if copyLen > len(out) {
			// Target fills mid-run; consume what fits and stop.
			if _, err := io.ReadFull(pr, out); err != nil {
				return fmt.Errorf("patch payload truncated in copy run: %w", err)
			}
			break
		}
		if copyLen > 0 {
			if _, err := io.ReadFull(pr, out[:copyLen]); err != nil {
				return fmt.Errorf("patch payload truncated in copy run: %w", err)
			}
			out = out[copyLen:]
		} else if len(out) == 0 {
			// Trailing empty run after the target is already full; its
			// seek is never encoded.
			break
		}

		// The seek belongs to the run just completed, so it is present
		// even when the copy exactly filled the target.
		seek, err := readSeek(pr)
		if err != nil {
			return fmt.Errorf("reading base seek: %w", err)
		}
		pos, err := br.Seek(seek, io.SeekCurrent)
		if err != nil || pos > int64(len(base)) {
			return fmt.Errorf("%w: base seek %+d out of range", ErrBadPatch, seek)
		}

		if !progressed && seek == 0 {
			return fmt.Errorf("%w: instruction makes no progress", ErrBadPatch)
		}
	}
	return nil
}

// readLen decodes an unsigned varint run length.
func readLen(r io.ByteReader) (int, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	if v > uint64(int(^uint(0)>>1)) {
		return 0, fmt.Errorf("%w: run length %d overflows", ErrBadPatch, v)
	}
	return int(v), nil
}

// readSeek decodes a zigzag-signed varint seek offset.
func readSeek(r io.ByteReader) (int64, error) {
	return binary.ReadVarint(r)
}
