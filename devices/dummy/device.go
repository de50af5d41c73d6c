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

package dummy

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/golang/glog"
	"github.com/klauspost/compress/zstd"
	"github.com/vexide/vexide/api"
	"github.com/vexide/vexide/boot"
	"github.com/vexide/vexide/heap"
	"github.com/vexide/vexide/layout"
	"github.com/zeebo/blake3"
	bolt "go.etcd.io/bbolt"
)

// bbolt bucket and key names for the persisted device state.
var (
	bucketRAM  = []byte("ram")
	bucketMeta = []byte("meta")

	keyArena = []byte("arena")

	keyImageLen   = []byte("image_len")
	keyBSSLen     = []byte("bss_len")
	keyPendTarget = []byte("pending_target_len")
	keyPendBSS    = []byte("pending_bss_len")
	keyPendDigest = []byte("pending_target_digest")
)

// Device is an emulated device. Its RAM survives power cycles the way the
// real device's battery-backed RAM does, persisted in a bbolt file.
type Device struct {
	layout layout.Layout
	ram    *RAM
	db     *bolt.DB

	// image bookkeeping the real device keeps in firmware-owned state
	imageLen uint32
	bssLen   uint32

	// Banner, if set, is printed on clean boots.
	Banner *boot.BannerConfig

	handoffs int
}

// New opens (or creates) the device state at path for the given memory
// layout, restoring persisted RAM if any.
func New(l layout.Layout, path string) (*Device, error) {
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("device layout: %w", err)
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening device state %q: %w", path, err)
	}
	d := &Device{layout: l, ram: NewRAM(l), db: db}
	if err := d.restore(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close persists and releases the device state.
func (d *Device) Close() error {
	if err := d.persist(); err != nil {
		d.db.Close()
		return err
	}
	return d.db.Close()
}

// Flash force-loads a complete image onto the device, as the host
// firmware's full (non-differential) upload would: the image lands at the
// program base and Patcher RAM is wiped.
func (d *Device) Flash(image []byte, bssLen uint32) error {
	sig, err := api.ParseCodeSignature(image)
	if err != nil {
		return fmt.Errorf("image: %w", err)
	}
	if err := sig.Validate(); err != nil {
		return fmt.Errorf("image: %w", err)
	}
	prog := d.layout.Program()
	if uint32(len(image)) > prog.Len {
		return fmt.Errorf("image length %d exceeds program region %v", len(image), prog)
	}
	mem, err := d.ram.Slice(prog)
	if err != nil {
		return err
	}
	clear(mem)
	copy(mem, image)

	patcher, err := d.ram.Slice(d.layout.Patcher())
	if err != nil {
		return err
	}
	clear(patcher)

	d.imageLen = uint32(len(image))
	d.bssLen = bssLen
	glog.Infof("flashed %d byte image (%v), bss %d", len(image), sig, bssLen)
	return d.persist()
}

// ApplyUpdate ingests a differential update bundle: the device-side half of
// the upload protocol. It refuses a patch computed against an image the
// device is not running, snapshots the live program into the Base
// subsection before anything can mutate it further, and lays the patch
// record down in the Patch subsection for the next boot to find.
func (d *Device) ApplyUpdate(u api.UpdateBundle) error {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return err
	}
	defer dec.Close()
	record, err := dec.DecodeAll(u.PatchZstd, nil)
	if err != nil {
		return fmt.Errorf("decompressing patch record: %w", err)
	}

	h, err := api.ParsePatchHeader(record)
	if err != nil {
		return fmt.Errorf("patch record: %w", err)
	}
	if !h.Pending() || h.Version != api.PatchVersion {
		return fmt.Errorf("patch record not applicable: %v", h)
	}
	if got, want := uint32(len(record)), h.PatchLen; got != want {
		return fmt.Errorf("patch record is %d bytes but declares %d", got, want)
	}
	if sub := d.layout.SubsectionLen(); h.PatchLen > sub || h.BaseLen > sub {
		return fmt.Errorf("patch record %v exceeds subsection capacity %d", h, d.layout.SubsectionLen())
	}

	prog, err := d.ram.Slice(d.layout.Program())
	if err != nil {
		return err
	}
	if h.BaseLen > uint32(len(prog)) {
		return fmt.Errorf("declared base length %d exceeds program region", h.BaseLen)
	}
	live := blake3.Sum256(prog[:h.BaseLen])
	if !bytes.Equal(live[:], u.BaseDigest) {
		return fmt.Errorf("patch was computed against image 0x%x, device is running 0x%x", u.BaseDigest, live)
	}

	// Point-in-time snapshot of the running image. The live copy keeps
	// mutating under the running program, so the reconstructor diffs
	// against this one.
	base, err := d.ram.Slice(d.layout.BaseRegion())
	if err != nil {
		return err
	}
	clear(base)
	copy(base, prog[:h.BaseLen])

	patch, err := d.ram.Slice(d.layout.PatchRegion())
	if err != nil {
		return err
	}
	clear(patch)
	copy(patch, record)

	if err := d.setPending(h.TargetLen, u.TargetBSSLen, u.TargetDigest); err != nil {
		return err
	}
	glog.Infof("staged update: %v", h)
	return d.persist()
}

// PowerCycle cold-boots the device once. When a pending patch is applied,
// the overwriter's jump is emulated by re-entering boot over the new image,
// so one call covers the whole patch-then-reboot story the way the hardware
// experiences it. It reports whether a patch was applied.
func (d *Device) PowerCycle() (bool, error) {
	port := &Port{}
	applied, err := d.bootOnce(port)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, d.persist()
	}

	// The jump landed in the new image. Adopt its geometry, verify it is
	// the image the bundle promised, and run its boot from the top; it
	// finds the patch consumed and comes up clean.
	targetLen, targetBSS, wantDigest, err := d.pending()
	if err != nil {
		return false, err
	}
	d.imageLen = targetLen
	d.bssLen = targetBSS
	if len(wantDigest) > 0 {
		prog, err := d.ram.Slice(d.layout.Program())
		if err != nil {
			return false, err
		}
		got := blake3.Sum256(prog[:targetLen])
		if !bytes.Equal(got[:], wantDigest) {
			return false, fmt.Errorf("patched image digest 0x%x, bundle promised 0x%x", got, wantDigest)
		}
	}
	if err := d.clearPending(); err != nil {
		return false, err
	}

	if again, err := d.bootOnce(&Port{}); err != nil {
		return false, err
	} else if again {
		return false, fmt.Errorf("patch applied twice in one power cycle")
	}
	glog.Infof("patch applied, now running %d byte image", d.imageLen)
	return true, d.persist()
}

// bootOnce runs one boot sequence, translating the dummy port's exec
// unwind into a normal return. Reports whether the overwriter jumped.
func (d *Device) bootOnce(port *Port) (applied bool, err error) {
	seq, err := boot.NewSequencer(boot.Config{
		Layout:      d.layout,
		RAM:         d.ram,
		Port:        port,
		Arena:       heap.New(),
		Symbols:     d.symbols(),
		LinkAddr:    d.layout.Program().Base,
		RuntimeInit: func() { d.handoffs++ },
		Banner:      d.Banner,
	})
	if err != nil {
		return false, fmt.Errorf("boot config: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			jump, ok := r.(ExecJump)
			if !ok {
				panic(r)
			}
			if jump.Entry != d.layout.Entry() {
				err = fmt.Errorf("jump to 0x%08x, want entry 0x%08x", jump.Entry, d.layout.Entry())
				return
			}
			applied = true
			err = nil
		}
	}()

	if err := seq.Boot(); err != nil {
		return false, fmt.Errorf("boot: %w", err)
	}
	if perr := seq.PatchErr(); perr != nil {
		glog.Warningf("pending patch rejected, booted previous image: %v", perr)
	}
	return false, nil
}

// symbols derives the linker-symbol equivalents for the flashed image: the
// flat image file carries no bss, so it starts where the file ends.
func (d *Device) symbols() boot.Symbols {
	base := d.layout.Program().Base
	return boot.Symbols{
		BSSStart:  base + d.imageLen,
		BSSEnd:    base + d.imageLen + d.bssLen,
		HeapStart: base + d.imageLen + d.bssLen,
	}
}

// ProgramBytes returns a copy of the live image.
func (d *Device) ProgramBytes() ([]byte, error) {
	prog, err := d.ram.Slice(d.layout.Program())
	if err != nil {
		return nil, err
	}
	return bytes.Clone(prog[:d.imageLen]), nil
}

// ProgramDigest returns the BLAKE3-256 digest of the live image.
func (d *Device) ProgramDigest() ([]byte, error) {
	b, err := d.ProgramBytes()
	if err != nil {
		return nil, err
	}
	sum := blake3.Sum256(b)
	return sum[:], nil
}

// Handoffs returns how many clean boots have reached runtime init.
func (d *Device) Handoffs() int {
	return d.handoffs
}

// persist writes RAM (zstd-compressed; it is almost entirely zeros) and
// image bookkeeping to the state file.
func (d *Device) persist() error {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	packed := enc.EncodeAll(d.ram.Bytes(), nil)
	enc.Close()

	return d.db.Update(func(tx *bolt.Tx) error {
		ram, err := tx.CreateBucketIfNotExists(bucketRAM)
		if err != nil {
			return err
		}
		if err := ram.Put(keyArena, packed); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if err := putU32(meta, keyImageLen, d.imageLen); err != nil {
			return err
		}
		return putU32(meta, keyBSSLen, d.bssLen)
	})
}

func (d *Device) restore() error {
	return d.db.View(func(tx *bolt.Tx) error {
		ram := tx.Bucket(bucketRAM)
		if ram == nil {
			return nil // fresh device
		}
		packed := ram.Get(keyArena)
		if packed == nil {
			return nil
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return err
		}
		defer dec.Close()
		mem, err := dec.DecodeAll(packed, nil)
		if err != nil {
			return fmt.Errorf("restoring RAM: %w", err)
		}
		if len(mem) != len(d.ram.Bytes()) {
			return fmt.Errorf("persisted RAM is %d bytes, layout wants %d", len(mem), len(d.ram.Bytes()))
		}
		copy(d.ram.Bytes(), mem)

		if meta := tx.Bucket(bucketMeta); meta != nil {
			d.imageLen = getU32(meta, keyImageLen)
			d.bssLen = getU32(meta, keyBSSLen)
		}
		return nil
	})
}

func (d *Device) setPending(targetLen, targetBSS uint32, digest []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if err := putU32(meta, keyPendTarget, targetLen); err != nil {
			return err
		}
		if err := putU32(meta, keyPendBSS, targetBSS); err != nil {
			return err
		}
		return meta.Put(keyPendDigest, digest)
	})
}

func (d *Device) pending() (targetLen, targetBSS uint32, digest []byte, err error) {
	err = d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return fmt.Errorf("no staged update on device")
		}
		targetLen = getU32(meta, keyPendTarget)
		targetBSS = getU32(meta, keyPendBSS)
		digest = bytes.Clone(meta.Get(keyPendDigest))
		if targetLen == 0 {
			return fmt.Errorf("no staged update on device")
		}
		return nil
	})
	return
}

func (d *Device) clearPending() error {
	return d.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return nil
		}
		for _, k := range [][]byte{keyPendTarget, keyPendBSS, keyPendDigest} {
			if err := meta.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func putU32(b *bolt.Bucket, key []byte, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return b.Put(key, buf[:])
}

func getU32(b *bolt.Bucket, key []byte) uint32 {
	v := b.Get(key)
	if len(v) != 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(v)
}
