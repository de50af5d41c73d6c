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

package impl_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vexide/vexide/api"
	"github.com/vexide/vexide/cmd/v5emu/impl"
)

func TestMainFlashAndCycle(t *testing.T) {
	dir := t.TempDir()

	img := make([]byte, 256)
	sig := api.NewCodeSignature(api.ProgramTypeUser, api.OwnerPartner, 0).Marshal()
	copy(img, sig[:])
	imgPath := filepath.Join(dir, "program.bin")
	if err := os.WriteFile(imgPath, img, 0644); err != nil {
		t.Fatalf("WriteFile(): %v", err)
	}

	err := impl.Main(impl.EmulatorOpts{
		DeviceState: filepath.Join(dir, "device.db"),
		Image:       imgPath,
		BSSLen:      32,
		Cycles:      2,
	})
	if err != nil {
		t.Fatalf("Main(): %v", err)
	}
}

func TestMainErrors(t *testing.T) {
	dir := t.TempDir()
	for _, test := range []struct {
		desc string
		opts impl.EmulatorOpts
	}{
		{
			desc: "missing image file",
			opts: impl.EmulatorOpts{
				DeviceState: filepath.Join(dir, "a.db"),
				Image:       filepath.Join(dir, "no-such-image.bin"),
			},
		},
		{
			desc: "malformed update bundle",
			opts: impl.EmulatorOpts{
				DeviceState: filepath.Join(dir, "b.db"),
				Update:      filepath.Join(dir, "no-such-update.json"),
			},
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			if err := impl.Main(test.opts); err == nil {
				t.Fatal("Main() succeeded, want error")
			}
		})
	}
}
