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

// v5emu is an emulator for the V5-class device's boot and patch subsystem.
//
// The emulated device keeps its battery-backed RAM in a local state file,
// so a staged differential update survives a "power cycle" and is applied
// by the next boot, exactly as on hardware.
//
// Usage:
//
//	go run ./cmd/v5emu --logtostderr --device_state=/tmp/v5emu.db \
//	    --image=program.bin --update=update.json --cycles=1
package main

import (
	"flag"

	"github.com/golang/glog"
	"github.com/vexide/vexide/cmd/v5emu/impl"
)

var (
	deviceState = flag.String("device_state", "/tmp/v5emu.db", "Path of the device's persisted state file")
	image       = flag.String("image", "", "Flat program image to force-flash before booting (optional)")
	bssLen      = flag.Uint("bss_len", 0, "Uninitialized-data length of the flashed image")
	update      = flag.String("update", "", "JSON update bundle to stage before booting (optional)")
	cycles      = flag.Int("cycles", 1, "Number of power cycles to run")
	showBanner  = flag.Bool("banner", true, "Print the startup banner on clean boots")
)

func main() {
	flag.Parse()

	if err := impl.Main(impl.EmulatorOpts{
		DeviceState: *deviceState,
		Image:       *image,
		BSSLen:      *bssLen,
		Update:      *update,
		Cycles:      *cycles,
		Banner:      *showBanner,
	}); err != nil {
		glog.Exitf("v5emu: %v", err)
	}
}
