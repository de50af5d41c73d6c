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

// Package impl is the implementation of the emulator for the dummy device.
package impl

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/golang/glog"

	"github.com/vexide/vexide/api"
	"github.com/vexide/vexide/boot"
	"github.com/vexide/vexide/boot/banner"
	"github.com/vexide/vexide/devices/dummy"
	"github.com/vexide/vexide/layout"
)

// EmulatorOpts encapsulates the parameters for running the emulator.
type EmulatorOpts struct {
	// DeviceState is the path of the device's persisted state file.
	DeviceState string
	// Image, if set, is a flat program image to force-flash first.
	Image string
	// BSSLen is the uninitialized-data length of the flashed image.
	BSSLen uint
	// Update, if set, is a JSON update bundle to stage before booting.
	Update string
	// Cycles is how many times to power-cycle the device.
	Cycles int
	// Banner enables the startup banner on clean boots.
	Banner bool
}

// Main is the entry point for the dummy device emulator.
func Main(opts EmulatorOpts) error {
	dev, err := dummy.New(layout.V5(), opts.DeviceState)
	if err != nil {
		return fmt.Errorf("device: %w", err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			glog.Errorf("Failed to persist device state: %v", err)
		}
	}()

	if opts.Banner {
		dev.Banner = &boot.BannerConfig{
			Theme: banner.Default(),
			Info:  banner.Info{OSVersion: "1.1.4", Mode: "Driver", Battery: 100},
			Out:   os.Stdout,
		}
	}

	if opts.Image != "" {
		image, err := os.ReadFile(opts.Image)
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}
		if err := dev.Flash(image, uint32(opts.BSSLen)); err != nil {
			return fmt.Errorf("flashing image: %w", err)
		}
	}

	if opts.Update != "" {
		raw, err := os.ReadFile(opts.Update)
		if err != nil {
			return fmt.Errorf("reading update bundle: %w", err)
		}
		var bundle api.UpdateBundle
		if err := json.Unmarshal(raw, &bundle); err != nil {
			return fmt.Errorf("parsing update bundle: %w", err)
		}
		glog.Infof("Staging %v", bundle)
		if err := dev.ApplyUpdate(bundle); err != nil {
			return fmt.Errorf("staging update: %w", err)
		}
	}

	for i := 0; i < opts.Cycles; i++ {
		applied, err := dev.PowerCycle()
		if err != nil {
			return fmt.Errorf("power cycle %d: %w", i+1, err)
		}
		digest, err := dev.ProgramDigest()
		if err != nil {
			return fmt.Errorf("power cycle %d: %w", i+1, err)
		}
		glog.Infof("Power cycle %d: patch applied=%t, running image 0x%x", i+1, applied, digest)
	}
	return nil
}
