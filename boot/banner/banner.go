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

// Package banner renders the startup banner printed after a clean boot.
package banner

import (
	"fmt"
	"io"
	"time"
)

// Version is the runtime version reported in the banner.
const Version = "0.3.0"

// Theme holds the ANSI escape sequences used to color the banner.
type Theme struct {
	// Emoji is displayed next to the version.
	Emoji string
	// LogoPrimary colors the seven rows of the large logo blob.
	LogoPrimary [7]string
	// LogoSecondary colors the small logo blob.
	LogoSecondary string
	// VersionStyle colors the version string.
	VersionStyle string
	// MetadataKey colors the metadata labels.
	MetadataKey string
}

// Default is the standard theme.
func Default() Theme {
	return Theme{
		Emoji: "🦾",
		LogoPrimary: [7]string{
			"\x1b[1;38;5;214m", "\x1b[1;38;5;214m", "\x1b[1;38;5;214m",
			"\x1b[1;38;5;208m", "\x1b[1;38;5;208m", "\x1b[1;38;5;202m",
			"\x1b[1;38;5;202m",
		},
		LogoSecondary: "\x1b[38;5;254m",
		VersionStyle:  "\x1b[1;33m",
		MetadataKey:   "\x1b[1m",
	}
}

// Info carries the device state shown in the banner metadata column.
type Info struct {
	// OSVersion is the host firmware version string.
	OSVersion string
	// Mode is the active competition mode.
	Mode string
	// Battery is the battery capacity in percent.
	Battery uint8
	// Uptime is the time since device power-up.
	Uptime time.Duration
}

const reset = "\x1b[0m"

// logo is the seven-row logo blob; rows are colored by Theme.LogoPrimary.
var logo = [7]string{
	`=%%%%%#-  `,
	`  -#%%%%#-  `,
	`    *%%%%#=   -#%%%%%+`,
	`      *%%%%%+#%%%%%%%#=`,
	`        *%%%%%%%*-+%%%%%+`,
	`          +%%%*:   .+###%#`,
	`           .%:`,
}

// Fprint writes the themed banner to w.
func Fprint(w io.Writer, t Theme, info Info) {
	row := func(i int, rest string) string {
		return t.LogoPrimary[i] + logo[i] + rest + reset
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s   %s %svexide %s%s\n",
		row(0, t.LogoSecondary+`-#%%%%-`), t.Emoji, t.VersionStyle, Version, reset)
	fmt.Fprintf(w, "%s       ---------------\n",
		row(1, t.LogoSecondary+`:%-  -*%%%%#`))
	fmt.Fprintf(w, "%s         ╭─%sOS:%s %s\n",
		row(2, ""), t.MetadataKey, reset, info.OSVersion)
	fmt.Fprintf(w, "%s        ├─%sMode:%s %s\n",
		row(3, ""), t.MetadataKey, reset, info.Mode)
	fmt.Fprintf(w, "%s      ├─%sBattery:%s %d%%\n",
		row(4, ""), t.MetadataKey, reset, info.Battery)
	fmt.Fprintf(w, "%s     ╰─%sUptime:%s %v\n",
		row(5, ""), t.MetadataKey, reset, info.Uptime.Round(10*time.Millisecond))
	fmt.Fprintf(w, "%s\n\n", row(6, ""))
}
