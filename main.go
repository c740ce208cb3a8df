// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// cmristat - C/MRI Protocol Analyzer
//
// A CLI tool for monitoring, emulating and bridging C/MRI railroad I/O nodes
// over serial, TCP and WebSocket connections.

package main

import (
	"os"

	"github.com/Thermoquad/cmristat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
