// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// espsync - ESPSync file synchronisation protocol tool
//
// Runs the device side of the protocol against a local directory, drives a
// device from the host side, and monitors protocol traffic.

package main

import (
	"os"

	"github.com/Thermoquad/espsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
