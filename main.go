// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Stovelink - remote stove control over a LoRa modem link.

package main

import (
	"os"

	"github.com/Thermoquad/stovelink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
