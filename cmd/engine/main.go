// Package main is the entry point for the vortex capacity engine.
// The engine plans and executes spot capacity optimization across tenants.
package main

import (
	"os"

	"github.com/softcane/vortex-core/cmd/engine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
