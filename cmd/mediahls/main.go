// Package main is the entry point for the mediahls application.
package main

import (
	"os"

	"github.com/jmylchreest/mediahls/cmd/mediahls/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
