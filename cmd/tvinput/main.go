// Package main is the entry point for the tvinput application.
package main

import (
	"os"

	"github.com/jmylchreest/tvinput/cmd/tvinput/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
