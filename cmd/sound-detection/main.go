package main

import "os"

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
