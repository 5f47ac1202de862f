// Package main provides the arena CLI for playing a language-model agent
// against a local UCI engine without running the API server.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
