// The main package for the gestionale executable.
package main

import (
	"fmt"
	"os"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gestionale: %v\n", err)
		os.Exit(1)
	}
}
