// Command nanosync reads, writes and watches documents in a nanosync JSON
// store through the coherent cache.
//
// Build with: go build -o bin/nanosync ./cmd/nanosync
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
