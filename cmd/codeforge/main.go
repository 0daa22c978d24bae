// Command codeforge runs the generated-code execution pipeline: submit
// requests, review and resume suspended executions, and maintain the
// suspension store.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
