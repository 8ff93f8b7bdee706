// Command cropsage is the entry point for the CropSage farming assistant.
// It provides a CLI interface (via Cobra) and an optional HTTP server for
// programmatic use.
package main

import (
	"fmt"
	"os"

	"github.com/cropsage/cropsage/cmd/cropsage/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
