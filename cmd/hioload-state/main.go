// File: cmd/hioload-state/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"os"

	"github.com/momentics/hioload-state/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
