// Command fhirsync is an offline-first FHIR resource sync tool.
package main

import (
	"os"

	"github.com/custodia-labs/fhirsync/internal/adapters/driving/cli"
)

func main() {
	cli.SetBootstrap(bootstrap)
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
