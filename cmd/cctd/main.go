// Command cctd is the SAXS beamline device-coordination daemon entrypoint.
package main

import (
	"github.com/awacha/cctd/internal/cli"
	"github.com/awacha/cctd/internal/config"
)

func main() {
	cli.Execute(config.Version)
}
