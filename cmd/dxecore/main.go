// Command dxecore hosts a simulated UEFI DXE core session: it loads a
// declarative firmware-volume manifest, boots the core's C1-C13
// components against it, dispatches and connects every driver the
// manifest describes, and (optionally) exposes the running session over
// a loopback HTTP introspection server.
package main

import (
	"fmt"
	"os"

	"github.com/patina-fw/dxecore/cmd/dxecore/commands"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
