// Command flowosctl is the small operator-facing binary: it does not
// implement the ABI surface itself, but loads a config file, validates it,
// lists the compiled-in backends, and can report a diagnostics snapshot —
// useful in CI and local development.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/gvisor/pkg/log"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&backendsCmd{}, "")
	subcommands.Register(&validateConfigCmd{}, "")
	subcommands.Register(&serveCmd{}, "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

func fatalf(format string, args ...interface{}) {
	log.Warningf(format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
