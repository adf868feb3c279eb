package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/flowos/flowos/pkg/backend"
)

type backendsCmd struct{}

func (*backendsCmd) Name() string     { return "backends" }
func (*backendsCmd) Synopsis() string { return "list the backends compiled into this binary" }
func (*backendsCmd) Usage() string {
	return "backends\n  Print every LIBOS name this build accepts, one per line.\n"
}
func (*backendsCmd) SetFlags(*flag.FlagSet) {}

func (*backendsCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	for _, name := range []backend.Name{
		backend.Catnap, backend.Catnip, backend.Catpowder, backend.Catcollar, backend.Catmem,
	} {
		network, memory := name.Family()
		arm := "network"
		if memory {
			arm = "memory"
		}
		fmt.Printf("%-10s %s\n", name, arm)
		_ = network
	}
	return subcommands.ExitSuccess
}
