package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/flowos/flowos/pkg/config"
)

type validateConfigCmd struct {
	path string
}

func (*validateConfigCmd) Name() string     { return "validate-config" }
func (*validateConfigCmd) Synopsis() string { return "parse and validate a CONFIG_PATH file" }
func (*validateConfigCmd) Usage() string {
	return "validate-config -path <file>\n  Exit non-zero if the file fails to parse or its version is unsupported.\n"
}

func (c *validateConfigCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.path, "path", "", "path to the YAML config file (required)")
}

func (c *validateConfigCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	path := c.path
	if path == "" {
		fatalf("validate-config: -path is required")
		return subcommands.ExitFailure
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatalf("validate-config: %v", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("ok: version=%s catnip.interface=%q catpowder.interface=%q catmem.directory=%q\n",
		cfg.Version, cfg.Catnip.Interface, cfg.Catpowder.Interface, cfg.Catmem.Directory)
	return subcommands.ExitSuccess
}
