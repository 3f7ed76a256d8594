// FILE: src/cmd/towl/commands/config.go
package commands

import (
	"flag"
	"fmt"
	"io"
	"os"

	"towl/src/internal/config"
)

// ConfigCommand writes configuration files
type ConfigCommand struct {
	output io.Writer
	errOut io.Writer
}

func NewConfigCommand() *ConfigCommand {
	return &ConfigCommand{
		output: os.Stdout,
		errOut: os.Stderr,
	}
}

func (c *ConfigCommand) Execute(args []string) error {
	cmd := flag.NewFlagSet("config", flag.ContinueOnError)
	cmd.SetOutput(c.errOut)

	var (
		path      = cmd.String("o", "towl.toml", "Output file")
		effective = cmd.Bool("effective", false, "Write the loaded config (file, env) instead of defaults")
		force     = cmd.Bool("f", false, "Overwrite an existing file")
	)
	cmd.Usage = func() { fmt.Fprint(c.errOut, c.Help()) }

	if err := cmd.Parse(args); err != nil {
		return err
	}

	if !*force {
		if _, err := os.Stat(*path); err == nil {
			return fmt.Errorf("%s already exists (use -f to overwrite)", *path)
		}
	}

	cfg := config.Defaults()
	if *effective {
		loaded, err := config.Load(nil)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if err := cfg.SaveToFile(*path); err != nil {
		return err
	}
	fmt.Fprintf(c.output, "Configuration written to %s\n", *path)
	return nil
}

func (c *ConfigCommand) Description() string {
	return "Write a configuration file"
}

func (c *ConfigCommand) Help() string {
	return `Config Command - Write a configuration file

Usage:
  towl config [-o <path>] [-f] [--effective]

Options:
  -o <path>      Output file (default: towl.toml)
  -f             Overwrite an existing file
  --effective    Write the loaded configuration instead of the defaults
`
}
