// FILE: src/cmd/towl/commands/version.go
package commands

import (
	"fmt"
	"io"
	"os"

	"towl/src/internal/version"
)

// VersionCommand handles version display
type VersionCommand struct {
	output io.Writer
}

func NewVersionCommand() *VersionCommand {
	return &VersionCommand{output: os.Stdout}
}

func (c *VersionCommand) Execute(args []string) error {
	fmt.Fprintln(c.output, version.String())
	return nil
}

func (c *VersionCommand) Description() string {
	return "Show version information"
}

func (c *VersionCommand) Help() string {
	return `Version Command - Show towl version information

Usage:
  towl version
  towl --version

Output includes the version tag, git commit, build time and Go version.
`
}
