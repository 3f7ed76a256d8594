// FILE: src/cmd/towl/commands/help.go
package commands

import (
	"fmt"
	"sort"
	"strings"
)

const generalHelpTemplate = `towl: append-only log journal with daily or weekly archives.

Usage:
  towl [command] [options]
  towl [options] [--section.key=value ...]

Commands:
%s

Server Options:
  -c, --config <path>        Path to configuration file (default: towl.toml)
  -q, --quiet                Suppress all console output, including errors
  -v, --version              Display version information and exit
      --log-output <mode>    file, stdout, stderr, both, none
      --log-level <level>    debug, info, warn, error
      --log-dir <dir>        Log directory (when using file output)
      --log-console <target> stdout, stderr, split

Any config key can be set on the command line, e.g. --journal.org=acme

Configuration Sources (Precedence: CLI > Env > File > Defaults):
  - CLI arguments override all other settings
  - TOWL_ prefixed environment variables (TOWL_JOURNAL_ORG=acme)
  - TOML configuration file

Signals:
  SIGHUP, SIGUSR1            Archive the working file now
  SIGINT, SIGTERM            Graceful shutdown

Examples:
  # Start with a custom config
  towl -c /etc/towl/towl.toml

  # Rotate weekly on Mondays
  towl --journal.rotation=weekly --journal.weekly_anchor=monday

For command-specific help:
  towl help <command>
  towl <command> --help
`

// HelpCommand handles the display of general or command-specific help messages.
type HelpCommand struct {
	router *CommandRouter
}

func NewHelpCommand(router *CommandRouter) *HelpCommand {
	return &HelpCommand{router: router}
}

func (c *HelpCommand) Execute(args []string) error {
	if len(args) > 0 && args[0] != "" {
		cmdName := args[0]

		if handler, exists := c.router.GetCommand(cmdName); exists {
			fmt.Fprint(c.router.output, handler.Help())
			return nil
		}

		return fmt.Errorf("unknown command: %s", cmdName)
	}

	fmt.Fprintf(c.router.output, generalHelpTemplate, c.formatCommandList())
	return nil
}

func (c *HelpCommand) Description() string {
	return "Display help information"
}

func (c *HelpCommand) Help() string {
	return `Help Command - Display help information

Usage:
  towl help              Show general help
  towl help <command>    Show help for a specific command
`
}

// formatCommandList creates an aligned list of all available commands.
func (c *HelpCommand) formatCommandList() string {
	commands := c.router.GetCommands()

	names := make([]string, 0, len(commands))
	maxLen := 0
	for name := range commands {
		names = append(names, name)
		if len(name) > maxLen {
			maxLen = len(name)
		}
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		padding := strings.Repeat(" ", maxLen-len(name)+2)
		lines = append(lines, fmt.Sprintf("  %s%s%s", name, padding, commands[name].Description()))
	}

	return strings.Join(lines, "\n")
}
