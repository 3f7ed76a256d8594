// FILE: src/cmd/towl/commands/auth.go
package commands

import (
	"towl/src/internal/auth"
)

// AuthCommand generates credentials for [http.auth] and [tcp.auth]
type AuthCommand struct {
	generator *auth.GeneratorCommand
}

func NewAuthCommand() *AuthCommand {
	return &AuthCommand{generator: auth.NewGeneratorCommand()}
}

func (c *AuthCommand) Execute(args []string) error {
	return c.generator.Execute(args)
}

func (c *AuthCommand) Description() string {
	return "Generate authentication credentials"
}

func (c *AuthCommand) Help() string {
	return `Auth Command - Generate authentication credentials

Usage:
  towl auth -u <username> [-p <password>]   Argon2id password hash for basic auth
  towl auth -t [-l <bytes>]                 Random bearer token

Options:
  -u  Username for basic auth
  -p  Password to hash (prompts without echo if omitted)
  -t  Generate a random bearer token
  -l  Token length in bytes (default 32)

The output is a TOML snippet ready to paste into towl.toml.
TCP clients authenticate with "AUTH basic <base64 user:pass>" or
"AUTH token <token>" as their first line.
`
}
