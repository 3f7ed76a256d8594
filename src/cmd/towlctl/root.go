// FILE: src/cmd/towlctl/root.go
package main

import (
	"fmt"
	"os"
	"time"

	"towl/src/internal/client"
	"towl/src/internal/config"
	ltls "towl/src/internal/tls"
	"towl/src/internal/version"

	"github.com/lixenwraith/log"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
)

// Connection flags shared by every subcommand
type rootOptions struct {
	server   string
	token    string
	username string
	password string
	timeout  time.Duration
	caFile   string
	insecure bool

	// Test hook, nil dials the network
	dial fasthttp.DialFunc
}

func (o *rootOptions) client() (*client.Client, error) {
	tlsManager, err := ltls.NewClientManager(&config.TLSClientConfig{
		Enabled:            o.caFile != "" || o.insecure,
		ServerCAFile:       o.caFile,
		InsecureSkipVerify: o.insecure,
	}, log.NewLogger())
	if err != nil {
		return nil, err
	}

	return client.New(client.Options{
		BaseURL:   o.server,
		Token:     o.token,
		Username:  o.username,
		Password:  o.password,
		Timeout:   o.timeout,
		TLSConfig: tlsManager.GetConfig(),
		Dial:      o.dial,
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// newRootCommand builds the towlctl command tree
func newRootCommand(dial fasthttp.DialFunc) *cobra.Command {
	opts := &rootOptions{dial: dial}

	root := &cobra.Command{
		Use:           "towlctl",
		Short:         "Query and tail a towl server",
		Long:          "towlctl reads stored entries, tails live entries and lists archives of a towl server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.server, "server", "s", envOr("TOWLCTL_SERVER", "http://localhost:8080"), "Server base URL (env TOWLCTL_SERVER)")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("TOWLCTL_TOKEN"), "Bearer token (env TOWLCTL_TOKEN)")
	root.PersistentFlags().StringVarP(&opts.username, "user", "u", os.Getenv("TOWLCTL_USER"), "Basic auth username (env TOWLCTL_USER)")
	root.PersistentFlags().StringVar(&opts.password, "password", os.Getenv("TOWLCTL_PASSWORD"), "Basic auth password (env TOWLCTL_PASSWORD)")
	root.PersistentFlags().StringVar(&opts.caFile, "ca-file", os.Getenv("TOWLCTL_CA_FILE"), "CA certificate to trust for https servers")
	root.PersistentFlags().BoolVar(&opts.insecure, "insecure", false, "Skip server certificate verification")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout for non-streaming calls")

	root.AddCommand(
		newLogsCommand(opts),
		newWatchCommand(opts),
		newArchivesCommand(opts),
		newStatusCommand(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.String())
			},
		},
	)
	return root
}
