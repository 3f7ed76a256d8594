// FILE: src/cmd/towlctl/logs.go
package main

import (
	"fmt"
	"time"

	"towl/src/internal/client"
	"towl/src/internal/core"
	"towl/src/internal/format"

	"github.com/lixenwraith/log"
	"github.com/spf13/cobra"
)

func newLogsCommand(opts *rootOptions) *cobra.Command {
	var (
		after   string
		archive string
		match   string
		output  string
		noCount bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print stored entries from the working file or an archive",
		Example: `  towlctl logs --after 2024-03-05T10:00:00Z
  towlctl logs --archive gz_log_2024_03_05_12.towl --match 'error|panic' -o text`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fetch := client.FetchOptions{Archive: archive, Match: match}
			if after != "" {
				t, err := time.Parse(time.RFC3339Nano, after)
				if err != nil {
					return fmt.Errorf("invalid --after; expected RFC3339: %w", err)
				}
				fetch.After = t
			}

			formatter, err := format.New(output, nil, log.NewLogger())
			if err != nil {
				return err
			}

			c, err := opts.client()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			count := 0
			err = c.Fetch(cmd.Context(), fetch, func(entry core.LogEntry) error {
				b, err := formatter.Format(entry)
				if err != nil {
					return err
				}
				count++
				_, err = out.Write(b)
				return err
			})
			if err != nil {
				return err
			}

			if !noCount {
				fmt.Fprintf(cmd.ErrOrStderr(), "Result count is %d\n", count)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&after, "after", "", "Only entries strictly after this RFC3339 time")
	cmd.Flags().StringVar(&archive, "archive", "", "Read an archive file instead of the working file")
	cmd.Flags().StringVar(&match, "match", "", "Regex the source or payload must match")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "Output format: json, text, raw, yaml")
	cmd.Flags().BoolVar(&noCount, "no-count", false, "Do not print the result count")
	return cmd
}
