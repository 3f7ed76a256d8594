// FILE: src/cmd/towlctl/watch.go
package main

import (
	"context"
	"errors"
	"fmt"

	"towl/src/internal/client"

	"github.com/spf13/cobra"
)

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Tail live entries as the server formats them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			errOut := cmd.ErrOrStderr()
			err = c.Watch(cmd.Context(), func(data []byte) error {
				_, err := fmt.Fprintf(out, "%s\n", data)
				return err
			}, func(missed uint64) {
				fmt.Fprintf(errOut, "watch lagged, %d entries missed\n", missed)
			})

			var disc *client.ErrDisconnected
			switch {
			case errors.As(err, &disc):
				fmt.Fprintf(errOut, "disconnected: %s\n", disc.Reason)
				return nil
			case errors.Is(err, context.Canceled):
				return nil
			}
			return err
		},
	}
}
