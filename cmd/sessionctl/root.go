package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// rootOptions are the global flag values.
type rootOptions struct {
	profile string
	output  string

	// needsRedis is set by commands that talk to the event bus.
	needsRedis bool
}

func newRootCmd(open appOpener) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "sessionctl",
		Short: "Call the backend through an authenticated session",
		Long: `sessionctl signs in to the backend and keeps the session alive.

Expired access tokens are refreshed transparently and the request is
replayed once. When the backend revokes the session, or the refresh token
is rejected, the stored credentials are cleared and you have to sign in
again.

Configuration is read from the environment, e.g. BACKEND_BASE_URL,
STORE_KIND and STORE_PROFILE.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			_, err := parseFormat(opts.output)
			return err
		},
	}
	root.PersistentFlags().StringVarP(&opts.profile, "profile", "p", "", "credential profile (default: STORE_PROFILE)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "output format: table or json")
	root.CompletionOptions.DisableDefaultCmd = true

	run := func(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			a, err := open(ctx, *opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
					err = fmt.Errorf("close: %w", cerr)
				}
			}()
			return fn(ctx, a, cmd, args)
		}
	}

	root.AddCommand(
		newLoginCmd(run),
		newLogoutCmd(run),
		newStatusCmd(run, opts),
		newProfileCmd(run, opts),
		newOrdersCmd(run, opts),
		newGetCmd(run),
		newWatchCmd(run, opts),
	)
	return root
}

type runner func(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error
