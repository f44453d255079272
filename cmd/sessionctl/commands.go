package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/aelexs/session-gateway/internal/api"
	"github.com/aelexs/session-gateway/internal/events"
	"github.com/aelexs/session-gateway/internal/session"
)

func newLoginCmd(run runner) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session credentials",
		Long: `Sign in with a username and password. The password is prompted for
when --password is not given.

Examples:
  sessionctl login --username demo
  sessionctl login -u demo --password demo-password --profile work`,
		Args: cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if password == "" {
				var err error
				if password, err = promptPassword(); err != nil {
					return err
				}
			}
			if err := a.client.Login(ctx, username, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (profile %s).\n", username, a.cfg.Store.Profile)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "account username")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func promptPassword() (string, error) {
	prompt := promptui.Prompt{
		Label: "Password",
		Mask:  '*',
		Validate: func(s string) error {
			if s == "" {
				return errors.New("password is required")
			}
			return nil
		},
	}
	password, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return "", errors.New("aborted")
		}
		return "", fmt.Errorf("read password: %w", err)
	}
	return password, nil
}

func newLogoutCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session on the backend and clear stored credentials",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			if a.gw.State() == session.StateLoggedOut {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in.")
				return nil
			}
			if err := a.client.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		}),
	}
}

// statusView is the JSON shape of the status command. Tokens are never
// printed.
type statusView struct {
	Profile  string     `json:"profile"`
	State    string     `json:"state"`
	Backend  string     `json:"backend"`
	Store    string     `json:"store"`
	IssuedAt *time.Time `json:"issuedAt,omitempty"`
}

func newStatusCmd(run runner, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local session state",
		Args:  cobra.NoArgs,
		RunE: run(func(_ context.Context, a *app, cmd *cobra.Command, _ []string) error {
			view := statusView{
				Profile: a.cfg.Store.Profile,
				State:   a.gw.State().String(),
				Backend: a.cfg.Backend.BaseURL,
				Store:   a.cfg.Store.Kind,
			}
			if pair := a.gw.Credentials(); !pair.IsZero() && !pair.IssuedAt.IsZero() {
				issued := pair.IssuedAt
				view.IssuedAt = &issued
			}

			f, _ := parseFormat(opts.output)
			if f == formatJSON {
				return printJSON(cmd.OutOrStdout(), view)
			}
			issued := "-"
			if view.IssuedAt != nil {
				issued = view.IssuedAt.Format(time.RFC3339)
			}
			printPairs(cmd.OutOrStdout(), [][2]string{
				{"Profile", view.Profile},
				{"State", view.State},
				{"Backend", view.Backend},
				{"Store", view.Store},
				{"Issued At", issued},
			})
			return nil
		}),
	}
}

func newProfileCmd(run runner, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the signed-in user's profile",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			p, err := a.client.GetProfile(ctx)
			if err != nil {
				return err
			}
			f, _ := parseFormat(opts.output)
			return printProfile(cmd.OutOrStdout(), f, p)
		}),
	}

	var upd api.ProfileUpdate
	set := &cobra.Command{
		Use:   "set",
		Short: "Update the display name and email",
		Long: `Update the editable profile fields. Both fields are replaced.

Examples:
  sessionctl profile set --display-name "Demo User" --email demo@example.com`,
		Args: cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			p, err := a.client.UpdateProfile(ctx, upd)
			if err != nil {
				return err
			}
			f, _ := parseFormat(opts.output)
			return printProfile(cmd.OutOrStdout(), f, p)
		}),
	}
	set.Flags().StringVar(&upd.DisplayName, "display-name", "", "display name")
	set.Flags().StringVar(&upd.Email, "email", "", "email address")
	_ = set.MarkFlagRequired("display-name")
	_ = set.MarkFlagRequired("email")

	cmd.AddCommand(set)
	return cmd
}

func newOrdersCmd(run runner, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List the signed-in user's orders",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			orders, err := a.client.ListOrders(ctx)
			if err != nil {
				return err
			}
			f, _ := parseFormat(opts.output)
			return printOrders(cmd.OutOrStdout(), f, orders)
		}),
	}

	var in api.NewOrder
	create := &cobra.Command{
		Use:   "create",
		Short: "Place an order",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			o, err := a.client.CreateOrder(ctx, in)
			if err != nil {
				return err
			}
			f, _ := parseFormat(opts.output)
			return printOrders(cmd.OutOrStdout(), f, []api.Order{o})
		}),
	}
	create.Flags().StringVar(&in.Item, "item", "", "item name")
	create.Flags().IntVar(&in.Quantity, "quantity", 1, "quantity")
	_ = create.MarkFlagRequired("item")

	cmd.AddCommand(create)
	return cmd
}

func newGetCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Perform an authenticated GET and print the payload",
		Long: `Perform an authenticated GET of an arbitrary backend path and print
the unwrapped payload as JSON.

Examples:
  sessionctl get /api/profile`,
		Args: cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			path := args[0]
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			payload, err := a.client.Get(ctx, path)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := json.Indent(&buf, payload, "", "  "); err != nil {
				buf.Reset()
				buf.Write(payload)
			}
			buf.WriteByte('\n')
			_, err = buf.WriteTo(cmd.OutOrStdout())
			return err
		}),
	}
}

func newWatchCmd(run runner, opts *rootOptions) *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print logout events published by other processes",
		Long: `Subscribe to the logout event stream and print each teardown until
interrupted. Requires Redis.`,
		Args: cobra.NoArgs,
		PreRun: func(*cobra.Command, []string) {
			opts.needsRedis = true
		},
		RunE: run(func(ctx context.Context, a *app, cmd *cobra.Command, _ []string) error {
			sub, err := events.NewRedisStreamSubscriber(a.redis.RDB, group, a.logger)
			if err != nil {
				return fmt.Errorf("create subscriber: %w", err)
			}
			defer sub.Close()

			f, _ := parseFormat(opts.output)
			out := cmd.OutOrStdout()
			fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s, press Ctrl-C to stop.\n", a.cfg.Events.Topic)
			return events.Watch(ctx, sub, a.cfg.Events.Topic, func(_ context.Context, ev session.LogoutEvent) error {
				if f == formatJSON {
					return printJSON(out, ev)
				}
				_, err := fmt.Fprintf(out, "%s  %s  status=%d code=%s\n",
					ev.OccurredAt.Format(time.RFC3339), ev.Reason, ev.HTTPStatus, valueOrDash(ev.Code))
				return err
			})
		}),
	}
	cmd.Flags().StringVar(&group, "group", "", "consumer group (default: fan out to every watcher)")
	return cmd
}
