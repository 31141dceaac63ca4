package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wispberry-tech/wispy-portal/action"
	"github.com/wispberry-tech/wispy-portal/client"
	"github.com/wispberry-tech/wispy-portal/core"
)

func newAdminCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administer users (requires the admin role)",
	}

	var query client.ListUsersQuery
	users := &cobra.Command{
		Use:   "users",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.client.ListUsers(cmd.Context(), query)
			if err != nil {
				return err
			}
			data, err := res.Unwrap()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE\tVERIFIED\tBANNED")
			now := time.Now()
			for _, u := range data.Users {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%t\n", u.ID, u.Name, u.Email, u.Role, u.EmailVerified, u.IsBanned(now))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Total: %d\n", data.Total)
			return nil
		},
	}
	users.Flags().IntVar(&query.Limit, "limit", 100, "page size")
	users.Flags().IntVar(&query.Offset, "offset", 0, "rows to skip")
	users.Flags().StringVar(&query.SortBy, "sort-by", "createdAt", "createdAt, email or name")
	users.Flags().StringVar(&query.SortDirection, "sort-direction", "desc", "asc or desc")

	setRole := &cobra.Command{
		Use:   "set-role <user-id> <role>",
		Short: "Set a user's role label",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(cmd, c, func(ctx context.Context) (action.Result[core.UserResponse], error) {
				return c.client.SetRole(ctx, args[0], args[1])
			}, action.Options[core.UserResponse]{SuccessMessage: "Role updated"})
			return err
		},
	}

	var (
		reason  string
		banTime time.Duration
	)
	ban := &cobra.Command{
		Use:   "ban <user-id>",
		Short: "Ban a user and revoke their sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := core.BanUserRequest{UserID: args[0], BanReason: reason, BanExpiresIn: int64(banTime.Seconds())}
			_, err := run(cmd, c, func(ctx context.Context) (action.Result[core.UserResponse], error) {
				return c.client.BanUser(ctx, req)
			}, action.Options[core.UserResponse]{
				ConfirmMessage: fmt.Sprintf("Ban user %s?", args[0]),
				SuccessMessage: "User banned",
			})
			return err
		},
	}
	ban.Flags().StringVar(&reason, "reason", "", "ban reason")
	ban.Flags().DurationVar(&banTime, "for", 0, "ban duration (permanent when zero)")

	unban := &cobra.Command{
		Use:   "unban <user-id>",
		Short: "Lift a ban",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(cmd, c, func(ctx context.Context) (action.Result[core.UserResponse], error) {
				return c.client.UnbanUser(ctx, args[0])
			}, action.Options[core.UserResponse]{SuccessMessage: "User unbanned"})
			return err
		},
	}

	remove := &cobra.Command{
		Use:   "remove <user-id>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(cmd, c, func(ctx context.Context) (action.Result[core.StatusResponse], error) {
				return c.client.RemoveUser(ctx, args[0])
			}, action.Options[core.StatusResponse]{
				ConfirmMessage: fmt.Sprintf("Delete user %s? This cannot be undone.", args[0]),
				SuccessMessage: "User removed",
			})
			return err
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke-sessions <user-id>",
		Short: "Revoke every session of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(cmd, c, func(ctx context.Context) (action.Result[core.StatusResponse], error) {
				return c.client.RevokeUserSessions(ctx, args[0])
			}, action.Options[core.StatusResponse]{SuccessMessage: "Sessions revoked"})
			return err
		},
	}

	impersonate := &cobra.Command{
		Use:   "impersonate <user-id>",
		Short: "Act as another user; log in again to return",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := run(cmd, c, func(ctx context.Context) (action.Result[core.ImpersonationResponse], error) {
				return c.client.ImpersonateUser(ctx, args[0])
			}, action.Options[core.ImpersonationResponse]{SuccessMessage: "Impersonation started", RedirectTo: "/"})
			if err != nil {
				return err
			}
			if res.User != nil {
				fmt.Fprintf(c.out, "Now acting as %s <%s> until %s\n", res.User.Name, res.User.Email, res.ExpiresAt.Format(time.Kitchen))
			}
			return c.saveToken()
		},
	}

	can := &cobra.Command{
		Use:   "can <resource> <action>...",
		Short: "Check whether you hold permissions, e.g. can user ban list",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.client.HasPermission(cmd.Context(), map[string][]string{args[0]: args[1:]})
			if err != nil {
				return err
			}
			data, err := res.Unwrap()
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, data.Success)
			return nil
		},
	}

	cmd.AddCommand(users, setRole, ban, unban, remove, revoke, impersonate, can)
	return cmd
}
