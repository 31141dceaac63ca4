package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wispberry-tech/wispy-portal/action"
	"github.com/wispberry-tech/wispy-portal/core"
)

func newSignUpCmd(c *cli) *cobra.Command {
	var (
		name           string
		password       string
		favoriteNumber int
	)
	cmd := &cobra.Command{
		Use:   "signup <email>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := c.readPassword(password, "Password")
			if err != nil {
				return err
			}
			req := core.SignUpRequest{Email: args[0], Password: pw, Name: name, FavoriteNumber: &favoriteNumber}
			res, err := run(cmd, c, func(ctx context.Context) (action.Result[core.SignUpResponse], error) {
				return c.client.SignUp(ctx, req)
			}, action.Options[core.SignUpResponse]{
				LoadingMessage: "Creating account...",
				SuccessMessage: "Account created",
			})
			if err != nil {
				return err
			}
			if res.Token == "" {
				fmt.Fprintln(c.out, "Check your email to verify your address, then log in.")
				return nil
			}
			return c.saveToken()
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	cmd.Flags().IntVar(&favoriteNumber, "favorite-number", 0, "favorite number")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("favorite-number")
	return cmd
}

func newLoginCmd(c *cli) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Sign in and store the session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := c.readPassword(password, "Password")
			if err != nil {
				return err
			}
			res, err := run(cmd, c, func(ctx context.Context) (action.Result[core.SignInResponse], error) {
				return c.client.SignIn(ctx, args[0], pw)
			}, action.Options[core.SignInResponse]{
				LoadingMessage: "Signing in...",
				SuccessMessage: "Signed in",
			})
			if err != nil {
				return err
			}
			if res.User != nil {
				fmt.Fprintf(c.out, "Logged in as %s <%s>\n", res.User.Name, res.User.Email)
			}
			return c.saveToken()
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when empty)")
	return cmd
}

func newLogoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(cmd, c, c.client.SignOut, action.Options[core.StatusResponse]{
				SuccessMessage: "Signed out",
			})
			if err != nil {
				return err
			}
			return c.saveToken()
		},
	}
}

func newWhoamiCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.client.GetSession(cmd.Context())
			if err != nil {
				return err
			}
			data, err := res.Unwrap()
			if err != nil {
				return err
			}
			if data.User == nil {
				fmt.Fprintln(c.out, "Not logged in")
				return nil
			}
			fmt.Fprintf(c.out, "%s <%s>\nrole: %s\nverified: %t\nfavorite number: %d\n",
				data.User.Name, data.User.Email, data.User.Role, data.User.EmailVerified, data.User.FavoriteNumber)
			if data.Session != nil && data.Session.ImpersonatedBy != nil {
				fmt.Fprintf(c.out, "impersonated by: %s\n", *data.Session.ImpersonatedBy)
			}
			return nil
		},
	}
}

func newSessionsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and revoke your sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.client.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			data, err := res.Unwrap()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TOKEN\tIP\tUSER AGENT\tCREATED\tCURRENT")
			for _, s := range data.Sessions {
				current := ""
				if s.Token == c.client.Token() {
					current = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Token, s.IPAddress, s.UserAgent, s.CreatedAt.Format("2006-01-02 15:04"), current)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(cmd, c, func(ctx context.Context) (action.Result[core.StatusResponse], error) {
				return c.client.RevokeSession(ctx, args[0])
			}, action.Options[core.StatusResponse]{SuccessMessage: "Session revoked"})
			return err
		},
	}, &cobra.Command{
		Use:   "revoke-others",
		Short: "Revoke every session except this one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(cmd, c, c.client.RevokeOtherSessions, action.Options[core.StatusResponse]{
				ConfirmMessage: "Sign out all other devices?",
				SuccessMessage: "Other sessions revoked",
			})
			return err
		},
	})
	return cmd
}

func newPasswordCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Change or reset your password",
	}

	var revokeOthers bool
	change := &cobra.Command{
		Use:   "change",
		Short: "Change the password of the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := c.readPassword("", "Current password")
			if err != nil {
				return err
			}
			next, err := c.readPassword("", "New password")
			if err != nil {
				return err
			}
			req := core.ChangePasswordRequest{CurrentPassword: current, NewPassword: next, RevokeOtherSessions: revokeOthers}
			_, err = run(cmd, c, func(ctx context.Context) (action.Result[core.UserResponse], error) {
				return c.client.ChangePassword(ctx, req)
			}, action.Options[core.UserResponse]{SuccessMessage: "Password changed"})
			return err
		},
	}
	change.Flags().BoolVar(&revokeOthers, "revoke-other-sessions", false, "sign out other devices")

	forgot := &cobra.Command{
		Use:   "forgot <email>",
		Short: "Email a password reset link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(cmd, c, func(ctx context.Context) (action.Result[core.StatusResponse], error) {
				return c.client.RequestPasswordReset(ctx, args[0])
			}, action.Options[core.StatusResponse]{SuccessMessage: "If the address is registered, a reset link is on its way"})
			return err
		},
	}

	reset := &cobra.Command{
		Use:   "reset <token>",
		Short: "Set a new password with a reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			next, err := c.readPassword("", "New password")
			if err != nil {
				return err
			}
			_, err = run(cmd, c, func(ctx context.Context) (action.Result[core.StatusResponse], error) {
				return c.client.ResetPassword(ctx, args[0], next)
			}, action.Options[core.StatusResponse]{SuccessMessage: "Password reset", RedirectTo: "/auth/login"})
			return err
		},
	}

	cmd.AddCommand(change, forgot, reset)
	return cmd
}
