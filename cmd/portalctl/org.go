package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wispberry-tech/wispy-portal/action"
	"github.com/wispberry-tech/wispy-portal/core"
)

func newOrgCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Manage organizations, members and invitations",
	}

	var slug string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an organization and make it active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := run(cmd, c, func(ctx context.Context) (action.Result[core.OrganizationResponse], error) {
				return c.client.CreateOrganization(ctx, args[0], slug)
			}, action.Options[core.OrganizationResponse]{SuccessMessage: "Organization created"})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s\t%s\n", res.Organization.ID, res.Organization.Slug)
			return nil
		},
	}
	create.Flags().StringVar(&slug, "slug", "", "URL slug (derived from the name when empty)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List your organizations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.client.ListOrganizations(cmd.Context())
			if err != nil {
				return err
			}
			data, err := res.Unwrap()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSLUG")
			for _, org := range data.Organizations {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", org.ID, org.Name, org.Slug)
			}
			return tw.Flush()
		},
	}

	use := &cobra.Command{
		Use:   "use <organization-id>",
		Short: "Set the active organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(cmd, c, func(ctx context.Context) (action.Result[core.OrganizationResponse], error) {
				return c.client.SetActiveOrganization(ctx, args[0])
			}, action.Options[core.OrganizationResponse]{SuccessMessage: "Organization switched", Refresh: true})
			return err
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the active organization with its members and invitations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.client.GetFullOrganization(cmd.Context())
			if err != nil {
				return err
			}
			data, err := res.Unwrap()
			if err != nil {
				return err
			}
			if data.Organization == nil {
				fmt.Fprintln(c.out, "No active organization")
				return nil
			}
			fmt.Fprintf(c.out, "%s (%s)\n\n", data.Organization.Name, data.Organization.ID)
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MEMBER\tEMAIL\tROLE")
			for _, m := range data.Members {
				name, email := m.UserID, ""
				if m.User != nil {
					name, email = m.User.Name, m.User.Email
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, email, m.Role)
			}
			fmt.Fprintln(tw, "\nINVITATION\tEMAIL\tROLE\tSTATUS")
			for _, inv := range data.Invitations {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", inv.ID, inv.Email, inv.Role, inv.Status)
			}
			return tw.Flush()
		},
	}

	var role string
	invite := &cobra.Command{
		Use:   "invite <email>",
		Short: "Invite someone to the active organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := core.InviteMemberRequest{Email: args[0], Role: role}
			_, err := run(cmd, c, func(ctx context.Context) (action.Result[core.InvitationResponse], error) {
				return c.client.InviteMember(ctx, req)
			}, action.Options[core.InvitationResponse]{SuccessMessage: "Invitation sent"})
			return err
		},
	}
	invite.Flags().StringVar(&role, "role", core.MemberRoleMember, "member, admin or owner")

	accept := &cobra.Command{
		Use:   "accept <invitation-id>",
		Short: "Accept an invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(cmd, c, func(ctx context.Context) (action.Result[core.InvitationResponse], error) {
				return c.client.AcceptInvitation(ctx, args[0])
			}, action.Options[core.InvitationResponse]{SuccessMessage: "Invitation accepted", RedirectTo: "/organizations"})
			return err
		},
	}

	reject := &cobra.Command{
		Use:   "reject <invitation-id>",
		Short: "Reject an invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(cmd, c, func(ctx context.Context) (action.Result[core.InvitationResponse], error) {
				return c.client.RejectInvitation(ctx, args[0])
			}, action.Options[core.InvitationResponse]{SuccessMessage: "Invitation rejected", RedirectTo: "/"})
			return err
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel-invite <invitation-id>",
		Short: "Cancel a pending invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(cmd, c, func(ctx context.Context) (action.Result[core.InvitationResponse], error) {
				return c.client.CancelInvitation(ctx, args[0])
			}, action.Options[core.InvitationResponse]{SuccessMessage: "Invitation cancelled"})
			return err
		},
	}

	remove := &cobra.Command{
		Use:   "remove-member <user-id>",
		Short: "Remove a member from the active organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(cmd, c, func(ctx context.Context) (action.Result[core.StatusResponse], error) {
				return c.client.RemoveMember(ctx, core.RemoveMemberRequest{UserID: args[0]})
			}, action.Options[core.StatusResponse]{
				ConfirmMessage: fmt.Sprintf("Remove %s from the organization?", args[0]),
				SuccessMessage: "Member removed",
			})
			return err
		},
	}

	cmd.AddCommand(create, list, use, show, invite, accept, reject, cancel, remove)
	return cmd
}
