package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wispberry-tech/wispy-portal/action"
	"github.com/wispberry-tech/wispy-portal/billing"
)

func newBillingCmd(c *cli) *cobra.Command {
	var referenceID string
	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Manage the subscription of an organization",
		Long: `Manage the subscription of an organization. Without --org the active
organization is used. Changing a subscription requires the owner role.`,
	}
	cmd.PersistentFlags().StringVar(&referenceID, "org", "", "organization id")

	list := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.client.ListSubscriptions(cmd.Context(), referenceID)
			if err != nil {
				return err
			}
			data, err := res.Unwrap()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPLAN\tSTATUS\tSEATS\tPERIOD END\tCANCELING")
			for _, sub := range data.Subscriptions {
				end := "-"
				if sub.PeriodEnd != nil {
					end = sub.PeriodEnd.Format("2006-01-02")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%t\n", sub.ID, sub.Plan, sub.Status, sub.Seats, end, sub.CancelAtPeriodEnd)
			}
			return tw.Flush()
		},
	}

	var seats int
	upgrade := &cobra.Command{
		Use:   "upgrade <plan>",
		Short: "Subscribe to or switch to a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := billing.UpgradeRequest{
				Plan:        args[0],
				ReferenceID: referenceID,
				Seats:       seats,
				SuccessURL:  "/organizations",
				CancelURL:   "/organizations",
				ReturnURL:   "/organizations",
			}
			res, err := run(cmd, c, func(ctx context.Context) (action.Result[billing.RedirectURLResponse], error) {
				return c.client.UpgradeSubscription(ctx, req)
			}, action.Options[billing.RedirectURLResponse]{
				LoadingMessage: "Starting checkout...",
				SuccessMessage: "Plan updated",
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Continue at %s\n", res.URL)
			return nil
		},
	}
	upgrade.Flags().IntVar(&seats, "seats", 1, "number of seats")

	var subscriptionID string
	subscriptionCmd := func(use, short, confirm, success string, op func(context.Context, billing.SubscriptionRequest) (action.Result[billing.SubscriptionResponse], error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				req := billing.SubscriptionRequest{ReferenceID: referenceID, SubscriptionID: subscriptionID}
				_, err := run(cmd, c, func(ctx context.Context) (action.Result[billing.SubscriptionResponse], error) {
					return op(ctx, req)
				}, action.Options[billing.SubscriptionResponse]{
					ConfirmMessage: confirm,
					SuccessMessage: success,
					Refresh:        true,
				})
				return err
			},
		}
	}
	cancel := subscriptionCmd("cancel", "Cancel at the end of the current period",
		"Cancel the subscription at the end of the period?", "Subscription cancelled", c.cancelSubscription)
	restore := subscriptionCmd("restore", "Undo a pending cancellation",
		"", "Subscription restored", c.restoreSubscription)
	cmd.PersistentFlags().StringVar(&subscriptionID, "subscription", "", "subscription id (defaults to the active one)")

	portal := &cobra.Command{
		Use:   "portal",
		Short: "Open a billing portal session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := billing.SubscriptionRequest{ReferenceID: referenceID, ReturnURL: "/organizations"}
			res, err := run(cmd, c, func(ctx context.Context) (action.Result[billing.RedirectURLResponse], error) {
				return c.client.BillingPortal(ctx, req)
			}, action.Options[billing.RedirectURLResponse]{SuccessMessage: "Billing portal ready"})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Open %s\n", res.URL)
			return nil
		},
	}

	cmd.AddCommand(list, upgrade, cancel, restore, portal)
	return cmd
}

func (c *cli) cancelSubscription(ctx context.Context, req billing.SubscriptionRequest) (action.Result[billing.SubscriptionResponse], error) {
	return c.client.CancelSubscription(ctx, req)
}

func (c *cli) restoreSubscription(ctx context.Context, req billing.SubscriptionRequest) (action.Result[billing.SubscriptionResponse], error) {
	return c.client.RestoreSubscription(ctx, req)
}
