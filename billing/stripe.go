package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// ErrNoCheckoutSubscription is returned when a checkout session has not
// produced a subscription yet.
var ErrNoCheckoutSubscription = errors.New("checkout session has no subscription")

// StripeProvider implements Provider with the Stripe API.
type StripeProvider struct {
	api *client.API
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider creates a provider for secretKey. A nil backends uses
// Stripe's production endpoints.
func NewStripeProvider(secretKey string, backends *stripe.Backends) *StripeProvider {
	return &StripeProvider{api: client.New(secretKey, backends)}
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, params CustomerParams) (string, error) {
	cp := &stripe.CustomerParams{
		Email: stripe.String(params.Email),
		Name:  stripe.String(params.Name),
	}
	cp.Context = ctx
	cp.AddMetadata("referenceId", params.ReferenceID)

	customer, err := p.api.Customers.New(cp)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return customer.ID, nil
}

func (p *StripeProvider) Checkout(ctx context.Context, params CheckoutParams) (string, error) {
	metadata := map[string]string{
		"referenceId":    params.ReferenceID,
		"subscriptionId": params.SubscriptionID,
	}
	cp := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(params.CustomerID),
		ClientReferenceID: stripe.String(params.ReferenceID),
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(params.PriceID),
			Quantity: stripe.Int64(int64(max(params.Seats, 1))),
		}},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{Metadata: metadata},
	}
	cp.Context = ctx
	for k, v := range metadata {
		cp.AddMetadata(k, v)
	}

	session, err := p.api.CheckoutSessions.New(cp)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return session.URL, nil
}

func (p *StripeProvider) CheckoutSubscription(ctx context.Context, checkoutSessionID string) (*CheckoutResult, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("subscription")

	session, err := p.api.CheckoutSessions.Get(checkoutSessionID, params)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	if session.Subscription == nil {
		return nil, ErrNoCheckoutSubscription
	}
	localID := session.Metadata["subscriptionId"]
	if localID == "" {
		localID = session.Subscription.Metadata["subscriptionId"]
	}
	return &CheckoutResult{
		ReferenceID:    session.ClientReferenceID,
		SubscriptionID: localID,
		Subscription:   stateFromStripe(session.Subscription),
	}, nil
}

func (p *StripeProvider) ChangePlan(ctx context.Context, subscriptionID, priceID string, seats int) (*SubscriptionState, error) {
	get := &stripe.SubscriptionParams{}
	get.Context = ctx
	current, err := p.api.Subscriptions.Get(subscriptionID, get)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, fmt.Errorf("subscription %s has no items", subscriptionID)
	}

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
		ProrationBehavior: stripe.String("create_prorations"),
		Items: []*stripe.SubscriptionItemsParams{{
			ID:       stripe.String(current.Items.Data[0].ID),
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(int64(max(seats, 1))),
		}},
	}
	params.Context = ctx

	updated, err := p.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	return stateFromStripe(updated), nil
}

func (p *StripeProvider) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*SubscriptionState, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
	params.Context = ctx

	updated, err := p.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	return stateFromStripe(updated), nil
}

func (p *StripeProvider) BillingPortal(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	session, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return session.URL, nil
}

func stateFromStripe(s *stripe.Subscription) *SubscriptionState {
	state := &SubscriptionState{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		PeriodStart:       unixTime(s.CurrentPeriodStart),
		PeriodEnd:         unixTime(s.CurrentPeriodEnd),
	}
	if s.Customer != nil {
		state.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		state.Seats = int(item.Quantity)
		if item.Price != nil {
			state.PriceID = item.Price.ID
		}
	}
	return state
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
