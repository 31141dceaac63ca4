package billing

import (
	"context"
	"time"
)

// Subscription statuses as reported by the payment provider.
const (
	StatusActive     = "active"
	StatusTrialing   = "trialing"
	StatusIncomplete = "incomplete"
	StatusCanceled   = "canceled"
	StatusPastDue    = "past_due"
	StatusUnpaid     = "unpaid"
)

// CustomerParams describe the billing customer created for a reference.
type CustomerParams struct {
	Email       string
	Name        string
	ReferenceID string
}

// CheckoutParams describe a hosted checkout for a new subscription.
type CheckoutParams struct {
	CustomerID     string
	PriceID        string
	Seats          int
	ReferenceID    string
	SubscriptionID string
	SuccessURL     string
	CancelURL      string
}

// SubscriptionState is the provider's view of a subscription.
type SubscriptionState struct {
	ID                string
	CustomerID        string
	Status            string
	PriceID           string
	Seats             int
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd bool
}

// CheckoutResult is a completed checkout session with the local ids it was
// started for.
type CheckoutResult struct {
	ReferenceID    string
	SubscriptionID string
	Subscription   *SubscriptionState
}

// Provider is the payment backend. StripeProvider is the production
// implementation.
type Provider interface {
	CreateCustomer(ctx context.Context, params CustomerParams) (string, error)
	// Checkout starts a hosted checkout and returns the URL to send the user to.
	Checkout(ctx context.Context, params CheckoutParams) (string, error)
	// CheckoutSubscription returns the subscription a completed checkout created.
	CheckoutSubscription(ctx context.Context, checkoutSessionID string) (*CheckoutResult, error)
	ChangePlan(ctx context.Context, subscriptionID, priceID string, seats int) (*SubscriptionState, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*SubscriptionState, error)
	// BillingPortal returns the URL of a self-service portal session.
	BillingPortal(ctx context.Context, customerID, returnURL string) (string, error)
}
