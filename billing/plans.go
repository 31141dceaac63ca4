// Package billing manages organization subscriptions through a payment
// provider and exposes them under the auth router's /subscription routes.
package billing

import (
	"fmt"
	"strings"

	"github.com/wispberry-tech/wispy-portal/core"
)

// Limits are the quotas a plan grants.
type Limits struct {
	Projects int `json:"projects"`
}

// Plan is a purchasable subscription tier.
type Plan struct {
	Name    string `json:"name"`
	PriceID string `json:"priceId"`
	// Amount is the monthly price in cents.
	Amount int64  `json:"amount"`
	Limits Limits `json:"limits"`
}

// FormattedPrice renders the amount as US dollars.
func (p Plan) FormattedPrice() string {
	return fmt.Sprintf("$%d.%02d", p.Amount/100, p.Amount%100)
}

// DefaultPlans returns the basic and pro tiers bound to the given price ids.
func DefaultPlans(basicPriceID, proPriceID string) []Plan {
	return []Plan{
		{Name: "basic", PriceID: basicPriceID, Amount: 1000, Limits: Limits{Projects: 5}},
		{Name: "pro", PriceID: proPriceID, Amount: 3000, Limits: Limits{Projects: 20}},
	}
}

func findPlan(plans []Plan, name string) (Plan, bool) {
	for _, p := range plans {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Plan{}, false
}

func findPlanByPrice(plans []Plan, priceID string) (Plan, bool) {
	if priceID == "" {
		return Plan{}, false
	}
	for _, p := range plans {
		if p.PriceID == priceID {
			return p, true
		}
	}
	return Plan{}, false
}

// ActiveSubscription returns the first active or trialing subscription.
func ActiveSubscription(subs []*core.Subscription) *core.Subscription {
	for _, sub := range subs {
		if sub.IsActive() {
			return sub
		}
	}
	return nil
}

func customerOf(subs []*core.Subscription) string {
	for _, sub := range subs {
		if sub.StripeCustomerID != "" {
			return sub.StripeCustomerID
		}
	}
	return ""
}

func pendingSubscription(subs []*core.Subscription) *core.Subscription {
	for _, sub := range subs {
		if sub.Status == StatusIncomplete {
			return sub
		}
	}
	return nil
}
