package billing

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wispberry-tech/wispy-portal/core"
)

var (
	// ErrUnauthorized is returned when the caller may not act on the reference
	ErrUnauthorized = errors.New("unauthorized for reference")
	// ErrNoReference is returned when neither an explicit nor an active organization is known
	ErrNoReference = errors.New("no reference id")
	// ErrPlanNotFound is returned for unknown plan names
	ErrPlanNotFound = errors.New("subscription plan not found")
	// ErrAlreadySubscribed is returned when upgrading to the plan already held
	ErrAlreadySubscribed = errors.New("already subscribed to plan")
	// ErrSubscriptionNotFound is returned when no matching provider-backed subscription exists
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrAlreadyCanceling is returned when cancellation is already scheduled
	ErrAlreadyCanceling = errors.New("subscription already set to cancel")
	// ErrNotCanceling is returned when restoring a subscription that is not scheduled to cancel
	ErrNotCanceling = errors.New("subscription not scheduled for cancellation")
	// ErrNoCustomer is returned when the reference has no billing customer yet
	ErrNoCustomer = errors.New("no billing customer for reference")
	// ErrCheckoutMismatch is returned when a checkout session was not started for the subscription
	ErrCheckoutMismatch = errors.New("checkout session does not belong to subscription")
)

// Action is a subscription operation checked by AuthorizeReference.
type Action string

const (
	ActionUpgrade       Action = "upgrade-subscription"
	ActionCancel        Action = "cancel-subscription"
	ActionRestore       Action = "restore-subscription"
	ActionList          Action = "list-subscription"
	ActionBillingPortal Action = "billing-portal"
)

// SessionResolver resolves the caller of a request. *core.AuthService
// implements it.
type SessionResolver interface {
	ResolveSession(r *http.Request) (*core.SessionContext, bool)
}

// Config configures a Service.
type Config struct {
	Storage  core.Storage
	Provider Provider
	Sessions SessionResolver
	Plans    []Plan
	// BaseURL and BasePath locate the checkout success callback.
	BaseURL  string
	BasePath string
}

// Service manages the subscriptions of organizations.
type Service struct {
	storage   core.Storage
	provider  Provider
	sessions  SessionResolver
	plans     []Plan
	baseURL   string
	basePath  string
	validator *validator.Validate
}

// NewService creates a billing service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("billing: storage is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("billing: provider is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("billing: session resolver is required")
	}
	plans := cfg.Plans
	if len(plans) == 0 {
		plans = DefaultPlans("", "")
	}
	return &Service{
		storage:   cfg.Storage,
		provider:  cfg.Provider,
		sessions:  cfg.Sessions,
		plans:     plans,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		basePath:  cmp.Or(strings.TrimSuffix(cfg.BasePath, "/"), "/api/auth"),
		validator: validator.New(),
	}, nil
}

// Plans returns the configured plans in display order.
func (s *Service) Plans() []Plan {
	return s.plans
}

// AuthorizeReference reports whether user may perform action on the
// organization referenceID. Upgrading, cancelling and restoring require the
// owner role; every other action requires membership.
func (s *Service) AuthorizeReference(user *core.User, referenceID string, action Action) (bool, error) {
	if user == nil || referenceID == "" {
		return false, nil
	}
	member, err := s.storage.GetMember(referenceID, user.ID)
	if err != nil {
		return false, fmt.Errorf("load membership: %w", err)
	}
	switch action {
	case ActionUpgrade, ActionCancel, ActionRestore:
		return member != nil && member.Role == core.MemberRoleOwner, nil
	default:
		return member != nil, nil
	}
}

func (s *Service) authorize(user *core.User, referenceID string, action Action) error {
	if referenceID == "" {
		return ErrNoReference
	}
	ok, err := s.AuthorizeReference(user, referenceID, action)
	if err != nil {
		return err
	}
	if !ok {
		slog.Debug("Subscription action refused", "action", action, "reference_id", referenceID, "user_id", user.ID)
		return ErrUnauthorized
	}
	return nil
}

// List returns the subscriptions of referenceID.
func (s *Service) List(ctx context.Context, user *core.User, referenceID string) ([]*core.Subscription, error) {
	if err := s.authorize(user, referenceID, ActionList); err != nil {
		return nil, err
	}
	subs, err := s.storage.ListSubscriptions(referenceID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	if subs == nil {
		subs = []*core.Subscription{}
	}
	return subs, nil
}

// UpgradeRequest selects a plan for a reference.
type UpgradeRequest struct {
	Plan        string `json:"plan" validate:"required"`
	ReferenceID string `json:"referenceId"`
	Seats       int    `json:"seats" validate:"gte=0"`
	SuccessURL  string `json:"successUrl"`
	CancelURL   string `json:"cancelUrl"`
	ReturnURL   string `json:"returnUrl"`
}

// Upgrade subscribes the reference to a plan. An existing provider-backed
// subscription is switched in place and the return URL comes back; otherwise
// a hosted checkout is started and its URL comes back.
func (s *Service) Upgrade(ctx context.Context, user *core.User, req UpgradeRequest) (string, error) {
	if err := s.authorize(user, req.ReferenceID, ActionUpgrade); err != nil {
		return "", err
	}
	plan, ok := findPlan(s.plans, req.Plan)
	if !ok {
		return "", ErrPlanNotFound
	}
	subs, err := s.storage.ListSubscriptions(req.ReferenceID)
	if err != nil {
		return "", fmt.Errorf("list subscriptions: %w", err)
	}
	seats := max(req.Seats, 1)

	if active := ActiveSubscription(subs); active != nil {
		if active.Plan == plan.Name && active.Seats == seats && !active.CancelAtPeriodEnd {
			return "", ErrAlreadySubscribed
		}
		if active.StripeSubscriptionID != "" {
			state, err := s.provider.ChangePlan(ctx, active.StripeSubscriptionID, plan.PriceID, seats)
			if err != nil {
				return "", err
			}
			s.apply(active, state)
			active.Plan = plan.Name
			if err := s.storage.UpdateSubscription(active); err != nil {
				return "", fmt.Errorf("update subscription: %w", err)
			}
			slog.Info("Subscription plan changed", "subscription_id", active.ID, "plan", plan.Name)
			return cmp.Or(req.ReturnURL, req.SuccessURL, "/"), nil
		}
	}

	customerID := customerOf(subs)
	if customerID == "" {
		name := user.Name
		if org, err := s.storage.GetOrganization(req.ReferenceID); err == nil && org != nil {
			name = org.Name
		}
		customerID, err = s.provider.CreateCustomer(ctx, CustomerParams{Email: user.Email, Name: name, ReferenceID: req.ReferenceID})
		if err != nil {
			return "", err
		}
	}

	now := time.Now()
	sub := pendingSubscription(subs)
	create := sub == nil
	if create {
		sub = &core.Subscription{
			ID:          uuid.NewString(),
			ReferenceID: req.ReferenceID,
			Status:      StatusIncomplete,
			CreatedAt:   now,
		}
	}
	sub.Plan = plan.Name
	sub.Seats = seats
	sub.StripeCustomerID = customerID
	sub.UpdatedAt = now
	if create {
		err = s.storage.CreateSubscription(sub)
	} else {
		err = s.storage.UpdateSubscription(sub)
	}
	if err != nil {
		return "", fmt.Errorf("save subscription: %w", err)
	}

	checkoutURL, err := s.provider.Checkout(ctx, CheckoutParams{
		CustomerID:     customerID,
		PriceID:        plan.PriceID,
		Seats:          seats,
		ReferenceID:    req.ReferenceID,
		SubscriptionID: sub.ID,
		SuccessURL:     s.successURL(sub.ID, cmp.Or(req.SuccessURL, req.ReturnURL, "/")),
		CancelURL:      s.absolute(cmp.Or(req.CancelURL, req.ReturnURL, "/")),
	})
	if err != nil {
		return "", err
	}
	slog.Info("Checkout started", "subscription_id", sub.ID, "reference_id", req.ReferenceID, "plan", plan.Name)
	return checkoutURL, nil
}

// SubscriptionRequest targets a subscription of a reference. Without an
// explicit id the active subscription is used.
type SubscriptionRequest struct {
	ReferenceID    string `json:"referenceId"`
	SubscriptionID string `json:"subscriptionId"`
	ReturnURL      string `json:"returnUrl"`
}

// Cancel schedules the subscription to end with its current period.
func (s *Service) Cancel(ctx context.Context, user *core.User, req SubscriptionRequest) (*core.Subscription, error) {
	if err := s.authorize(user, req.ReferenceID, ActionCancel); err != nil {
		return nil, err
	}
	sub, err := s.findSubscription(req.ReferenceID, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.CancelAtPeriodEnd {
		return nil, ErrAlreadyCanceling
	}
	return s.setCancel(ctx, sub, true)
}

// Restore undoes a scheduled cancellation.
func (s *Service) Restore(ctx context.Context, user *core.User, req SubscriptionRequest) (*core.Subscription, error) {
	if err := s.authorize(user, req.ReferenceID, ActionRestore); err != nil {
		return nil, err
	}
	sub, err := s.findSubscription(req.ReferenceID, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.CancelAtPeriodEnd {
		return nil, ErrNotCanceling
	}
	return s.setCancel(ctx, sub, false)
}

func (s *Service) setCancel(ctx context.Context, sub *core.Subscription, cancel bool) (*core.Subscription, error) {
	state, err := s.provider.SetCancelAtPeriodEnd(ctx, sub.StripeSubscriptionID, cancel)
	if err != nil {
		return nil, err
	}
	s.apply(sub, state)
	if err := s.storage.UpdateSubscription(sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	slog.Info("Subscription cancellation updated", "subscription_id", sub.ID, "cancel_at_period_end", sub.CancelAtPeriodEnd)
	return sub, nil
}

// BillingPortal returns a self-service portal URL for the reference's customer.
func (s *Service) BillingPortal(ctx context.Context, user *core.User, req SubscriptionRequest) (string, error) {
	if err := s.authorize(user, req.ReferenceID, ActionBillingPortal); err != nil {
		return "", err
	}
	subs, err := s.storage.ListSubscriptions(req.ReferenceID)
	if err != nil {
		return "", fmt.Errorf("list subscriptions: %w", err)
	}
	customerID := customerOf(subs)
	if customerID == "" {
		return "", ErrNoCustomer
	}
	return s.provider.BillingPortal(ctx, customerID, s.absolute(cmp.Or(req.ReturnURL, "/")))
}

// CompleteCheckout syncs a local subscription with the subscription its
// checkout session created. Only the session started for that subscription
// is accepted, and a subscription already bound to another provider
// subscription is left alone.
func (s *Service) CompleteCheckout(ctx context.Context, user *core.User, subscriptionID, checkoutSessionID string) (*core.Subscription, error) {
	sub, err := s.storage.GetSubscription(subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}
	if err := s.authorize(user, sub.ReferenceID, ActionUpgrade); err != nil {
		return nil, err
	}
	result, err := s.provider.CheckoutSubscription(ctx, checkoutSessionID)
	if err != nil {
		return nil, err
	}
	if result.SubscriptionID != sub.ID || result.ReferenceID != sub.ReferenceID {
		return nil, ErrCheckoutMismatch
	}
	if sub.StripeSubscriptionID != "" && sub.StripeSubscriptionID != result.Subscription.ID {
		return nil, ErrCheckoutMismatch
	}
	s.apply(sub, result.Subscription)
	if err := s.storage.UpdateSubscription(sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	slog.Info("Checkout completed", "subscription_id", sub.ID, "status", sub.Status)
	return sub, nil
}

// findSubscription returns the provider-backed subscription with id, which
// must belong to referenceID, or the active one when id is empty.
func (s *Service) findSubscription(referenceID, id string) (*core.Subscription, error) {
	var sub *core.Subscription
	if id != "" {
		found, err := s.storage.GetSubscription(id)
		if err != nil {
			return nil, fmt.Errorf("get subscription: %w", err)
		}
		if found != nil && found.ReferenceID == referenceID {
			sub = found
		}
	} else {
		subs, err := s.storage.ListSubscriptions(referenceID)
		if err != nil {
			return nil, fmt.Errorf("list subscriptions: %w", err)
		}
		sub = ActiveSubscription(subs)
	}
	if sub == nil || sub.StripeSubscriptionID == "" {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) apply(sub *core.Subscription, state *SubscriptionState) {
	sub.StripeSubscriptionID = state.ID
	if state.CustomerID != "" {
		sub.StripeCustomerID = state.CustomerID
	}
	if state.Status != "" {
		sub.Status = state.Status
	}
	if state.Seats > 0 {
		sub.Seats = state.Seats
	}
	if plan, ok := findPlanByPrice(s.plans, state.PriceID); ok {
		sub.Plan = plan.Name
	}
	sub.PeriodStart = state.PeriodStart
	sub.PeriodEnd = state.PeriodEnd
	sub.CancelAtPeriodEnd = state.CancelAtPeriodEnd
	sub.UpdatedAt = time.Now()
}

func (s *Service) successURL(subscriptionID, callbackURL string) string {
	q := url.Values{}
	q.Set("subscriptionId", subscriptionID)
	q.Set("callbackURL", callbackURL)
	// The placeholder is substituted by the provider and must stay unescaped.
	return s.baseURL + s.basePath + "/subscription/success?" + q.Encode() + "&session_id={CHECKOUT_SESSION_ID}"
}

func (s *Service) absolute(target string) string {
	if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") {
		return s.baseURL + target
	}
	return target
}

// safeRedirect keeps callbacks on this origin.
func (s *Service) safeRedirect(target string) string {
	if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") {
		return target
	}
	if s.baseURL != "" && (target == s.baseURL || strings.HasPrefix(target, s.baseURL+"/")) {
		return target
	}
	return "/"
}
