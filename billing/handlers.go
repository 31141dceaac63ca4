package billing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wispberry-tech/wispy-portal/core"
)

// SubscriptionsResponse lists the subscriptions of a reference
type SubscriptionsResponse struct {
	Subscriptions []*core.Subscription `json:"subscriptions"`
	StatusCode    int                  `json:"-"`
	Error         string               `json:"error,omitempty"`
}

// SubscriptionResponse carries a single updated subscription
type SubscriptionResponse struct {
	Subscription *core.Subscription `json:"subscription"`
	StatusCode   int                `json:"-"`
	Error        string             `json:"error,omitempty"`
}

// RedirectURLResponse tells the client where to send the user next
type RedirectURLResponse struct {
	URL        string `json:"url"`
	Redirect   bool   `json:"redirect"`
	StatusCode int    `json:"-"`
	Error      string `json:"error,omitempty"`
}

// RegisterRoutes mounts the subscription routes. It is passed to
// core.AuthService.Handler as an extension.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Route("/subscription", func(r chi.Router) {
		r.Get("/list", func(w http.ResponseWriter, r *http.Request) {
			resp := s.ListHandler(r)
			writeJSON(w, resp.StatusCode, resp)
		})
		r.Post("/upgrade", func(w http.ResponseWriter, r *http.Request) {
			resp := s.UpgradeHandler(r)
			writeJSON(w, resp.StatusCode, resp)
		})
		r.Post("/cancel", func(w http.ResponseWriter, r *http.Request) {
			resp := s.CancelHandler(r)
			writeJSON(w, resp.StatusCode, resp)
		})
		r.Post("/restore", func(w http.ResponseWriter, r *http.Request) {
			resp := s.RestoreHandler(r)
			writeJSON(w, resp.StatusCode, resp)
		})
		r.Post("/billing-portal", func(w http.ResponseWriter, r *http.Request) {
			resp := s.BillingPortalHandler(r)
			writeJSON(w, resp.StatusCode, resp)
		})
		r.Get("/success", s.SuccessHandler)
	})
}

// ListHandler lists the subscriptions of ?referenceId= or the active organization
func (s *Service) ListHandler(r *http.Request) SubscriptionsResponse {
	sc, ok := s.sessions.ResolveSession(r)
	if !ok {
		return SubscriptionsResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}
	subs, err := s.List(r.Context(), sc.User, reference(sc, r.URL.Query().Get("referenceId")))
	if err != nil {
		status, msg := errorStatus(err)
		return SubscriptionsResponse{StatusCode: status, Error: msg}
	}
	return SubscriptionsResponse{Subscriptions: subs, StatusCode: http.StatusOK}
}

// UpgradeHandler starts a checkout or switches the plan in place
func (s *Service) UpgradeHandler(r *http.Request) RedirectURLResponse {
	sc, ok := s.sessions.ResolveSession(r)
	if !ok {
		return RedirectURLResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}
	var req UpgradeRequest
	if status, msg := s.decode(r, &req); status != 0 {
		return RedirectURLResponse{StatusCode: status, Error: msg}
	}
	req.ReferenceID = reference(sc, req.ReferenceID)

	target, err := s.Upgrade(r.Context(), sc.User, req)
	if err != nil {
		status, msg := errorStatus(err)
		return RedirectURLResponse{StatusCode: status, Error: msg}
	}
	return RedirectURLResponse{URL: target, Redirect: true, StatusCode: http.StatusOK}
}

// CancelHandler schedules the subscription to end with its period
func (s *Service) CancelHandler(r *http.Request) SubscriptionResponse {
	return s.subscriptionRoute(r, s.Cancel)
}

// RestoreHandler undoes a scheduled cancellation
func (s *Service) RestoreHandler(r *http.Request) SubscriptionResponse {
	return s.subscriptionRoute(r, s.Restore)
}

func (s *Service) subscriptionRoute(r *http.Request, op func(ctx context.Context, user *core.User, req SubscriptionRequest) (*core.Subscription, error)) SubscriptionResponse {
	sc, ok := s.sessions.ResolveSession(r)
	if !ok {
		return SubscriptionResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}
	var req SubscriptionRequest
	if status, msg := s.decode(r, &req); status != 0 {
		return SubscriptionResponse{StatusCode: status, Error: msg}
	}
	req.ReferenceID = reference(sc, req.ReferenceID)

	sub, err := op(r.Context(), sc.User, req)
	if err != nil {
		status, msg := errorStatus(err)
		return SubscriptionResponse{StatusCode: status, Error: msg}
	}
	return SubscriptionResponse{Subscription: sub, StatusCode: http.StatusOK}
}

// BillingPortalHandler opens a self-service portal session
func (s *Service) BillingPortalHandler(r *http.Request) RedirectURLResponse {
	sc, ok := s.sessions.ResolveSession(r)
	if !ok {
		return RedirectURLResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}
	var req SubscriptionRequest
	if status, msg := s.decode(r, &req); status != 0 {
		return RedirectURLResponse{StatusCode: status, Error: msg}
	}
	req.ReferenceID = reference(sc, req.ReferenceID)

	target, err := s.BillingPortal(r.Context(), sc.User, req)
	if err != nil {
		status, msg := errorStatus(err)
		return RedirectURLResponse{StatusCode: status, Error: msg}
	}
	return RedirectURLResponse{URL: target, Redirect: true, StatusCode: http.StatusOK}
}

// SuccessHandler is where the hosted checkout returns to. It syncs the
// subscription and redirects to the caller's callback either way.
func (s *Service) SuccessHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	callback := s.safeRedirect(q.Get("callbackURL"))

	sc, ok := s.sessions.ResolveSession(r)
	if !ok {
		http.Redirect(w, r, callback, http.StatusFound)
		return
	}
	if _, err := s.CompleteCheckout(r.Context(), sc.User, q.Get("subscriptionId"), q.Get("session_id")); err != nil {
		slog.Error("Failed to complete checkout", "subscription_id", q.Get("subscriptionId"), "error", err)
	}
	http.Redirect(w, r, callback, http.StatusFound)
}

// reference picks the explicit reference id or falls back to the active organization.
func reference(sc *core.SessionContext, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if sc.Session != nil && sc.Session.ActiveOrganizationID != nil {
		return *sc.Session.ActiveOrganizationID
	}
	return ""
}

func (s *Service) decode(r *http.Request, dst any) (int, string) {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return http.StatusBadRequest, "Invalid request format"
	}
	if err := s.validator.Struct(dst); err != nil {
		return http.StatusBadRequest, err.Error()
	}
	return 0, ""
}

var errorMessages = []struct {
	err    error
	status int
	msg    string
}{
	{ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	{ErrNoReference, http.StatusBadRequest, "No active organization"},
	{ErrPlanNotFound, http.StatusBadRequest, "Subscription plan not found"},
	{ErrAlreadySubscribed, http.StatusBadRequest, "You're already subscribed to this plan"},
	{ErrSubscriptionNotFound, http.StatusBadRequest, "Subscription not found"},
	{ErrAlreadyCanceling, http.StatusBadRequest, "Subscription is already set to cancel"},
	{ErrNotCanceling, http.StatusBadRequest, "Subscription is not scheduled for cancellation"},
	{ErrNoCustomer, http.StatusBadRequest, "No billing customer found for this organization"},
	{ErrCheckoutMismatch, http.StatusBadRequest, "Checkout session does not match this subscription"},
}

func errorStatus(err error) (int, string) {
	for _, m := range errorMessages {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}
	slog.Error("Subscription operation failed", "error", err)
	return http.StatusInternalServerError, "Internal server error"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}
