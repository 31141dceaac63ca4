package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/wispberry-tech/wispy-portal/action"
	"github.com/wispberry-tech/wispy-portal/billing"
	"github.com/wispberry-tech/wispy-portal/core"
)

// Email and password

func (c *Client) SignUp(ctx context.Context, req core.SignUpRequest) (action.Result[core.SignUpResponse], error) {
	res, err := call[core.SignUpResponse](ctx, c, http.MethodPost, "/sign-up/email", nil, req)
	if err == nil && !res.Failed() && res.Data.Token != "" {
		c.SetToken(res.Data.Token)
	}
	return res, err
}

// SignIn authenticates and keeps the returned session token for later calls.
func (c *Client) SignIn(ctx context.Context, email, password string) (action.Result[core.SignInResponse], error) {
	res, err := call[core.SignInResponse](ctx, c, http.MethodPost, "/sign-in/email", nil, core.SignInRequest{Email: email, Password: password})
	if err == nil && !res.Failed() {
		c.SetToken(res.Data.Token)
	}
	return res, err
}

func (c *Client) SignOut(ctx context.Context) (action.Result[core.StatusResponse], error) {
	res, err := call[core.StatusResponse](ctx, c, http.MethodPost, "/sign-out", nil, struct{}{})
	if err == nil && !res.Failed() {
		c.SetToken("")
	}
	return res, err
}

func (c *Client) GetSession(ctx context.Context) (action.Result[core.GetSessionResponse], error) {
	return call[core.GetSessionResponse](ctx, c, http.MethodGet, "/get-session", nil, nil)
}

// Account

func (c *Client) RequestPasswordReset(ctx context.Context, email string) (action.Result[core.StatusResponse], error) {
	return call[core.StatusResponse](ctx, c, http.MethodPost, "/request-password-reset", nil, core.RequestPasswordResetRequest{Email: email})
}

func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) (action.Result[core.StatusResponse], error) {
	return call[core.StatusResponse](ctx, c, http.MethodPost, "/reset-password", nil, core.ResetPasswordRequest{Token: token, NewPassword: newPassword})
}

func (c *Client) ChangePassword(ctx context.Context, req core.ChangePasswordRequest) (action.Result[core.UserResponse], error) {
	return call[core.UserResponse](ctx, c, http.MethodPost, "/change-password", nil, req)
}

func (c *Client) UpdateUser(ctx context.Context, req core.UpdateUserRequest) (action.Result[core.UserResponse], error) {
	return call[core.UserResponse](ctx, c, http.MethodPost, "/update-user", nil, req)
}

func (c *Client) SendVerificationEmail(ctx context.Context, email string) (action.Result[core.StatusResponse], error) {
	return call[core.StatusResponse](ctx, c, http.MethodPost, "/send-verification-email", nil, core.SendVerificationEmailRequest{Email: email})
}

func (c *Client) DeleteUser(ctx context.Context, password string) (action.Result[core.StatusResponse], error) {
	return call[core.StatusResponse](ctx, c, http.MethodPost, "/delete-user", nil, core.DeleteUserRequest{Password: password})
}

// Sessions

func (c *Client) ListSessions(ctx context.Context) (action.Result[core.SessionsResponse], error) {
	return call[core.SessionsResponse](ctx, c, http.MethodGet, "/list-sessions", nil, nil)
}

func (c *Client) RevokeSession(ctx context.Context, token string) (action.Result[core.StatusResponse], error) {
	return call[core.StatusResponse](ctx, c, http.MethodPost, "/revoke-session", nil, core.RevokeSessionRequest{Token: token})
}

func (c *Client) RevokeOtherSessions(ctx context.Context) (action.Result[core.StatusResponse], error) {
	return call[core.StatusResponse](ctx, c, http.MethodPost, "/revoke-other-sessions", nil, struct{}{})
}

// Organizations

func (c *Client) CreateOrganization(ctx context.Context, name, slug string) (action.Result[core.OrganizationResponse], error) {
	return call[core.OrganizationResponse](ctx, c, http.MethodPost, "/organization/create", nil, core.CreateOrganizationRequest{Name: name, Slug: slug})
}

func (c *Client) ListOrganizations(ctx context.Context) (action.Result[core.OrganizationsResponse], error) {
	return call[core.OrganizationsResponse](ctx, c, http.MethodGet, "/organization/list", nil, nil)
}

func (c *Client) SetActiveOrganization(ctx context.Context, organizationID string) (action.Result[core.OrganizationResponse], error) {
	return call[core.OrganizationResponse](ctx, c, http.MethodPost, "/organization/set-active", nil, core.SetActiveOrganizationRequest{OrganizationID: &organizationID})
}

func (c *Client) GetFullOrganization(ctx context.Context) (action.Result[core.FullOrganizationResponse], error) {
	return call[core.FullOrganizationResponse](ctx, c, http.MethodGet, "/organization/get-full-organization", nil, nil)
}

func (c *Client) InviteMember(ctx context.Context, req core.InviteMemberRequest) (action.Result[core.InvitationResponse], error) {
	return call[core.InvitationResponse](ctx, c, http.MethodPost, "/organization/invite-member", nil, req)
}

func (c *Client) GetInvitation(ctx context.Context, id string) (action.Result[core.InvitationResponse], error) {
	return call[core.InvitationResponse](ctx, c, http.MethodGet, "/organization/get-invitation", url.Values{"id": {id}}, nil)
}

func (c *Client) AcceptInvitation(ctx context.Context, id string) (action.Result[core.InvitationResponse], error) {
	return call[core.InvitationResponse](ctx, c, http.MethodPost, "/organization/accept-invitation", nil, core.InvitationActionRequest{InvitationID: id})
}

func (c *Client) RejectInvitation(ctx context.Context, id string) (action.Result[core.InvitationResponse], error) {
	return call[core.InvitationResponse](ctx, c, http.MethodPost, "/organization/reject-invitation", nil, core.InvitationActionRequest{InvitationID: id})
}

func (c *Client) CancelInvitation(ctx context.Context, id string) (action.Result[core.InvitationResponse], error) {
	return call[core.InvitationResponse](ctx, c, http.MethodPost, "/organization/cancel-invitation", nil, core.InvitationActionRequest{InvitationID: id})
}

func (c *Client) RemoveMember(ctx context.Context, req core.RemoveMemberRequest) (action.Result[core.StatusResponse], error) {
	return call[core.StatusResponse](ctx, c, http.MethodPost, "/organization/remove-member", nil, req)
}

// Admin

// ListUsersQuery pages through users.
type ListUsersQuery struct {
	Limit         int
	Offset        int
	SortBy        string
	SortDirection string
}

func (c *Client) ListUsers(ctx context.Context, q ListUsersQuery) (action.Result[core.ListUsersResponse], error) {
	query := url.Values{}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		query.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.SortBy != "" {
		query.Set("sortBy", q.SortBy)
	}
	if q.SortDirection != "" {
		query.Set("sortDirection", q.SortDirection)
	}
	return call[core.ListUsersResponse](ctx, c, http.MethodGet, "/admin/list-users", query, nil)
}

func (c *Client) SetRole(ctx context.Context, userID, role string) (action.Result[core.UserResponse], error) {
	return call[core.UserResponse](ctx, c, http.MethodPost, "/admin/set-role", nil, core.SetRoleRequest{UserID: userID, Role: role})
}

func (c *Client) BanUser(ctx context.Context, req core.BanUserRequest) (action.Result[core.UserResponse], error) {
	return call[core.UserResponse](ctx, c, http.MethodPost, "/admin/ban-user", nil, req)
}

func (c *Client) UnbanUser(ctx context.Context, userID string) (action.Result[core.UserResponse], error) {
	return call[core.UserResponse](ctx, c, http.MethodPost, "/admin/unban-user", nil, core.AdminUserRequest{UserID: userID})
}

func (c *Client) RemoveUser(ctx context.Context, userID string) (action.Result[core.StatusResponse], error) {
	return call[core.StatusResponse](ctx, c, http.MethodPost, "/admin/remove-user", nil, core.AdminUserRequest{UserID: userID})
}

func (c *Client) RevokeUserSessions(ctx context.Context, userID string) (action.Result[core.StatusResponse], error) {
	return call[core.StatusResponse](ctx, c, http.MethodPost, "/admin/revoke-user-sessions", nil, core.AdminUserRequest{UserID: userID})
}

// ImpersonateUser switches the client to a session acting as userID.
func (c *Client) ImpersonateUser(ctx context.Context, userID string) (action.Result[core.ImpersonationResponse], error) {
	res, err := call[core.ImpersonationResponse](ctx, c, http.MethodPost, "/admin/impersonate-user", nil, core.AdminUserRequest{UserID: userID})
	if err == nil && !res.Failed() {
		c.SetToken(res.Data.Token)
	}
	return res, err
}

func (c *Client) HasPermission(ctx context.Context, permissions map[string][]string) (action.Result[core.HasPermissionResponse], error) {
	return call[core.HasPermissionResponse](ctx, c, http.MethodPost, "/admin/has-permission", nil, core.HasPermissionRequest{Permissions: permissions})
}

// Subscriptions

func (c *Client) ListSubscriptions(ctx context.Context, referenceID string) (action.Result[billing.SubscriptionsResponse], error) {
	var query url.Values
	if referenceID != "" {
		query = url.Values{"referenceId": {referenceID}}
	}
	return call[billing.SubscriptionsResponse](ctx, c, http.MethodGet, "/subscription/list", query, nil)
}

func (c *Client) UpgradeSubscription(ctx context.Context, req billing.UpgradeRequest) (action.Result[billing.RedirectURLResponse], error) {
	return call[billing.RedirectURLResponse](ctx, c, http.MethodPost, "/subscription/upgrade", nil, req)
}

func (c *Client) CancelSubscription(ctx context.Context, req billing.SubscriptionRequest) (action.Result[billing.SubscriptionResponse], error) {
	return call[billing.SubscriptionResponse](ctx, c, http.MethodPost, "/subscription/cancel", nil, req)
}

func (c *Client) RestoreSubscription(ctx context.Context, req billing.SubscriptionRequest) (action.Result[billing.SubscriptionResponse], error) {
	return call[billing.SubscriptionResponse](ctx, c, http.MethodPost, "/subscription/restore", nil, req)
}

func (c *Client) BillingPortal(ctx context.Context, req billing.SubscriptionRequest) (action.Result[billing.RedirectURLResponse], error) {
	return call[billing.RedirectURLResponse](ctx, c, http.MethodPost, "/subscription/billing-portal", nil, req)
}
