package core

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// CreateOrganizationRequest creates an organization owned by the caller
type CreateOrganizationRequest struct {
	Name string `json:"name" validate:"required,min=2,max=100"`
	Slug string `json:"slug" validate:"omitempty,max=100"`
	Logo string `json:"logo" validate:"omitempty,url"`
}

// SetActiveOrganizationRequest switches the session's organization; null clears it.
type SetActiveOrganizationRequest struct {
	OrganizationID *string `json:"organizationId"`
}

// InviteMemberRequest invites an email address. OrganizationID defaults to
// the active organization.
type InviteMemberRequest struct {
	Email          string `json:"email" validate:"required,email"`
	Role           string `json:"role" validate:"required,oneof=member admin owner"`
	OrganizationID string `json:"organizationId"`
}

// InvitationActionRequest names an invitation to accept, reject or cancel
type InvitationActionRequest struct {
	InvitationID string `json:"invitationId" validate:"required"`
}

// RemoveMemberRequest removes a user from an organization
type RemoveMemberRequest struct {
	UserID         string `json:"userId" validate:"required"`
	OrganizationID string `json:"organizationId"`
}

// OrganizationResponse carries one organization
type OrganizationResponse struct {
	Organization *Organization `json:"organization"`
	StatusCode   int           `json:"-"`
	Error        string        `json:"error,omitempty"`
}

// OrganizationsResponse lists organizations
type OrganizationsResponse struct {
	Organizations []*Organization `json:"organizations"`
	StatusCode    int             `json:"-"`
	Error         string          `json:"error,omitempty"`
}

// FullOrganizationResponse is an organization with its members and invitations
type FullOrganizationResponse struct {
	Organization *Organization `json:"organization"`
	Members      []*Member     `json:"members"`
	Invitations  []*Invitation `json:"invitations"`
	StatusCode   int           `json:"-"`
	Error        string        `json:"error,omitempty"`
}

// InvitationResponse carries an invitation and what the recipient needs to decide on it
type InvitationResponse struct {
	Invitation       *Invitation `json:"invitation"`
	OrganizationName string      `json:"organizationName,omitempty"`
	OrganizationSlug string      `json:"organizationSlug,omitempty"`
	InviterEmail     string      `json:"inviterEmail,omitempty"`
	Member           *Member     `json:"member,omitempty"`
	StatusCode       int         `json:"-"`
	Error            string      `json:"error,omitempty"`
}

// membership returns the caller's member record in orgID.
func (a *AuthService) membership(orgID, userID string) (*Member, int, string) {
	if orgID == "" {
		return nil, http.StatusBadRequest, "No active organization"
	}
	member, err := a.storage.GetMember(orgID, userID)
	if err != nil {
		slog.Error("Failed to load membership", "organization_id", orgID, "user_id", userID, "error", err)
		return nil, http.StatusInternalServerError, "Internal server error"
	}
	if member == nil {
		return nil, http.StatusForbidden, "You are not a member of this organization"
	}
	return member, 0, ""
}

// targetOrganization picks the explicit organization id or falls back to the active one.
func targetOrganization(sc *SessionContext, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if sc.Session.ActiveOrganizationID != nil {
		return *sc.Session.ActiveOrganizationID
	}
	return ""
}

func (a *AuthService) setActiveOrganization(sc *SessionContext, orgID *string) error {
	sc.Session.ActiveOrganizationID = orgID
	sc.Session.UpdatedAt = time.Now()
	return a.storage.UpdateSession(sc.Session)
}

// CreateOrganizationHandler creates an organization and makes the caller its owner
func (a *AuthService) CreateOrganizationHandler(r *http.Request) OrganizationResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return OrganizationResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	var req CreateOrganizationRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return OrganizationResponse{StatusCode: status, Error: msg}
	}

	slug := slugify(req.Slug)
	if slug == "" {
		slug = slugify(req.Name)
	}
	if slug == "" {
		return OrganizationResponse{StatusCode: http.StatusBadRequest, Error: "Slug is invalid"}
	}

	existing, err := a.storage.GetOrganizationBySlug(slug)
	if err != nil {
		slog.Error("Failed to check organization slug", "error", err)
		return OrganizationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	if existing != nil {
		return OrganizationResponse{StatusCode: http.StatusConflict, Error: "Organization already exists"}
	}

	org := &Organization{Name: strings.TrimSpace(req.Name), Slug: slug, Logo: req.Logo}
	if err := a.storage.CreateOrganization(org); err != nil {
		slog.Error("Failed to create organization", "error", err)
		return OrganizationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	owner := &Member{OrganizationID: org.ID, UserID: sc.User.ID, Role: MemberRoleOwner}
	if err := a.storage.CreateMember(owner); err != nil {
		slog.Error("Failed to add organization owner", "organization_id", org.ID, "error", err)
		return OrganizationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	orgID := org.ID
	if err := a.setActiveOrganization(sc, &orgID); err != nil {
		slog.Error("Failed to activate new organization", "organization_id", org.ID, "error", err)
	}

	slog.Info("Organization created", "organization_id", org.ID, "owner_id", sc.User.ID)
	return OrganizationResponse{StatusCode: http.StatusOK, Organization: org}
}

// ListOrganizationsHandler lists the caller's organizations
func (a *AuthService) ListOrganizationsHandler(r *http.Request) OrganizationsResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return OrganizationsResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	orgs, err := a.storage.ListUserOrganizations(sc.User.ID)
	if err != nil {
		slog.Error("Failed to list organizations", "error", err)
		return OrganizationsResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	if orgs == nil {
		orgs = []*Organization{}
	}
	return OrganizationsResponse{StatusCode: http.StatusOK, Organizations: orgs}
}

// SetActiveOrganizationHandler switches the session's active organization
func (a *AuthService) SetActiveOrganizationHandler(r *http.Request) OrganizationResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return OrganizationResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	var req SetActiveOrganizationRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return OrganizationResponse{StatusCode: status, Error: msg}
	}

	if req.OrganizationID == nil || *req.OrganizationID == "" {
		if err := a.setActiveOrganization(sc, nil); err != nil {
			slog.Error("Failed to clear active organization", "error", err)
			return OrganizationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
		}
		return OrganizationResponse{StatusCode: http.StatusOK}
	}

	if _, status, msg := a.membership(*req.OrganizationID, sc.User.ID); status != 0 {
		return OrganizationResponse{StatusCode: status, Error: msg}
	}

	org, err := a.storage.GetOrganization(*req.OrganizationID)
	if err != nil || org == nil {
		return OrganizationResponse{StatusCode: http.StatusNotFound, Error: "Organization not found"}
	}

	if err := a.setActiveOrganization(sc, req.OrganizationID); err != nil {
		slog.Error("Failed to set active organization", "error", err)
		return OrganizationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	return OrganizationResponse{StatusCode: http.StatusOK, Organization: org}
}

// GetFullOrganizationHandler returns an organization with members and invitations
func (a *AuthService) GetFullOrganizationHandler(r *http.Request) FullOrganizationResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return FullOrganizationResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	orgID := targetOrganization(sc, r.URL.Query().Get("organizationId"))
	if orgID == "" {
		// No active organization is not an error for the caller.
		return FullOrganizationResponse{StatusCode: http.StatusOK}
	}
	if _, status, msg := a.membership(orgID, sc.User.ID); status != 0 {
		return FullOrganizationResponse{StatusCode: status, Error: msg}
	}

	full, err := a.FullOrganization(orgID)
	if err != nil {
		slog.Error("Failed to load organization", "organization_id", orgID, "error", err)
		return FullOrganizationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	if full.Organization == nil {
		return FullOrganizationResponse{StatusCode: http.StatusNotFound, Error: "Organization not found"}
	}
	full.StatusCode = http.StatusOK
	return full
}

// FullOrganization loads an organization with its members (users attached) and invitations.
func (a *AuthService) FullOrganization(orgID string) (FullOrganizationResponse, error) {
	org, err := a.storage.GetOrganization(orgID)
	if err != nil || org == nil {
		return FullOrganizationResponse{}, err
	}
	members, err := a.storage.ListMembers(orgID)
	if err != nil {
		return FullOrganizationResponse{}, err
	}
	for _, m := range members {
		u, err := a.storage.GetUserByID(m.UserID)
		if err != nil {
			return FullOrganizationResponse{}, err
		}
		if u != nil {
			u.PasswordHash = ""
			m.User = u
		}
	}
	invitations, err := a.storage.ListInvitations(orgID)
	if err != nil {
		return FullOrganizationResponse{}, err
	}
	return FullOrganizationResponse{Organization: org, Members: members, Invitations: invitations}, nil
}

// InviteMemberHandler invites an email address into an organization and mails the link
func (a *AuthService) InviteMemberHandler(r *http.Request) InvitationResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return InvitationResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	var req InviteMemberRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return InvitationResponse{StatusCode: status, Error: msg}
	}

	orgID := targetOrganization(sc, req.OrganizationID)
	member, status, msg := a.membership(orgID, sc.User.ID)
	if status != 0 {
		return InvitationResponse{StatusCode: status, Error: msg}
	}
	if !orgRoleAllows(member.Role, OrgInvitationCreate) {
		return InvitationResponse{StatusCode: http.StatusForbidden, Error: "You are not allowed to invite members"}
	}
	if req.Role == MemberRoleOwner && member.Role != MemberRoleOwner {
		return InvitationResponse{StatusCode: http.StatusForbidden, Error: "Only owners can invite owners"}
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))

	if invitee, err := a.storage.GetUserByEmail(email); err != nil {
		slog.Error("Failed to look up invitee", "error", err)
		return InvitationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	} else if invitee != nil {
		existing, err := a.storage.GetMember(orgID, invitee.ID)
		if err != nil {
			slog.Error("Failed to check invitee membership", "error", err)
			return InvitationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
		}
		if existing != nil {
			return InvitationResponse{StatusCode: http.StatusBadRequest, Error: "Already a member"}
		}
	}

	pending, err := a.storage.ListInvitations(orgID)
	if err != nil {
		slog.Error("Failed to list invitations", "error", err)
		return InvitationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	for _, inv := range pending {
		if inv.Email == email && inv.Status == InvitationPending && inv.ExpiresAt.After(time.Now()) {
			return InvitationResponse{StatusCode: http.StatusBadRequest, Error: "User is already invited to this organization"}
		}
	}

	org, err := a.storage.GetOrganization(orgID)
	if err != nil || org == nil {
		return InvitationResponse{StatusCode: http.StatusNotFound, Error: "Organization not found"}
	}

	inv := &Invitation{
		OrganizationID: orgID,
		Email:          email,
		Role:           req.Role,
		Status:         InvitationPending,
		InviterID:      sc.User.ID,
		ExpiresAt:      time.Now().Add(a.securityConfig.InvitationExpiry),
	}
	if err := a.storage.CreateInvitation(inv); err != nil {
		slog.Error("Failed to create invitation", "error", err)
		return InvitationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	inviter := sc.User.Name
	if inviter == "" {
		inviter = sc.User.Email
	}
	if err := a.mailer.SendOrganizationInvitation(r.Context(), InvitationEmail{
		To:               email,
		OrganizationName: org.Name,
		InviterName:      inviter,
		InvitationID:     inv.ID,
		InviteLink:       a.baseURL + "/organizations/invites/" + inv.ID,
	}); err != nil {
		slog.Error("Failed to send invitation email", "invitation_id", inv.ID, "error", err)
	}

	return InvitationResponse{StatusCode: http.StatusOK, Invitation: inv, OrganizationName: org.Name, OrganizationSlug: org.Slug}
}

// recipientInvitation loads a pending, unexpired invitation addressed to the caller.
func (a *AuthService) recipientInvitation(sc *SessionContext, id string) (*Invitation, int, string) {
	inv, err := a.storage.GetInvitation(id)
	if err != nil {
		slog.Error("Failed to load invitation", "invitation_id", id, "error", err)
		return nil, http.StatusInternalServerError, "Internal server error"
	}
	if inv == nil || inv.Status != InvitationPending || time.Now().After(inv.ExpiresAt) {
		return nil, http.StatusBadRequest, "Invitation not found"
	}
	if !strings.EqualFold(inv.Email, sc.User.Email) {
		return nil, http.StatusForbidden, "You are not the recipient of the invitation"
	}
	return inv, 0, ""
}

// GetInvitationHandler shows a pending invitation to its recipient
func (a *AuthService) GetInvitationHandler(r *http.Request) InvitationResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return InvitationResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}
	return a.InvitationDetails(sc, r.URL.Query().Get("id"))
}

// InvitationDetails returns a pending invitation addressed to sc's user with
// its organization and inviter.
func (a *AuthService) InvitationDetails(sc *SessionContext, id string) InvitationResponse {
	inv, status, msg := a.recipientInvitation(sc, id)
	if status != 0 {
		return InvitationResponse{StatusCode: status, Error: msg}
	}

	resp := InvitationResponse{StatusCode: http.StatusOK, Invitation: inv}
	if org, err := a.storage.GetOrganization(inv.OrganizationID); err == nil && org != nil {
		resp.OrganizationName = org.Name
		resp.OrganizationSlug = org.Slug
	}
	if inviter, err := a.storage.GetUserByID(inv.InviterID); err == nil && inviter != nil {
		resp.InviterEmail = inviter.Email
	}
	return resp
}

// AcceptInvitationHandler joins the caller to the inviting organization
func (a *AuthService) AcceptInvitationHandler(r *http.Request) InvitationResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return InvitationResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	var req InvitationActionRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return InvitationResponse{StatusCode: status, Error: msg}
	}

	inv, status, msg := a.recipientInvitation(sc, req.InvitationID)
	if status != 0 {
		return InvitationResponse{StatusCode: status, Error: msg}
	}

	member, err := a.storage.GetMember(inv.OrganizationID, sc.User.ID)
	if err != nil {
		slog.Error("Failed to check membership", "error", err)
		return InvitationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	if member == nil {
		member = &Member{OrganizationID: inv.OrganizationID, UserID: sc.User.ID, Role: inv.Role}
		if err := a.storage.CreateMember(member); err != nil {
			slog.Error("Failed to create member", "error", err)
			return InvitationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
		}
	}

	inv.Status = InvitationAccepted
	if err := a.storage.UpdateInvitation(inv); err != nil {
		slog.Error("Failed to update invitation", "error", err)
		return InvitationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	orgID := inv.OrganizationID
	if err := a.setActiveOrganization(sc, &orgID); err != nil {
		slog.Error("Failed to activate joined organization", "error", err)
	}

	return InvitationResponse{StatusCode: http.StatusOK, Invitation: inv, Member: member}
}

// RejectInvitationHandler declines an invitation
func (a *AuthService) RejectInvitationHandler(r *http.Request) InvitationResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return InvitationResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	var req InvitationActionRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return InvitationResponse{StatusCode: status, Error: msg}
	}

	inv, status, msg := a.recipientInvitation(sc, req.InvitationID)
	if status != 0 {
		return InvitationResponse{StatusCode: status, Error: msg}
	}

	inv.Status = InvitationRejected
	if err := a.storage.UpdateInvitation(inv); err != nil {
		slog.Error("Failed to update invitation", "error", err)
		return InvitationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	return InvitationResponse{StatusCode: http.StatusOK, Invitation: inv}
}

// CancelInvitationHandler withdraws a pending invitation
func (a *AuthService) CancelInvitationHandler(r *http.Request) InvitationResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return InvitationResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	var req InvitationActionRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return InvitationResponse{StatusCode: status, Error: msg}
	}

	inv, err := a.storage.GetInvitation(req.InvitationID)
	if err != nil {
		slog.Error("Failed to load invitation", "error", err)
		return InvitationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	if inv == nil {
		return InvitationResponse{StatusCode: http.StatusBadRequest, Error: "Invitation not found"}
	}

	member, status, msg := a.membership(inv.OrganizationID, sc.User.ID)
	if status != 0 {
		return InvitationResponse{StatusCode: status, Error: msg}
	}
	if !orgRoleAllows(member.Role, OrgInvitationCancel) {
		return InvitationResponse{StatusCode: http.StatusForbidden, Error: "You are not allowed to cancel this invitation"}
	}
	if inv.Status != InvitationPending {
		return InvitationResponse{StatusCode: http.StatusBadRequest, Error: "Invitation is no longer pending"}
	}

	inv.Status = InvitationCanceled
	if err := a.storage.UpdateInvitation(inv); err != nil {
		slog.Error("Failed to cancel invitation", "error", err)
		return InvitationResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	return InvitationResponse{StatusCode: http.StatusOK, Invitation: inv}
}

// RemoveMemberHandler removes a member, or lets a member leave
func (a *AuthService) RemoveMemberHandler(r *http.Request) StatusResponse {
	sc, ok := a.ResolveSession(r)
	if !ok {
		return StatusResponse{StatusCode: http.StatusUnauthorized, Error: "User not authenticated"}
	}

	var req RemoveMemberRequest
	if status, msg := a.decodeRequest(r, &req); status != 0 {
		return StatusResponse{StatusCode: status, Error: msg}
	}

	orgID := targetOrganization(sc, req.OrganizationID)
	caller, status, msg := a.membership(orgID, sc.User.ID)
	if status != 0 {
		return StatusResponse{StatusCode: status, Error: msg}
	}
	if req.UserID != sc.User.ID && !orgRoleAllows(caller.Role, OrgMemberDelete) {
		return StatusResponse{StatusCode: http.StatusForbidden, Error: "You are not allowed to remove members"}
	}

	target, err := a.storage.GetMember(orgID, req.UserID)
	if err != nil {
		slog.Error("Failed to load member", "error", err)
		return StatusResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	if target == nil {
		return StatusResponse{StatusCode: http.StatusNotFound, Error: "Member not found"}
	}

	if target.Role == MemberRoleOwner {
		members, err := a.storage.ListMembers(orgID)
		if err != nil {
			slog.Error("Failed to list members", "error", err)
			return StatusResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
		}
		owners := 0
		for _, m := range members {
			if m.Role == MemberRoleOwner {
				owners++
			}
		}
		if owners <= 1 {
			return StatusResponse{StatusCode: http.StatusBadRequest, Error: "You cannot leave the organization as the only owner"}
		}
	}

	if err := a.storage.DeleteMember(orgID, req.UserID); err != nil {
		slog.Error("Failed to remove member", "error", err)
		return StatusResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	if req.UserID == sc.User.ID && sc.Session.ActiveOrganizationID != nil && *sc.Session.ActiveOrganizationID == orgID {
		if err := a.setActiveOrganization(sc, nil); err != nil {
			slog.Error("Failed to clear active organization", "error", err)
		}
	}

	return StatusResponse{StatusCode: http.StatusOK, Status: true}
}
