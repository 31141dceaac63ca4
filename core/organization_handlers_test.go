package core_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/wispberry-tech/wispy-portal/core"
)

// mustCreateOrganization creates an organization owned by the token's user.
func (e *testEnv) mustCreateOrganization(t *testing.T, token, name string) *core.Organization {
	t.Helper()
	resp := e.auth.CreateOrganizationHandler(createTestRequest(t, "POST", "/", map[string]any{"name": name}, token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("CreateOrganizationHandler() = %d %s", resp.StatusCode, resp.Error)
	}
	return resp.Organization
}

func TestCreateOrganization(t *testing.T) {
	env := mustCreateTestAuthService(t)
	owner, token := env.mustSignUp(t, "owner@example.com", "Owner")

	org := env.mustCreateOrganization(t, token, "Acme Inc.")
	if org.Slug != "acme-inc" {
		t.Errorf("slug = %q, want acme-inc", org.Slug)
	}

	member, _ := env.store.GetMember(org.ID, owner.ID)
	if member == nil || member.Role != core.MemberRoleOwner {
		t.Fatalf("creator membership = %+v", member)
	}

	sc, _ := env.auth.ResolveSession(createTestRequest(t, "GET", "/", nil, token))
	if sc.Session.ActiveOrganizationID == nil || *sc.Session.ActiveOrganizationID != org.ID {
		t.Error("new organization was not made active")
	}

	dup := env.auth.CreateOrganizationHandler(createTestRequest(t, "POST", "/", map[string]any{"name": "Acme Inc"}, token))
	if dup.StatusCode != http.StatusConflict {
		t.Errorf("duplicate slug = %d, want 409", dup.StatusCode)
	}

	list := env.auth.ListOrganizationsHandler(createTestRequest(t, "GET", "/", nil, token))
	if len(list.Organizations) != 1 {
		t.Errorf("ListOrganizationsHandler() = %d organizations", len(list.Organizations))
	}
}

func TestSetActiveOrganization(t *testing.T) {
	env := mustCreateTestAuthService(t)
	_, token := env.mustSignUp(t, "owner@example.com", "Owner")
	_, strangerToken := env.mustSignUp(t, "stranger@example.com", "Stranger")
	org := env.mustCreateOrganization(t, token, "Acme")

	cleared := env.auth.SetActiveOrganizationHandler(createTestRequest(t, "POST", "/", map[string]any{"organizationId": nil}, token))
	if cleared.StatusCode != http.StatusOK {
		t.Fatalf("clearing active organization = %d", cleared.StatusCode)
	}
	full := env.auth.GetFullOrganizationHandler(createTestRequest(t, "GET", "/", nil, token))
	if full.StatusCode != http.StatusOK || full.Organization != nil {
		t.Errorf("full organization without active = %d %v", full.StatusCode, full.Organization)
	}

	set := env.auth.SetActiveOrganizationHandler(createTestRequest(t, "POST", "/", map[string]any{"organizationId": org.ID}, token))
	if set.StatusCode != http.StatusOK || set.Organization.ID != org.ID {
		t.Fatalf("SetActiveOrganizationHandler() = %d", set.StatusCode)
	}

	forbidden := env.auth.SetActiveOrganizationHandler(createTestRequest(t, "POST", "/", map[string]any{"organizationId": org.ID}, strangerToken))
	if forbidden.StatusCode != http.StatusForbidden {
		t.Errorf("non-member activation = %d, want 403", forbidden.StatusCode)
	}

	full = env.auth.GetFullOrganizationHandler(createTestRequest(t, "GET", "/", nil, token))
	if full.StatusCode != http.StatusOK || len(full.Members) != 1 || full.Members[0].User == nil {
		t.Fatalf("GetFullOrganizationHandler() = %d members=%d", full.StatusCode, len(full.Members))
	}
	if full.Members[0].User.PasswordHash != "" {
		t.Error("member user leaks password hash")
	}
}

func TestInvitationLifecycle(t *testing.T) {
	env := mustCreateTestAuthService(t)
	_, ownerToken := env.mustSignUp(t, "owner@example.com", "Owner")
	invitee, inviteeToken := env.mustSignUp(t, "invitee@example.com", "Invitee")
	_, otherToken := env.mustSignUp(t, "other@example.com", "Other")
	org := env.mustCreateOrganization(t, ownerToken, "Acme")

	inv := env.auth.InviteMemberHandler(createTestRequest(t, "POST", "/", map[string]any{
		"email": "Invitee@example.com", "role": "member",
	}, ownerToken))
	if inv.StatusCode != http.StatusOK {
		t.Fatalf("InviteMemberHandler() = %d %s", inv.StatusCode, inv.Error)
	}
	if inv.Invitation.Status != core.InvitationPending {
		t.Errorf("status = %q", inv.Invitation.Status)
	}
	if d := time.Until(inv.Invitation.ExpiresAt); d < 47*time.Hour || d > 48*time.Hour {
		t.Errorf("invitation expires in %v, want 48h", d)
	}

	email := env.mailer.last(t, "invitation", "invitee@example.com")
	if email.Link != "http://portal.test/organizations/invites/"+inv.Invitation.ID {
		t.Errorf("invite link = %q", email.Link)
	}

	again := env.auth.InviteMemberHandler(createTestRequest(t, "POST", "/", map[string]any{
		"email": "invitee@example.com", "role": "member",
	}, ownerToken))
	if again.StatusCode != http.StatusBadRequest || !strings.Contains(again.Error, "already invited") {
		t.Errorf("duplicate invitation = %d %q", again.StatusCode, again.Error)
	}

	wrongRecipient := env.auth.InvitationDetails(mustResolve(t, env, otherToken), inv.Invitation.ID)
	if wrongRecipient.StatusCode != http.StatusForbidden {
		t.Errorf("details for another user = %d, want 403", wrongRecipient.StatusCode)
	}

	details := env.auth.GetInvitationHandler(createTestRequest(t, "GET", "/?id="+inv.Invitation.ID, nil, inviteeToken))
	if details.StatusCode != http.StatusOK {
		t.Fatalf("GetInvitationHandler() = %d %s", details.StatusCode, details.Error)
	}
	if details.OrganizationName != "Acme" || details.InviterEmail != "owner@example.com" {
		t.Errorf("details = %+v", details)
	}

	accept := env.auth.AcceptInvitationHandler(createTestRequest(t, "POST", "/", map[string]any{
		"invitationId": inv.Invitation.ID,
	}, inviteeToken))
	if accept.StatusCode != http.StatusOK {
		t.Fatalf("AcceptInvitationHandler() = %d %s", accept.StatusCode, accept.Error)
	}
	if m, _ := env.store.GetMember(org.ID, invitee.ID); m == nil || m.Role != core.MemberRoleMember {
		t.Errorf("membership after accept = %+v", m)
	}
	if sc := mustResolve(t, env, inviteeToken); sc.Session.ActiveOrganizationID == nil || *sc.Session.ActiveOrganizationID != org.ID {
		t.Error("joined organization was not made active")
	}

	reaccept := env.auth.AcceptInvitationHandler(createTestRequest(t, "POST", "/", map[string]any{
		"invitationId": inv.Invitation.ID,
	}, inviteeToken))
	if reaccept.StatusCode != http.StatusBadRequest {
		t.Errorf("accepting twice = %d, want 400", reaccept.StatusCode)
	}

	member := env.auth.InviteMemberHandler(createTestRequest(t, "POST", "/", map[string]any{
		"email": "invitee@example.com", "role": "member",
	}, ownerToken))
	if member.StatusCode != http.StatusBadRequest || member.Error != "Already a member" {
		t.Errorf("inviting a member = %d %q", member.StatusCode, member.Error)
	}

	notAllowed := env.auth.InviteMemberHandler(createTestRequest(t, "POST", "/", map[string]any{
		"email": "new@example.com", "role": "member", "organizationId": org.ID,
	}, inviteeToken))
	if notAllowed.StatusCode != http.StatusForbidden {
		t.Errorf("member inviting = %d, want 403", notAllowed.StatusCode)
	}
}

func TestRejectAndCancelInvitation(t *testing.T) {
	env := mustCreateTestAuthService(t)
	_, ownerToken := env.mustSignUp(t, "owner@example.com", "Owner")
	_, inviteeToken := env.mustSignUp(t, "invitee@example.com", "Invitee")
	env.mustCreateOrganization(t, ownerToken, "Acme")

	first := env.auth.InviteMemberHandler(createTestRequest(t, "POST", "/", map[string]any{"email": "invitee@example.com", "role": "admin"}, ownerToken))
	reject := env.auth.RejectInvitationHandler(createTestRequest(t, "POST", "/", map[string]any{"invitationId": first.Invitation.ID}, inviteeToken))
	if reject.StatusCode != http.StatusOK || reject.Invitation.Status != core.InvitationRejected {
		t.Fatalf("RejectInvitationHandler() = %d", reject.StatusCode)
	}

	second := env.auth.InviteMemberHandler(createTestRequest(t, "POST", "/", map[string]any{"email": "invitee@example.com", "role": "member"}, ownerToken))
	if second.StatusCode != http.StatusOK {
		t.Fatalf("re-invite after rejection = %d %s", second.StatusCode, second.Error)
	}

	notOwner := env.auth.CancelInvitationHandler(createTestRequest(t, "POST", "/", map[string]any{"invitationId": second.Invitation.ID}, inviteeToken))
	if notOwner.StatusCode != http.StatusForbidden {
		t.Errorf("cancel by non-member = %d, want 403", notOwner.StatusCode)
	}

	cancel := env.auth.CancelInvitationHandler(createTestRequest(t, "POST", "/", map[string]any{"invitationId": second.Invitation.ID}, ownerToken))
	if cancel.StatusCode != http.StatusOK || cancel.Invitation.Status != core.InvitationCanceled {
		t.Fatalf("CancelInvitationHandler() = %d", cancel.StatusCode)
	}

	accept := env.auth.AcceptInvitationHandler(createTestRequest(t, "POST", "/", map[string]any{"invitationId": second.Invitation.ID}, inviteeToken))
	if accept.StatusCode != http.StatusBadRequest {
		t.Errorf("accepting a canceled invitation = %d", accept.StatusCode)
	}

	rejected := env.auth.CancelInvitationHandler(createTestRequest(t, "POST", "/", map[string]any{"invitationId": first.Invitation.ID}, ownerToken))
	if rejected.StatusCode != http.StatusBadRequest {
		t.Errorf("canceling a rejected invitation = %d, want 400", rejected.StatusCode)
	}
	stored, err := env.store.GetInvitation(first.Invitation.ID)
	if err != nil || stored.Status != core.InvitationRejected {
		t.Errorf("rejected invitation was rewritten: %+v, %v", stored, err)
	}
}

func TestRemoveMember(t *testing.T) {
	env := mustCreateTestAuthService(t)
	owner, ownerToken := env.mustSignUp(t, "owner@example.com", "Owner")
	member, memberToken := env.mustSignUp(t, "member@example.com", "Member")
	org := env.mustCreateOrganization(t, ownerToken, "Acme")
	env.store.CreateMember(&core.Member{OrganizationID: org.ID, UserID: member.ID, Role: core.MemberRoleMember})

	lastOwner := env.auth.RemoveMemberHandler(createTestRequest(t, "POST", "/", map[string]any{"userId": owner.ID}, ownerToken))
	if lastOwner.StatusCode != http.StatusBadRequest {
		t.Errorf("removing the only owner = %d, want 400", lastOwner.StatusCode)
	}

	byMember := env.auth.RemoveMemberHandler(createTestRequest(t, "POST", "/", map[string]any{
		"userId": owner.ID, "organizationId": org.ID,
	}, memberToken))
	if byMember.StatusCode != http.StatusForbidden {
		t.Errorf("member removing owner = %d, want 403", byMember.StatusCode)
	}

	leave := env.auth.RemoveMemberHandler(createTestRequest(t, "POST", "/", map[string]any{
		"userId": member.ID, "organizationId": org.ID,
	}, memberToken))
	if leave.StatusCode != http.StatusOK {
		t.Fatalf("member leaving = %d %s", leave.StatusCode, leave.Error)
	}
	if m, _ := env.store.GetMember(org.ID, member.ID); m != nil {
		t.Error("membership still exists")
	}
}

func mustResolve(t *testing.T, env *testEnv, token string) *core.SessionContext {
	t.Helper()
	sc, ok := env.auth.ResolveSession(createTestRequest(t, "GET", "/", nil, token))
	if !ok {
		t.Fatal("session does not resolve")
	}
	return sc
}
