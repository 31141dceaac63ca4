package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/wispberry-tech/wispy-portal/billing"
	"github.com/wispberry-tech/wispy-portal/core"
)

//go:embed templates/*.html static/*
var assets embed.FS

var pageFiles = []string{"home", "login", "reset_password", "profile", "organizations", "invitation", "admin"}

// Config configures the pages.
type Config struct {
	Auth *core.AuthService
	// Billing is optional; without it the organizations page has no
	// subscriptions section.
	Billing *billing.Service
	// SocialProviders lists the providers offered on the login page.
	SocialProviders []string
	AppName         string
}

// Pages renders the portal's HTML pages.
type Pages struct {
	auth      *core.AuthService
	storage   core.Storage
	billing   *billing.Service
	guard     *Guard
	social    []string
	appName   string
	templates map[string]*template.Template
}

// New parses the page templates.
func New(cfg Config) (*Pages, error) {
	if cfg.Auth == nil {
		return nil, fmt.Errorf("web: auth service is required")
	}
	p := &Pages{
		auth:      cfg.Auth,
		storage:   cfg.Auth.Storage(),
		billing:   cfg.Billing,
		guard:     NewGuard(cfg.Auth, cfg.Auth.AccessControl()),
		social:    cfg.SocialProviders,
		appName:   cfg.AppName,
		templates: make(map[string]*template.Template),
	}
	if p.appName == "" {
		p.appName = "Wispy Portal"
	}

	funcs := template.FuncMap{
		"initial": func(name string) string {
			r, _ := utf8.DecodeRuneInString(name)
			if r == utf8.RuneError {
				return "?"
			}
			return strings.ToUpper(string(r))
		},
		"date": func(t time.Time) string { return t.Format("Jan 2, 2006 15:04") },
	}
	for _, name := range pageFiles {
		tmpl, err := template.New(name).Funcs(funcs).ParseFS(assets, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("web: parse %s: %w", name, err)
		}
		p.templates[name] = tmpl
	}
	return p, nil
}

// Guard returns the guard protecting the pages.
func (p *Pages) Guard() *Guard {
	return p.guard
}

// Routes returns a router serving every page and the static assets.
func (p *Pages) Routes() chi.Router {
	r := chi.NewRouter()
	r.Handle("/static/*", http.FileServer(http.FS(assets)))

	r.Get("/", p.home)
	r.Get("/auth/login", p.login)
	r.Get("/auth/reset-password", p.resetPassword)

	r.Group(func(r chi.Router) {
		r.Use(p.guard.RequireSession)
		r.Get("/profile", p.profile)
		r.Get("/organizations", p.organizations)
		r.Get("/organizations/invites/{id}", p.invitation)
	})
	r.With(p.guard.RequirePermission(core.CapUserList)).Get("/admin", p.admin)
	return r
}

// pageData is what every template receives.
type pageData struct {
	Title   string
	AppName string
	// Session is nil for anonymous visitors.
	Session *core.SessionContext
	Content any
}

// Impersonating drives the banner in the layout.
func (d pageData) Impersonating() bool {
	return d.Session.IsImpersonating()
}

func (p *Pages) render(w http.ResponseWriter, r *http.Request, name, title string, sc *core.SessionContext, content any) {
	var buf bytes.Buffer
	data := pageData{Title: title, AppName: p.appName, Session: sc, Content: content}
	if err := p.templates[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("Failed to render page", "page", name, "path", r.URL.Path, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

func sessionOf(r *http.Request) *core.SessionContext {
	sc, _ := core.SessionFromContext(r.Context())
	return sc
}

func (p *Pages) home(w http.ResponseWriter, r *http.Request) {
	sc, _ := p.auth.ResolveSession(r)
	p.render(w, r, "home", "Home", sc, nil)
}

type loginContent struct {
	SocialProviders []string
	BasePath        string
}

func (p *Pages) login(w http.ResponseWriter, r *http.Request) {
	sc, _ := p.auth.ResolveSession(r)
	p.render(w, r, "login", "Log in", sc, loginContent{SocialProviders: p.social, BasePath: p.auth.BasePath()})
}

func (p *Pages) resetPassword(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, "reset_password", "Reset password", nil, r.URL.Query().Get("token"))
}

type profileContent struct {
	Sessions     []*core.Session
	CurrentToken string
}

func (p *Pages) profile(w http.ResponseWriter, r *http.Request) {
	sc := sessionOf(r)
	sessions, err := p.storage.GetUserSessions(sc.User.ID)
	if err != nil {
		slog.Error("Failed to list sessions for profile", "user_id", sc.User.ID, "error", err)
	}
	p.render(w, r, "profile", "Profile", sc, profileContent{Sessions: sessions, CurrentToken: sc.Session.Token})
}

type memberRow struct {
	Member *core.Member
	User   *core.User
}

type planRow struct {
	Plan    billing.Plan
	Current bool
	// Canceling marks the current plan when it ends with the period.
	Canceling bool
}

type organizationsContent struct {
	Organizations []*core.Organization
	Active        *core.Organization
	Role          string
	Members       []memberRow
	Invitations   []*core.Invitation
	Billing       bool
	Subscription  *core.Subscription
	Plans         []planRow
}

// CanManage reports whether the caller may invite and remove members.
func (c organizationsContent) CanManage() bool {
	return c.Role == core.MemberRoleOwner || c.Role == core.MemberRoleAdmin
}

func (p *Pages) organizations(w http.ResponseWriter, r *http.Request) {
	sc := sessionOf(r)
	content := organizationsContent{Billing: p.billing != nil}

	orgs, err := p.storage.ListUserOrganizations(sc.User.ID)
	if err != nil {
		slog.Error("Failed to list organizations", "user_id", sc.User.ID, "error", err)
	}
	content.Organizations = orgs

	if sc.Session.ActiveOrganizationID != nil {
		p.loadActiveOrganization(sc, *sc.Session.ActiveOrganizationID, &content)
	}
	p.render(w, r, "organizations", "Organizations", sc, content)
}

func (p *Pages) loadActiveOrganization(sc *core.SessionContext, orgID string, content *organizationsContent) {
	member, err := p.storage.GetMember(orgID, sc.User.ID)
	if err != nil || member == nil {
		return
	}
	org, err := p.storage.GetOrganization(orgID)
	if err != nil || org == nil {
		return
	}
	content.Active = org
	content.Role = member.Role

	members, err := p.storage.ListMembers(orgID)
	if err != nil {
		slog.Error("Failed to list members", "organization_id", orgID, "error", err)
	}
	for _, m := range members {
		user, err := p.storage.GetUserByID(m.UserID)
		if err != nil || user == nil {
			continue
		}
		content.Members = append(content.Members, memberRow{Member: m, User: user})
	}

	invitations, err := p.storage.ListInvitations(orgID)
	if err != nil {
		slog.Error("Failed to list invitations", "organization_id", orgID, "error", err)
	}
	for _, inv := range invitations {
		if inv.Status == core.InvitationPending {
			content.Invitations = append(content.Invitations, inv)
		}
	}

	if p.billing == nil {
		return
	}
	subs, err := p.storage.ListSubscriptions(orgID)
	if err != nil {
		slog.Error("Failed to list subscriptions", "organization_id", orgID, "error", err)
	}
	content.Subscription = billing.ActiveSubscription(subs)
	for _, plan := range p.billing.Plans() {
		row := planRow{Plan: plan}
		if content.Subscription != nil && content.Subscription.Plan == plan.Name {
			row.Current = true
			row.Canceling = content.Subscription.CancelAtPeriodEnd
		}
		content.Plans = append(content.Plans, row)
	}
}

type invitationContent struct {
	Invitation       *core.Invitation
	OrganizationName string
}

// invitation shows a pending invitation addressed to the caller. Anything
// else sends the visitor home.
func (p *Pages) invitation(w http.ResponseWriter, r *http.Request) {
	sc := sessionOf(r)
	inv, err := p.storage.GetInvitation(chi.URLParam(r, "id"))
	if err != nil {
		slog.Error("Failed to load invitation", "error", err)
	}
	if inv == nil || inv.Status != core.InvitationPending || time.Now().After(inv.ExpiresAt) ||
		!strings.EqualFold(inv.Email, sc.User.Email) {
		http.Redirect(w, r, HomePath, http.StatusFound)
		return
	}

	content := invitationContent{Invitation: inv}
	if org, err := p.storage.GetOrganization(inv.OrganizationID); err == nil && org != nil {
		content.OrganizationName = org.Name
	}
	p.render(w, r, "invitation", "Invitation", sc, content)
}

type userRow struct {
	User   *core.User
	Banned bool
}

type adminContent struct {
	Users []userRow
	Total int
	// Per-capability flags select the row actions offered.
	CanSetRole     bool
	CanBan         bool
	CanImpersonate bool
	CanDelete      bool
	CanRevoke      bool
}

// admin lists users newest first. The admin's own row is left out.
func (p *Pages) admin(w http.ResponseWriter, r *http.Request) {
	sc := sessionOf(r)
	users, total, err := p.storage.ListUsers(core.ListUsersOptions{Limit: 100, SortBy: "createdAt", SortDirection: "desc"})
	if err != nil {
		slog.Error("Failed to list users for admin page", "error", err)
	}

	access := p.auth.AccessControl()
	content := adminContent{
		Total:          total,
		CanSetRole:     access.Allows(sc.User.Role, core.CapUserSetRole),
		CanBan:         access.Allows(sc.User.Role, core.CapUserBan),
		CanImpersonate: access.Allows(sc.User.Role, core.CapUserImpersonate),
		CanDelete:      access.Allows(sc.User.Role, core.CapUserDelete),
		CanRevoke:      access.Allows(sc.User.Role, core.CapSessionRevoke),
	}
	now := time.Now()
	for _, u := range users {
		if u.ID == sc.User.ID {
			continue
		}
		content.Users = append(content.Users, userRow{User: u, Banned: u.IsBanned(now)})
	}
	p.render(w, r, "admin", "Admin", sc, content)
}
