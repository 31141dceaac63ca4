package core

import (
	"strings"
	"time"
)

// User represents a portal account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`

	PasswordHash string `json:"-"`        // Hide password from JSON
	Provider     string `json:"provider"` // "email", "github"
	ProviderID   string `json:"providerId,omitempty"`

	EmailVerified bool `json:"emailVerified"`

	// Role is a comma-separated list of role labels ("user", "admin", "user,admin").
	Role       string     `json:"role"`
	Banned     bool       `json:"banned"`
	BanReason  string     `json:"banReason,omitempty"`
	BanExpires *time.Time `json:"banExpires,omitempty"`

	FavoriteNumber   int  `json:"favoriteNumber"`
	TwoFactorEnabled bool `json:"twoFactorEnabled"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Roles splits the comma-separated role label into its parts.
func (u *User) Roles() []string {
	var roles []string
	for _, role := range strings.Split(u.Role, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

// IsBanned reports whether the ban is still in force at t.
func (u *User) IsBanned(t time.Time) bool {
	if !u.Banned {
		return false
	}
	return u.BanExpires == nil || t.Before(*u.BanExpires)
}

// UserSecurity tracks login attempts and lockout for a user.
type UserSecurity struct {
	UserID string `json:"userId"`

	LoginAttempts     int        `json:"loginAttempts"`
	LockedUntil       *time.Time `json:"lockedUntil,omitempty"`
	LastLoginAt       *time.Time `json:"lastLoginAt,omitempty"`
	LastLoginIP       string     `json:"lastLoginIp,omitempty"`
	PasswordChangedAt *time.Time `json:"passwordChangedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Session is an authenticated period for a user.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`

	// ImpersonatedBy holds the admin user id while an admin acts as this user.
	ImpersonatedBy       *string `json:"impersonatedBy"`
	ActiveOrganizationID *string `json:"activeOrganizationId"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Organization is a named group of users.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Logo      string    `json:"logo,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Member links a user to an organization with a role.
type Member struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	UserID         string    `json:"userId"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"createdAt"`

	// User is populated by handlers that return member listings.
	User *User `json:"user,omitempty"`
}

// Member roles
const (
	MemberRoleOwner  = "owner"
	MemberRoleAdmin  = "admin"
	MemberRoleMember = "member"
)

// Invitation is a pending offer of membership sent to an email address.
type Invitation struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	Status         string    `json:"status"`
	InviterID      string    `json:"inviterId"`
	ExpiresAt      time.Time `json:"expiresAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Invitation statuses
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationRejected = "rejected"
	InvitationCanceled = "canceled"
)

// Subscription is a billing subscription owned by an organization (the reference).
type Subscription struct {
	ID                   string     `json:"id"`
	ReferenceID          string     `json:"referenceId"`
	Plan                 string     `json:"plan"`
	Status               string     `json:"status"`
	StripeCustomerID     string     `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID string     `json:"stripeSubscriptionId,omitempty"`
	PeriodStart          *time.Time `json:"periodStart,omitempty"`
	PeriodEnd            *time.Time `json:"periodEnd,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancelAtPeriodEnd"`
	Seats                int        `json:"seats"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// IsActive reports whether the subscription currently grants its plan.
func (s *Subscription) IsActive() bool {
	return s.Status == "active" || s.Status == "trialing"
}

// Verification is a single-use token bound to a purpose.
type Verification struct {
	ID        string    `json:"id"`
	Token     string    `json:"-"`
	Purpose   string    `json:"purpose"`
	UserID    string    `json:"userId"`
	Value     string    `json:"value,omitempty"` // purpose specific payload, e.g. the new email
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Verification purposes
const (
	PurposeEmailVerification = "email-verification"
	PurposePasswordReset     = "password-reset"
	PurposeDeleteAccount     = "delete-account"
	PurposeChangeEmail       = "change-email"
)

// SecurityEvent represents security-related events for audit logging
type SecurityEvent struct {
	ID     string  `json:"id"`
	UserID *string `json:"userId,omitempty"`

	EventType   string `json:"eventType"`
	Description string `json:"description"`

	IPAddress string `json:"ipAddress"`
	UserAgent string `json:"userAgent"`

	Severity string `json:"severity"`
	Success  bool   `json:"success"`

	CreatedAt time.Time `json:"createdAt"`
}

// OAuthState represents OAuth state for CSRF protection
type OAuthState struct {
	State       string    `json:"state"`
	Provider    string    `json:"provider"`
	RedirectURL string    `json:"redirectUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ListUsersOptions controls paging and ordering of the admin user listing.
type ListUsersOptions struct {
	Limit         int
	Offset        int
	SortBy        string // "createdAt", "email" or "name"
	SortDirection string // "asc" or "desc"
	SearchEmail   string
}

// Storage defines the contract for portal data storage operations.
// Lookups return (nil, nil) when nothing matches.
type Storage interface {
	// User operations. CreateUser also creates the user's security record.
	CreateUser(user *User) error
	GetUserByEmail(email string) (*User, error)
	GetUserByProviderID(provider, providerID string) (*User, error)
	GetUserByID(id string) (*User, error)
	UpdateUser(user *User) error
	DeleteUser(id string) error
	ListUsers(opts ListUsersOptions) ([]*User, int, error)

	// User security operations
	GetUserSecurity(userID string) (*UserSecurity, error)
	IncrementLoginAttempts(userID string) error
	ResetLoginAttempts(userID string) error
	SetUserLocked(userID string, until time.Time) error
	UpdateLastLogin(userID string, ipAddress string) error
	SetPasswordChanged(userID string, at time.Time) error

	// Session operations
	CreateSession(session *Session) error
	GetSession(token string) (*Session, error)
	GetSessionByID(id string) (*Session, error)
	GetUserSessions(userID string) ([]*Session, error)
	UpdateSession(session *Session) error
	DeleteSession(token string) error
	DeleteUserSessions(userID string) error
	CleanupExpiredSessions() error

	// Verification operations
	CreateVerification(v *Verification) error
	GetVerification(token string) (*Verification, error)
	DeleteVerification(token string) error

	// Organization operations
	CreateOrganization(org *Organization) error
	GetOrganization(id string) (*Organization, error)
	GetOrganizationBySlug(slug string) (*Organization, error)
	ListUserOrganizations(userID string) ([]*Organization, error)

	// Membership operations. ListUserMemberships returns the newest membership first.
	CreateMember(member *Member) error
	GetMember(organizationID, userID string) (*Member, error)
	ListMembers(organizationID string) ([]*Member, error)
	ListUserMemberships(userID string) ([]*Member, error)
	DeleteMember(organizationID, userID string) error

	// Invitation operations
	CreateInvitation(inv *Invitation) error
	GetInvitation(id string) (*Invitation, error)
	ListInvitations(organizationID string) ([]*Invitation, error)
	UpdateInvitation(inv *Invitation) error

	// Subscription operations
	CreateSubscription(sub *Subscription) error
	GetSubscription(id string) (*Subscription, error)
	ListSubscriptions(referenceID string) ([]*Subscription, error)
	UpdateSubscription(sub *Subscription) error

	// OAuth state operations
	StoreOAuthState(state *OAuthState) error
	GetOAuthState(state string) (*OAuthState, error)
	DeleteOAuthState(state string) error

	// Security Event operations
	CreateSecurityEvent(event *SecurityEvent) error
	GetSecurityEventsByUser(userID string, limit int, offset int) ([]*SecurityEvent, error)

	// Health check
	Ping() error
	Close() error
}
