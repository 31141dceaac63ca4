package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wispberry-tech/wispy-portal/core"
)

// MemoryStorage keeps all portal data in process memory. Values are copied on
// the way in and out so callers never share state with the store.
type MemoryStorage struct {
	mu sync.RWMutex

	users         map[string]*core.User
	security      map[string]*core.UserSecurity
	sessions      map[string]*core.Session // keyed by token
	verifications map[string]*core.Verification
	organizations map[string]*core.Organization
	members       map[string]*core.Member // keyed by organization id + user id
	invitations   map[string]*core.Invitation
	subscriptions map[string]*core.Subscription
	oauthStates   map[string]*core.OAuthState
	events        []*core.SecurityEvent
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:         make(map[string]*core.User),
		security:      make(map[string]*core.UserSecurity),
		sessions:      make(map[string]*core.Session),
		verifications: make(map[string]*core.Verification),
		organizations: make(map[string]*core.Organization),
		members:       make(map[string]*core.Member),
		invitations:   make(map[string]*core.Invitation),
		subscriptions: make(map[string]*core.Subscription),
		oauthStates:   make(map[string]*core.OAuthState),
	}
}

func memberKey(organizationID, userID string) string {
	return organizationID + "/" + userID
}

func copyOf[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// User operations

func (m *MemoryStorage) CreateUser(user *core.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return fmt.Errorf("failed to create user: email %s already taken", user.Email)
		}
	}

	now := time.Now()
	user.ID = newID(user.ID)
	user.CreatedAt, user.UpdatedAt = now, now
	if user.Role == "" {
		user.Role = core.RoleUser
	}
	m.users[user.ID] = copyOf(user)
	m.security[user.ID] = &core.UserSecurity{UserID: user.ID, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (m *MemoryStorage) findUser(match func(*core.User) bool) (*core.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if match(u) {
			return copyOf(u), nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) GetUserByEmail(email string) (*core.User, error) {
	return m.findUser(func(u *core.User) bool { return u.Email == email })
}

func (m *MemoryStorage) GetUserByProviderID(provider, providerID string) (*core.User, error) {
	return m.findUser(func(u *core.User) bool { return u.Provider == provider && u.ProviderID == providerID })
}

func (m *MemoryStorage) GetUserByID(id string) (*core.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyOf(m.users[id]), nil
}

func (m *MemoryStorage) UpdateUser(user *core.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[user.ID]
	if !ok {
		return fmt.Errorf("failed to update user: %w", core.ErrUserNotFound)
	}
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = time.Now()
	m.users[user.ID] = copyOf(user)
	return nil
}

func (m *MemoryStorage) DeleteUser(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.users, id)
	delete(m.security, id)
	for token, s := range m.sessions {
		if s.UserID == id {
			delete(m.sessions, token)
		}
	}
	for token, v := range m.verifications {
		if v.UserID == id {
			delete(m.verifications, token)
		}
	}
	for key, mem := range m.members {
		if mem.UserID == id {
			delete(m.members, key)
		}
	}
	return nil
}

func (m *MemoryStorage) ListUsers(opts core.ListUsersOptions) ([]*core.User, int, error) {
	m.mu.RLock()
	var users []*core.User
	search := strings.ToLower(opts.SearchEmail)
	for _, u := range m.users {
		if search != "" && !strings.Contains(strings.ToLower(u.Email), search) {
			continue
		}
		users = append(users, copyOf(u))
	}
	m.mu.RUnlock()

	less := func(a, b *core.User) bool { return a.CreatedAt.Before(b.CreatedAt) }
	switch opts.SortBy {
	case "email":
		less = func(a, b *core.User) bool { return a.Email < b.Email }
	case "name":
		less = func(a, b *core.User) bool { return a.Name < b.Name }
	}
	sort.SliceStable(users, func(i, j int) bool {
		if opts.SortDirection == "asc" {
			return less(users[i], users[j])
		}
		return less(users[j], users[i])
	})

	total := len(users)
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if opts.Offset >= total {
		return nil, total, nil
	}
	end := min(opts.Offset+limit, total)
	return users[opts.Offset:end], total, nil
}

// User security operations

func (m *MemoryStorage) GetUserSecurity(userID string) (*core.UserSecurity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyOf(m.security[userID]), nil
}

func (m *MemoryStorage) updateSecurity(userID string, fn func(*core.UserSecurity)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sec, ok := m.security[userID]
	if !ok {
		return fmt.Errorf("no security record for user %s", userID)
	}
	fn(sec)
	sec.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStorage) IncrementLoginAttempts(userID string) error {
	return m.updateSecurity(userID, func(s *core.UserSecurity) { s.LoginAttempts++ })
}

func (m *MemoryStorage) ResetLoginAttempts(userID string) error {
	return m.updateSecurity(userID, func(s *core.UserSecurity) {
		s.LoginAttempts = 0
		s.LockedUntil = nil
	})
}

func (m *MemoryStorage) SetUserLocked(userID string, until time.Time) error {
	return m.updateSecurity(userID, func(s *core.UserSecurity) { s.LockedUntil = &until })
}

func (m *MemoryStorage) UpdateLastLogin(userID string, ipAddress string) error {
	now := time.Now()
	return m.updateSecurity(userID, func(s *core.UserSecurity) {
		s.LastLoginAt = &now
		s.LastLoginIP = ipAddress
	})
}

func (m *MemoryStorage) SetPasswordChanged(userID string, at time.Time) error {
	return m.updateSecurity(userID, func(s *core.UserSecurity) { s.PasswordChangedAt = &at })
}

// Session operations

func (m *MemoryStorage) CreateSession(session *core.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	session.ID = newID(session.ID)
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = now
	}
	m.sessions[session.Token] = copyOf(session)
	return nil
}

func (m *MemoryStorage) GetSession(token string) (*core.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyOf(m.sessions[token]), nil
}

func (m *MemoryStorage) GetSessionByID(id string) (*core.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.ID == id {
			return copyOf(s), nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) GetUserSessions(userID string) ([]*core.Session, error) {
	m.mu.RLock()
	var sessions []*core.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			sessions = append(sessions, copyOf(s))
		}
	}
	m.mu.RUnlock()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.After(sessions[j].CreatedAt) })
	return sessions, nil
}

func (m *MemoryStorage) UpdateSession(session *core.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == session.ID {
			s.ExpiresAt = session.ExpiresAt
			s.ActiveOrganizationID = session.ActiveOrganizationID
			s.UpdatedAt = session.UpdatedAt
			return nil
		}
	}
	return fmt.Errorf("failed to update session: session %s not found", session.ID)
}

func (m *MemoryStorage) DeleteSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

func (m *MemoryStorage) DeleteUserSessions(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, token)
		}
	}
	return nil
}

func (m *MemoryStorage) CleanupExpiredSessions() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for token, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, token)
		}
	}
	return nil
}

// Verification operations

func (m *MemoryStorage) CreateVerification(v *core.Verification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = newID(v.ID)
	v.CreatedAt = time.Now()
	m.verifications[v.Token] = copyOf(v)
	return nil
}

func (m *MemoryStorage) GetVerification(token string) (*core.Verification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyOf(m.verifications[token]), nil
}

func (m *MemoryStorage) DeleteVerification(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.verifications, token)
	return nil
}

// Organization operations

func (m *MemoryStorage) CreateOrganization(org *core.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.organizations {
		if o.Slug == org.Slug {
			return fmt.Errorf("failed to create organization: slug %s already taken", org.Slug)
		}
	}
	org.ID = newID(org.ID)
	org.CreatedAt = time.Now()
	m.organizations[org.ID] = copyOf(org)
	return nil
}

func (m *MemoryStorage) GetOrganization(id string) (*core.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyOf(m.organizations[id]), nil
}

func (m *MemoryStorage) GetOrganizationBySlug(slug string) (*core.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.organizations {
		if o.Slug == slug {
			return copyOf(o), nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) ListUserOrganizations(userID string) ([]*core.Organization, error) {
	m.mu.RLock()
	var orgs []*core.Organization
	for _, mem := range m.members {
		if mem.UserID != userID {
			continue
		}
		if o, ok := m.organizations[mem.OrganizationID]; ok {
			orgs = append(orgs, copyOf(o))
		}
	}
	m.mu.RUnlock()
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].CreatedAt.Before(orgs[j].CreatedAt) })
	return orgs, nil
}

// Membership operations

func (m *MemoryStorage) CreateMember(member *core.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(member.OrganizationID, member.UserID)
	if _, exists := m.members[key]; exists {
		return fmt.Errorf("failed to create member: user %s already in organization %s", member.UserID, member.OrganizationID)
	}
	member.ID = newID(member.ID)
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now()
	}
	stored := copyOf(member)
	stored.User = nil
	m.members[key] = stored
	return nil
}

func (m *MemoryStorage) GetMember(organizationID, userID string) (*core.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyOf(m.members[memberKey(organizationID, userID)]), nil
}

func (m *MemoryStorage) listMembers(match func(*core.Member) bool) []*core.Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var members []*core.Member
	for _, mem := range m.members {
		if match(mem) {
			members = append(members, copyOf(mem))
		}
	}
	return members
}

func (m *MemoryStorage) ListMembers(organizationID string) ([]*core.Member, error) {
	members := m.listMembers(func(mem *core.Member) bool { return mem.OrganizationID == organizationID })
	sort.Slice(members, func(i, j int) bool { return members[i].CreatedAt.Before(members[j].CreatedAt) })
	return members, nil
}

func (m *MemoryStorage) ListUserMemberships(userID string) ([]*core.Member, error) {
	members := m.listMembers(func(mem *core.Member) bool { return mem.UserID == userID })
	sort.Slice(members, func(i, j int) bool { return members[i].CreatedAt.After(members[j].CreatedAt) })
	return members, nil
}

func (m *MemoryStorage) DeleteMember(organizationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members, memberKey(organizationID, userID))
	return nil
}

// Invitation operations

func (m *MemoryStorage) CreateInvitation(inv *core.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv.ID = newID(inv.ID)
	inv.CreatedAt = time.Now()
	m.invitations[inv.ID] = copyOf(inv)
	return nil
}

func (m *MemoryStorage) GetInvitation(id string) (*core.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyOf(m.invitations[id]), nil
}

func (m *MemoryStorage) ListInvitations(organizationID string) ([]*core.Invitation, error) {
	m.mu.RLock()
	var invitations []*core.Invitation
	for _, inv := range m.invitations {
		if inv.OrganizationID == organizationID {
			invitations = append(invitations, copyOf(inv))
		}
	}
	m.mu.RUnlock()
	sort.Slice(invitations, func(i, j int) bool { return invitations[i].CreatedAt.After(invitations[j].CreatedAt) })
	return invitations, nil
}

func (m *MemoryStorage) UpdateInvitation(inv *core.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invitations[inv.ID]; !ok {
		return fmt.Errorf("failed to update invitation: invitation %s not found", inv.ID)
	}
	m.invitations[inv.ID] = copyOf(inv)
	return nil
}

// Subscription operations

func (m *MemoryStorage) CreateSubscription(sub *core.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	sub.ID = newID(sub.ID)
	sub.CreatedAt, sub.UpdatedAt = now, now
	m.subscriptions[sub.ID] = copyOf(sub)
	return nil
}

func (m *MemoryStorage) GetSubscription(id string) (*core.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyOf(m.subscriptions[id]), nil
}

func (m *MemoryStorage) ListSubscriptions(referenceID string) ([]*core.Subscription, error) {
	m.mu.RLock()
	var subs []*core.Subscription
	for _, s := range m.subscriptions {
		if s.ReferenceID == referenceID {
			subs = append(subs, copyOf(s))
		}
	}
	m.mu.RUnlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.After(subs[j].CreatedAt) })
	return subs, nil
}

func (m *MemoryStorage) UpdateSubscription(sub *core.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[sub.ID]; !ok {
		return fmt.Errorf("failed to update subscription: subscription %s not found", sub.ID)
	}
	sub.UpdatedAt = time.Now()
	m.subscriptions[sub.ID] = copyOf(sub)
	return nil
}

// OAuth state operations

func (m *MemoryStorage) StoreOAuthState(state *core.OAuthState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state.CreatedAt = time.Now()
	m.oauthStates[state.State] = copyOf(state)
	return nil
}

func (m *MemoryStorage) GetOAuthState(state string) (*core.OAuthState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyOf(m.oauthStates[state]), nil
}

func (m *MemoryStorage) DeleteOAuthState(state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.oauthStates, state)
	return nil
}

// Security event operations

func (m *MemoryStorage) CreateSecurityEvent(event *core.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = newID(event.ID)
	event.CreatedAt = time.Now()
	m.events = append(m.events, copyOf(event))
	return nil
}

func (m *MemoryStorage) GetSecurityEventsByUser(userID string, limit int, offset int) ([]*core.SecurityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []*core.SecurityEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if e.UserID != nil && *e.UserID == userID {
			events = append(events, copyOf(e))
		}
	}
	if offset >= len(events) {
		return nil, nil
	}
	return events[offset:min(offset+limit, len(events))], nil
}

func (m *MemoryStorage) Ping() error  { return nil }
func (m *MemoryStorage) Close() error { return nil }
