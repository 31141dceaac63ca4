package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wispberry-tech/wispy-portal/core"
)

// sqlStorage implements core.Storage over database/sql. Queries are written
// with ? placeholders and rebound for the dialect.
type sqlStorage struct {
	db       *sql.DB
	numbered bool // $1, $2, ... placeholders
}

func (s *sqlStorage) bind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (s *sqlStorage) exec(query string, args ...any) error {
	_, err := s.db.Exec(s.bind(query), args...)
	return err
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

type scanner interface {
	Scan(dest ...any) error
}

// User operations

const userColumns = `id, email, name, image, password_hash, provider, provider_id,
	email_verified, role, banned, ban_reason, ban_expires, favorite_number,
	two_factor_enabled, created_at, updated_at`

func scanUser(row scanner) (*core.User, error) {
	u := &core.User{}
	var banExpires sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Image, &u.PasswordHash, &u.Provider, &u.ProviderID,
		&u.EmailVerified, &u.Role, &u.Banned, &u.BanReason, &banExpires, &u.FavoriteNumber,
		&u.TwoFactorEnabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.BanExpires = nullTime(banExpires)
	return u, nil
}

func (s *sqlStorage) getUser(where string, args ...any) (*core.User, error) {
	u, err := scanUser(s.db.QueryRow(s.bind(`SELECT `+userColumns+` FROM users WHERE `+where), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *sqlStorage) CreateUser(user *core.User) error {
	now := time.Now()
	user.ID = newID(user.ID)
	user.CreatedAt, user.UpdatedAt = now, now
	if user.Role == "" {
		user.Role = core.RoleUser
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(s.bind(`INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		user.ID, user.Email, user.Name, user.Image, user.PasswordHash, user.Provider, user.ProviderID,
		user.EmailVerified, user.Role, user.Banned, user.BanReason, user.BanExpires, user.FavoriteNumber,
		user.TwoFactorEnabled, user.CreatedAt, user.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	if _, err := tx.Exec(s.bind(`INSERT INTO user_security (user_id, login_attempts, created_at, updated_at)
		VALUES (?, 0, ?, ?)`), user.ID, now, now); err != nil {
		return fmt.Errorf("failed to create user security: %w", err)
	}

	return tx.Commit()
}

func (s *sqlStorage) GetUserByEmail(email string) (*core.User, error) {
	return s.getUser(`email = ?`, email)
}

func (s *sqlStorage) GetUserByProviderID(provider, providerID string) (*core.User, error) {
	return s.getUser(`provider = ? AND provider_id = ?`, provider, providerID)
}

func (s *sqlStorage) GetUserByID(id string) (*core.User, error) {
	return s.getUser(`id = ?`, id)
}

func (s *sqlStorage) UpdateUser(user *core.User) error {
	user.UpdatedAt = time.Now()
	err := s.exec(`UPDATE users SET email = ?, name = ?, image = ?, password_hash = ?, provider = ?,
		provider_id = ?, email_verified = ?, role = ?, banned = ?, ban_reason = ?, ban_expires = ?,
		favorite_number = ?, two_factor_enabled = ?, updated_at = ? WHERE id = ?`,
		user.Email, user.Name, user.Image, user.PasswordHash, user.Provider,
		user.ProviderID, user.EmailVerified, user.Role, user.Banned, user.BanReason, user.BanExpires,
		user.FavoriteNumber, user.TwoFactorEnabled, user.UpdatedAt, user.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

func (s *sqlStorage) DeleteUser(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"sessions", "verifications", "members", "user_security"} {
		if _, err := tx.Exec(s.bind(`DELETE FROM `+table+` WHERE user_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	if _, err := tx.Exec(s.bind(`DELETE FROM users WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return tx.Commit()
}

var userSortColumns = map[string]string{
	"createdAt": "created_at",
	"email":     "email",
	"name":      "name",
}

func (s *sqlStorage) ListUsers(opts core.ListUsersOptions) ([]*core.User, int, error) {
	where := "1 = 1"
	var args []any
	if opts.SearchEmail != "" {
		where = "email LIKE ?"
		args = append(args, "%"+strings.ToLower(opts.SearchEmail)+"%")
	}

	var total int
	if err := s.db.QueryRow(s.bind(`SELECT COUNT(*) FROM users WHERE `+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	column, ok := userSortColumns[opts.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if opts.SortDirection == "asc" {
		direction = "ASC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(s.bind(`SELECT `+userColumns+` FROM users WHERE `+where+
		` ORDER BY `+column+` `+direction+` LIMIT ? OFFSET ?`), append(args, limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// User security operations

func (s *sqlStorage) GetUserSecurity(userID string) (*core.UserSecurity, error) {
	sec := &core.UserSecurity{}
	var lockedUntil, lastLogin, passwordChanged sql.NullTime
	err := s.db.QueryRow(s.bind(`SELECT user_id, login_attempts, locked_until, last_login_at, last_login_ip,
		password_changed_at, created_at, updated_at FROM user_security WHERE user_id = ?`), userID).Scan(
		&sec.UserID, &sec.LoginAttempts, &lockedUntil, &lastLogin, &sec.LastLoginIP,
		&passwordChanged, &sec.CreatedAt, &sec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user security: %w", err)
	}
	sec.LockedUntil = nullTime(lockedUntil)
	sec.LastLoginAt = nullTime(lastLogin)
	sec.PasswordChangedAt = nullTime(passwordChanged)
	return sec, nil
}

func (s *sqlStorage) IncrementLoginAttempts(userID string) error {
	return s.exec(`UPDATE user_security SET login_attempts = login_attempts + 1, updated_at = ? WHERE user_id = ?`,
		time.Now(), userID)
}

func (s *sqlStorage) ResetLoginAttempts(userID string) error {
	return s.exec(`UPDATE user_security SET login_attempts = 0, locked_until = NULL, updated_at = ? WHERE user_id = ?`,
		time.Now(), userID)
}

func (s *sqlStorage) SetUserLocked(userID string, until time.Time) error {
	return s.exec(`UPDATE user_security SET locked_until = ?, updated_at = ? WHERE user_id = ?`,
		until, time.Now(), userID)
}

func (s *sqlStorage) UpdateLastLogin(userID string, ipAddress string) error {
	now := time.Now()
	return s.exec(`UPDATE user_security SET last_login_at = ?, last_login_ip = ?, updated_at = ? WHERE user_id = ?`,
		now, ipAddress, now, userID)
}

func (s *sqlStorage) SetPasswordChanged(userID string, at time.Time) error {
	return s.exec(`UPDATE user_security SET password_changed_at = ?, updated_at = ? WHERE user_id = ?`,
		at, time.Now(), userID)
}

// Session operations

const sessionColumns = `id, token, user_id, expires_at, ip_address, user_agent,
	impersonated_by, active_organization_id, created_at, updated_at`

func scanSession(row scanner) (*core.Session, error) {
	sess := &core.Session{}
	var impersonatedBy, activeOrg sql.NullString
	err := row.Scan(&sess.ID, &sess.Token, &sess.UserID, &sess.ExpiresAt, &sess.IPAddress, &sess.UserAgent,
		&impersonatedBy, &activeOrg, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.ImpersonatedBy = nullString(impersonatedBy)
	sess.ActiveOrganizationID = nullString(activeOrg)
	return sess, nil
}

func (s *sqlStorage) getSession(where string, args ...any) (*core.Session, error) {
	sess, err := scanSession(s.db.QueryRow(s.bind(`SELECT `+sessionColumns+` FROM sessions WHERE `+where), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

func (s *sqlStorage) CreateSession(session *core.Session) error {
	now := time.Now()
	session.ID = newID(session.ID)
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = now
	}
	err := s.exec(`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Token, session.UserID, session.ExpiresAt, session.IPAddress, session.UserAgent,
		session.ImpersonatedBy, session.ActiveOrganizationID, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (s *sqlStorage) GetSession(token string) (*core.Session, error) {
	return s.getSession(`token = ?`, token)
}

func (s *sqlStorage) GetSessionByID(id string) (*core.Session, error) {
	return s.getSession(`id = ?`, id)
}

func (s *sqlStorage) GetUserSessions(userID string) ([]*core.Session, error) {
	rows, err := s.db.Query(s.bind(`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY created_at DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*core.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *sqlStorage) UpdateSession(session *core.Session) error {
	err := s.exec(`UPDATE sessions SET expires_at = ?, active_organization_id = ?, updated_at = ? WHERE id = ?`,
		session.ExpiresAt, session.ActiveOrganizationID, session.UpdatedAt, session.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

func (s *sqlStorage) DeleteSession(token string) error {
	return s.exec(`DELETE FROM sessions WHERE token = ?`, token)
}

func (s *sqlStorage) DeleteUserSessions(userID string) error {
	return s.exec(`DELETE FROM sessions WHERE user_id = ?`, userID)
}

func (s *sqlStorage) CleanupExpiredSessions() error {
	return s.exec(`DELETE FROM sessions WHERE expires_at < ?`, time.Now())
}

// Verification operations

func (s *sqlStorage) CreateVerification(v *core.Verification) error {
	v.ID = newID(v.ID)
	v.CreatedAt = time.Now()
	err := s.exec(`INSERT INTO verifications (id, token, purpose, user_id, value, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, v.ID, v.Token, v.Purpose, v.UserID, v.Value, v.ExpiresAt, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create verification: %w", err)
	}
	return nil
}

func (s *sqlStorage) GetVerification(token string) (*core.Verification, error) {
	v := &core.Verification{}
	err := s.db.QueryRow(s.bind(`SELECT id, token, purpose, user_id, value, expires_at, created_at
		FROM verifications WHERE token = ?`), token).Scan(
		&v.ID, &v.Token, &v.Purpose, &v.UserID, &v.Value, &v.ExpiresAt, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}
	return v, nil
}

func (s *sqlStorage) DeleteVerification(token string) error {
	return s.exec(`DELETE FROM verifications WHERE token = ?`, token)
}

// Organization operations

func scanOrganization(row scanner) (*core.Organization, error) {
	org := &core.Organization{}
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.Logo, &org.CreatedAt); err != nil {
		return nil, err
	}
	return org, nil
}

func (s *sqlStorage) getOrganization(where string, args ...any) (*core.Organization, error) {
	org, err := scanOrganization(s.db.QueryRow(s.bind(`SELECT id, name, slug, logo, created_at FROM organizations WHERE `+where), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

func (s *sqlStorage) CreateOrganization(org *core.Organization) error {
	org.ID = newID(org.ID)
	org.CreatedAt = time.Now()
	err := s.exec(`INSERT INTO organizations (id, name, slug, logo, created_at) VALUES (?, ?, ?, ?, ?)`,
		org.ID, org.Name, org.Slug, org.Logo, org.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

func (s *sqlStorage) GetOrganization(id string) (*core.Organization, error) {
	return s.getOrganization(`id = ?`, id)
}

func (s *sqlStorage) GetOrganizationBySlug(slug string) (*core.Organization, error) {
	return s.getOrganization(`slug = ?`, slug)
}

func (s *sqlStorage) ListUserOrganizations(userID string) ([]*core.Organization, error) {
	rows, err := s.db.Query(s.bind(`SELECT o.id, o.name, o.slug, o.logo, o.created_at
		FROM organizations o JOIN members m ON m.organization_id = o.id
		WHERE m.user_id = ? ORDER BY o.created_at`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*core.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// Membership operations

const memberColumns = `id, organization_id, user_id, role, created_at`

func scanMember(row scanner) (*core.Member, error) {
	m := &core.Member{}
	if err := row.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *sqlStorage) listMembers(where string, args ...any) ([]*core.Member, error) {
	rows, err := s.db.Query(s.bind(`SELECT `+memberColumns+` FROM members WHERE `+where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*core.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *sqlStorage) CreateMember(member *core.Member) error {
	member.ID = newID(member.ID)
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now()
	}
	err := s.exec(`INSERT INTO members (`+memberColumns+`) VALUES (?, ?, ?, ?, ?)`,
		member.ID, member.OrganizationID, member.UserID, member.Role, member.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

func (s *sqlStorage) GetMember(organizationID, userID string) (*core.Member, error) {
	m, err := scanMember(s.db.QueryRow(s.bind(`SELECT `+memberColumns+` FROM members
		WHERE organization_id = ? AND user_id = ?`), organizationID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

func (s *sqlStorage) ListMembers(organizationID string) ([]*core.Member, error) {
	return s.listMembers(`organization_id = ? ORDER BY created_at`, organizationID)
}

func (s *sqlStorage) ListUserMemberships(userID string) ([]*core.Member, error) {
	return s.listMembers(`user_id = ? ORDER BY created_at DESC`, userID)
}

func (s *sqlStorage) DeleteMember(organizationID, userID string) error {
	return s.exec(`DELETE FROM members WHERE organization_id = ? AND user_id = ?`, organizationID, userID)
}

// Invitation operations

const invitationColumns = `id, organization_id, email, role, status, inviter_id, expires_at, created_at`

func scanInvitation(row scanner) (*core.Invitation, error) {
	inv := &core.Invitation{}
	if err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role, &inv.Status,
		&inv.InviterID, &inv.ExpiresAt, &inv.CreatedAt); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *sqlStorage) CreateInvitation(inv *core.Invitation) error {
	inv.ID = newID(inv.ID)
	inv.CreatedAt = time.Now()
	err := s.exec(`INSERT INTO invitations (`+invitationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.OrganizationID, inv.Email, inv.Role, inv.Status, inv.InviterID, inv.ExpiresAt, inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

func (s *sqlStorage) GetInvitation(id string) (*core.Invitation, error) {
	inv, err := scanInvitation(s.db.QueryRow(s.bind(`SELECT `+invitationColumns+` FROM invitations WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

func (s *sqlStorage) ListInvitations(organizationID string) ([]*core.Invitation, error) {
	rows, err := s.db.Query(s.bind(`SELECT `+invitationColumns+` FROM invitations
		WHERE organization_id = ? ORDER BY created_at DESC`), organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*core.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

func (s *sqlStorage) UpdateInvitation(inv *core.Invitation) error {
	return s.exec(`UPDATE invitations SET role = ?, status = ?, expires_at = ? WHERE id = ?`,
		inv.Role, inv.Status, inv.ExpiresAt, inv.ID)
}

// Subscription operations

const subscriptionColumns = `id, reference_id, plan, status, stripe_customer_id, stripe_subscription_id,
	period_start, period_end, cancel_at_period_end, seats, created_at, updated_at`

func scanSubscription(row scanner) (*core.Subscription, error) {
	sub := &core.Subscription{}
	var periodStart, periodEnd sql.NullTime
	if err := row.Scan(&sub.ID, &sub.ReferenceID, &sub.Plan, &sub.Status, &sub.StripeCustomerID,
		&sub.StripeSubscriptionID, &periodStart, &periodEnd, &sub.CancelAtPeriodEnd, &sub.Seats,
		&sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.PeriodStart = nullTime(periodStart)
	sub.PeriodEnd = nullTime(periodEnd)
	return sub, nil
}

func (s *sqlStorage) CreateSubscription(sub *core.Subscription) error {
	now := time.Now()
	sub.ID = newID(sub.ID)
	sub.CreatedAt, sub.UpdatedAt = now, now
	err := s.exec(`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.ReferenceID, sub.Plan, sub.Status, sub.StripeCustomerID, sub.StripeSubscriptionID,
		sub.PeriodStart, sub.PeriodEnd, sub.CancelAtPeriodEnd, sub.Seats, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (s *sqlStorage) GetSubscription(id string) (*core.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRow(s.bind(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

func (s *sqlStorage) ListSubscriptions(referenceID string) ([]*core.Subscription, error) {
	rows, err := s.db.Query(s.bind(`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE reference_id = ? ORDER BY created_at DESC`), referenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*core.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *sqlStorage) UpdateSubscription(sub *core.Subscription) error {
	sub.UpdatedAt = time.Now()
	err := s.exec(`UPDATE subscriptions SET plan = ?, status = ?, stripe_customer_id = ?, stripe_subscription_id = ?,
		period_start = ?, period_end = ?, cancel_at_period_end = ?, seats = ?, updated_at = ? WHERE id = ?`,
		sub.Plan, sub.Status, sub.StripeCustomerID, sub.StripeSubscriptionID,
		sub.PeriodStart, sub.PeriodEnd, sub.CancelAtPeriodEnd, sub.Seats, sub.UpdatedAt, sub.ID)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

// OAuth state operations

func (s *sqlStorage) StoreOAuthState(state *core.OAuthState) error {
	state.CreatedAt = time.Now()
	return s.exec(`INSERT INTO oauth_states (state, provider, redirect_url, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		state.State, state.Provider, state.RedirectURL, state.ExpiresAt, state.CreatedAt)
}

func (s *sqlStorage) GetOAuthState(state string) (*core.OAuthState, error) {
	st := &core.OAuthState{}
	err := s.db.QueryRow(s.bind(`SELECT state, provider, redirect_url, expires_at, created_at
		FROM oauth_states WHERE state = ?`), state).Scan(&st.State, &st.Provider, &st.RedirectURL, &st.ExpiresAt, &st.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth state: %w", err)
	}
	return st, nil
}

func (s *sqlStorage) DeleteOAuthState(state string) error {
	return s.exec(`DELETE FROM oauth_states WHERE state = ?`, state)
}

// Security event operations

func (s *sqlStorage) CreateSecurityEvent(event *core.SecurityEvent) error {
	event.ID = newID(event.ID)
	event.CreatedAt = time.Now()
	return s.exec(`INSERT INTO security_events (id, user_id, event_type, description, ip_address, user_agent,
		severity, success, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.UserID, event.EventType, event.Description, event.IPAddress, event.UserAgent,
		event.Severity, event.Success, event.CreatedAt)
}

func (s *sqlStorage) GetSecurityEventsByUser(userID string, limit int, offset int) ([]*core.SecurityEvent, error) {
	rows, err := s.db.Query(s.bind(`SELECT id, user_id, event_type, description, ip_address, user_agent,
		severity, success, created_at FROM security_events WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`), userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get security events: %w", err)
	}
	defer rows.Close()

	var events []*core.SecurityEvent
	for rows.Next() {
		e := &core.SecurityEvent{}
		var uid sql.NullString
		if err := rows.Scan(&e.ID, &uid, &e.EventType, &e.Description, &e.IPAddress, &e.UserAgent,
			&e.Severity, &e.Success, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		e.UserID = nullString(uid)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Health check

func (s *sqlStorage) Ping() error {
	return s.db.Ping()
}

func (s *sqlStorage) Close() error {
	return s.db.Close()
}
