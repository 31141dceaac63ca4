package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// OAuthUser represents user information from OAuth providers
type OAuthUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Username    string `json:"username,omitempty"`
	PublicGists int    `json:"public_gists"`
}

// OAuthResponse represents the response for OAuth operations
type OAuthResponse struct {
	URL        string    `json:"url,omitempty"`
	Token      string    `json:"token,omitempty"`
	ExpiresAt  time.Time `json:"-"`
	User       *User     `json:"user,omitempty"`
	IsNewUser  bool      `json:"isNewUser,omitempty"`
	RedirectTo string    `json:"redirectTo,omitempty"`
	StatusCode int       `json:"-"`
	Error      string    `json:"error,omitempty"`
}

// OAuthInitHandler initiates OAuth flow for a given provider
func (a *AuthService) OAuthInitHandler(r *http.Request, provider string) OAuthResponse {
	oauthConfig, exists := a.oauthConfigs[provider]
	if !exists {
		slog.Debug("Unsupported OAuth provider", "provider", provider)
		return OAuthResponse{StatusCode: http.StatusBadRequest, Error: "Unsupported OAuth provider"}
	}

	stateToken, err := generateSecureToken(32)
	if err != nil {
		slog.Error("Failed to generate state token", "error", err)
		return OAuthResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	oauthState := &OAuthState{
		State:       stateToken,
		Provider:    provider,
		RedirectURL: safeRedirect(r.URL.Query().Get("callbackURL"), "/profile"),
		ExpiresAt:   time.Now().Add(15 * time.Minute),
	}

	if err := a.storage.StoreOAuthState(oauthState); err != nil {
		slog.Error("Failed to store OAuth state", "error", err)
		return OAuthResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	slog.Debug("OAuth flow initiated", "provider", provider)
	return OAuthResponse{StatusCode: http.StatusOK, URL: oauthConfig.AuthCodeURL(stateToken)}
}

// OAuthCallbackHandler handles OAuth callbacks from providers
func (a *AuthService) OAuthCallbackHandler(r *http.Request, provider string) OAuthResponse {
	oauthConfig, exists := a.oauthConfigs[provider]
	if !exists {
		slog.Debug("Unsupported OAuth provider", "provider", provider)
		return OAuthResponse{StatusCode: http.StatusBadRequest, Error: "Unsupported OAuth provider"}
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		slog.Debug("Missing state or code in OAuth callback")
		return OAuthResponse{StatusCode: http.StatusBadRequest, Error: "Missing state or code parameter"}
	}

	storedState, err := a.storage.GetOAuthState(state)
	if err != nil {
		slog.Error("Failed to get OAuth state", "error", err)
		return OAuthResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}
	if err := ValidateOAuthState(storedState, provider); err != nil {
		slog.Debug("Rejected OAuth state", "error", err)
		return OAuthResponse{StatusCode: http.StatusBadRequest, Error: "Invalid state parameter"}
	}
	if err := a.storage.DeleteOAuthState(state); err != nil {
		slog.Error("Failed to delete OAuth state", "error", err)
	}

	ctx := r.Context()
	token, err := oauthConfig.Exchange(ctx, code)
	if err != nil {
		slog.Error("Failed to exchange OAuth code", "error", err)
		return OAuthResponse{StatusCode: http.StatusInternalServerError, Error: "Failed to exchange authorization code"}
	}

	oauthUser, err := a.fetchOAuthUserInfo(ctx, provider, token.AccessToken)
	if err != nil {
		slog.Error("Failed to fetch OAuth user info", "error", err)
		return OAuthResponse{StatusCode: http.StatusInternalServerError, Error: "Failed to fetch user information"}
	}
	if oauthUser.Email == "" {
		slog.Debug("OAuth user has no email", "provider", provider, "user_id", oauthUser.ID)
		return OAuthResponse{StatusCode: http.StatusBadRequest, Error: "Email is required from OAuth provider"}
	}

	ip := ClientIP(r)
	userAgent := r.UserAgent()

	user, isNewUser, status, msg := a.linkOrCreateOAuthUser(provider, oauthUser, ip, userAgent)
	if status != 0 {
		return OAuthResponse{StatusCode: status, Error: msg}
	}

	if user.IsBanned(time.Now()) {
		slog.Debug("OAuth user account is banned", "user_id", user.ID)
		a.logSecurityEvent(&user.ID, EventLoginFailed, "OAuth login attempt on banned account", ip, userAgent, false)
		return OAuthResponse{StatusCode: http.StatusForbidden, Error: "You have been banned from this application"}
	}

	if err := a.storage.UpdateLastLogin(user.ID, ip); err != nil {
		slog.Error("Failed to update last login", "error", err)
	}

	session, err := a.createSession(r, user, sessionOptions{})
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		return OAuthResponse{StatusCode: http.StatusInternalServerError, Error: "Internal server error"}
	}

	if isNewUser {
		if err := a.mailer.SendWelcome(ctx, user.Email, user.Name); err != nil {
			slog.Error("Failed to send welcome email", "user_id", user.ID, "error", err)
		}
	}

	a.logSecurityEvent(&user.ID, EventLoginSuccess, fmt.Sprintf("User successfully authenticated via %s", provider), ip, userAgent, true)
	slog.Info("OAuth authentication successful", "user_id", user.ID, "provider", provider, "is_new_user", isNewUser)

	user.PasswordHash = ""
	return OAuthResponse{
		StatusCode: http.StatusOK,
		Token:      session.Token,
		ExpiresAt:  session.ExpiresAt,
		User:       user,
		IsNewUser:  isNewUser,
		RedirectTo: storedState.RedirectURL,
	}
}

// linkOrCreateOAuthUser finds the account for a provider profile, linking by
// email when possible and creating one otherwise.
func (a *AuthService) linkOrCreateOAuthUser(provider string, oauthUser *OAuthUser, ip, userAgent string) (*User, bool, int, string) {
	existing, err := a.storage.GetUserByProviderID(provider, oauthUser.ID)
	if err != nil {
		slog.Error("Failed to get user by provider ID", "error", err)
		return nil, false, http.StatusInternalServerError, "Internal server error"
	}
	if existing != nil {
		if oauthUser.AvatarURL != "" {
			existing.Image = oauthUser.AvatarURL
			if err := a.storage.UpdateUser(existing); err != nil {
				slog.Error("Failed to update OAuth user", "error", err)
			}
		}
		return existing, false, 0, ""
	}

	email := strings.ToLower(oauthUser.Email)
	byEmail, err := a.storage.GetUserByEmail(email)
	if err != nil {
		slog.Error("Failed to check existing email", "error", err)
		return nil, false, http.StatusInternalServerError, "Internal server error"
	}
	if byEmail != nil {
		byEmail.Provider = provider
		byEmail.ProviderID = oauthUser.ID
		if byEmail.Image == "" {
			byEmail.Image = oauthUser.AvatarURL
		}
		byEmail.EmailVerified = true
		if err := a.storage.UpdateUser(byEmail); err != nil {
			slog.Error("Failed to update user with OAuth info", "error", err)
			return nil, false, http.StatusInternalServerError, "Failed to link account"
		}
		a.logSecurityEvent(&byEmail.ID, EventOAuthLinked, fmt.Sprintf("Account linked with %s", provider), ip, userAgent, true)
		return byEmail, false, 0, ""
	}

	name := oauthUser.Name
	if name == "" {
		name = oauthUser.Username
	}
	user := &User{
		Email:          email,
		Name:           name,
		Image:          oauthUser.AvatarURL,
		Provider:       provider,
		ProviderID:     oauthUser.ID,
		EmailVerified:  true,
		Role:           RoleUser,
		FavoriteNumber: oauthUser.PublicGists,
	}
	if err := a.storage.CreateUser(user); err != nil {
		slog.Error("Failed to create OAuth user", "error", err)
		return nil, false, http.StatusInternalServerError, "Failed to create user account"
	}
	a.logSecurityEvent(&user.ID, EventSignUp, fmt.Sprintf("New user created via %s OAuth", provider), ip, userAgent, true)
	return user, true, 0, ""
}

// fetchOAuthUserInfo fetches user information from OAuth providers
func (a *AuthService) fetchOAuthUserInfo(ctx context.Context, provider, accessToken string) (*OAuthUser, error) {
	if provider != "github" {
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}

	var githubUser struct {
		ID          int64  `json:"id"`
		Login       string `json:"login"`
		Name        string `json:"name"`
		Email       string `json:"email"`
		AvatarURL   string `json:"avatar_url"`
		PublicGists int    `json:"public_gists"`
	}
	if err := a.getProviderJSON(ctx, a.oauthProviders[provider].UserInfoURL, accessToken, &githubUser); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	// GitHub might not return email in the user endpoint, fetch from emails endpoint
	if githubUser.Email == "" {
		email, err := a.fetchGitHubUserEmail(ctx, accessToken)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch GitHub user email: %w", err)
		}
		githubUser.Email = email
	}

	return &OAuthUser{
		ID:          strconv.FormatInt(githubUser.ID, 10),
		Email:       githubUser.Email,
		Name:        githubUser.Name,
		Username:    githubUser.Login,
		AvatarURL:   githubUser.AvatarURL,
		PublicGists: githubUser.PublicGists,
	}, nil
}

// fetchGitHubUserEmail fetches primary email from GitHub emails endpoint
func (a *AuthService) fetchGitHubUserEmail(ctx context.Context, accessToken string) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := a.getProviderJSON(ctx, a.oauthProviders["github"].EmailsURL, accessToken, &emails); err != nil {
		return "", err
	}

	for _, email := range emails {
		if email.Primary && email.Verified {
			return email.Email, nil
		}
	}
	for _, email := range emails {
		if email.Verified {
			return email.Email, nil
		}
	}

	return "", fmt.Errorf("no verified email found")
}

func (a *AuthService) getProviderJSON(ctx context.Context, url, accessToken string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
