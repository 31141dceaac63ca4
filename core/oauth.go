package core

import (
	"errors"
	"time"
)

// ValidateOAuthState checks if the OAuth state is usable for provider
func ValidateOAuthState(s *OAuthState, provider string) error {
	if s == nil || s.State == "" {
		return errors.New("empty state")
	}

	if s.Provider != provider {
		return errors.New("state issued for another provider")
	}

	if time.Now().After(s.ExpiresAt) {
		return errors.New("state expired")
	}

	return nil
}
