package core

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidatePasswordStrength(t *testing.T) {
	config := DefaultSecurityConfig()

	tests := []struct {
		name     string
		password string
		wantErr  string
	}{
		{"valid", "TestPassword123", ""},
		{"too_short", "Ab1", "at least 8 characters"},
		{"no_upper", "testpassword123", "uppercase"},
		{"no_lower", "TESTPASSWORD123", "lowercase"},
		{"no_number", "TestPassword", "number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePasswordStrength(tt.password, config)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validatePasswordStrength() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validatePasswordStrength() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExtractIPFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{"host_and_port", "192.168.1.1:8080", "192.168.1.1"},
		{"ipv6", "[2001:db8::1]:443", "2001:db8::1"},
		{"no_port", "192.168.1.1", "192.168.1.1"},
		{"nothing", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractIPFromRequest(tt.remoteAddr); got != tt.want {
				t.Errorf("extractIPFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIP_IgnoresForwardingHeaders(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/auth/sign-in/email", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.5")
	r.Header.Set("X-Real-IP", "198.51.100.7")

	if got := ClientIP(r); got != "192.0.2.1" {
		t.Errorf("ClientIP() = %q, want 192.0.2.1", got)
	}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Acme Inc.":       "acme-inc",
		"  Hello, World ": "hello-world",
		"already-slugged": "already-slugged",
	}
	for in, want := range tests {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSafeRedirect(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"/profile", "/profile"},
		{"", "/"},
		{"https://evil.example.com", "/"},
		{"//evil.example.com", "/"},
	}
	for _, tt := range tests {
		if got := safeRedirect(tt.target, "/"); got != tt.want {
			t.Errorf("safeRedirect(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestOrgRoleAllows(t *testing.T) {
	if !orgRoleAllows(MemberRoleOwner, OrgDelete) {
		t.Error("owner should be allowed to delete the organization")
	}
	if orgRoleAllows(MemberRoleAdmin, OrgDelete) {
		t.Error("admin should not be allowed to delete the organization")
	}
	if !orgRoleAllows(MemberRoleAdmin, OrgInvitationCreate) {
		t.Error("admin should be allowed to invite")
	}
	if orgRoleAllows(MemberRoleMember, OrgInvitationCreate) {
		t.Error("member should not be allowed to invite")
	}
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := generateSecureToken(32)
	if err != nil {
		t.Fatalf("generateSecureToken() error = %v", err)
	}
	b, _ := generateSecureToken(32)
	if a == b {
		t.Error("generateSecureToken() returned the same token twice")
	}
	if strings.ContainsAny(a, "+/=") {
		t.Errorf("token %q is not URL safe", a)
	}
}
