// Package gateway screens POST requests to the auth endpoints before they
// reach the framework handler: shield, bot detection, email risk and
// sliding-window rate limits, mapped onto fixed HTTP responses.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"slices"
)

// Reason names the rule class that produced a denial.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonRateLimit Reason = "RATE_LIMIT"
	ReasonEmail     Reason = "EMAIL"
	ReasonBot       Reason = "BOT"
	ReasonShield    Reason = "SHIELD"
)

// EmailType is a risk category assigned to an email address.
type EmailType string

const (
	EmailDisposable  EmailType = "DISPOSABLE"
	EmailInvalid     EmailType = "INVALID"
	EmailNoMXRecords EmailType = "NO_MX_RECORDS"
	EmailFree        EmailType = "FREE"
)

// RuleSet selects which rules evaluate a request.
type RuleSet string

const (
	// RulesGeneric is bot detection plus the strict window.
	RulesGeneric RuleSet = "generic"
	// RulesSignUp is bot detection, email risk and the lax window.
	RulesSignUp RuleSet = "signup"
)

// Errors
var (
	ErrProtectorUnavailable = errors.New("protection service unavailable")
	ErrBodyTooLarge         = errors.New("request body too large")
)

// Request is what a Protector evaluates.
type Request struct {
	Rules RuleSet `json:"rules"`
	// Key is the identity characteristic: user id, else client IP, else 127.0.0.1.
	Key       string `json:"key"`
	Email     string `json:"email,omitempty"`
	IP        string `json:"ip"`
	UserAgent string `json:"userAgent"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Query     string `json:"query,omitempty"`
	Body      []byte `json:"-"`

	// HTTP is a clone of the incoming request whose body reads Body.
	HTTP *http.Request `json:"-"`
}

// Decision is the verdict of a Protector.
type Decision struct {
	Conclusion string      `json:"conclusion"` // "ALLOW" or "DENY"
	Reason     Reason      `json:"reason,omitempty"`
	EmailTypes []EmailType `json:"emailTypes,omitempty"`
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Conclusion: "ALLOW"}
}

// Deny returns a denying decision for reason.
func Deny(reason Reason, emailTypes ...EmailType) Decision {
	return Decision{Conclusion: "DENY", Reason: reason, EmailTypes: emailTypes}
}

func (d Decision) IsDenied() bool {
	return d.Conclusion == "DENY"
}

// HasEmailType reports whether t is among the decision's email categories.
func (d Decision) HasEmailType(t EmailType) bool {
	return slices.Contains(d.EmailTypes, t)
}

// Protector evaluates a request against a rule set.
type Protector interface {
	Protect(ctx context.Context, req Request) (Decision, error)
}

// ProtectorFunc adapts a function to the Protector interface.
type ProtectorFunc func(ctx context.Context, req Request) (Decision, error)

func (f ProtectorFunc) Protect(ctx context.Context, req Request) (Decision, error) {
	return f(ctx, req)
}

// Email denial messages, checked in this order.
const (
	MessageDisposable = "Disposable email addresses are not allowed."
	MessageInvalid    = "Invalid email addresses are not allowed."
	MessageNoMX       = "Email addresses without MX records are not allowed."
	MessageFallback   = "Something went wrong."
)

// EmailDenialMessage returns the client message for an email denial.
func EmailDenialMessage(d Decision) string {
	switch {
	case d.HasEmailType(EmailDisposable):
		return MessageDisposable
	case d.HasEmailType(EmailInvalid):
		return MessageInvalid
	case d.HasEmailType(EmailNoMXRecords):
		return MessageNoMX
	default:
		return MessageFallback
	}
}
